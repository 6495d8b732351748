package oracle

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultControlBuffer is the capacity of the control channel.
const DefaultControlBuffer = 5

var (
	ErrChannelFull   = errors.New("oracle control channel is full")
	ErrChannelClosed = errors.New("oracle control channel is closed")
)

// Config is the configuration the oracle runs with.
type Config struct {
	MinConfirmations   uint64
	BridgeContract     common.Address
	GovernanceContract common.Address
	StartBlock         uint64
}

// Command is a control message sent to a running oracle.
type Command interface{ isCommand() }

// UpdateConfig replaces the oracle configuration.
type UpdateConfig struct{ Config Config }

func (UpdateConfig) isCommand() {}

// ControlSender is the sending half of the control channel. Sends never
// block.
type ControlSender struct {
	mu     sync.Mutex
	ch     chan Command
	closed bool
}

// ControlReceiver is the oracle's half of the control channel.
type ControlReceiver struct {
	sender *ControlSender
}

// NewControlChannel creates a control channel holding up to size commands.
func NewControlChannel(size int) (*ControlSender, *ControlReceiver) {
	if size <= 0 {
		size = DefaultControlBuffer
	}
	s := &ControlSender{ch: make(chan Command, size)}
	return s, &ControlReceiver{sender: s}
}

// TrySend queues cmd without blocking.
func (s *ControlSender) TrySend(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrChannelClosed
	}
	select {
	case s.ch <- cmd:
		return nil
	default:
		return ErrChannelFull
	}
}

// C returns the channel commands arrive on.
func (r *ControlReceiver) C() <-chan Command { return r.sender.ch }

// Close hangs up the receiving side. Subsequent sends fail with
// ErrChannelClosed.
func (r *ControlReceiver) Close() {
	s := r.sender
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// LastProcessedBlock is the most recent Ethereum block the oracle has fully
// processed. It is written by the oracle and read by the shell at commit.
type LastProcessedBlock struct {
	mu     sync.RWMutex
	height uint64
	set    bool
}

// Get returns the last processed block, if any.
func (l *LastProcessedBlock) Get() (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height, l.set
}

// Set records height as processed.
func (l *LastProcessedBlock) Set(height uint64) {
	l.mu.Lock()
	l.height, l.set = height, true
	l.mu.Unlock()
}
