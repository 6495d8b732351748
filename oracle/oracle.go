// Package oracle follows an Ethereum chain through JSON-RPC and feeds the
// bridge events it observes to the ledger.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/types"
)

const (
	DefaultEventsBuffer = 1000
	DefaultPollInterval = 2 * time.Second
	transferWordSize    = 3 * 32
)

var (
	ErrMalformedLog = errors.New("malformed bridge log")

	// TransferToLedgerTopic is emitted by the bridge contract for transfers
	// into the ledger.
	TransferToLedgerTopic = crypto.Keccak256Hash([]byte("TransferToLedger(uint256,(uint256,address,bytes20)[])"))
	// TransferToEthereumTopic is emitted when a batch of bridge pool
	// transfers is relayed to Ethereum.
	TransferToEthereumTopic = crypto.Keccak256Hash([]byte("TransferToEthereum(uint256,(uint256,address,bytes20)[])"))
)

// Client is the subset of the Ethereum JSON-RPC API the oracle uses.
// *ethclient.Client implements it.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc %s: %w", url, err)
	}
	return c, nil
}

// Oracle polls Ethereum for bridge events.
type Oracle struct {
	client       Client
	control      *ControlReceiver
	events       chan<- ethbridge.EthereumEvent
	last         *LastProcessedBlock
	pollInterval time.Duration
	logger       *slog.Logger

	cfg  *Config
	next uint64
}

// Params wires an Oracle.
type Params struct {
	Client       Client
	Control      *ControlReceiver
	Events       chan<- ethbridge.EthereumEvent
	Last         *LastProcessedBlock
	PollInterval time.Duration
	Logger       *slog.Logger
}

// New creates an oracle. It stays idle until it receives a configuration.
func New(p Params) *Oracle {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.Last == nil {
		p.Last = &LastProcessedBlock{}
	}
	return &Oracle{
		client:       p.Client,
		control:      p.Control,
		events:       p.Events,
		last:         p.Last,
		pollInterval: p.PollInterval,
		logger:       p.Logger,
	}
}

// Run processes Ethereum blocks until ctx is cancelled or the control
// channel is closed.
func (o *Oracle) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-o.control.C():
			if !ok {
				o.logger.Info("oracle control channel closed")
				return nil
			}
			o.handle(cmd)
		case <-ticker.C:
			if o.cfg == nil {
				continue
			}
			if err := o.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				o.logger.Warn("ethereum poll failed", "next", o.next, "err", err)
			}
		}
	}
}

func (o *Oracle) handle(cmd Command) {
	switch c := cmd.(type) {
	case UpdateConfig:
		cfg := c.Config
		restart := o.cfg == nil || o.cfg.BridgeContract != cfg.BridgeContract ||
			o.cfg.GovernanceContract != cfg.GovernanceContract
		if restart || cfg.StartBlock > o.next {
			o.next = cfg.StartBlock
		}
		o.cfg = &cfg
		o.logger.Info("oracle configured",
			"bridge", cfg.BridgeContract.Hex(),
			"min_confirmations", cfg.MinConfirmations,
			"next_block", o.next,
		)
	default:
		o.logger.Warn("unknown oracle command", "cmd", fmt.Sprintf("%T", cmd))
	}
}

// poll processes every block with enough confirmations.
func (o *Oracle) poll(ctx context.Context) error {
	latest, err := o.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	for o.next+o.cfg.MinConfirmations <= latest {
		if err := o.processBlock(ctx, o.next); err != nil {
			return err
		}
		o.last.Set(o.next)
		o.next++
	}
	return nil
}

func (o *Oracle) processBlock(ctx context.Context, height uint64) error {
	n := new(big.Int).SetUint64(height)
	logs, err := o.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: n,
		ToBlock:   n,
		Addresses: []common.Address{o.cfg.BridgeContract, o.cfg.GovernanceContract},
	})
	if err != nil {
		return fmt.Errorf("filter logs at %d: %w", height, err)
	}
	for i := range logs {
		ev, ok, err := DecodeLog(&logs[i])
		if err != nil {
			o.logger.Warn("skipping bridge log", "block", height, "index", logs[i].Index, "err", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case o.events <- *ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// DecodeLog converts a bridge contract log into an event. Logs with an
// unknown topic are ignored and reported by a false return.
func DecodeLog(l *gethtypes.Log) (*ethbridge.EthereumEvent, bool, error) {
	if len(l.Topics) == 0 {
		return nil, false, nil
	}
	var kind ethbridge.EventKind
	switch l.Topics[0] {
	case TransferToLedgerTopic:
		kind = ethbridge.TransfersToLedger
	case TransferToEthereumTopic:
		kind = ethbridge.TransfersToEthereum
	default:
		return nil, false, nil
	}
	if len(l.Topics) < 2 {
		return nil, false, fmt.Errorf("%w: missing nonce topic", ErrMalformedLog)
	}
	nonce := l.Topics[1].Big()
	if !nonce.IsUint64() {
		return nil, false, fmt.Errorf("%w: nonce overflows", ErrMalformedLog)
	}
	if len(l.Data)%transferWordSize != 0 {
		return nil, false, fmt.Errorf("%w: data length %d", ErrMalformedLog, len(l.Data))
	}
	ev := &ethbridge.EthereumEvent{Kind: kind, Nonce: nonce.Uint64()}
	for off := 0; off < len(l.Data); off += transferWordSize {
		word := l.Data[off : off+transferWordSize]
		amount := new(big.Int).SetBytes(word[0:32])
		if !amount.IsUint64() {
			return nil, false, fmt.Errorf("%w: amount overflows", ErrMalformedLog)
		}
		t := ethbridge.Transfer{
			Amount: types.Amount(amount.Uint64()),
			Asset:  common.BytesToAddress(word[32:64]),
		}
		copy(t.Receiver[:], word[64:84])
		ev.Transfers = append(ev.Transfers, t)
	}
	return ev, true, nil
}

// EncodeLogData is the inverse of the data layout DecodeLog reads.
func EncodeLogData(transfers []ethbridge.Transfer) []byte {
	buf := make([]byte, 0, len(transfers)*transferWordSize)
	for _, t := range transfers {
		buf = append(buf, common.LeftPadBytes(new(big.Int).SetUint64(uint64(t.Amount)).Bytes(), 32)...)
		buf = append(buf, common.LeftPadBytes(t.Asset[:], 32)...)
		buf = append(buf, common.RightPadBytes(t.Receiver[:], 32)...)
	}
	return buf
}
