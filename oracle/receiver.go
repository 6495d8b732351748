package oracle

import (
	"log/slog"

	"github.com/geanlabs/ledger/ethbridge"
)

// EthereumReceiver pulls events from the oracle and keeps them sorted and
// de-duplicated until they are included in a vote extension and finalized.
type EthereumReceiver struct {
	ch     <-chan ethbridge.EthereumEvent
	queue  ethbridge.EventSet
	logger *slog.Logger
}

// NewEthereumReceiver wraps the events channel of an oracle.
func NewEthereumReceiver(ch <-chan ethbridge.EthereumEvent, logger *slog.Logger) *EthereumReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EthereumReceiver{ch: ch, logger: logger}
}

// FillQueue drains the channel into the queue without blocking.
func (r *EthereumReceiver) FillQueue() {
	added := 0
	for {
		select {
		case ev, ok := <-r.ch:
			if !ok {
				r.logNew(added)
				return
			}
			if r.queue.Insert(ev) {
				added++
			}
		default:
			r.logNew(added)
			return
		}
	}
}

func (r *EthereumReceiver) logNew(n int) {
	if n > 0 {
		r.logger.Info("received Ethereum events", "n", n)
	}
}

// GetEvents returns a copy of the queued events in order.
func (r *EthereumReceiver) GetEvents() []ethbridge.EthereumEvent {
	return r.queue.Events()
}

// RemoveEvent drops ev from the queue, if present.
func (r *EthereumReceiver) RemoveEvent(ev *ethbridge.EthereumEvent) {
	r.queue.Remove(ev)
}

// Len returns the number of queued events.
func (r *EthereumReceiver) Len() int { return r.queue.Len() }
