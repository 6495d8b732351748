// Package broadcast delivers locally crafted protocol transactions to the
// network.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
)

// DefaultBuffer is the capacity of the broadcast channel.
const DefaultBuffer = 1024

var ErrSinkClosed = errors.New("broadcast sink closed")

// Sink delivers an encoded transaction.
type Sink interface {
	Send(ctx context.Context, tx []byte) error
}

// Broadcaster drains the broadcast channel into a sink.
type Broadcaster struct {
	ch     <-chan []byte
	sink   Sink
	logger *slog.Logger
	// OnSent is called after each successful send.
	OnSent func()
}

// New creates a broadcaster reading from ch.
func New(ch <-chan []byte, sink Sink, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{ch: ch, sink: sink, logger: logger}
}

// Run sends every transaction received until ctx is cancelled or the
// channel is closed. Delivery failures are logged and the transaction is
// dropped: a new one is crafted after the next commit.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tx, ok := <-b.ch:
			if !ok {
				return nil
			}
			if err := b.sink.Send(ctx, tx); err != nil {
				if errors.Is(err, ErrSinkClosed) {
					return err
				}
				b.logger.Warn("failed to broadcast tx", "size", len(tx), "err", err)
				continue
			}
			if b.OnSent != nil {
				b.OnSent()
			}
		}
	}
}

// MultiSink sends to every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, tx []byte) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, tx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
