package shell

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/geanlabs/ledger/types"
)

const DefaultEventLogSize = 50_000

// Event types emitted by FinalizeBlock.
const (
	EventAccepted           = "accepted"
	EventApplied            = "applied"
	EventSlash              = "slash"
	EventEthEventConfirmed  = "eth_event_confirmed"
	EventBridgePoolSigned   = "bridge_pool_root_signed"
	EventValSetUpdateSigned = "validator_set_update_signed"
)

// Event is an outcome of a finalized block.
type Event struct {
	Type       string
	Height     types.BlockHeight
	Attributes map[string]string
}

func txEvent(typ string, height types.BlockHeight, hash types.Hash, code ErrorCode, info string) Event {
	return Event{Type: typ, Height: height, Attributes: map[string]string{
		"hash": hash.String(),
		"code": fmt.Sprintf("%d", uint32(code)),
		"info": info,
	}}
}

// EventLog keeps the most recent events of finalized blocks. Older events
// are evicted once the log is full.
type EventLog struct {
	cache *lru.Cache[uint64, Event]
	next  uint64
}

func NewEventLog(size int) (*EventLog, error) {
	if size <= 0 {
		size = DefaultEventLogSize
	}
	cache, err := lru.New[uint64, Event](size)
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}
	return &EventLog{cache: cache}, nil
}

// Log appends events in order.
func (l *EventLog) Log(events ...Event) {
	for _, ev := range events {
		l.cache.Add(l.next, ev)
		l.next++
	}
}

// Events returns the retained events, oldest first.
func (l *EventLog) Events() []Event {
	keys := l.cache.Keys()
	out := make([]Event, 0, len(keys))
	for _, k := range keys {
		if ev, ok := l.cache.Peek(k); ok {
			out = append(out, ev)
		}
	}
	return out
}

// Find returns the retained events of type typ whose attribute key equals
// value.
func (l *EventLog) Find(typ, key, value string) []Event {
	var out []Event
	for _, ev := range l.Events() {
		if ev.Type == typ && ev.Attributes[key] == value {
			out = append(out, ev)
		}
	}
	return out
}

func (l *EventLog) Len() int { return l.cache.Len() }
