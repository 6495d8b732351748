// Package ethbridge holds the Ethereum bridge data shared by the shell, the
// vote extensions and the oracle: observed events and the bridge
// configuration kept in storage.
package ethbridge

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/geanlabs/ledger/types"
)

// EventKind distinguishes the bridge contract events we relay.
type EventKind uint8

const (
	TransfersToLedger EventKind = iota
	TransfersToEthereum
)

func (k EventKind) String() string {
	switch k {
	case TransfersToLedger:
		return "transfers_to_ledger"
	case TransfersToEthereum:
		return "transfers_to_ethereum"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

const MaxTransfersPerEvent = 1024

// Transfer moves Amount of the ERC20 Asset to Receiver.
type Transfer struct {
	Amount   types.Amount
	Asset    common.Address `ssz-size:"20"`
	Receiver types.Address  `ssz-size:"20"`
}

// EthereumEvent is one event observed on the bridge contracts. Events are
// identified by content, never by arrival order.
type EthereumEvent struct {
	Kind      EventKind
	Nonce     uint64
	Transfers []Transfer `ssz-max:"1024"`
}

// Hash identifies the event.
func (e *EthereumEvent) Hash() types.Hash {
	root, err := e.HashTreeRoot()
	if err != nil {
		panic(fmt.Sprintf("event hash: %v", err))
	}
	return types.Hash(root)
}

func (e *EthereumEvent) encoded() []byte {
	raw, err := e.MarshalSSZ()
	if err != nil {
		panic(fmt.Sprintf("encode event: %v", err))
	}
	return raw
}

// Compare orders events by kind, then nonce, then content.
func (e *EthereumEvent) Compare(other *EthereumEvent) int {
	switch {
	case e.Kind < other.Kind:
		return -1
	case e.Kind > other.Kind:
		return 1
	case e.Nonce < other.Nonce:
		return -1
	case e.Nonce > other.Nonce:
		return 1
	}
	return bytes.Compare(e.encoded(), other.encoded())
}

// IsSortedSet reports whether events are strictly increasing, i.e. sorted
// and free of duplicates.
func IsSortedSet(events []EthereumEvent) bool {
	for i := 1; i < len(events); i++ {
		if events[i-1].Compare(&events[i]) >= 0 {
			return false
		}
	}
	return true
}

// EventSet is a sorted set of events.
type EventSet struct {
	events []EthereumEvent
}

func (s *EventSet) search(e *EthereumEvent) (int, bool) {
	i := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].Compare(e) >= 0
	})
	return i, i < len(s.events) && s.events[i].Compare(e) == 0
}

// Insert adds e, returning false if it was already present.
func (s *EventSet) Insert(e EthereumEvent) bool {
	i, found := s.search(&e)
	if found {
		return false
	}
	s.events = append(s.events, EthereumEvent{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = e
	return true
}

// Remove deletes e, returning false if it was absent.
func (s *EventSet) Remove(e *EthereumEvent) bool {
	i, found := s.search(e)
	if !found {
		return false
	}
	s.events = append(s.events[:i], s.events[i+1:]...)
	return true
}

func (s *EventSet) Contains(e *EthereumEvent) bool {
	_, found := s.search(e)
	return found
}

func (s *EventSet) Len() int { return len(s.events) }

// Events returns a copy of the set in order.
func (s *EventSet) Events() []EthereumEvent {
	out := make([]EthereumEvent, len(s.events))
	copy(out, s.events)
	return out
}
