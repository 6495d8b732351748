package vext

import (
	"bytes"
	"math/bits"
	"sort"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/types"
)

// Subject kinds tallied in storage.
const (
	KindEthEvent     = "eth_events"
	KindBridgePool   = "bridge_pool_root"
	KindValSetUpdate = "valset_update"
)

var tallyPrefix = storage.KeyOf("eth_bridge", "vote_tallies")

// TallyKey is the storage prefix of the tally of a subject.
func TallyKey(kind string, subject types.Hash) storage.Key {
	return tallyPrefix.Push(kind).Push(subject.String())
}

// Vote is one validator's vote weighted by its voting power.
type Vote struct {
	Validator types.Address
	Power     uint64
}

// Tally is the accumulated vote on a subject.
type Tally struct {
	VotingPower uint64
	Seen        bool
	SeenBy      []types.Address
}

// ReadTally loads the tally of a subject.
func ReadTally(r storage.Reader, kind string, subject types.Hash) (*Tally, error) {
	key := TallyKey(kind, subject)
	power, _, err := storage.ReadUint64(r, key.Push("voting_power"))
	if err != nil {
		return nil, err
	}
	seen, _, err := r.HasKey(key.Push("seen"))
	if err != nil {
		return nil, err
	}
	raw, _, err := r.Read(key.Push("seen_by"))
	if err != nil {
		return nil, err
	}
	t := &Tally{VotingPower: power, Seen: seen}
	for i := 0; i+20 <= len(raw); i += 20 {
		var a types.Address
		copy(a[:], raw[i:i+20])
		t.SeenBy = append(t.SeenBy, a)
	}
	return t, nil
}

// ApplyVotes adds votes on a subject. body is stored on the first vote so
// the subject can be acted upon once seen. It reports whether the subject
// became seen with these votes, i.e. crossed two thirds of total.
func ApplyVotes(rw storage.ReadWriter, kind string, subject types.Hash, body []byte,
	votes []Vote, total uint64) (bool, error) {
	t, err := ReadTally(rw, kind, subject)
	if err != nil {
		return false, err
	}
	key := TallyKey(kind, subject)
	if len(t.SeenBy) == 0 && body != nil {
		if _, err := rw.Write(key.Push("body"), body); err != nil {
			return false, err
		}
	}

	changed := false
	for _, v := range votes {
		i := sort.Search(len(t.SeenBy), func(i int) bool {
			return bytes.Compare(t.SeenBy[i][:], v.Validator[:]) >= 0
		})
		if i < len(t.SeenBy) && t.SeenBy[i] == v.Validator {
			continue
		}
		t.SeenBy = append(t.SeenBy, types.Address{})
		copy(t.SeenBy[i+1:], t.SeenBy[i:])
		t.SeenBy[i] = v.Validator
		t.VotingPower += v.Power
		changed = true
	}
	if !changed {
		return false, nil
	}

	buf := make([]byte, 0, 20*len(t.SeenBy))
	for _, a := range t.SeenBy {
		buf = append(buf, a[:]...)
	}
	if _, err := rw.Write(key.Push("seen_by"), buf); err != nil {
		return false, err
	}
	if err := storage.WriteUint64(rw, key.Push("voting_power"), t.VotingPower); err != nil {
		return false, err
	}
	if t.Seen || !ExceedsTwoThirds(t.VotingPower, total) {
		return false, nil
	}
	if _, err := rw.Write(key.Push("seen"), []byte{1}); err != nil {
		return false, err
	}
	return true, nil
}

// ReadBody returns the body stored with a subject's first vote.
func ReadBody(r storage.Reader, kind string, subject types.Hash) ([]byte, error) {
	raw, _, err := r.Read(TallyKey(kind, subject).Push("body"))
	return raw, err
}

// ExceedsTwoThirds reports whether power > 2/3 of total.
func ExceedsTwoThirds(power, total uint64) bool {
	hi1, lo1 := bits.Mul64(power, 3)
	hi2, lo2 := bits.Mul64(total, 2)
	if hi1 != hi2 {
		return hi1 > hi2
	}
	return lo1 > lo2
}
