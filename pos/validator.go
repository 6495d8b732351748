package pos

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/types"
)

// Validator is the key material registered for a validator.
type Validator struct {
	Address      types.Address
	ConsensusKey [32]byte
	ProtocolKey  [32]byte
	// EthHotKey is the address of the secp256k1 bridge key.
	EthHotKey common.Address
}

// RawHash is the consensus engine's identity of the validator.
func (v *Validator) RawHash() string {
	return types.ConsensusRawHash(v.ConsensusKey[:])
}

const validatorSize = 20 + 32 + 32 + 20

func (v *Validator) MarshalSSZ() ([]byte, error) {
	dst := make([]byte, 0, validatorSize)
	dst = append(dst, v.Address[:]...)
	dst = append(dst, v.ConsensusKey[:]...)
	dst = append(dst, v.ProtocolKey[:]...)
	dst = append(dst, v.EthHotKey[:]...)
	return dst, nil
}

func (v *Validator) UnmarshalSSZ(buf []byte) error {
	if len(buf) != validatorSize {
		return ssz.ErrSize
	}
	copy(v.Address[:], buf[0:20])
	copy(v.ConsensusKey[:], buf[20:52])
	copy(v.ProtocolKey[:], buf[52:84])
	copy(v.EthHotKey[:], buf[84:104])
	return nil
}

// WeightedValidator is a consensus set member with its bonded stake.
type WeightedValidator struct {
	Address types.Address
	Stake   uint64
}

// ValidatorSetUpdate is a voting power change reported to the consensus
// engine. Power zero removes the validator.
type ValidatorSetUpdate struct {
	ConsensusKey [32]byte
	Power        uint64
}

var (
	validatorsKey = storage.KeyOf("pos", "validators")
	rawHashPrefix = storage.KeyOf("pos", "raw_hash")
	setPrefix     = storage.KeyOf("pos", "consensus_set")
)

func validatorKey(addr types.Address) storage.Key {
	return storage.KeyOf("pos", "validator", addr.String())
}

func recordKey(addr types.Address) storage.Key { return validatorKey(addr).Push("record") }
func stakeKey(addr types.Address) storage.Key  { return validatorKey(addr).Push("stake") }
func jailedKey(addr types.Address) storage.Key { return validatorKey(addr).Push("jailed") }

func snapshotKey(epoch types.Epoch) storage.Key { return setPrefix.Push(epochSegment(epoch)) }

// RegisterValidator records a genesis validator with its initial stake.
func RegisterValidator(rw storage.ReadWriter, v *Validator, stake uint64) error {
	addrs, err := ValidatorAddresses(rw)
	if err != nil {
		return err
	}
	i := sort.Search(len(addrs), func(i int) bool { return bytes.Compare(addrs[i][:], v.Address[:]) >= 0 })
	if i < len(addrs) && addrs[i] == v.Address {
		return fmt.Errorf("validator %s already registered", v.Address)
	}
	addrs = append(addrs, types.Address{})
	copy(addrs[i+1:], addrs[i:])
	addrs[i] = v.Address
	if _, err := rw.Write(validatorsKey, encodeAddresses(addrs)); err != nil {
		return err
	}
	if err := storage.WriteValue(rw, recordKey(v.Address), v); err != nil {
		return err
	}
	if _, err := rw.Write(rawHashPrefix.Push(v.RawHash()), v.Address[:]); err != nil {
		return err
	}
	return storage.WriteUint64(rw, stakeKey(v.Address), stake)
}

// ValidatorAddresses lists every registered validator in address order.
func ValidatorAddresses(r storage.Reader) ([]types.Address, error) {
	raw, _, err := r.Read(validatorsKey)
	if err != nil {
		return nil, err
	}
	return decodeAddresses(raw)
}

// ReadValidator loads the record of addr.
func ReadValidator(r storage.Reader, addr types.Address) (*Validator, bool, error) {
	var v Validator
	ok, err := storage.ReadValue(r, recordKey(addr), &v)
	if err != nil || !ok {
		return nil, false, err
	}
	return &v, true, nil
}

// FindByRawHash resolves a consensus raw hash to a validator address.
func FindByRawHash(r storage.Reader, rawHash string) (types.Address, bool, error) {
	raw, _, err := r.Read(rawHashPrefix.Push(rawHash))
	if err != nil || raw == nil {
		return types.Address{}, false, err
	}
	if len(raw) != len(types.Address{}) {
		return types.Address{}, false, fmt.Errorf("raw hash %s: address has %d bytes", rawHash, len(raw))
	}
	var addr types.Address
	copy(addr[:], raw)
	return addr, true, nil
}

// Stake returns the current bonded stake of addr.
func Stake(r storage.Reader, addr types.Address) (uint64, error) {
	v, _, err := storage.ReadUint64(r, stakeKey(addr))
	return v, err
}

// IsJailed reports whether addr was jailed for an infraction.
func IsJailed(r storage.Reader, addr types.Address) (bool, error) {
	ok, _, err := r.HasKey(jailedKey(addr))
	return ok, err
}

// WriteSnapshot records the consensus set of epoch from the current stake
// of every non-jailed validator.
func WriteSnapshot(rw storage.ReadWriter, epoch types.Epoch) error {
	addrs, err := ValidatorAddresses(rw)
	if err != nil {
		return err
	}
	set := make([]WeightedValidator, 0, len(addrs))
	for _, addr := range addrs {
		jailed, err := IsJailed(rw, addr)
		if err != nil {
			return err
		}
		if jailed {
			continue
		}
		stake, err := Stake(rw, addr)
		if err != nil {
			return err
		}
		if stake == 0 {
			continue
		}
		set = append(set, WeightedValidator{Address: addr, Stake: stake})
	}
	_, err = rw.Write(snapshotKey(epoch), encodeWeighted(set))
	return err
}

// ConsensusSet returns the consensus set of epoch in address order.
func ConsensusSet(r storage.Reader, epoch types.Epoch) ([]WeightedValidator, error) {
	raw, _, err := r.Read(snapshotKey(epoch))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w %d", ErrMissingSnapshot, epoch)
	}
	return decodeWeighted(raw)
}

// TotalStake sums the consensus set of epoch.
func TotalStake(r storage.Reader, epoch types.Epoch) (uint64, error) {
	set, err := ConsensusSet(r, epoch)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, v := range set {
		total += v.Stake
	}
	return total, nil
}

// VotingPower returns the stake of addr in the consensus set of epoch, or
// false if it was not a member.
func VotingPower(r storage.Reader, addr types.Address, epoch types.Epoch) (uint64, bool, error) {
	set, err := ConsensusSet(r, epoch)
	if err != nil {
		return 0, false, err
	}
	i := sort.Search(len(set), func(i int) bool { return bytes.Compare(set[i].Address[:], addr[:]) >= 0 })
	if i < len(set) && set[i].Address == addr {
		return set[i].Stake, true, nil
	}
	return 0, false, nil
}

// SetUpdates diffs the consensus sets of two epochs into the updates the
// consensus engine needs.
func SetUpdates(r storage.Reader, from, to types.Epoch) ([]ValidatorSetUpdate, error) {
	prev, err := ConsensusSet(r, from)
	if err != nil {
		return nil, err
	}
	next, err := ConsensusSet(r, to)
	if err != nil {
		return nil, err
	}
	prevPower := make(map[types.Address]uint64, len(prev))
	for _, v := range prev {
		prevPower[v.Address] = v.Stake
	}
	var updates []ValidatorSetUpdate
	seen := make(map[types.Address]bool, len(next))
	for _, v := range next {
		seen[v.Address] = true
		if p, ok := prevPower[v.Address]; ok && p == v.Stake {
			continue
		}
		u, err := update(r, v.Address, v.Stake)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	for _, v := range prev {
		if seen[v.Address] {
			continue
		}
		u, err := update(r, v.Address, 0)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func update(r storage.Reader, addr types.Address, power uint64) (ValidatorSetUpdate, error) {
	v, ok, err := ReadValidator(r, addr)
	if err != nil {
		return ValidatorSetUpdate{}, err
	}
	if !ok {
		return ValidatorSetUpdate{}, fmt.Errorf("%w %s", ErrUnknownValidator, addr)
	}
	return ValidatorSetUpdate{ConsensusKey: v.ConsensusKey, Power: power}, nil
}

func encodeAddresses(addrs []types.Address) []byte {
	buf := make([]byte, 0, len(addrs)*20)
	for _, a := range addrs {
		buf = append(buf, a[:]...)
	}
	return buf
}

func decodeAddresses(buf []byte) ([]types.Address, error) {
	if len(buf)%20 != 0 {
		return nil, ssz.ErrSize
	}
	addrs := make([]types.Address, len(buf)/20)
	for i := range addrs {
		copy(addrs[i][:], buf[i*20:(i+1)*20])
	}
	return addrs, nil
}

const weightedSize = 28

func encodeWeighted(set []WeightedValidator) []byte {
	buf := make([]byte, 0, len(set)*weightedSize)
	for _, v := range set {
		buf = append(buf, v.Address[:]...)
		buf = ssz.MarshalUint64(buf, v.Stake)
	}
	return buf
}

func decodeWeighted(buf []byte) ([]WeightedValidator, error) {
	if len(buf)%weightedSize != 0 {
		return nil, ssz.ErrSize
	}
	set := make([]WeightedValidator, len(buf)/weightedSize)
	for i := range set {
		chunk := buf[i*weightedSize : (i+1)*weightedSize]
		copy(set[i].Address[:], chunk[:20])
		set[i].Stake = ssz.UnmarshallUint64(chunk[20:])
	}
	return set, nil
}
