package pos

import (
	"fmt"
	"math/bits"

	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/types"
)

// SlashType is the kind of infraction a slash punishes.
type SlashType uint8

const (
	DuplicateVote SlashType = iota
	LightClientAttack
)

func (t SlashType) String() string {
	switch t {
	case DuplicateVote:
		return "duplicate_vote"
	case LightClientAttack:
		return "light_client_attack"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func (t SlashType) minRate(p *Params) uint64 {
	if t == LightClientAttack {
		return p.LightClientAttackMinRate
	}
	return p.DuplicateVoteMinSlashRate
}

// Slash is an infraction recorded against a validator. Rate is set once the
// slash is processed.
type Slash struct {
	Validator   types.Address
	Epoch       types.Epoch
	BlockHeight types.BlockHeight
	Type        SlashType
	Rate        uint64
}

func (s *Slash) sameInfraction(o *Slash) bool {
	return s.Validator == o.Validator && s.Epoch == o.Epoch && s.BlockHeight == o.BlockHeight && s.Type == o.Type
}

const slashSize = 20 + 8 + 8 + 1 + 8

func encodeSlashes(list []Slash) []byte {
	buf := make([]byte, 0, len(list)*slashSize)
	for _, s := range list {
		buf = append(buf, s.Validator[:]...)
		buf = ssz.MarshalUint64(buf, uint64(s.Epoch))
		buf = ssz.MarshalUint64(buf, uint64(s.BlockHeight))
		buf = ssz.MarshalUint8(buf, uint8(s.Type))
		buf = ssz.MarshalUint64(buf, s.Rate)
	}
	return buf
}

func decodeSlashes(buf []byte) ([]Slash, error) {
	if len(buf)%slashSize != 0 {
		return nil, ssz.ErrSize
	}
	list := make([]Slash, len(buf)/slashSize)
	for i := range list {
		c := buf[i*slashSize : (i+1)*slashSize]
		copy(list[i].Validator[:], c[0:20])
		list[i].Epoch = types.Epoch(ssz.UnmarshallUint64(c[20:28]))
		list[i].BlockHeight = types.BlockHeight(ssz.UnmarshallUint64(c[28:36]))
		list[i].Type = SlashType(ssz.UnmarshallUint8(c[36:37]))
		list[i].Rate = ssz.UnmarshallUint64(c[37:45])
	}
	return list, nil
}

func enqueuedKey(epoch types.Epoch) storage.Key {
	return storage.KeyOf("pos", "enqueued_slashes", epochSegment(epoch))
}

func processedKey(epoch types.Epoch) storage.Key {
	return storage.KeyOf("pos", "processed_slashes", epochSegment(epoch))
}

func slashesKey(addr types.Address) storage.Key { return validatorKey(addr).Push("slashes") }

func readSlashes(r storage.Reader, key storage.Key) ([]Slash, error) {
	raw, _, err := r.Read(key)
	if err != nil {
		return nil, err
	}
	return decodeSlashes(raw)
}

// EnqueuedSlashes returns the slashes waiting to be processed at epoch.
func EnqueuedSlashes(r storage.Reader, epoch types.Epoch) ([]Slash, error) {
	return readSlashes(r, enqueuedKey(epoch))
}

// ValidatorSlashes returns the processed slashes of addr.
func ValidatorSlashes(r storage.Reader, addr types.Address) ([]Slash, error) {
	return readSlashes(r, slashesKey(addr))
}

// RecordSlash enqueues a slash for processing ProcessingOffset epochs after
// the infraction and jails the validator from the next epoch on. Recording
// the same infraction twice is a no-op reported by a false return.
func RecordSlash(rw storage.ReadWriter, params *Params, current, infraction types.Epoch,
	height types.BlockHeight, typ SlashType, addr types.Address) (bool, error) {
	if _, ok, err := ReadValidator(rw, addr); err != nil {
		return false, err
	} else if !ok {
		return false, fmt.Errorf("%w %s", ErrUnknownValidator, addr)
	}

	processing := infraction + types.Epoch(params.ProcessingOffset())
	list, err := EnqueuedSlashes(rw, processing)
	if err != nil {
		return false, err
	}
	slash := Slash{Validator: addr, Epoch: infraction, BlockHeight: height, Type: typ}
	for i := range list {
		if list[i].sameInfraction(&slash) {
			return false, nil
		}
	}
	list = append(list, slash)
	if _, err := rw.Write(enqueuedKey(processing), encodeSlashes(list)); err != nil {
		return false, err
	}

	if _, err := rw.Write(jailedKey(addr), []byte{1}); err != nil {
		return false, err
	}
	for e := current + 1; e <= current+types.Epoch(params.PipelineLen); e++ {
		if err := WriteSnapshot(rw, e); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ProcessSlashes applies the slashes enqueued for epoch. It runs at most once
// per epoch and returns the applied slashes with their final rates.
func ProcessSlashes(rw storage.ReadWriter, params *Params, epoch types.Epoch) ([]Slash, error) {
	if done, _, err := rw.HasKey(processedKey(epoch)); err != nil || done {
		return nil, err
	}
	list, err := EnqueuedSlashes(rw, epoch)
	if err != nil || len(list) == 0 {
		return nil, err
	}

	rates := make(map[types.Epoch]uint64)
	for i := range list {
		s := &list[i]
		cubic, ok := rates[s.Epoch]
		if !ok {
			cubic, err = cubicRate(rw, params, s.Epoch)
			if err != nil {
				return nil, err
			}
			rates[s.Epoch] = cubic
		}
		s.Rate = max(cubic, s.Type.minRate(params))

		stake, err := Stake(rw, s.Validator)
		if err != nil {
			return nil, err
		}
		if err := storage.WriteUint64(rw, stakeKey(s.Validator), stake-applyRate(stake, s.Rate)); err != nil {
			return nil, err
		}
		history, err := ValidatorSlashes(rw, s.Validator)
		if err != nil {
			return nil, err
		}
		history = append(history, *s)
		if _, err := rw.Write(slashesKey(s.Validator), encodeSlashes(history)); err != nil {
			return nil, err
		}
	}
	if _, err := rw.Write(processedKey(epoch), []byte{1}); err != nil {
		return nil, err
	}
	return list, nil
}

// cubicRate is 9 * (slashed voting power fraction)^2 over the infractions in
// the window around epoch, capped at 100%.
func cubicRate(r storage.Reader, params *Params, epoch types.Epoch) (uint64, error) {
	w := types.Epoch(params.CubicSlashingWindowLength)
	start := types.Epoch(0)
	if epoch > w {
		start = epoch - w
	}
	var fraction uint64
	for e := start; e <= epoch+w; e++ {
		list, err := EnqueuedSlashes(r, e+types.Epoch(params.ProcessingOffset()))
		if err != nil {
			return 0, err
		}
		if len(list) == 0 {
			continue
		}
		total, err := TotalStake(r, e)
		if err != nil {
			return 0, err
		}
		if total == 0 {
			continue
		}
		counted := make(map[types.Address]bool)
		for _, s := range list {
			if s.Epoch != e || counted[s.Validator] {
				continue
			}
			counted[s.Validator] = true
			power, _, err := VotingPower(r, s.Validator, e)
			if err != nil {
				return 0, err
			}
			fraction += mulDiv(power, RateDenominator, total)
		}
	}
	if fraction >= RateDenominator {
		return RateDenominator, nil
	}
	rate := mulDiv(9*fraction, fraction, RateDenominator)
	return min(rate, RateDenominator), nil
}

func applyRate(stake, rate uint64) uint64 {
	return mulDiv(stake, rate, RateDenominator)
}

// mulDiv computes a*b/d without intermediate overflow.
func mulDiv(a, b, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, d)
	return q
}
