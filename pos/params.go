// Package pos keeps the proof-of-stake state the shell needs: validator
// records, per-epoch consensus sets and the slashing pipeline.
package pos

import (
	"errors"
	"fmt"

	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/types"
)

// RateDenominator is the fixed-point scale of slash rates (parts per
// million).
const RateDenominator uint64 = 1_000_000

var (
	ErrUnknownValidator = errors.New("unknown validator")
	ErrMissingParams    = errors.New("pos params not initialized")
	ErrMissingSnapshot  = errors.New("no consensus set snapshot for epoch")
)

// Params are the PoS parameters written at genesis.
type Params struct {
	UnbondingLen              uint64
	PipelineLen               uint64
	CubicSlashingWindowLength uint64
	DuplicateVoteMinSlashRate uint64
	LightClientAttackMinRate  uint64
}

// DefaultParams mirrors the usual devnet values.
func DefaultParams() Params {
	return Params{
		UnbondingLen:              21,
		PipelineLen:               2,
		CubicSlashingWindowLength: 1,
		DuplicateVoteMinSlashRate: 1000, // 0.1%
		LightClientAttackMinRate:  1000,
	}
}

// ProcessingOffset is the number of epochs between an infraction and the
// epoch its slash is applied.
func (p *Params) ProcessingOffset() uint64 {
	return p.UnbondingLen + 1 + p.CubicSlashingWindowLength
}

const paramsSize = 5 * 8

func (p *Params) MarshalSSZ() ([]byte, error) {
	dst := make([]byte, 0, paramsSize)
	dst = ssz.MarshalUint64(dst, p.UnbondingLen)
	dst = ssz.MarshalUint64(dst, p.PipelineLen)
	dst = ssz.MarshalUint64(dst, p.CubicSlashingWindowLength)
	dst = ssz.MarshalUint64(dst, p.DuplicateVoteMinSlashRate)
	dst = ssz.MarshalUint64(dst, p.LightClientAttackMinRate)
	return dst, nil
}

func (p *Params) UnmarshalSSZ(buf []byte) error {
	if len(buf) != paramsSize {
		return ssz.ErrSize
	}
	p.UnbondingLen = ssz.UnmarshallUint64(buf[0:8])
	p.PipelineLen = ssz.UnmarshallUint64(buf[8:16])
	p.CubicSlashingWindowLength = ssz.UnmarshallUint64(buf[16:24])
	p.DuplicateVoteMinSlashRate = ssz.UnmarshallUint64(buf[24:32])
	p.LightClientAttackMinRate = ssz.UnmarshallUint64(buf[32:40])
	return nil
}

var paramsKey = storage.KeyOf("pos", "params")

// ReadParams reads the PoS parameters.
func ReadParams(r storage.Reader) (*Params, error) {
	var p Params
	ok, err := storage.ReadValue(r, paramsKey, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMissingParams
	}
	return &p, nil
}

func WriteParams(w storage.Writer, p *Params) error {
	if p.PipelineLen == 0 {
		return fmt.Errorf("pipeline length must be positive")
	}
	return storage.WriteValue(w, paramsKey, p)
}

func epochSegment(e types.Epoch) string { return fmt.Sprintf("%020d", uint64(e)) }
