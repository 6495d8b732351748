package pos

import (
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/types"
)

// GenesisValidator is a validator bonded at genesis.
type GenesisValidator struct {
	Validator Validator
	Stake     uint64
}

// InitGenesis writes params and the genesis validators, and snapshots the
// consensus sets of every epoch up to the pipeline.
func InitGenesis(rw storage.ReadWriter, params *Params, validators []GenesisValidator) error {
	if err := WriteParams(rw, params); err != nil {
		return err
	}
	for i := range validators {
		if err := RegisterValidator(rw, &validators[i].Validator, validators[i].Stake); err != nil {
			return err
		}
	}
	for e := types.Epoch(0); e <= types.Epoch(params.PipelineLen); e++ {
		if err := WriteSnapshot(rw, e); err != nil {
			return err
		}
	}
	return nil
}

// OnNewEpoch snapshots the consensus set that takes effect a pipeline
// length after epoch.
func OnNewEpoch(rw storage.ReadWriter, params *Params, epoch types.Epoch) error {
	return WriteSnapshot(rw, epoch+types.Epoch(params.PipelineLen))
}
