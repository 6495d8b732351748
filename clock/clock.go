// Package clock decides when the chain moves to a new epoch.
//
// An epoch ends once both a minimum number of blocks and a minimum duration
// have elapsed. The switch is then delayed by EpochSwitchBlocksDelay blocks
// so the consensus engine receives validator set updates one block before
// they take effect.
package clock

import (
	"fmt"

	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/types"
)

// EpochSwitchBlocksDelay is the number of blocks between the epoch
// conditions being met and the new epoch starting.
const EpochSwitchBlocksDelay uint64 = 2

// EpochDuration is the minimum length of an epoch.
type EpochDuration struct {
	MinNumOfBlocks uint64
	// MinDuration is in seconds.
	MinDuration uint64
}

var durationKey = storage.KeyOf("parameters", "epoch_duration")

// ReadDuration reads the epoch duration written at genesis.
func ReadDuration(r storage.Reader) (EpochDuration, error) {
	raw, _, err := r.Read(durationKey)
	if err != nil {
		return EpochDuration{}, err
	}
	if len(raw) != 16 {
		return EpochDuration{}, fmt.Errorf("epoch duration: %w", ssz.ErrSize)
	}
	return EpochDuration{
		MinNumOfBlocks: ssz.UnmarshallUint64(raw[0:8]),
		MinDuration:    ssz.UnmarshallUint64(raw[8:16]),
	}, nil
}

func WriteDuration(w storage.Writer, d EpochDuration) error {
	buf := ssz.MarshalUint64(make([]byte, 0, 16), d.MinNumOfBlocks)
	buf = ssz.MarshalUint64(buf, d.MinDuration)
	_, err := w.Write(durationKey, buf)
	return err
}

// Genesis initialises the block state of the first block.
func Genesis(state *storage.BlockState, d EpochDuration, initialHeight types.BlockHeight, genesisTime uint64) {
	state.Epoch = 0
	state.PredEpochs = types.Epochs{FirstKnownEpoch: 0, FirstBlockHeight: []types.BlockHeight{initialHeight}}
	state.NextEpochMinStartHeight = initialHeight + types.BlockHeight(d.MinNumOfBlocks)
	state.NextEpochMinStartTime = genesisTime + d.MinDuration
	state.UpdateEpochBlocksDelay = 0
}

// Advance moves state to the block at height and time, starting a new epoch
// when one is due. It reports whether a new epoch began.
func Advance(state *storage.BlockState, d EpochDuration, height types.BlockHeight, time uint64) bool {
	if state.UpdateEpochBlocksDelay == 0 {
		if height >= state.NextEpochMinStartHeight && time >= state.NextEpochMinStartTime {
			state.UpdateEpochBlocksDelay = EpochSwitchBlocksDelay
		}
	} else {
		state.UpdateEpochBlocksDelay--
		if state.UpdateEpochBlocksDelay == 0 {
			state.Epoch++
			state.NextEpochMinStartHeight = height + types.BlockHeight(d.MinNumOfBlocks)
			state.NextEpochMinStartTime = time + d.MinDuration
			state.PredEpochs.NewEpoch(height)
			state.Height = height
			state.Time = time
			return true
		}
	}
	state.Height = height
	state.Time = time
	return false
}

// IsLastBlockOfEpoch reports whether the block after state starts a new
// epoch.
func IsLastBlockOfEpoch(state *storage.BlockState) bool {
	return state.UpdateEpochBlocksDelay == 1
}
