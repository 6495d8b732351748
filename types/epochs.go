package types

// Epochs records the first block height of every epoch so that a height can
// be mapped back to the epoch it belonged to.
type Epochs struct {
	FirstKnownEpoch  Epoch         `json:"first_known_epoch"`
	FirstBlockHeight []BlockHeight `json:"first_block_heights"`
}

// NewEpoch records that epoch FirstKnownEpoch+len(FirstBlockHeight) starts at
// height.
func (e *Epochs) NewEpoch(height BlockHeight) {
	e.FirstBlockHeight = append(e.FirstBlockHeight, height)
}

// GetEpoch returns the epoch of the given height, or false if the height
// predates the known history.
func (e *Epochs) GetEpoch(height BlockHeight) (Epoch, bool) {
	for i := len(e.FirstBlockHeight) - 1; i >= 0; i-- {
		if height >= e.FirstBlockHeight[i] {
			return e.FirstKnownEpoch + Epoch(i), true
		}
	}
	return 0, false
}

// GetStartHeight returns the first height of epoch, if known.
func (e *Epochs) GetStartHeight(epoch Epoch) (BlockHeight, bool) {
	if epoch < e.FirstKnownEpoch {
		return 0, false
	}
	idx := int(epoch - e.FirstKnownEpoch)
	if idx >= len(e.FirstBlockHeight) {
		return 0, false
	}
	return e.FirstBlockHeight[idx], true
}

// Clone returns a deep copy.
func (e Epochs) Clone() Epochs {
	heights := make([]BlockHeight, len(e.FirstBlockHeight))
	copy(heights, e.FirstBlockHeight)
	return Epochs{FirstKnownEpoch: e.FirstKnownEpoch, FirstBlockHeight: heights}
}
