package shell

import (
	"fmt"

	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/types"
)

func (m MisbehaviorType) slashType() (pos.SlashType, bool) {
	switch m {
	case MisbehaviorDuplicateVote:
		return pos.DuplicateVote, true
	case MisbehaviorLightClientAttack:
		return pos.LightClientAttack, true
	default:
		return 0, false
	}
}

func (s *Shell) posParams() *pos.Params {
	params, err := pos.ReadParams(s.wl)
	if err != nil {
		panic(fmt.Sprintf("must be able to read PoS parameters: %v", err))
	}
	return params
}

// recordSlashesFromEvidence drains the pending evidence and enqueues a slash
// for each valid item. Bad evidence is logged and skipped.
func (s *Shell) recordSlashesFromEvidence() []Event {
	evidence := s.byzantineValidators
	s.byzantineValidators = nil
	if len(evidence) == 0 {
		return nil
	}
	params := s.posParams()
	block := &s.wl.Storage.Block
	current := block.Epoch

	var events []Event
	for _, ev := range evidence {
		if ev.Height < 0 {
			s.logger.Error("unexpected evidence block height", "height", ev.Height)
			continue
		}
		height := types.BlockHeight(ev.Height)
		evEpoch, ok := block.PredEpochs.GetEpoch(height)
		if !ok {
			s.logger.Error("couldn't find epoch for evidence block height", "height", height)
			continue
		}
		// Slashes for epochs that already left the processing window can
		// no longer be applied.
		if uint64(evEpoch)+params.ProcessingOffset()-params.CubicSlashingWindowLength <= uint64(current) {
			s.logger.Info("Skipping outdated evidence",
				"evidence_epoch", evEpoch,
				"current_epoch", current,
			)
			continue
		}
		typ, ok := ev.Type.slashType()
		if !ok {
			s.logger.Error("unexpected evidence type", "type", ev.Type)
			continue
		}
		if len(ev.ValidatorAddress) == 0 {
			s.logger.Error("evidence without a validator address", "height", height)
			continue
		}
		rawHash := types.RawHashString(ev.ValidatorAddress)
		addr, found, err := pos.FindByRawHash(s.wl, rawHash)
		if err != nil {
			panic(fmt.Sprintf("must be able to read validator by raw hash: %v", err))
		}
		if !found {
			s.logger.Error("cannot find validator's address from raw hash", "raw_hash", rawHash)
			continue
		}

		s.logger.Info("slashing validator for misbehavior",
			"validator", addr,
			"type", typ,
			"evidence_epoch", evEpoch,
			"height", height,
		)
		recorded, err := pos.RecordSlash(s.wl, params, current, evEpoch, height, typ, addr)
		if err != nil {
			s.logger.Error("error in slashing", "validator", addr, "err", err)
			continue
		}
		if !recorded {
			continue
		}
		s.metrics.SlashRecorded()
		events = append(events, Event{Type: EventSlash, Height: block.Height, Attributes: map[string]string{
			"validator":      addr.String(),
			"type":           typ.String(),
			"evidence_epoch": fmt.Sprintf("%d", evEpoch),
			"height":         fmt.Sprintf("%d", height),
		}})
	}
	return events
}

// processSlashes applies the slashes that mature at the current epoch. It
// runs every block; an epoch's slashes are applied at most once.
func (s *Shell) processSlashes() {
	epoch := s.wl.Storage.Block.Epoch
	slashes, err := pos.ProcessSlashes(s.wl, s.posParams(), epoch)
	if err != nil {
		s.logger.Error("error while processing slashes", "epoch", epoch, "err", err)
		return
	}
	if len(slashes) == 0 {
		return
	}
	s.metrics.SlashesProcessed(len(slashes))
	for _, sl := range slashes {
		s.logger.Info("processed slash",
			"validator", sl.Validator,
			"type", sl.Type,
			"infraction_epoch", sl.Epoch,
			"rate", sl.Rate,
		)
	}
}
