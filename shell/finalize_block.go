package shell

import (
	"fmt"

	"github.com/geanlabs/ledger/clock"
	"github.com/geanlabs/ledger/gas"
	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/replay"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
)

// FinalizeBlock applies a decided block to the write log. Nothing reaches
// the database before Commit.
func (s *Shell) FinalizeBlock(req FinalizeBlockRequest) (FinalizeBlockResponse, error) {
	var resp FinalizeBlockResponse
	// Only the decided block's evidence counts; whatever an undecided
	// proposal reported is dropped.
	s.byzantineValidators = req.Misbehavior

	height := req.Height
	s.beginBlock(height, types.Unix(s.GetBlockTimestamp(&req.Time)))
	events := s.recordSlashesFromEvidence()
	s.processSlashes()
	for h := range s.proposalData {
		if h <= height {
			delete(s.proposalData, h)
		}
	}

	proposer := s.proposerAddress(req.ProposerAddress)
	blockTime := s.wl.Storage.Block.Time
	resp.TxResults = make([]TxResult, len(req.Txs))
	for i, raw := range req.Txs {
		t, err := tx.Decode(raw)
		if err != nil {
			// Undecodable txs were rejected by ProcessProposal.
			s.logger.Error("unexpected error while decoding a finalized tx", "err", err)
			resp.TxResults[i] = TxResult{Code: InvalidTx, Info: err.Error()}
			continue
		}
		var evs []Event
		resp.TxResults[i], evs = s.finalizeTx(t, raw, height, blockTime, proposer)
		events = append(events, evs...)
	}

	if clock.IsLastBlockOfEpoch(&s.wl.Storage.Block) {
		epoch := s.wl.Storage.Block.Epoch
		updates, err := pos.SetUpdates(s.wl, epoch, epoch+1)
		if err != nil {
			return resp, fmt.Errorf("%w: validator set updates: %v", ErrStorage, err)
		}
		resp.ValidatorUpdates = updates
	}

	s.eventLog.Log(events...)
	resp.Events = events
	s.logger.Debug("finalized block",
		"height", height,
		"epoch", s.wl.Storage.Block.Epoch,
		"txs", len(req.Txs),
		"gas_used", s.gasMeter.Used(),
	)
	return resp, nil
}

// beginBlock moves the block state to height, switching epochs when due.
func (s *Shell) beginBlock(height types.BlockHeight, blockTime uint64) {
	d, err := clock.ReadDuration(s.wl)
	if err != nil {
		panic(fmt.Sprintf("must be able to read the epoch duration: %v", err))
	}
	block := &s.wl.Storage.Block
	if clock.Advance(block, d, height, blockTime) {
		if err := pos.OnNewEpoch(s.wl, s.posParams(), block.Epoch); err != nil {
			panic(fmt.Sprintf("must be able to update the PoS state on a new epoch: %v", err))
		}
		s.logger.Info("new epoch", "epoch", block.Epoch, "height", height)
	}
	s.gasMeter.Reset()
}

// proposerAddress resolves the proposer's consensus address. The zero
// address, which burns fees, is returned for an unknown proposer.
func (s *Shell) proposerAddress(raw []byte) types.Address {
	if len(raw) == 0 {
		return types.Address{}
	}
	addr, found, err := pos.FindByRawHash(s.wl, types.RawHashString(raw))
	if err != nil {
		panic(fmt.Sprintf("must be able to read validator by raw hash: %v", err))
	}
	if !found {
		s.logger.Warn("unknown block proposer", "raw_hash", types.RawHashString(raw))
	}
	return addr
}

func (s *Shell) finalizeTx(t *tx.Tx, raw []byte, height types.BlockHeight, blockTime uint64,
	proposer types.Address) (TxResult, []Event) {
	hash := t.HeaderHash()
	result := func(typ string, code ErrorCode, info string) (TxResult, []Event) {
		return TxResult{Code: code, Info: info}, []Event{txEvent(typ, height, hash, code, info)}
	}

	switch t.Header.Kind {
	case tx.KindWrapper:
		w := &t.Header.Wrapper
		if err := s.chargeFee(s.wl, w, proposer); err != nil {
			s.logger.Error("wrapper fee could not be charged", "hash", hash.Short(), "err", err)
			return result(EventAccepted, InvalidTx, err.Error())
		}
		// Both hashes are recorded here so that another wrapper around the
		// same inner tx is rejected while this one waits in the queue.
		if err := replay.Write(s.wl, t.RawHeaderHash()); err != nil {
			panic(fmt.Sprintf("couldn't write inner transaction hash to write log: %v", err))
		}
		if err := replay.Write(s.wl, hash); err != nil {
			panic(fmt.Sprintf("couldn't write wrapper tx hash to write log: %v", err))
		}
		s.wl.Storage.TxQueue = append(s.wl.Storage.TxQueue, storage.TxInQueue{Tx: raw, Gas: w.GasLimit})
		meter := gas.NewTxGasMeter(w.GasLimit)
		if err := meter.Consume(uint64(len(raw))); err != nil {
			s.logger.Warn("wrapper bytes exceed its gas limit", "hash", hash.Short(), "err", err)
		}
		if err := s.gasMeter.Finalize(meter); err != nil {
			s.logger.Warn("block gas limit exceeded", "hash", hash.Short(), "err", err)
		}
		return result(EventAccepted, Ok, "Wrapper transaction accepted into the tx queue")

	case tx.KindDecrypted:
		return s.finalizeDecrypted(t, blockTime, result)

	case tx.KindProtocol:
		evs, err := s.applyProtocolTx(t, height)
		if err != nil {
			s.logger.Error("protocol tx could not be applied",
				"type", t.Header.Protocol.Type, "hash", hash.Short(), "err", err)
			return TxResult{Code: InvalidVoteExtension, Info: err.Error()}, nil
		}
		return TxResult{Code: Ok, Info: "Protocol transaction applied"}, evs

	default:
		return result(EventApplied, InvalidTx, "Raw transactions are not supported")
	}
}

// finalizeDecrypted pops the front of the tx queue and executes the
// decrypted payload.
func (s *Shell) finalizeDecrypted(t *tx.Tx, blockTime uint64,
	result func(string, ErrorCode, string) (TxResult, []Event)) (TxResult, []Event) {
	st := s.wl.Storage
	if len(st.TxQueue) == 0 {
		s.logger.Error("decrypted tx finalized with an empty tx queue")
		return result(EventApplied, ExtraTxs, "Received more decrypted txs than expected")
	}
	queued := st.TxQueue[0]
	st.TxQueue = st.TxQueue[1:]

	inner := t.RawHeaderHash()
	if t.Header.ChainID != s.chainID {
		return result(EventApplied, InvalidDecryptedChainID,
			fmt.Sprintf("Decrypted tx carries a wrong chain id: expected %s, found %s", s.chainID, t.Header.ChainID))
	}
	if t.Header.Expired(blockTime) {
		return result(EventApplied, ExpiredDecryptedTx,
			fmt.Sprintf("Decrypted tx expired at %s", types.FromUnix(t.Header.Expiration)))
	}
	if t.Header.Decrypted.Undecryptable {
		return result(EventApplied, Undecryptable, "Transaction could not be decrypted")
	}

	meter := gas.NewTxGasMeter(queued.Gas)
	temp := storage.NewTempWlStorage(s.wl)
	if err := s.executor.Apply(t.Data, meter, temp); err != nil {
		s.logger.Info("transaction failed", "hash", inner.Short(), "gas_used", meter.Used(), "err", err)
		return result(EventApplied, WasmRuntimeError, fmt.Sprintf("%v: %v", ErrTxApply, err))
	}
	if err := s.gasMeter.Finalize(meter); err != nil {
		return result(EventApplied, WasmRuntimeError, fmt.Sprintf("%v: %v", ErrGasOverflow, err))
	}
	if err := temp.Promote(s.wl); err != nil {
		panic(fmt.Sprintf("must be able to promote tx writes: %v", err))
	}
	s.logger.Info("transaction applied", "hash", inner.Short(), "gas_used", meter.Used())
	return result(EventApplied, Ok, "Transaction is valid")
}
