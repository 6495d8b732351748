package shell

import (
	"bytes"
	"fmt"

	"github.com/geanlabs/ledger/gas"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
	"github.com/geanlabs/ledger/vext"
)

// ProcessProposal checks every tx of a proposed block against committed
// state. The block is accepted iff every tx gets a recoverable code and
// every queued wrapper got its decrypted tx.
func (s *Shell) ProcessProposal(req ProcessProposalRequest) ProcessProposalResponse {
	s.byzantineValidators = req.Misbehavior

	blockTime := types.Unix(s.GetBlockTimestamp(&req.Time))
	results, queueDone := s.processTxs(req.Txs, blockTime)
	accept := queueDone
	if !queueDone {
		s.logger.Info("rejecting proposal missing decrypted txs",
			"height", req.Height, "code", InvalidOrder)
	}
	for i, r := range results {
		if !r.Code.IsRecoverable() {
			s.logger.Info("rejecting proposal",
				"height", req.Height,
				"tx", i,
				"code", r.Code,
				"info", r.Info,
			)
			accept = false
			break
		}
	}

	s.proposalData[req.Height] = struct{}{}
	s.metrics.Proposal(accept)
	return ProcessProposalResponse{Accept: accept, TxResults: results}
}

// processTxs returns a result for each tx of a proposal and whether the
// proposal consumed the whole tx queue.
func (s *Shell) processTxs(txs [][]byte, blockTime uint64) ([]TxResult, bool) {
	ctx := s.vextContext()
	temp := storage.NewTempWlStorage(s.wl.Storage)
	blockGas := gas.NewBlockGasMeter(s.gasMeter.Limit())
	queue := s.wl.Storage.TxQueue
	next := 0
	decryptedDone := false

	results := make([]TxResult, len(txs))
	for i, raw := range txs {
		t, err := tx.Decode(raw)
		if err != nil {
			results[i] = TxResult{Code: InvalidTx, Info: fmt.Sprintf("%v: %v", ErrTxDecoding, err)}
			continue
		}
		if t.Header.Kind != tx.KindDecrypted {
			decryptedDone = true
		}

		switch t.Header.Kind {
		case tx.KindDecrypted:
			if decryptedDone {
				results[i] = TxResult{Code: InvalidOrder, Info: "Decrypted txs must come before any other tx in a block"}
				continue
			}
			if next >= len(queue) {
				results[i] = TxResult{Code: ExtraTxs, Info: "Received more decrypted txs than expected"}
				continue
			}
			wrapper, err := tx.Decode(queue[next].Tx)
			if err != nil {
				panic(fmt.Sprintf("queued wrapper tx must decode: %v", err))
			}
			next++
			results[i] = s.processDecrypted(t, wrapper, blockTime)

		case tx.KindWrapper:
			results[i] = s.processWrapper(t, blockTime, temp, blockGas)

		case tx.KindProtocol:
			results[i] = s.processProtocol(t, ctx)

		default:
			results[i] = TxResult{Code: InvalidTx, Info: "Transaction rejected: Non-encrypted transactions are not supported"}
		}
	}
	return results, next == len(queue)
}

// processDecrypted checks a decrypted tx against the wrapper at the front of
// the queue.
func (s *Shell) processDecrypted(t, wrapper *tx.Tx, blockTime uint64) TxResult {
	if t.Header.Decrypted.WrapperHash != wrapper.HeaderHash() {
		return TxResult{Code: InvalidOrder,
			Info: "Process proposal rejected a decrypted transaction that violated the tx order determined in the previous block"}
	}
	want := tx.Decrypt(wrapper)
	if t.HeaderHash() != want.HeaderHash() || !bytes.Equal(t.Data, want.Data) {
		return TxResult{Code: Undecryptable,
			Info: "The decrypted payload does not match the one committed to by its wrapper"}
	}
	if t.Header.ChainID != s.chainID {
		return TxResult{Code: InvalidDecryptedChainID,
			Info: fmt.Sprintf("Decrypted tx carries a wrong chain id: expected %s, found %s", s.chainID, t.Header.ChainID)}
	}
	if t.Header.Expired(blockTime) {
		return TxResult{Code: ExpiredDecryptedTx,
			Info: fmt.Sprintf("Decrypted tx expired at %s, block time: %s",
				types.FromUnix(t.Header.Expiration), types.FromUnix(blockTime))}
	}
	return TxResult{Code: Ok, Info: "Process Proposal accepted this transaction"}
}

// processWrapper re-runs the admission checks of a wrapper on temp, which
// accumulates the replay hashes and fees of the wrappers already checked.
func (s *Shell) processWrapper(t *tx.Tx, blockTime uint64, temp *storage.TempWlStorage,
	blockGas *gas.BlockGasMeter) TxResult {
	if t.Header.ChainID != s.chainID {
		return TxResult{Code: InvalidChainID,
			Info: fmt.Sprintf("Tx carries a wrong chain id: expected %s, found %s", s.chainID, t.Header.ChainID)}
	}
	if t.Header.Expired(blockTime) {
		return TxResult{Code: ExpiredTx,
			Info: fmt.Sprintf("Tx expired at %s, block time: %s",
				types.FromUnix(t.Header.Expiration), types.FromUnix(blockTime))}
	}
	if err := t.ValidateHeader(); err != nil {
		return TxResult{Code: InvalidSig, Info: err.Error()}
	}
	gasLimit := t.Header.Wrapper.GasLimit
	if !blockGas.Fits(gasLimit) {
		return TxResult{Code: AllocationError,
			Info: fmt.Sprintf("Wrapper gas limit %d exceeds the gas left in the block", gasLimit)}
	}

	wt := storage.NewTempWlStorage(temp)
	if err := s.ReplayProtectionChecks(t, wt); err != nil {
		return TxResult{Code: ReplayTx, Info: err.Error()}
	}
	if err := s.chargeFee(wt, &t.Header.Wrapper, types.Address{}); err != nil {
		return TxResult{Code: InvalidTx, Info: err.Error()}
	}
	if err := wt.Promote(temp); err != nil {
		panic(fmt.Sprintf("promote wrapper checks: %v", err))
	}
	m := gas.NewTxGasMeter(gasLimit)
	_ = m.Consume(gasLimit)
	if err := blockGas.Finalize(m); err != nil {
		return TxResult{Code: AllocationError, Info: err.Error()}
	}
	return TxResult{Code: Ok, Info: "Process Proposal accepted this transaction"}
}

func (s *Shell) processProtocol(t *tx.Tx, ctx *vext.Context) TxResult {
	if t.Header.ChainID != s.chainID {
		return TxResult{Code: InvalidChainID,
			Info: fmt.Sprintf("Tx carries a wrong chain id: expected %s, found %s", s.chainID, t.Header.ChainID)}
	}
	if err := t.ValidateHeader(); err != nil {
		return TxResult{Code: InvalidSig, Info: err.Error()}
	}
	p, err := decodeProtocolTx(t)
	if err != nil {
		return TxResult{Code: InvalidVoteExtension, Info: err.Error()}
	}
	if _, err := s.validateProtocolVext(ctx, p); err != nil {
		return TxResult{Code: InvalidVoteExtension,
			Info: fmt.Sprintf("Process proposal rejected this proposal because one of the included %s vote extensions was invalid: %v", p.typ, err)}
	}
	return TxResult{Code: Ok, Info: "Process Proposal accepted this transaction"}
}
