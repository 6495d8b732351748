package shell

import (
	"errors"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
	"github.com/geanlabs/ledger/vext"
)

// PrepareProposal builds the txs of a block proposal: the decrypted txs of
// every queued wrapper, then valid protocol txs, then wrappers that fit.
// Invalid txs from the mempool are dropped.
func (s *Shell) PrepareProposal(req PrepareProposalRequest) PrepareProposalResponse {
	s.byzantineValidators = req.Misbehavior

	space := newBlockSpace(req.MaxTxBytes, s.gasMeter.Limit())
	var txs [][]byte

	s.iterTxQueue(func(wrapper *tx.Tx, _ uint64) bool {
		raw := tx.Decrypt(wrapper).Encode()
		if err := space.allocDecrypted(len(raw)); err != nil {
			s.logger.Error("decrypted txs do not fit in the proposal", "err", err)
		}
		txs = append(txs, raw)
		return true
	})

	txs = append(txs, s.buildProtocolTxs(req, space)...)

	blockTime := types.Unix(s.GetBlockTimestamp(&req.Time))
	temp := storage.NewTempWlStorage(s.wl.Storage)
	for _, raw := range req.Txs {
		t, err := tx.Decode(raw)
		if err != nil || t.Header.Kind != tx.KindWrapper {
			continue
		}
		wt := storage.NewTempWlStorage(temp)
		if code, err := s.checkProposedWrapper(t, blockTime, wt); err != nil {
			s.logger.Debug("dropping wrapper from proposal", "code", code, "err", err)
			continue
		}
		if err := space.allocWrapper(len(raw), t.Header.Wrapper.GasLimit); err != nil {
			if errors.Is(err, ErrNeverFits) {
				s.logger.Warn("dropping wrapper that can never fit in a block",
					"code", AllocationError, "hash", t.HeaderHash().Short(), "err", err)
			}
			continue
		}
		if err := wt.Promote(temp); err != nil {
			panic(err)
		}
		txs = append(txs, raw)
	}

	s.logger.Debug("prepared proposal", "height", req.Height, "txs", len(txs))
	return PrepareProposalResponse{Txs: txs}
}

// buildProtocolTxs selects the protocol txs of a proposal. In validator mode
// the events vote extensions are bundled into a single digest signed by this
// node.
func (s *Shell) buildProtocolTxs(req PrepareProposalRequest, space *blockSpace) [][]byte {
	ctx := s.vextContext()
	validator, isValidator := s.mode.(*ValidatorMode)

	var (
		out    [][]byte
		events []vext.SignedEthEvents
		voted  = make(map[types.Address]bool)
	)
	for _, raw := range req.Txs {
		t, err := tx.Decode(raw)
		if err != nil || t.Header.Kind != tx.KindProtocol {
			continue
		}
		if t.Header.ChainID != s.chainID || t.ValidateHeader() != nil {
			continue
		}
		if t.Header.Protocol.Type == tx.EthereumEvents {
			continue
		}
		p, err := decodeProtocolTx(t)
		if err != nil {
			continue
		}
		if _, err := s.validateProtocolVext(ctx, p); err != nil {
			s.logger.Debug("dropping invalid vote extension", "type", p.typ, "err", err)
			continue
		}
		if p.typ == tx.EthEventsVext && isValidator {
			ext := p.events[0]
			if !voted[ext.Data.Validator] {
				voted[ext.Data.Validator] = true
				events = append(events, ext)
			}
			continue
		}
		if err := space.allocProtocol(len(raw)); err != nil {
			continue
		}
		out = append(out, raw)
	}

	if len(events) == 0 {
		return out
	}
	digest, err := s.digestEthEvents(validator, events, types.Unix(req.Time))
	if err != nil {
		s.logger.Error("failed to build Ethereum events digest", "err", err)
		return out
	}
	if err := space.allocProtocol(len(digest)); err != nil {
		s.logger.Warn("Ethereum events digest does not fit in the proposal", "err", err)
		return out
	}
	return append([][]byte{digest}, out...)
}

// checkProposedWrapper runs the checks a wrapper must pass to be proposed.
// Replay hashes and the fee debit land in temp so that later wrappers of the
// same block see them.
func (s *Shell) checkProposedWrapper(t *tx.Tx, blockTime uint64, temp *storage.TempWlStorage) (ErrorCode, error) {
	if t.Header.ChainID != s.chainID {
		return InvalidChainID, ErrChainID
	}
	if t.Header.Expired(blockTime) {
		return ExpiredTx, ErrTxExpired
	}
	if err := t.ValidateHeader(); err != nil {
		return InvalidSig, err
	}
	if err := s.ReplayProtectionChecks(t, temp); err != nil {
		return ReplayTx, err
	}
	if err := s.chargeFee(temp, &t.Header.Wrapper, types.Address{}); err != nil {
		return InvalidTx, err
	}
	return Ok, nil
}
