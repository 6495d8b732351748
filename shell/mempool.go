package shell

import (
	"errors"
	"fmt"

	"github.com/geanlabs/ledger/replay"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
)

const (
	validMsg   = "Mempool validation passed"
	invalidMsg = "Mempool validation failed"
)

// CheckTx admits a tx into the mempool.
func (s *Shell) CheckTx(req CheckTxRequest) CheckTxResponse {
	resp := s.MempoolValidate(req.Tx, req.Type)
	s.metrics.CheckTx(uint32(resp.Code))
	return resp
}

// MempoolValidate validates a tx against committed state. On success the tx
// is kept in the mempool and gossiped, otherwise it is rejected. The same
// checks run for new txs and rechecks.
func (s *Shell) MempoolValidate(txBytes []byte, _ MempoolTxType) CheckTxResponse {
	var resp CheckTxResponse
	reject := func(code ErrorCode, format string, args ...any) CheckTxResponse {
		resp.Code = code
		resp.Log = invalidMsg + ": " + fmt.Sprintf(format, args...)
		return resp
	}

	t, err := tx.Decode(txBytes)
	if err != nil {
		return reject(InvalidTx, "%v: %v", ErrTxDecoding, err)
	}

	if t.Header.ChainID != s.chainID {
		return reject(InvalidChainID, "Tx carries a wrong chain id: expected %s, found %s",
			s.chainID, t.Header.ChainID)
	}

	if t.Header.Expiration != 0 {
		last := s.GetBlockTimestamp(nil)
		if t.Header.Expired(types.Unix(last)) {
			return reject(ExpiredTx, "Tx expired at %s, last committed block time: %s",
				types.FromUnix(t.Header.Expiration), last)
		}
	}

	if err := t.ValidateHeader(); err != nil {
		return reject(InvalidSig, "%v", err)
	}

	switch t.Header.Kind {
	case tx.KindProtocol:
		priority, err := s.mempoolValidateVext(t)
		switch {
		case errors.Is(err, ErrNotMempoolTx):
			return reject(InvalidTx, "The given protocol tx cannot be added to the mempool")
		case err != nil:
			return reject(InvalidVoteExtension, "Invalid %s vote extension: %v", t.Header.Protocol.Type, err)
		}
		resp.Priority = priority

	case tx.KindWrapper:
		st := s.wl.Storage
		inner := t.RawHeaderHash()
		if seen, err := replay.Has(st, inner); err != nil {
			panic(fmt.Sprintf("error while checking inner tx hash key in storage: %v", err))
		} else if seen {
			return reject(ReplayTx, "Inner transaction hash %s already in storage, replay attempt", inner)
		}
		hash := t.HeaderHash()
		if seen, err := replay.Has(st, hash); err != nil {
			panic(fmt.Sprintf("error while checking wrapper tx hash key in storage: %v", err))
		} else if seen {
			return reject(ReplayTx, "Wrapper transaction hash %s already in storage, replay attempt", hash)
		}
		if err := s.checkFeeAmount(st, &t.Header.Wrapper); err != nil {
			return reject(InvalidTx, "%v", err)
		}
		if !s.hasSufficientFee(st, &t.Header.Wrapper) {
			return reject(InvalidTx, "The given address does not have a sufficient balance to pay fee")
		}

	case tx.KindRaw:
		return reject(InvalidTx, "Raw transactions cannot be accepted into the mempool")

	case tx.KindDecrypted:
		return reject(InvalidTx, "Decrypted txs cannot be sent by clients")
	}

	resp.Code = Ok
	resp.Log = validMsg
	return resp
}
