package shell

import (
	"errors"
	"fmt"
)

// ErrorCode is the result code reported to the consensus engine and to
// clients submitting transactions.
type ErrorCode uint32

const (
	Ok ErrorCode = iota
	InvalidDecryptedChainID
	ExpiredDecryptedTx
	WasmRuntimeError
	InvalidTx
	InvalidSig
	InvalidOrder
	ExtraTxs
	Undecryptable
	AllocationError
	ReplayTx
	InvalidChainID
	ExpiredTx
	InvalidVoteExtension
)

// IsRecoverable reports whether a tx with this code may still be included
// in a block and handled at finalization. Every other code rejects the
// proposal carrying the tx.
func (c ErrorCode) IsRecoverable() bool {
	switch c {
	case Ok, InvalidDecryptedChainID, ExpiredDecryptedTx, WasmRuntimeError:
		return true
	default:
		return false
	}
}

func (c ErrorCode) String() string {
	switch c {
	case Ok:
		return "Ok"
	case InvalidDecryptedChainID:
		return "InvalidDecryptedChainId"
	case ExpiredDecryptedTx:
		return "ExpiredDecryptedTx"
	case WasmRuntimeError:
		return "WasmRuntimeError"
	case InvalidTx:
		return "InvalidTx"
	case InvalidSig:
		return "InvalidSig"
	case InvalidOrder:
		return "InvalidOrder"
	case ExtraTxs:
		return "ExtraTxs"
	case Undecryptable:
		return "Undecryptable"
	case AllocationError:
		return "AllocationError"
	case ReplayTx:
		return "ReplayTx"
	case InvalidChainID:
		return "InvalidChainId"
	case ExpiredTx:
		return "ExpiredTx"
	case InvalidVoteExtension:
		return "InvalidVoteExtension"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint32(c))
	}
}

var (
	ErrRemoveDB         = errors.New("error removing the DB data")
	ErrChainID          = errors.New("chain ID mismatch")
	ErrTxDecoding       = errors.New("error decoding a transaction from bytes")
	ErrTxApply          = errors.New("error trying to apply a transaction")
	ErrGasOverflow      = errors.New("gas limit exceeded while applying transactions in block")
	ErrBadProposal      = errors.New("error executing proposal")
	ErrStorage          = errors.New("error reading from or writing to storage")
	ErrReplayAttempt    = errors.New("transaction replay attempt")
	ErrMissingGenesis   = errors.New("no genesis configured")
	ErrBridgeInactive   = errors.New("the Ethereum bridge is not active")
	ErrSignerMismatch   = errors.New("protocol tx is not signed by the vote extension's validator")
	ErrDuplicateVext    = errors.New("vote extensions digest carries two extensions of one validator")
	ErrEmptyDigest      = errors.New("vote extensions digest is empty")
	ErrNotMempoolTx     = errors.New("the given protocol tx cannot be added to the mempool")
	ErrBlockSpace       = errors.New("not enough block space left")
	ErrNeverFits        = errors.New("tx can never fit in a block")
	ErrFeeTooLow        = errors.New("wrapper offers less than the wrapper fee")
	ErrInsufficientFees = errors.New("the given address does not have a sufficient balance to pay fee")
	ErrTxExpired        = errors.New("tx expired")
)
