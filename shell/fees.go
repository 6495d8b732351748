package shell

import (
	"fmt"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/token"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
)

// wrapperFee is the fee every wrapper pays unless it carries a valid faucet
// proof of work.
func wrapperFee(r storage.Reader) types.Amount {
	fee, err := tx.ReadWrapperFee(r)
	if err != nil {
		panic(fmt.Sprintf("must be able to read wrapper tx fees parameter: %v", err))
	}
	return fee
}

// checkFeeAmount rejects a wrapper that offers less than the wrapper fee.
// The amount charged is always the configured fee.
func (s *Shell) checkFeeAmount(r storage.Reader, w *tx.WrapperHeader) error {
	if s.hasValidPowSolution(r, w) {
		return nil
	}
	if fee := wrapperFee(r); w.FeeAmount < fee {
		return fmt.Errorf("%w: offered %d, required %d", ErrFeeTooLow, w.FeeAmount, fee)
	}
	return nil
}

// hasSufficientFee checks the fee payer's balance against the wrapper fee.
func (s *Shell) hasSufficientFee(r storage.Reader, w *tx.WrapperHeader) bool {
	if s.hasValidPowSolution(r, w) {
		return true
	}
	balance, err := token.Balance(r, w.FeeToken, w.FeePayer())
	if err != nil {
		panic(fmt.Sprintf("must be able to read fee payer balance: %v", err))
	}
	return balance >= wrapperFee(r)
}

// chargeFee consumes a valid proof of work or moves the wrapper fee from
// the payer to recipient. A zero recipient burns the fee.
func (s *Shell) chargeFee(rw storage.ReadWriter, w *tx.WrapperHeader, recipient types.Address) error {
	if s.invalidatePowSolutionIfValid(rw, w) {
		return nil
	}
	fee := wrapperFee(rw)
	if w.FeeAmount < fee {
		return fmt.Errorf("%w: offered %d, required %d", ErrFeeTooLow, w.FeeAmount, fee)
	}
	payer := w.FeePayer()
	if recipient.IsZero() {
		if err := token.Debit(rw, w.FeeToken, payer, fee); err != nil {
			return fmt.Errorf("%w: %v", ErrInsufficientFees, err)
		}
		return nil
	}
	if err := token.Transfer(rw, w.FeeToken, payer, recipient, fee); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientFees, err)
	}
	return nil
}
