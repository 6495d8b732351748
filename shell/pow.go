//go:build !mainnet

package shell

import (
	"fmt"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/tx"
)

// hasValidPowSolution checks the faucet proof of work of w without
// consuming it.
func (s *Shell) hasValidPowSolution(r storage.Reader, w *tx.WrapperHeader) bool {
	if w.Pow == nil {
		return false
	}
	challenge, ok, err := tx.ReadPowChallenge(r, w.FeePayer())
	if err != nil {
		panic(fmt.Sprintf("must be able to read the faucet challenge: %v", err))
	}
	return ok && challenge.Verify(*w.Pow)
}

// invalidatePowSolutionIfValid consumes the proof of work of w if it is
// valid, so that it cannot pay for another wrapper.
func (s *Shell) invalidatePowSolutionIfValid(rw storage.ReadWriter, w *tx.WrapperHeader) bool {
	if !s.hasValidPowSolution(rw, w) {
		return false
	}
	if err := tx.ConsumePowSolution(rw, w.FeePayer()); err != nil {
		panic(fmt.Sprintf("must be able to invalidate pow solutions: %v", err))
	}
	return true
}
