//go:build mainnet

package shell

import (
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/tx"
)

func (s *Shell) hasValidPowSolution(storage.Reader, *tx.WrapperHeader) bool { return false }

func (s *Shell) invalidatePowSolutionIfValid(storage.ReadWriter, *tx.WrapperHeader) bool {
	return false
}
