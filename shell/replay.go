package shell

import (
	"fmt"

	"github.com/geanlabs/ledger/replay"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/tx"
)

// ReplayProtectionChecks checks that neither the inner tx nor the wrapper
// was already applied, then records both hashes in temp so that a second
// occurrence in the same block is caught too.
func (s *Shell) ReplayProtectionChecks(wrapper *tx.Tx, temp *storage.TempWlStorage) error {
	inner := wrapper.RawHeaderHash()
	seen, err := replay.Has(temp, inner)
	if err != nil {
		panic(fmt.Sprintf("error while checking inner tx hash key in storage: %v", err))
	}
	if seen {
		return fmt.Errorf("%w: Inner transaction hash %s already in storage", ErrReplayAttempt, inner)
	}
	if err := replay.Write(temp, inner); err != nil {
		panic(fmt.Sprintf("couldn't write inner transaction hash to write log: %v", err))
	}

	hash := wrapper.HeaderHash()
	seen, err = replay.Has(temp, hash)
	if err != nil {
		panic(fmt.Sprintf("error while checking wrapper tx hash key in storage: %v", err))
	}
	if seen {
		return fmt.Errorf("%w: Wrapper transaction hash %s already in storage", ErrReplayAttempt, hash)
	}
	if err := replay.Write(temp, hash); err != nil {
		panic(fmt.Sprintf("couldn't write wrapper tx hash to write log: %v", err))
	}
	return nil
}
