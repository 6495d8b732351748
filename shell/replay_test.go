package shell

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geanlabs/ledger/replay"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
)

func TestReplayProtectionChecks(t *testing.T) {
	s, f := newTestShell(t)
	w := f.wrapper(f.transfer(t, types.Address{0x77}, 10))

	temp := storage.NewTempWlStorage(s.wl.Storage)
	require.NoError(t, s.ReplayProtectionChecks(w, temp))

	// Both hashes are now in the overlay, so the same wrapper is caught.
	err := s.ReplayProtectionChecks(w, temp)
	require.ErrorIs(t, err, ErrReplayAttempt)
	require.Contains(t, err.Error(), "Inner transaction hash "+w.RawHeaderHash().String())

	// Nothing reached committed storage.
	seen, err := replay.Has(s.wl.Storage, w.RawHeaderHash())
	require.NoError(t, err)
	require.False(t, seen)
}

func TestReplayProtectionChecksWrapperHash(t *testing.T) {
	s, f := newTestShell(t)
	w := f.wrapper(f.transfer(t, types.Address{0x77}, 10))

	temp := storage.NewTempWlStorage(s.wl.Storage)
	require.NoError(t, replay.Write(temp, w.HeaderHash()))

	err := s.ReplayProtectionChecks(w, temp)
	require.ErrorIs(t, err, ErrReplayAttempt)
	require.Contains(t, err.Error(), "Wrapper transaction hash "+w.HeaderHash().String())
}

func TestReplayProtectionChecksCommittedInner(t *testing.T) {
	s, f := newTestShell(t)
	w := f.wrapper(f.transfer(t, types.Address{0x77}, 10))
	commitBlock(t, s, 2, w.Encode())
	commitBlock(t, s, 3, tx.Decrypt(w).Encode())

	other := f.wrapper(w.Data, func(x *tx.Tx) { x.Header.Wrapper.GasLimit = 1 })
	err := s.ReplayProtectionChecks(other, storage.NewTempWlStorage(s.wl.Storage))
	require.ErrorIs(t, err, ErrReplayAttempt)
	require.Contains(t, err.Error(), "Inner transaction hash")
}
