package token

import (
	"errors"
	"testing"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/storage/memory"
	"github.com/geanlabs/ledger/types"
)

func TestTransfer(t *testing.T) {
	s, err := storage.Open(memory.New(), "test-chain", types.Address{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	wl := storage.NewWlStorage(s)
	nam, alice, bob := types.Address{0xaa}, types.Address{1}, types.Address{2}

	if err := Credit(wl, nam, alice, 150); err != nil {
		t.Fatal(err)
	}
	if err := Transfer(wl, nam, alice, bob, 100); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if err := Transfer(wl, nam, alice, bob, 100); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}

	a, _ := Balance(wl, nam, alice)
	b, _ := Balance(wl, nam, bob)
	if a != 50 || b != 100 {
		t.Errorf("balances = (%d, %d), want (50, 100)", a, b)
	}
}
