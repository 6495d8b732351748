// Package token stores account balances per token.
package token

import (
	"errors"
	"fmt"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/types"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// BalanceKey is the storage key of owner's balance of token.
func BalanceKey(token, owner types.Address) storage.Key {
	return storage.KeyOf("token", token.String(), "balance", owner.String())
}

// Balance reads owner's balance of token, zero when absent.
func Balance(r storage.Reader, token, owner types.Address) (types.Amount, error) {
	v, _, err := storage.ReadUint64(r, BalanceKey(token, owner))
	return types.Amount(v), err
}

// Credit adds amount to owner's balance.
func Credit(rw storage.ReadWriter, token, owner types.Address, amount types.Amount) error {
	bal, err := Balance(rw, token, owner)
	if err != nil {
		return err
	}
	if bal+amount < bal {
		return fmt.Errorf("balance of %s overflows", owner)
	}
	return storage.WriteUint64(rw, BalanceKey(token, owner), uint64(bal+amount))
}

// Debit subtracts amount from owner's balance.
func Debit(rw storage.ReadWriter, token, owner types.Address, amount types.Amount) error {
	bal, err := Balance(rw, token, owner)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, owner, bal, amount)
	}
	return storage.WriteUint64(rw, BalanceKey(token, owner), uint64(bal-amount))
}

// Transfer moves amount from src to dst.
func Transfer(rw storage.ReadWriter, token, src, dst types.Address, amount types.Amount) error {
	if err := Debit(rw, token, src, amount); err != nil {
		return err
	}
	return Credit(rw, token, dst, amount)
}
