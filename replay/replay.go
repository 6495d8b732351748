// Package replay records the hashes of applied transactions so that neither
// a wrapper nor its inner transaction can be included twice.
package replay

import (
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/types"
)

var prefix = storage.KeyOf("replay_protection")

// marker is the value stored under a replay key. Only presence matters, but
// an empty value reads back as absent.
var marker = []byte{1}

// Key is the storage key recording hash.
func Key(hash types.Hash) storage.Key {
	return prefix.Push(hash.String())
}

// Has reports whether hash was recorded.
func Has(r storage.Reader, hash types.Hash) (bool, error) {
	ok, _, err := r.HasKey(Key(hash))
	return ok, err
}

// Write records hash.
func Write(w storage.Writer, hash types.Hash) error {
	_, err := w.Write(Key(hash), marker)
	return err
}
