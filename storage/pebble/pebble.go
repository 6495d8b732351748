// Package pebble backs storage.DB with a cockroachdb/pebble database.
package pebble

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/geanlabs/ledger/storage"
)

// DB is a storage.DB persisted with pebble.
type DB struct {
	db *pebble.DB
}

// Open opens (or creates) the database at dir.
func Open(dir string) (*DB, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Get(key string) ([]byte, bool, error) {
	value, closer, err := d.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, true, nil
}

func (d *DB) Apply(batch *storage.Batch) error {
	b := d.db.NewBatch()
	defer b.Close()
	for _, op := range batch.Ops() {
		var err error
		if op.Delete {
			err = b.Delete([]byte(op.Key), nil)
		} else {
			err = b.Set([]byte(op.Key), op.Value, nil)
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", op.Key, err)
		}
	}
	return b.Commit(pebble.Sync)
}

func (d *DB) Close() error {
	return d.db.Close()
}
