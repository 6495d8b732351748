// Package memory provides an in-memory storage.DB, used by tests and by
// nodes configured without a data directory.
package memory

import (
	"sync"

	"github.com/geanlabs/ledger/storage"
)

// DB is an in-memory implementation of storage.DB.
type DB struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// New creates a new in-memory DB.
func New() *DB {
	return &DB{values: make(map[string][]byte)}
}

func (m *DB) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *DB) Apply(batch *storage.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range batch.Ops() {
		if op.Delete {
			delete(m.values, op.Key)
			continue
		}
		cp := make([]byte, len(op.Value))
		copy(cp, op.Value)
		m.values[op.Key] = cp
	}
	return nil
}

func (m *DB) Close() error { return nil }

// Len returns the number of stored keys.
func (m *DB) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
