package storage

import (
	"fmt"

	"github.com/geanlabs/ledger/types"
)

// WlStorage layers the write log of the block in progress over committed
// storage.
type WlStorage struct {
	Storage  *Storage
	WriteLog *WriteLog
}

// NewWlStorage wraps storage with an empty write log.
func NewWlStorage(s *Storage) *WlStorage {
	return &WlStorage{Storage: s, WriteLog: NewWriteLog()}
}

func (w *WlStorage) Read(key Key) ([]byte, uint64, error) {
	if value, deleted, ok := w.WriteLog.Read(key); ok {
		if deleted {
			return nil, accessGas(key, nil), nil
		}
		return value, accessGas(key, value), nil
	}
	return w.Storage.Read(key)
}

func (w *WlStorage) HasKey(key Key) (bool, uint64, error) {
	value, gas, err := w.Read(key)
	if err != nil {
		return false, 0, err
	}
	return value != nil, gas, nil
}

func (w *WlStorage) Write(key Key, value []byte) (uint64, error) {
	w.WriteLog.Write(key, value)
	return accessGas(key, value), nil
}

func (w *WlStorage) Delete(key Key) (uint64, error) {
	w.WriteLog.Delete(key)
	return accessGas(key, nil), nil
}

// CommitBlock persists the write log and clears it.
func (w *WlStorage) CommitBlock() (types.Hash, error) {
	root, err := w.Storage.CommitBlock(w.WriteLog)
	if err != nil {
		return types.Hash{}, err
	}
	w.WriteLog.Clear()
	return root, nil
}

// TempWlStorage is a throwaway overlay over a Reader. Its writes are
// discarded unless promoted.
type TempWlStorage struct {
	base     Reader
	WriteLog *WriteLog
}

// NewTempWlStorage creates an overlay over base.
func NewTempWlStorage(base Reader) *TempWlStorage {
	return &TempWlStorage{base: base, WriteLog: NewWriteLog()}
}

func (t *TempWlStorage) Read(key Key) ([]byte, uint64, error) {
	if value, deleted, ok := t.WriteLog.Read(key); ok {
		if deleted {
			return nil, accessGas(key, nil), nil
		}
		return value, accessGas(key, value), nil
	}
	return t.base.Read(key)
}

func (t *TempWlStorage) HasKey(key Key) (bool, uint64, error) {
	value, gas, err := t.Read(key)
	if err != nil {
		return false, 0, err
	}
	return value != nil, gas, nil
}

func (t *TempWlStorage) Write(key Key, value []byte) (uint64, error) {
	t.WriteLog.Write(key, value)
	return accessGas(key, value), nil
}

func (t *TempWlStorage) Delete(key Key) (uint64, error) {
	t.WriteLog.Delete(key)
	return accessGas(key, nil), nil
}

// Promote copies the overlay's writes into dst and empties the overlay.
func (t *TempWlStorage) Promote(dst Writer) error {
	for _, key := range t.WriteLog.SortedKeys() {
		value, deleted, _ := t.WriteLog.Read(key)
		var err error
		if deleted {
			_, err = dst.Delete(key)
		} else {
			_, err = dst.Write(key, value)
		}
		if err != nil {
			return fmt.Errorf("promote %s: %w", key, err)
		}
	}
	t.WriteLog.Clear()
	return nil
}
