// Package storage implements the block-scoped view over the persistent
// key-value engine: a committed Storage, the per-block WriteLog layered on top
// of it, and temporary overlays used while inspecting proposals.
package storage

import (
	"errors"
	"strings"
)

var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrNoCommittedState  = errors.New("no committed state")
	ErrPastHeightLimit   = errors.New("height is past the storage read limit")
	ErrFutureHeight      = errors.New("height is not yet committed")
	ErrCorruptedMetadata = errors.New("corrupted block metadata")
)

// DB is the persistent key-value engine underneath Storage.
type DB interface {
	// Get returns the value for key and whether it exists.
	Get(key string) ([]byte, bool, error)
	// Apply atomically applies every operation of the batch.
	Apply(batch *Batch) error
	Close() error
}

// BatchOp is a single write or delete in a Batch.
type BatchOp struct {
	Key    string
	Value  []byte
	Delete bool
}

// Batch is an ordered list of operations applied atomically by a DB.
type Batch struct {
	ops []BatchOp
}

func (b *Batch) Put(key string, value []byte) {
	b.ops = append(b.ops, BatchOp{Key: key, Value: value})
}

func (b *Batch) Delete(key string) {
	b.ops = append(b.ops, BatchOp{Key: key, Delete: true})
}

func (b *Batch) Ops() []BatchOp { return b.ops }

func (b *Batch) Len() int { return len(b.ops) }

// Key is a slash-separated storage key.
type Key string

// KeySeparator joins key segments.
const KeySeparator = "/"

// KeyOf joins segments into a key.
func KeyOf(segments ...string) Key {
	return Key(strings.Join(segments, KeySeparator))
}

// Push appends a segment.
func (k Key) Push(segment string) Key {
	if k == "" {
		return Key(segment)
	}
	return Key(string(k) + KeySeparator + segment)
}

func (k Key) String() string { return string(k) }

// Reader is the read surface shared by committed storage, the write-log view
// and temporary overlays. Every access reports its gas cost.
type Reader interface {
	Read(key Key) ([]byte, uint64, error)
	HasKey(key Key) (bool, uint64, error)
}

// Writer is the write surface of a write log.
type Writer interface {
	Write(key Key, value []byte) (uint64, error)
	Delete(key Key) (uint64, error)
}

// ReadWriter combines Reader and Writer.
type ReadWriter interface {
	Reader
	Writer
}

// MinStorageGas is the gas charged per byte of key and value touched.
const MinStorageGas uint64 = 1

func accessGas(key Key, value []byte) uint64 {
	return (uint64(len(key)) + uint64(len(value))) * MinStorageGas
}
