package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/golang/snappy"

	"github.com/geanlabs/ledger/common/merkle"
	"github.com/geanlabs/ledger/types"
)

const (
	metaLastKey  = "meta/last"
	metaBlockFmt = "meta/block/%020d"
	metaDiffFmt  = "meta/diff/%020d"
)

// TxInQueue is a wrapper tx accepted in a block whose inner payload is
// decrypted and applied in the next block.
type TxInQueue struct {
	Tx  []byte `json:"tx"`
	Gas uint64 `json:"gas"`
}

// BlockState is the metadata of the block in progress. It is mutated only by
// the block lifecycle and persisted on commit.
type BlockState struct {
	Height                  types.BlockHeight `json:"height"`
	Time                    uint64            `json:"time"`
	Epoch                   types.Epoch       `json:"epoch"`
	PredEpochs              types.Epochs      `json:"pred_epochs"`
	NextEpochMinStartHeight types.BlockHeight `json:"next_epoch_min_start_height"`
	NextEpochMinStartTime   uint64            `json:"next_epoch_min_start_time"`
	UpdateEpochBlocksDelay  uint64            `json:"update_epoch_blocks_delay"`
}

// blockMeta is what gets persisted per committed height.
type blockMeta struct {
	Block          BlockState  `json:"block"`
	Root           types.Hash  `json:"root"`
	EthereumHeight *uint64     `json:"ethereum_height,omitempty"`
	TxQueue        []TxInQueue `json:"tx_queue"`
}

type diffEntry struct {
	Key     string `json:"key"`
	Old     []byte `json:"old,omitempty"`
	Existed bool   `json:"existed"`
}

// Storage is the committed state of the chain plus the metadata of the block
// in progress.
type Storage struct {
	mu sync.RWMutex
	db DB

	chainID     types.ChainID
	nativeToken types.Address

	// last is the metadata of the last committed block, nil before the first
	// commit.
	last *blockMeta

	// Block is the block in progress.
	Block BlockState
	// EthereumHeight is the most recent Ethereum height fully processed by
	// the oracle, as recorded at the last commit.
	EthereumHeight *uint64
	// TxQueue holds the wrapper txs awaiting decryption.
	TxQueue []TxInQueue

	pastHeightLimit *uint64
}

// Open loads the last committed state from db.
func Open(db DB, chainID types.ChainID, nativeToken types.Address, pastHeightLimit *uint64) (*Storage, error) {
	s := &Storage{
		db:              db,
		chainID:         chainID,
		nativeToken:     nativeToken,
		pastHeightLimit: pastHeightLimit,
	}
	if err := s.loadLastState(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) loadLastState() error {
	raw, ok, err := s.db.Get(metaLastKey)
	if err != nil {
		return fmt.Errorf("read last height: %w", err)
	}
	if !ok {
		s.last = nil
		s.Block = BlockState{}
		s.EthereumHeight = nil
		s.TxQueue = nil
		return nil
	}
	if len(raw) != 8 {
		return fmt.Errorf("%w: last height has %d bytes", ErrCorruptedMetadata, len(raw))
	}
	height := types.BlockHeight(decodeUint64(raw))
	meta, err := s.loadMeta(height)
	if err != nil {
		return err
	}
	s.last = meta
	s.Block = meta.Block
	s.Block.PredEpochs = meta.Block.PredEpochs.Clone()
	s.EthereumHeight = meta.EthereumHeight
	s.TxQueue = append([]TxInQueue(nil), meta.TxQueue...)
	return nil
}

func (s *Storage) loadMeta(height types.BlockHeight) (*blockMeta, error) {
	raw, ok, err := s.db.Get(fmt.Sprintf(metaBlockFmt, height))
	if err != nil {
		return nil, fmt.Errorf("read block %d metadata: %w", height, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing block %d", ErrCorruptedMetadata, height)
	}
	var meta blockMeta
	if err := decodeBlob(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: block %d: %v", ErrCorruptedMetadata, height, err)
	}
	return &meta, nil
}

func (s *Storage) loadDiff(height types.BlockHeight) ([]diffEntry, error) {
	raw, ok, err := s.db.Get(fmt.Sprintf(metaDiffFmt, height))
	if err != nil {
		return nil, fmt.Errorf("read block %d diff: %w", height, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing diff for block %d", ErrCorruptedMetadata, height)
	}
	var diff []diffEntry
	if err := decodeBlob(raw, &diff); err != nil {
		return nil, fmt.Errorf("%w: diff %d: %v", ErrCorruptedMetadata, height, err)
	}
	return diff, nil
}

func (s *Storage) ChainID() types.ChainID { return s.chainID }

func (s *Storage) NativeToken() types.Address { return s.nativeToken }

// GetState returns the root and height of the last committed block.
func (s *Storage) GetState() (types.Hash, types.BlockHeight, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return types.Hash{}, 0, false
	}
	return s.last.Root, s.last.Block.Height, true
}

// LastHeight returns the height of the last committed block (0 if none).
func (s *Storage) LastHeight() types.BlockHeight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return 0
	}
	return s.last.Block.Height
}

// LastBlockTime returns the timestamp of the last committed block.
func (s *Storage) LastBlockTime() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return 0, false
	}
	return s.last.Block.Time, true
}

// LastEpoch returns the epoch of the last committed block.
func (s *Storage) LastEpoch() types.Epoch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return 0
	}
	return s.last.Block.Epoch
}

// LastPredEpochs returns a copy of the committed height→epoch index.
func (s *Storage) LastPredEpochs() types.Epochs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return types.Epochs{}
	}
	return s.last.Block.PredEpochs.Clone()
}

// MerkleRoot returns the app hash of the last committed block.
func (s *Storage) MerkleRoot() types.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return types.Hash{}
	}
	return s.last.Root
}

// Read reads a committed value.
func (s *Storage) Read(key Key) ([]byte, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok, err := s.db.Get(string(key))
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return nil, accessGas(key, nil), nil
	}
	return value, accessGas(key, value), nil
}

// HasKey reports whether key is present in committed state.
func (s *Storage) HasKey(key Key) (bool, uint64, error) {
	value, gas, err := s.Read(key)
	if err != nil {
		return false, 0, err
	}
	return value != nil, gas, nil
}

// ReadAtHeight reads the value key had at the end of height. Reads further
// in the past than the configured limit are refused.
func (s *Storage) ReadAtHeight(key Key, height types.BlockHeight) ([]byte, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil, 0, ErrNoCommittedState
	}
	last := s.last.Block.Height
	if height > last {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrFutureHeight, height, last)
	}
	if s.pastHeightLimit != nil && uint64(last-height) > *s.pastHeightLimit {
		return nil, 0, fmt.Errorf("%w: %d blocks back, limit %d", ErrPastHeightLimit, last-height, *s.pastHeightLimit)
	}
	// The value at the end of height is the pre-image recorded by the first
	// later block that touched the key.
	for h := height + 1; h <= last; h++ {
		diff, err := s.loadDiff(h)
		if err != nil {
			return nil, 0, err
		}
		for _, e := range diff {
			if e.Key != string(key) {
				continue
			}
			if !e.Existed {
				return nil, accessGas(key, nil), nil
			}
			return e.Old, accessGas(key, e.Old), nil
		}
	}
	value, ok, err := s.db.Get(string(key))
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return nil, accessGas(key, nil), nil
	}
	return value, accessGas(key, value), nil
}

// CommitBlock persists the write log together with the metadata of the block
// in progress and returns the new app hash.
func (s *Storage) CommitBlock(wl *WriteLog) (types.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prevRoot types.Hash
	if s.last != nil {
		prevRoot = s.last.Root
	}

	batch := &Batch{}
	keys := wl.SortedKeys()
	leaves := make([]types.Hash, 0, len(keys))
	diff := make([]diffEntry, 0, len(keys))
	for _, key := range keys {
		old, existed, err := s.db.Get(string(key))
		if err != nil {
			return types.Hash{}, fmt.Errorf("read pre-image of %s: %w", key, err)
		}
		diff = append(diff, diffEntry{Key: string(key), Old: old, Existed: existed})

		value, deleted, _ := wl.Read(key)
		if deleted {
			batch.Delete(string(key))
			leaves = append(leaves, merkle.Leaf(string(key), nil))
			continue
		}
		batch.Put(string(key), value)
		leaves = append(leaves, merkle.Leaf(string(key), value))
	}

	root := merkle.NextRoot(prevRoot, leaves)
	meta := &blockMeta{
		Block:          s.Block,
		Root:           root,
		EthereumHeight: s.EthereumHeight,
		TxQueue:        append([]TxInQueue(nil), s.TxQueue...),
	}
	meta.Block.PredEpochs = s.Block.PredEpochs.Clone()

	metaBlob, err := encodeBlob(meta)
	if err != nil {
		return types.Hash{}, fmt.Errorf("encode block metadata: %w", err)
	}
	diffBlob, err := encodeBlob(diff)
	if err != nil {
		return types.Hash{}, fmt.Errorf("encode block diff: %w", err)
	}
	batch.Put(fmt.Sprintf(metaBlockFmt, s.Block.Height), metaBlob)
	batch.Put(fmt.Sprintf(metaDiffFmt, s.Block.Height), diffBlob)
	batch.Put(metaLastKey, encodeUint64(uint64(s.Block.Height)))

	if err := s.db.Apply(batch); err != nil {
		return types.Hash{}, fmt.Errorf("apply block %d: %w", s.Block.Height, err)
	}
	s.last = meta
	return root, nil
}

// Rollback reverts the last committed block, restoring the state of the
// previous height.
func (s *Storage) Rollback() (types.BlockHeight, error) {
	s.mu.Lock()
	if s.last == nil {
		s.mu.Unlock()
		return 0, ErrNoCommittedState
	}
	height := s.last.Block.Height
	diff, err := s.loadDiff(height)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	batch := &Batch{}
	for _, e := range diff {
		if e.Existed {
			batch.Put(e.Key, e.Old)
		} else {
			batch.Delete(e.Key)
		}
	}
	batch.Delete(fmt.Sprintf(metaBlockFmt, height))
	batch.Delete(fmt.Sprintf(metaDiffFmt, height))
	if height <= 1 {
		batch.Delete(metaLastKey)
	} else {
		batch.Put(metaLastKey, encodeUint64(uint64(height-1)))
	}
	if err := s.db.Apply(batch); err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("apply rollback of block %d: %w", height, err)
	}
	err = s.loadLastState()
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.LastHeight(), nil
}

func encodeBlob(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeBlob(data []byte, v any) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("snappy decode: %w", err)
	}
	return json.Unmarshal(raw, v)
}
