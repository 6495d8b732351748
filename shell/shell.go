// Package shell is the application side of the consensus engine: it decides
// what enters the mempool and a block, applies finalized blocks and commits
// them to storage.
//
// Lifecycle calls (InitChain, PrepareProposal, ProcessProposal,
// FinalizeBlock, Commit) must be serialized by the caller. CheckTx only reads
// committed state and may run concurrently with them.
package shell

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/geanlabs/ledger/gas"
	"github.com/geanlabs/ledger/internal/genesis"
	"github.com/geanlabs/ledger/metrics"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
	"github.com/geanlabs/ledger/vm"
)

// Config holds everything needed to build a Shell.
type Config struct {
	ChainID     types.ChainID
	DB          storage.DB
	NativeToken types.Address
	// Genesis is written to storage by InitChain.
	Genesis *genesis.Genesis
	Mode    Mode
	// Executor runs decrypted tx payloads. Defaults to the built-in
	// executor over a cache of TxCacheSize entries.
	Executor      vm.Executor
	TxCacheSize   int
	EventLogSize  int
	BlockGasLimit uint64
	// StorageReadPastHeightLimit bounds historical reads, nil for no limit.
	StorageReadPastHeightLimit *uint64
	Metrics                    *metrics.Metrics
	Logger                     *slog.Logger
}

// Shell owns the consensus session state.
type Shell struct {
	chainID  types.ChainID
	db       storage.DB
	wl       *storage.WlStorage
	genesis  *genesis.Genesis
	gasMeter *gas.BlockGasMeter
	// byzantineValidators is the evidence reported for the block in
	// progress, drained by FinalizeBlock.
	byzantineValidators []Misbehavior
	mode                Mode
	executor            vm.Executor
	txCache             *vm.Cache
	eventLog            *EventLog
	// proposalData holds the heights of the proposals processed and not yet
	// finalized.
	proposalData               map[types.BlockHeight]struct{}
	storageReadPastHeightLimit *uint64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New opens storage and restores the last committed state.
func New(cfg Config) (*Shell, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DB == nil {
		return nil, fmt.Errorf("%w: no database", ErrStorage)
	}
	st, err := storage.Open(cfg.DB, cfg.ChainID, cfg.NativeToken, cfg.StorageReadPastHeightLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	mode := cfg.Mode
	if mode == nil {
		mode = FullMode{}
	}
	cacheSize := cfg.TxCacheSize
	if cacheSize <= 0 {
		cacheSize = vm.DefaultCacheSize
	}
	txCache, err := vm.NewCache(cacheSize)
	if err != nil {
		return nil, err
	}
	executor := cfg.Executor
	if executor == nil {
		executor = vm.NewBuiltinExecutor(txCache)
	}
	eventLog, err := NewEventLog(cfg.EventLogSize)
	if err != nil {
		return nil, err
	}
	gasLimit := cfg.BlockGasLimit
	if gasLimit == 0 {
		gasLimit = gas.DefaultBlockLimit
	}

	s := &Shell{
		chainID:                    cfg.ChainID,
		db:                         cfg.DB,
		wl:                         storage.NewWlStorage(st),
		genesis:                    cfg.Genesis,
		gasMeter:                   gas.NewBlockGasMeter(gasLimit),
		mode:                       mode,
		executor:                   executor,
		txCache:                    txCache,
		eventLog:                   eventLog,
		proposalData:               make(map[types.BlockHeight]struct{}),
		storageReadPastHeightLimit: cfg.StorageReadPastHeightLimit,
		metrics:                    cfg.Metrics,
		logger:                     logger,
	}
	s.logger.Info("shell started",
		"chain_id", s.chainID,
		"mode", s.mode.String(),
		"last_height", st.LastHeight(),
		"tx_queue", len(st.TxQueue),
	)
	s.updateEthOracle()
	return s, nil
}

// Close releases the database.
func (s *Shell) Close() error {
	return s.db.Close()
}

func (s *Shell) ChainID() types.ChainID { return s.chainID }

func (s *Shell) Mode() Mode { return s.mode }

// EventLog returns the log of finalized tx outcomes.
func (s *Shell) EventLog() *EventLog { return s.eventLog }

// LastState returns the app hash and height of the last committed block.
func (s *Shell) LastState() InfoResponse {
	var resp InfoResponse
	root, height, ok := s.wl.Storage.GetState()
	if !ok {
		s.logger.Info("no state could be found, chain is not initialized")
		return resp
	}
	s.logger.Info("last state", "root", root.Short(), "height", height)
	resp.LastBlockAppHash = root[:]
	resp.LastBlockHeight = int64(height)
	return resp
}

// GetBlockTimestamp returns t if given, the time of the last committed block
// otherwise.
func (s *Shell) GetBlockTimestamp(t *time.Time) time.Time {
	if t != nil && !t.IsZero() {
		return t.UTC().Truncate(time.Second)
	}
	secs, _ := s.wl.Storage.LastBlockTime()
	return types.FromUnix(secs)
}

// ReadStorageKey decodes the committed value of key into v. Errors are
// dropped: it reports false for a missing or undecodable value.
func (s *Shell) ReadStorageKey(key storage.Key, v storage.Unmarshaler) bool {
	ok, err := storage.ReadValue(s.wl.Storage, key, v)
	return err == nil && ok
}

// ReadStorageKeyBytes returns the committed value of key, nil if missing or
// unreadable.
func (s *Shell) ReadStorageKeyBytes(key storage.Key) []byte {
	value, _, err := s.wl.Storage.Read(key)
	if err != nil {
		return nil
	}
	return value
}

// ReadStorageKeyAt reads key as of a past committed height, subject to the
// configured read limit.
func (s *Shell) ReadStorageKeyAt(key storage.Key, height types.BlockHeight) ([]byte, error) {
	value, _, err := s.wl.Storage.ReadAtHeight(key, height)
	return value, err
}

// iterTxQueue calls fn with every wrapper awaiting decryption, in order,
// until fn returns false.
func (s *Shell) iterTxQueue(fn func(wrapper *tx.Tx, gas uint64) bool) {
	for _, q := range s.wl.Storage.TxQueue {
		wrapper, err := tx.Decode(q.Tx)
		if err != nil {
			panic(fmt.Sprintf("queued wrapper tx must decode: %v", err))
		}
		if !fn(wrapper, q.Gas) {
			return
		}
	}
}

// Reset removes the database directory.
func Reset(dbDir string) error {
	if err := os.RemoveAll(dbDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrRemoveDB, err)
	}
	return nil
}

// Rollback reverts the last committed block of db.
func Rollback(db storage.DB, chainID types.ChainID, logger *slog.Logger) (types.BlockHeight, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st, err := storage.Open(db, chainID, types.Address{}, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	from := st.LastHeight()
	height, err := st.Rollback()
	if err != nil {
		return 0, fmt.Errorf("rollback: %w", err)
	}
	logger.Info("rolled back", "from", from, "to", height, "root", st.MerkleRoot().Short())
	return height, nil
}
