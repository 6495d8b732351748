// Package node runs a ledger shell behind a single dispatcher goroutine,
// together with the services a validator needs: the Ethereum oracle, the
// protocol tx broadcaster and the metrics server.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/geanlabs/ledger/config"
	"github.com/geanlabs/ledger/internal/genesis"
	"github.com/geanlabs/ledger/metrics"
	"github.com/geanlabs/ledger/shell"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/storage/memory"
	"github.com/geanlabs/ledger/storage/pebble"
	"github.com/geanlabs/ledger/types"
	"github.com/geanlabs/ledger/vm"
)

var ErrGenesisMismatch = errors.New("genesis does not match the configured chain")

// Options overrides the services New would otherwise build from the config.
type Options struct {
	DB       storage.DB
	Genesis  *genesis.Genesis
	Executor vm.Executor
	// Validator replaces the keys, oracle client and broadcast sink loaded
	// for validator mode.
	Validator *ValidatorOptions
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type request struct {
	fn   func(*shell.Shell)
	done chan struct{}
}

// Node serializes every call into the shell.
type Node struct {
	cfg       *config.Config
	shell     *shell.Shell
	validator *validatorServices
	requests  chan request
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New opens the database and builds the shell for the configured mode.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Node, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := opts.Genesis
	if g == nil {
		var err error
		if g, err = genesis.LoadFromFile(cfg.GenesisPath()); err != nil {
			return nil, err
		}
	}
	if string(g.ChainID) != cfg.ChainID {
		return nil, fmt.Errorf("%w: genesis chain id %s, config %s", ErrGenesisMismatch, g.ChainID, cfg.ChainID)
	}

	db := opts.DB
	if db == nil {
		var err error
		if db, err = OpenDB(cfg); err != nil {
			return nil, err
		}
	}

	n := &Node{
		cfg:      cfg,
		requests: make(chan request),
		metrics:  opts.Metrics,
		logger:   logger,
	}

	var mode shell.Mode
	switch cfg.Mode {
	case config.ModeValidator:
		v, err := newValidatorServices(ctx, cfg, opts.Validator, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		n.validator = v
		mode = v.mode
	case config.ModeSeed:
		mode = shell.SeedMode{}
	default:
		mode = shell.FullMode{}
	}

	s, err := shell.New(shell.Config{
		ChainID:                    types.ChainID(cfg.ChainID),
		DB:                         db,
		NativeToken:                g.NativeToken,
		Genesis:                    g,
		Mode:                       mode,
		Executor:                   opts.Executor,
		TxCacheSize:                cfg.TxCacheSize,
		EventLogSize:               cfg.EventLogSize,
		BlockGasLimit:              cfg.BlockGasLimit,
		StorageReadPastHeightLimit: cfg.StorageReadPastHeightLimit,
		Metrics:                    opts.Metrics,
		Logger:                     logger,
	})
	if err != nil {
		n.closeValidator()
		db.Close()
		return nil, fmt.Errorf("create shell: %w", err)
	}
	n.shell = s
	return n, nil
}

// OpenDB opens the database backend named in cfg.
func OpenDB(cfg *config.Config) (storage.DB, error) {
	switch cfg.DBBackend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendPebble:
		db, err := pebble.Open(cfg.DBDir())
		if err != nil {
			return nil, fmt.Errorf("open db %s: %w", cfg.DBDir(), err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("%w: unknown db backend %q", config.ErrInvalidConfig, cfg.DBBackend)
	}
}

// Run serves shell calls and runs the node's services until ctx is
// cancelled or one of them fails.
func (n *Node) Run(ctx context.Context) error {
	last := n.shell.LastState()
	n.logger.Info("node starting",
		"chain_id", n.cfg.ChainID,
		"mode", n.shell.Mode().String(),
		"height", last.LastBlockHeight,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.dispatch(ctx) })
	if n.validator != nil {
		n.validator.start(ctx, g)
	}
	if n.cfg.MetricsAddr != "" && n.metrics != nil {
		g.Go(func() error { return n.metrics.Serve(ctx, n.cfg.MetricsAddr, n.logger) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	n.logger.Info("node stopped")
	return err
}

// Close releases the validator services and the database. Run must have
// returned.
func (n *Node) Close() error {
	n.closeValidator()
	return n.shell.Close()
}

func (n *Node) closeValidator() {
	if n.validator != nil {
		n.validator.close()
	}
}

func (n *Node) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-n.requests:
			req.fn(n.shell)
			close(req.done)
		}
	}
}

// call runs fn on the dispatcher. Once handed over, fn runs to completion
// even if ctx is cancelled.
func (n *Node) call(ctx context.Context, fn func(*shell.Shell)) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case n.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}

func (n *Node) Info(ctx context.Context) (shell.InfoResponse, error) {
	var resp shell.InfoResponse
	err := n.call(ctx, func(s *shell.Shell) { resp = s.LastState() })
	return resp, err
}

func (n *Node) InitChain(ctx context.Context, req shell.InitChainRequest) (shell.InitChainResponse, error) {
	var (
		resp   shell.InitChainResponse
		genErr error
	)
	if err := n.call(ctx, func(s *shell.Shell) { resp, genErr = s.InitChain(req) }); err != nil {
		return resp, err
	}
	return resp, genErr
}

func (n *Node) CheckTx(ctx context.Context, req shell.CheckTxRequest) (shell.CheckTxResponse, error) {
	var resp shell.CheckTxResponse
	err := n.call(ctx, func(s *shell.Shell) { resp = s.CheckTx(req) })
	return resp, err
}

func (n *Node) PrepareProposal(ctx context.Context, req shell.PrepareProposalRequest) (shell.PrepareProposalResponse, error) {
	var resp shell.PrepareProposalResponse
	err := n.call(ctx, func(s *shell.Shell) { resp = s.PrepareProposal(req) })
	return resp, err
}

func (n *Node) ProcessProposal(ctx context.Context, req shell.ProcessProposalRequest) (shell.ProcessProposalResponse, error) {
	var resp shell.ProcessProposalResponse
	err := n.call(ctx, func(s *shell.Shell) { resp = s.ProcessProposal(req) })
	return resp, err
}

func (n *Node) FinalizeBlock(ctx context.Context, req shell.FinalizeBlockRequest) (shell.FinalizeBlockResponse, error) {
	var (
		resp     shell.FinalizeBlockResponse
		blockErr error
	)
	if err := n.call(ctx, func(s *shell.Shell) { resp, blockErr = s.FinalizeBlock(req) }); err != nil {
		return resp, err
	}
	return resp, blockErr
}

func (n *Node) Commit(ctx context.Context) (shell.CommitResponse, error) {
	var resp shell.CommitResponse
	err := n.call(ctx, func(s *shell.Shell) { resp = s.Commit() })
	return resp, err
}

// Events returns the events of finalized blocks matching typ and the
// attribute key/value.
func (n *Node) Events(ctx context.Context, typ, key, value string) ([]shell.Event, error) {
	var events []shell.Event
	err := n.call(ctx, func(s *shell.Shell) { events = s.EventLog().Find(typ, key, value) })
	return events, err
}

// Reset removes the database of the configured chain.
func Reset(cfg *config.Config) error {
	return shell.Reset(cfg.DBDir())
}

// Rollback reverts the last committed block of the configured chain.
func Rollback(cfg *config.Config, logger *slog.Logger) (types.BlockHeight, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return shell.Rollback(db, types.ChainID(cfg.ChainID), logger)
}
