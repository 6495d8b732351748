package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/geanlabs/ledger/config"
	"github.com/geanlabs/ledger/metrics"
	"github.com/geanlabs/ledger/node"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "ledger",
		Short:         "Ledger application node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "config.yaml", "Path to the node config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the node until interrupted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), flags)
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Delete the chain database",
			RunE: func(*cobra.Command, []string) error {
				cfg, logger, err := flags.load()
				if err != nil {
					return err
				}
				if err := node.Reset(cfg); err != nil {
					return err
				}
				logger.Info("database removed", "dir", cfg.DBDir())
				return nil
			},
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Revert the last committed block",
			RunE: func(*cobra.Command, []string) error {
				cfg, logger, err := flags.load()
				if err != nil {
					return err
				}
				_, err = node.Rollback(cfg, logger)
				return err
			},
		},
	)
	return root
}

func (f *rootFlags) load() (*config.Config, *slog.Logger, error) {
	logger := newLogger(f.logLevel)
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func run(ctx context.Context, flags *rootFlags) error {
	cfg, logger, err := flags.load()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
	}
	n, err := node.New(ctx, cfg, node.Options{Metrics: m, Logger: logger})
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	defer n.Close()

	logger.Info("ledger node running", "chain_id", cfg.ChainID, "mode", cfg.Mode, "config", flags.configPath)
	err = n.Run(ctx)
	logger.Info("shutting down...")
	return err
}
