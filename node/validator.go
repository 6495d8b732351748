package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/geanlabs/ledger/broadcast"
	"github.com/geanlabs/ledger/config"
	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/oracle"
	"github.com/geanlabs/ledger/shell"
)

var ErrNoBroadcastSink = errors.New("validator mode needs a broadcaster rpc_url or listen_addrs")

// ValidatorOptions replaces what validator mode loads from the config.
type ValidatorOptions struct {
	Keys *config.ValidatorKeys
	// EthClient feeds the oracle. Without one and without an Ethereum
	// rpc_url the node runs no oracle.
	EthClient oracle.Client
	Sink      broadcast.Sink
}

// validatorServices are the tasks a validator node runs next to the shell.
type validatorServices struct {
	mode        *shell.ValidatorMode
	broadcaster *broadcast.Broadcaster
	oracle      *oracle.Oracle
	control     *oracle.ControlReceiver
	closers     []func()
	logger      *slog.Logger
}

func newValidatorServices(ctx context.Context, cfg *config.Config, opts *ValidatorOptions,
	logger *slog.Logger) (*validatorServices, error) {
	if opts == nil {
		opts = &ValidatorOptions{}
	}
	keys := opts.Keys
	if keys == nil {
		var err error
		if keys, err = config.LoadValidatorKeys(cfg.KeyPath()); err != nil {
			return nil, err
		}
	}
	v := &validatorServices{logger: logger}

	sink := opts.Sink
	if sink == nil {
		var err error
		if sink, err = v.buildSink(ctx, cfg, keys); err != nil {
			v.close()
			return nil, err
		}
	}
	size := cfg.Broadcaster.Buffer
	if size <= 0 {
		size = broadcast.DefaultBuffer
	}
	ch := make(chan []byte, size)
	v.broadcaster = broadcast.New(ch, sink, logger.With("service", "broadcaster"))

	v.mode = &shell.ValidatorMode{
		Data: shell.ValidatorData{
			Address:      keys.Address,
			ProtocolKey:  keys.ProtocolKey,
			EthBridgeKey: keys.EthBridgeKey,
		},
		Broadcast: ch,
	}

	client := opts.EthClient
	if client == nil && cfg.Ethereum.RPCURL != "" {
		c, err := oracle.Dial(ctx, cfg.Ethereum.RPCURL)
		if err != nil {
			v.close()
			return nil, err
		}
		v.closers = append(v.closers, c.Close)
		client = c
	}
	if client == nil {
		logger.Warn("no Ethereum endpoint configured, running without an oracle")
		return v, nil
	}

	buffer := cfg.Ethereum.EventsBuffer
	if buffer <= 0 {
		buffer = oracle.DefaultEventsBuffer
	}
	events := make(chan ethbridge.EthereumEvent, buffer)
	sender, receiver := oracle.NewControlChannel(oracle.DefaultControlBuffer)
	last := &oracle.LastProcessedBlock{}
	v.control = receiver
	v.oracle = oracle.New(oracle.Params{
		Client:       client,
		Control:      receiver,
		Events:       events,
		Last:         last,
		PollInterval: cfg.Ethereum.PollInterval,
		Logger:       logger.With("service", "oracle"),
	})
	v.mode.Oracle = &shell.OracleChannels{
		Receiver: oracle.NewEthereumReceiver(events, logger),
		Control:  sender,
		Last:     last,
	}
	return v, nil
}

// buildSink sends protocol txs to the consensus RPC, to gossip, or both.
func (v *validatorServices) buildSink(ctx context.Context, cfg *config.Config, keys *config.ValidatorKeys) (broadcast.Sink, error) {
	var sinks broadcast.MultiSink
	bc := cfg.Broadcaster
	if bc.RPCURL != "" {
		sinks = append(sinks, broadcast.NewRPCSink(bc.RPCURL, bc.Timeout))
	}
	if len(bc.ListenAddrs) > 0 {
		key, err := lcrypto.UnmarshalEd25519PrivateKey(keys.ConsensusKey)
		if err != nil {
			return nil, fmt.Errorf("libp2p identity: %w", err)
		}
		g, err := broadcast.NewGossipSink(ctx, broadcast.GossipConfig{
			ChainID:     cfg.ChainID,
			PrivateKey:  key,
			ListenAddrs: bc.ListenAddrs,
			Bootnodes:   bc.Bootnodes,
			Logger:      v.logger.With("service", "gossip"),
		})
		if err != nil {
			return nil, err
		}
		v.closers = append(v.closers, func() { g.Close() })
		sinks = append(sinks, g)
	}
	switch len(sinks) {
	case 0:
		return nil, ErrNoBroadcastSink
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func (v *validatorServices) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return v.broadcaster.Run(ctx) })
	if v.oracle != nil {
		g.Go(func() error { return v.oracle.Run(ctx) })
	}
	v.logger.Info("validator services started",
		"address", v.mode.Data.Address,
		"oracle", v.oracle != nil,
	)
}

func (v *validatorServices) close() {
	if v.control != nil {
		v.control.Close()
	}
	for i := len(v.closers) - 1; i >= 0; i-- {
		v.closers[i]()
	}
	v.closers = nil
}
