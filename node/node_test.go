package node

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"io"
	"log/slog"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/ledger/clock"
	"github.com/geanlabs/ledger/config"
	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/internal/genesis"
	"github.com/geanlabs/ledger/oracle"
	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/shell"
	"github.com/geanlabs/ledger/storage/memory"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
)

const (
	testChainID        = "node-test"
	genesisTime uint64 = 1_700_000_000
)

var bridgeContract = common.Address{0xb1}

func testKeys(t *testing.T) *config.ValidatorKeys {
	t.Helper()
	eth, err := crypto.ToECDSA(common.LeftPadBytes([]byte{7}, 32))
	require.NoError(t, err)
	return &config.ValidatorKeys{
		Address:      types.Address{0xa1},
		ConsensusKey: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x11}, ed25519.SeedSize)),
		ProtocolKey:  ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x21}, ed25519.SeedSize)),
		EthBridgeKey: eth,
	}
}

func testGenesis(keys *config.ValidatorKeys) *genesis.Genesis {
	rec := pos.Validator{Address: keys.Address, EthHotKey: crypto.PubkeyToAddress(keys.EthBridgeKey.PublicKey)}
	copy(rec.ConsensusKey[:], keys.ConsensusKey.Public().(ed25519.PublicKey))
	copy(rec.ProtocolKey[:], keys.ProtocolKey.Public().(ed25519.PublicKey))
	return &genesis.Genesis{
		ChainID:       testChainID,
		GenesisTime:   genesisTime,
		NativeToken:   types.Address{0xee},
		EpochDuration: clock.EpochDuration{MinNumOfBlocks: 1000},
		PosParams:     pos.DefaultParams(),
		WrapperFee:    100,
		EthBridge: &genesis.EthBridge{Enabled: true, Config: ethbridge.Config{
			BridgeContract:     bridgeContract,
			GovernanceContract: common.Address{0xb2},
			StartHeight:        100,
		}},
		Validators: []pos.GenesisValidator{{Validator: rec, Stake: 1000}},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(mode string) *config.Config {
	cfg := config.Default()
	cfg.ChainID = testChainID
	cfg.Mode = mode
	cfg.DBBackend = config.BackendMemory
	cfg.Ethereum.PollInterval = 5 * time.Millisecond
	return cfg
}

type recordingSink struct {
	mu  sync.Mutex
	txs [][]byte
}

func (s *recordingSink) Send(_ context.Context, tx []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}

func (s *recordingSink) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.txs...)
}

type fakeEthereum struct {
	latest uint64
	logs   map[uint64][]gethtypes.Log
}

func (c *fakeEthereum) BlockNumber(context.Context) (uint64, error) { return c.latest, nil }

func (c *fakeEthereum) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return c.logs[q.FromBlock.Uint64()], nil
}

// runNode starts n and stops it when the test ends.
func runNode(t *testing.T, n *Node) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, n.Close())
	})
}

func blockTime(h types.BlockHeight) time.Time {
	return types.FromUnix(genesisTime + uint64(h))
}

func commit(t *testing.T, n *Node, h types.BlockHeight, txs ...[]byte) shell.FinalizeBlockResponse {
	t.Helper()
	ctx := context.Background()
	resp, err := n.FinalizeBlock(ctx, shell.FinalizeBlockRequest{Txs: txs, Height: h, Time: blockTime(h)})
	require.NoError(t, err)
	_, err = n.Commit(ctx)
	require.NoError(t, err)
	return resp
}

func TestNodeFullMode(t *testing.T) {
	keys := testKeys(t)
	n, err := New(context.Background(), testConfig(config.ModeFull), Options{
		DB:      memory.New(),
		Genesis: testGenesis(keys),
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	runNode(t, n)

	ctx := context.Background()
	info, err := n.Info(ctx)
	require.NoError(t, err)
	require.Zero(t, info.LastBlockHeight)

	resp, err := n.InitChain(ctx, shell.InitChainRequest{ChainID: testChainID, Time: blockTime(0), InitialHeight: 1})
	require.NoError(t, err)
	require.Len(t, resp.Validators, 1)
	commit(t, n, 1)

	info, err = n.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), info.LastBlockHeight)

	check, err := n.CheckTx(ctx, shell.CheckTxRequest{Tx: []byte("garbage")})
	require.NoError(t, err)
	require.Equal(t, shell.InvalidTx, check.Code)
}

func TestNodeGenesisMismatch(t *testing.T) {
	keys := testKeys(t)
	cfg := testConfig(config.ModeFull)
	cfg.ChainID = "other"
	_, err := New(context.Background(), cfg, Options{DB: memory.New(), Genesis: testGenesis(keys), Logger: testLogger()})
	require.ErrorIs(t, err, ErrGenesisMismatch)
}

func TestNodeCallNeedsDispatcher(t *testing.T) {
	keys := testKeys(t)
	n, err := New(context.Background(), testConfig(config.ModeFull), Options{
		DB:      memory.New(),
		Genesis: testGenesis(keys),
		Logger:  testLogger(),
	})
	require.NoError(t, err)
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = n.Info(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidatorNodeWithoutSink(t *testing.T) {
	keys := testKeys(t)
	_, err := New(context.Background(), testConfig(config.ModeValidator), Options{
		DB:        memory.New(),
		Genesis:   testGenesis(keys),
		Validator: &ValidatorOptions{Keys: keys},
		Logger:    testLogger(),
	})
	require.ErrorIs(t, err, ErrNoBroadcastSink)
}

func protocolType(t *testing.T, raw []byte) tx.ProtocolType {
	t.Helper()
	decoded, err := tx.Decode(raw)
	require.NoError(t, err)
	return decoded.Header.Protocol.Type
}

// A validator node relays an event from Ethereum through its oracle, votes
// on it and mints the transfer once the vote is finalized.
func TestValidatorNodeRelaysEthereumEvent(t *testing.T) {
	keys := testKeys(t)
	receiver := types.Address{0x55}
	asset := common.Address{0xe2}
	eth := &fakeEthereum{
		latest: 100,
		logs: map[uint64][]gethtypes.Log{100: {{
			Address: bridgeContract,
			Topics:  []common.Hash{oracle.TransferToLedgerTopic, common.BigToHash(big.NewInt(7))},
			Data:    oracle.EncodeLogData([]ethbridge.Transfer{{Amount: 42, Asset: asset, Receiver: receiver}}),
		}}},
	}
	sink := &recordingSink{}
	n, err := New(context.Background(), testConfig(config.ModeValidator), Options{
		DB:        memory.New(),
		Genesis:   testGenesis(keys),
		Validator: &ValidatorOptions{Keys: keys, EthClient: eth, Sink: sink},
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	runNode(t, n)

	ctx := context.Background()
	_, err = n.InitChain(ctx, shell.InitChainRequest{ChainID: testChainID, Time: blockTime(0), InitialHeight: 1})
	require.NoError(t, err)

	// Every commit broadcasts a bridge pool root vote, preceded by an events
	// vote once the oracle delivered the event.
	var vote []byte
	h := types.BlockHeight(1)
	for ; vote == nil; h++ {
		require.Less(t, h, types.BlockHeight(100), "oracle never delivered the event")
		before := len(sink.sent())
		commit(t, n, h)
		require.Eventually(t, func() bool { return len(sink.sent()) > before }, time.Second, time.Millisecond)
		for _, raw := range sink.sent()[before:] {
			if protocolType(t, raw) == tx.EthEventsVext {
				vote = raw
			}
		}
		if vote == nil {
			time.Sleep(5 * time.Millisecond)
		}
	}

	resp := commit(t, n, h, vote)
	require.Equal(t, shell.Ok, resp.TxResults[0].Code, resp.TxResults[0].Info)
	confirmed, err := n.Events(ctx, shell.EventEthEventConfirmed, "nonce", "7")
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
}

func TestResetAndRollback(t *testing.T) {
	keys := testKeys(t)
	cfg := testConfig(config.ModeFull)
	cfg.DBBackend = config.BackendPebble
	cfg.BaseDir = t.TempDir()

	n, err := New(context.Background(), cfg, Options{Genesis: testGenesis(keys), Logger: testLogger()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	_, err = n.InitChain(context.Background(), shell.InitChainRequest{ChainID: testChainID, Time: blockTime(0), InitialHeight: 1})
	require.NoError(t, err)
	commit(t, n, 1)
	commit(t, n, 2)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, n.Close())

	height, err := Rollback(cfg, testLogger())
	require.NoError(t, err)
	require.Equal(t, types.BlockHeight(1), height)

	require.NoError(t, Reset(cfg))
	_, err = os.Stat(cfg.DBDir())
	require.True(t, os.IsNotExist(err))
	// Resetting twice is fine.
	require.NoError(t, Reset(cfg))
}
