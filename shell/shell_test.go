package shell

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	ssz "github.com/ferranbt/fastssz"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/ledger/clock"
	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/internal/genesis"
	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/storage/memory"
	"github.com/geanlabs/ledger/token"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
	"github.com/geanlabs/ledger/vm"
)

const (
	testChainID types.ChainID = "test-chain"
	genesisTime uint64        = 1_700_000_000
	payerFunds  types.Amount  = 10_000
)

var nativeToken = types.Address{0xee}

type testValidator struct {
	addr         types.Address
	consensusKey ed25519.PrivateKey
	protocolKey  ed25519.PrivateKey
	ethKey       *ecdsa.PrivateKey
}

func newTestValidator(t *testing.T, i int) testValidator {
	t.Helper()
	ethKey, err := crypto.ToECDSA(common.LeftPadBytes([]byte{byte(i + 1)}, 32))
	require.NoError(t, err)
	return testValidator{
		addr:         types.Address{0xa0, byte(i + 1)},
		consensusKey: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{byte(0x10 + i)}, ed25519.SeedSize)),
		protocolKey:  ed25519.NewKeyFromSeed(bytes.Repeat([]byte{byte(0x20 + i)}, ed25519.SeedSize)),
		ethKey:       ethKey,
	}
}

// rawAddress is the consensus engine's address of the validator.
func (v testValidator) rawAddress() []byte {
	sum := sha256.Sum256(v.consensusKey.Public().(ed25519.PublicKey))
	return sum[:20]
}

func (v testValidator) record() pos.Validator {
	rec := pos.Validator{Address: v.addr, EthHotKey: crypto.PubkeyToAddress(v.ethKey.PublicKey)}
	copy(rec.ConsensusKey[:], v.consensusKey.Public().(ed25519.PublicKey))
	copy(rec.ProtocolKey[:], v.protocolKey.Public().(ed25519.PublicKey))
	return rec
}

func (v testValidator) data() ValidatorData {
	return ValidatorData{Address: v.addr, ProtocolKey: v.protocolKey, EthBridgeKey: v.ethKey}
}

// fixture is a chain configuration shared by the shells of a test.
type fixture struct {
	db      *memory.DB
	genesis *genesis.Genesis
	vals    []testValidator
	payer   ed25519.PrivateKey
}

func newFixture(t *testing.T, nVals int, opts ...func(*genesis.Genesis)) *fixture {
	t.Helper()
	f := &fixture{
		db:    memory.New(),
		payer: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x42}, ed25519.SeedSize)),
	}
	g := &genesis.Genesis{
		ChainID:     testChainID,
		GenesisTime: genesisTime,
		NativeToken: nativeToken,
		// Long epochs unless a test needs epoch transitions.
		EpochDuration: clock.EpochDuration{MinNumOfBlocks: 1000},
		PosParams:     pos.DefaultParams(),
		WrapperFee:    100,
		Balances: []genesis.Balance{
			{Token: nativeToken, Owner: f.payerAddr(), Amount: payerFunds},
		},
	}
	for i := 0; i < nVals; i++ {
		v := newTestValidator(t, i)
		f.vals = append(f.vals, v)
		g.Validators = append(g.Validators, pos.GenesisValidator{Validator: v.record(), Stake: 1000})
	}
	for _, opt := range opts {
		opt(g)
	}
	f.genesis = g
	return f
}

func withBridge(enabled bool) func(*genesis.Genesis) {
	return func(g *genesis.Genesis) {
		g.EthBridge = &genesis.EthBridge{Enabled: enabled, Config: ethbridge.Config{
			MinConfirmations:   12,
			BridgeContract:     common.Address{0xb1},
			GovernanceContract: common.Address{0xb2},
			StartHeight:        100,
		}}
	}
}

func withEpochBlocks(n uint64) func(*genesis.Genesis) {
	return func(g *genesis.Genesis) { g.EpochDuration.MinNumOfBlocks = n }
}

func (f *fixture) payerAddr() types.Address {
	return types.AddressFromPublicKey(f.payer.Public().(ed25519.PublicKey))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fixture) open(t *testing.T, mode Mode) *Shell {
	t.Helper()
	s, err := New(Config{
		ChainID:     testChainID,
		DB:          f.db,
		NativeToken: nativeToken,
		Genesis:     f.genesis,
		Mode:        mode,
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	return s
}

// start initializes the chain and commits the first block.
func (f *fixture) start(t *testing.T, s *Shell) {
	t.Helper()
	_, err := s.InitChain(InitChainRequest{ChainID: testChainID, Time: blockTime(0), InitialHeight: 1})
	require.NoError(t, err)
	commitBlock(t, s, 1)
}

func newTestShell(t *testing.T, opts ...func(*genesis.Genesis)) (*Shell, *fixture) {
	t.Helper()
	f := newFixture(t, 1, opts...)
	s := f.open(t, FullMode{})
	f.start(t, s)
	return s, f
}

func blockTime(h types.BlockHeight) time.Time {
	return types.FromUnix(genesisTime + uint64(h))
}

func commitBlock(t *testing.T, s *Shell, h types.BlockHeight, txs ...[]byte) FinalizeBlockResponse {
	t.Helper()
	resp, err := s.FinalizeBlock(FinalizeBlockRequest{Txs: txs, Height: h, Time: blockTime(h)})
	require.NoError(t, err)
	s.Commit()
	return resp
}

// wrapper builds a wrapper signed by the fixture's payer.
func (f *fixture) wrapper(inner []byte, opts ...func(*tx.Tx)) *tx.Tx {
	w := tx.NewWrapper(testChainID, 0, genesisTime, tx.WrapperHeader{
		FeeAmount: 100,
		FeeToken:  nativeToken,
		GasLimit:  10_000,
	}, inner)
	copy(w.Header.Wrapper.PayerPK[:], f.payer.Public().(ed25519.PublicKey))
	for _, opt := range opts {
		opt(w)
	}
	w.SetData(w.Data)
	w.Sign(f.payer)
	return w
}

func (f *fixture) transfer(t *testing.T, to types.Address, amount types.Amount) []byte {
	t.Helper()
	data, err := (&vm.TransferData{Source: f.payerAddr(), Target: to, Token: nativeToken, Amount: amount}).MarshalSSZ()
	require.NoError(t, err)
	return vm.EncodePayload(vm.CodeTransfer, data)
}

func balance(t *testing.T, r storage.Reader, owner types.Address) types.Amount {
	t.Helper()
	b, err := token.Balance(r, nativeToken, owner)
	require.NoError(t, err)
	return b
}

func TestLastState(t *testing.T) {
	f := newFixture(t, 1)
	s := f.open(t, FullMode{})
	require.Equal(t, InfoResponse{}, s.LastState())

	f.start(t, s)
	info := s.LastState()
	require.Equal(t, int64(1), info.LastBlockHeight)
	root := s.wl.Storage.MerkleRoot()
	require.Equal(t, root[:], info.LastBlockAppHash)
}

func TestInitChainChecks(t *testing.T) {
	f := newFixture(t, 1)
	s := f.open(t, FullMode{})

	_, err := s.InitChain(InitChainRequest{ChainID: "other-chain"})
	require.ErrorIs(t, err, ErrChainID)

	resp, err := s.InitChain(InitChainRequest{ChainID: testChainID, Time: blockTime(0)})
	require.NoError(t, err)
	require.Len(t, resp.Validators, 1)
	require.Equal(t, uint64(1000), resp.Validators[0].Power)
	commitBlock(t, s, 1)

	_, err = s.InitChain(InitChainRequest{ChainID: testChainID})
	require.ErrorIs(t, err, ErrStorage)
}

func TestGetBlockTimestamp(t *testing.T) {
	s, _ := newTestShell(t)

	require.Equal(t, blockTime(1), s.GetBlockTimestamp(nil))
	require.Equal(t, blockTime(1), s.GetBlockTimestamp(&time.Time{}))

	given := time.Date(2030, 1, 2, 3, 4, 5, 600, time.UTC)
	require.Equal(t, given.Truncate(time.Second), s.GetBlockTimestamp(&given))
}

type u64 uint64

func (u *u64) UnmarshalSSZ(buf []byte) error {
	if len(buf) != 8 {
		return ssz.ErrSize
	}
	*u = u64(ssz.UnmarshallUint64(buf))
	return nil
}

func TestReadStorageKey(t *testing.T) {
	s, f := newTestShell(t)
	key := token.BalanceKey(nativeToken, f.payerAddr())

	var v u64
	require.True(t, s.ReadStorageKey(key, &v))
	require.Equal(t, u64(payerFunds), v)
	require.Len(t, s.ReadStorageKeyBytes(key), 8)

	missing := token.BalanceKey(nativeToken, types.Address{0x99})
	require.False(t, s.ReadStorageKey(missing, &v))
	require.Nil(t, s.ReadStorageKeyBytes(missing))

	// Uncommitted writes are not visible.
	_, err := s.wl.Write(missing, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Nil(t, s.ReadStorageKeyBytes(missing))
}

func TestTxQueuePersistsAcrossRestart(t *testing.T) {
	s, f := newTestShell(t)
	w := f.wrapper(f.transfer(t, types.Address{0x77}, 1))
	commitBlock(t, s, 2, w.Encode())
	require.NoError(t, s.Close())

	reopened := f.open(t, FullMode{})
	var queued []types.Hash
	reopened.iterTxQueue(func(wrapper *tx.Tx, gas uint64) bool {
		require.Equal(t, uint64(10_000), gas)
		queued = append(queued, wrapper.HeaderHash())
		return true
	})
	require.Equal(t, []types.Hash{w.HeaderHash()}, queued)
	require.Equal(t, types.BlockHeight(2), reopened.wl.Storage.LastHeight())
}

func TestRollback(t *testing.T) {
	s, f := newTestShell(t)
	rootAt1 := s.wl.Storage.MerkleRoot()
	commitBlock(t, s, 2, f.wrapper(f.transfer(t, types.Address{0x77}, 1)).Encode())
	require.NotEqual(t, rootAt1, s.wl.Storage.MerkleRoot())

	height, err := Rollback(f.db, testChainID, testLogger())
	require.NoError(t, err)
	require.Equal(t, types.BlockHeight(1), height)

	reopened := f.open(t, FullMode{})
	require.Equal(t, types.BlockHeight(1), reopened.wl.Storage.LastHeight())
	require.Equal(t, rootAt1, reopened.wl.Storage.MerkleRoot())
	require.Empty(t, reopened.wl.Storage.TxQueue)
	require.Equal(t, payerFunds, balance(t, reopened.wl.Storage, f.payerAddr()))
}

func TestReset(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "file"), []byte("x"), 0o644))

	require.NoError(t, Reset(dir))
	_, err := os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	// Resetting a missing directory is not an error.
	require.NoError(t, Reset(dir))
}
