package vext

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/storage/memory"
	"github.com/geanlabs/ledger/types"
)

type testValidator struct {
	addr        types.Address
	protocolKey ed25519.PrivateKey
	ethKey      *ecdsa.PrivateKey
}

func setupValidators(t *testing.T, n int) (*Context, []testValidator) {
	t.Helper()
	s, err := storage.Open(memory.New(), "test-chain", types.Address{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	wl := storage.NewWlStorage(s)

	var genesis []pos.GenesisValidator
	var vals []testValidator
	for i := 0; i < n; i++ {
		tv := testValidator{
			addr:        types.Address{byte(i + 1)},
			protocolKey: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{byte(i + 1)}, ed25519.SeedSize)),
		}
		tv.ethKey, err = crypto.ToECDSA(common.LeftPadBytes([]byte{byte(i + 1)}, 32))
		if err != nil {
			t.Fatal(err)
		}
		v := pos.Validator{Address: tv.addr, EthHotKey: crypto.PubkeyToAddress(tv.ethKey.PublicKey)}
		copy(v.ProtocolKey[:], tv.protocolKey.Public().(ed25519.PublicKey))
		v.ConsensusKey[0] = byte(i + 1)
		genesis = append(genesis, pos.GenesisValidator{Validator: v, Stake: 100})
		vals = append(vals, tv)
	}
	params := pos.DefaultParams()
	if err := pos.InitGenesis(wl, &params, genesis); err != nil {
		t.Fatal(err)
	}
	ctx := &Context{
		Reader:     wl,
		LastHeight: 5,
		LastEpoch:  1,
		Epochs:     types.Epochs{FirstBlockHeight: []types.BlockHeight{1, 4}},
	}
	return ctx, vals
}

func testEvents() []ethbridge.EthereumEvent {
	return []ethbridge.EthereumEvent{
		{Kind: ethbridge.TransfersToLedger, Nonce: 1},
		{Kind: ethbridge.TransfersToLedger, Nonce: 2},
	}
}

func TestValidateEthEvents(t *testing.T) {
	ctx, vals := setupValidators(t, 2)
	v := vals[0]

	ext := CraftEthEvents(v.protocolKey, v.addr, 5, testEvents())
	if _, power, err := ValidateEthEvents(ctx, ext); err != nil || power != 100 {
		t.Fatalf("ValidateEthEvents = (%d, %v), want (100, nil)", power, err)
	}

	tests := []struct {
		name string
		ext  *SignedEthEvents
		want error
	}{
		{"stale height", CraftEthEvents(v.protocolKey, v.addr, 4, testEvents()), ErrWrongHeight},
		{"not a validator", CraftEthEvents(v.protocolKey, types.Address{0xff}, 5, testEvents()), ErrNotValidator},
		{"signed by another key", CraftEthEvents(vals[1].protocolKey, v.addr, 5, testEvents()), ErrBadSignature},
		{"unsorted", CraftEthEvents(v.protocolKey, v.addr, 5, []ethbridge.EthereumEvent{
			testEvents()[1], testEvents()[0],
		}), ErrUnsortedEvents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ValidateEthEvents(ctx, tt.ext); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSignedEthEvents_SurvivesEncoding(t *testing.T) {
	ctx, vals := setupValidators(t, 1)
	ext := CraftEthEvents(vals[0].protocolKey, vals[0].addr, 5, testEvents())

	digest := &EventsDigest{Exts: []SignedEthEvents{*ext, *ext}}
	raw, err := digest.MarshalSSZ()
	if err != nil {
		t.Fatalf("MarshalSSZ: %v", err)
	}
	var decoded EventsDigest
	if err := decoded.UnmarshalSSZ(raw); err != nil {
		t.Fatalf("UnmarshalSSZ: %v", err)
	}
	if len(decoded.Exts) != 2 {
		t.Fatalf("decoded %d extensions, want 2", len(decoded.Exts))
	}
	if _, _, err := ValidateEthEvents(ctx, &decoded.Exts[1]); err != nil {
		t.Errorf("decoded extension no longer validates: %v", err)
	}
}

func TestValidateBridgePoolRoot(t *testing.T) {
	ctx, vals := setupValidators(t, 1)
	v := vals[0]
	root := ethbridge.PoolRoot{Root: types.Hash{0xab}, Nonce: 3}
	if err := ethbridge.WritePoolRoot(ctx.Reader.(storage.Writer), root); err != nil {
		t.Fatal(err)
	}

	ext, err := CraftBridgePoolRoot(v.ethKey, v.addr, 5, root)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := ext.MarshalSSZ()
	var decoded BridgePoolRootVext
	if err := decoded.UnmarshalSSZ(raw); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ValidateBridgePoolRoot(ctx, &decoded); err != nil {
		t.Fatalf("ValidateBridgePoolRoot: %v", err)
	}

	stale, _ := CraftBridgePoolRoot(v.ethKey, v.addr, 5, ethbridge.PoolRoot{Root: root.Root, Nonce: 2})
	if _, _, err := ValidateBridgePoolRoot(ctx, stale); !errors.Is(err, ErrRootMismatch) {
		t.Errorf("err = %v, want ErrRootMismatch", err)
	}

	forged := *ext
	forged.Nonce = 9
	if _, _, err := ValidateBridgePoolRoot(ctx, &forged); !errors.Is(err, ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestValidateValSetUpdate_EpochLag(t *testing.T) {
	ctx, vals := setupValidators(t, 2)
	v := vals[0]

	powers, err := VotingPowers(ctx.Reader, ctx.LastEpoch+1)
	if err != nil {
		t.Fatal(err)
	}
	ext, err := CraftValSetUpdate(v.ethKey, v.addr, ctx.LastEpoch, powers)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := ext.MarshalSSZ()
	var decoded ValSetUpdateVext
	if err := decoded.UnmarshalSSZ(raw); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ValidateValSetUpdate(ctx, &decoded); err != nil {
		t.Fatalf("ValidateValSetUpdate: %v", err)
	}

	// Signed by a bonded validator with a valid signature, but for the
	// current epoch rather than the last completed one.
	current, err := CraftValSetUpdate(v.ethKey, v.addr, ctx.LastEpoch+1, powers)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := ValidateValSetUpdate(ctx, current); !errors.Is(err, ErrWrongEpoch) {
		t.Errorf("err = %v, want ErrWrongEpoch", err)
	}

	wrong := append([]EthPower(nil), powers...)
	wrong[0].Power++
	mismatch, _ := CraftValSetUpdate(v.ethKey, v.addr, ctx.LastEpoch, wrong)
	if _, _, err := ValidateValSetUpdate(ctx, mismatch); !errors.Is(err, ErrVotingPowerMismatch) {
		t.Errorf("err = %v, want ErrVotingPowerMismatch", err)
	}
}

func TestApplyVotes_TwoThirds(t *testing.T) {
	ctx, vals := setupValidators(t, 3)
	rw := ctx.Reader.(storage.ReadWriter)
	subject := types.Hash{0x01}

	seen, err := ApplyVotes(rw, KindEthEvent, subject, []byte("body"), []Vote{{vals[0].addr, 100}, {vals[1].addr, 100}}, 300)
	if err != nil || seen {
		t.Fatalf("ApplyVotes = (%v, %v), exactly two thirds must not be seen", seen, err)
	}
	seen, err = ApplyVotes(rw, KindEthEvent, subject, nil, []Vote{{vals[1].addr, 100}}, 300)
	if err != nil || seen {
		t.Fatalf("duplicate vote = (%v, %v), want (false, nil)", seen, err)
	}
	seen, err = ApplyVotes(rw, KindEthEvent, subject, nil, []Vote{{vals[2].addr, 100}}, 300)
	if err != nil || !seen {
		t.Fatalf("ApplyVotes = (%v, %v), want (true, nil)", seen, err)
	}

	tally, err := ReadTally(rw, KindEthEvent, subject)
	if err != nil {
		t.Fatal(err)
	}
	if tally.VotingPower != 300 || !tally.Seen || len(tally.SeenBy) != 3 {
		t.Errorf("tally = %+v", tally)
	}
	body, _ := ReadBody(rw, KindEthEvent, subject)
	if string(body) != "body" {
		t.Errorf("body = %q, want body", body)
	}
}

func TestExceedsTwoThirds(t *testing.T) {
	tests := []struct {
		power, total uint64
		want         bool
	}{
		{2, 3, false},
		{3, 4, true},
		{67, 100, true},
		{66, 100, false},
		{1 << 63, 1<<63 + 1, true},
	}
	for _, tt := range tests {
		if got := ExceedsTwoThirds(tt.power, tt.total); got != tt.want {
			t.Errorf("ExceedsTwoThirds(%d, %d) = %v, want %v", tt.power, tt.total, got, tt.want)
		}
	}
}
