package ethbridge

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/storage/memory"
	"github.com/geanlabs/ledger/types"
)

func event(kind EventKind, nonce uint64, amount types.Amount) EthereumEvent {
	return EthereumEvent{
		Kind:  kind,
		Nonce: nonce,
		Transfers: []Transfer{{
			Amount:   amount,
			Asset:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			Receiver: types.Address{0x01},
		}},
	}
}

func TestEthereumEvent_EncodeDecode(t *testing.T) {
	e := event(TransfersToLedger, 7, 42)
	raw, err := e.MarshalSSZ()
	if err != nil {
		t.Fatalf("MarshalSSZ: %v", err)
	}
	var decoded EthereumEvent
	if err := decoded.UnmarshalSSZ(raw); err != nil {
		t.Fatalf("UnmarshalSSZ: %v", err)
	}
	if decoded.Hash() != e.Hash() {
		t.Error("hash changed across encoding")
	}
	if decoded.Compare(&e) != 0 {
		t.Error("decoded event should compare equal")
	}
}

func TestEventSet_SortedAndDeduplicated(t *testing.T) {
	var set EventSet
	inputs := []EthereumEvent{
		event(TransfersToEthereum, 1, 5),
		event(TransfersToLedger, 9, 5),
		event(TransfersToLedger, 2, 5),
		event(TransfersToLedger, 2, 5),
		event(TransfersToLedger, 2, 6),
	}
	for _, e := range inputs {
		set.Insert(e)
	}
	if set.Len() != 4 {
		t.Fatalf("len = %d, want 4", set.Len())
	}
	events := set.Events()
	if !IsSortedSet(events) {
		t.Fatal("events are not a sorted set")
	}
	if events[0].Nonce != 2 || events[3].Kind != TransfersToEthereum {
		t.Errorf("unexpected order: %+v", events)
	}

	target := event(TransfersToLedger, 9, 5)
	if !set.Remove(&target) {
		t.Error("Remove should find the event")
	}
	if set.Remove(&target) {
		t.Error("second Remove should report absence")
	}
	if set.Contains(&target) {
		t.Error("removed event still present")
	}
}

func TestIsSortedSet(t *testing.T) {
	a, b := event(TransfersToLedger, 1, 1), event(TransfersToLedger, 2, 1)
	tests := []struct {
		name   string
		events []EthereumEvent
		want   bool
	}{
		{"empty", nil, true},
		{"sorted", []EthereumEvent{a, b}, true},
		{"reversed", []EthereumEvent{b, a}, false},
		{"duplicate", []EthereumEvent{a, a}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSortedSet(tt.events); got != tt.want {
				t.Errorf("IsSortedSet = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBridgeStorage(t *testing.T) {
	s, err := storage.Open(memory.New(), "test-chain", types.Address{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	wl := storage.NewWlStorage(s)

	if active, err := IsBridgeActive(wl); err != nil || active {
		t.Fatalf("IsBridgeActive = (%v, %v), want (false, nil)", active, err)
	}
	if _, ok, _ := ReadConfig(wl); ok {
		t.Fatal("config should be absent")
	}

	if err := WriteStatus(wl, Status{Enabled: true, Since: 3}); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{
		MinConfirmations:   100,
		BridgeContract:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		GovernanceContract: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		StartHeight:        12,
	}
	if err := WriteConfig(wl, cfg); err != nil {
		t.Fatal(err)
	}

	status, ok, err := ReadStatus(wl)
	if err != nil || !ok || !status.Enabled || status.Since != 3 {
		t.Errorf("ReadStatus = (%+v, %v, %v)", status, ok, err)
	}
	got, ok, err := ReadConfig(wl)
	if err != nil || !ok {
		t.Fatalf("ReadConfig = (%v, %v)", ok, err)
	}
	if *got != *cfg {
		t.Errorf("config = %+v, want %+v", got, cfg)
	}
}
