package vm

import (
	"errors"
	"testing"

	"github.com/geanlabs/ledger/gas"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/storage/memory"
	"github.com/geanlabs/ledger/token"
	"github.com/geanlabs/ledger/types"
)

func newWl(t *testing.T) *storage.WlStorage {
	t.Helper()
	s, err := storage.Open(memory.New(), "test-chain", types.Address{0xee}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return storage.NewWlStorage(s)
}

func newExecutor(t *testing.T) (*BuiltinExecutor, *Cache) {
	t.Helper()
	cache, err := NewCache(4)
	if err != nil {
		t.Fatal(err)
	}
	return NewBuiltinExecutor(cache), cache
}

func transferPayload(t *testing.T, td TransferData) []byte {
	t.Helper()
	data, err := td.MarshalSSZ()
	if err != nil {
		t.Fatal(err)
	}
	return EncodePayload(CodeTransfer, data)
}

func TestBuiltinExecutor_Transfer(t *testing.T) {
	wl := newWl(t)
	exec, cache := newExecutor(t)
	tok := types.Address{0xee}
	alice, bob := types.Address{0x01}, types.Address{0x02}
	if err := token.Credit(wl, tok, alice, 100); err != nil {
		t.Fatal(err)
	}

	meter := gas.NewTxGasMeter(1_000_000)
	payload := transferPayload(t, TransferData{Source: alice, Target: bob, Token: tok, Amount: 40})
	if err := exec.Apply(payload, meter, wl); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if bal, _ := token.Balance(wl, tok, bob); bal != 40 {
		t.Errorf("bob balance = %d, want 40", bal)
	}
	if cache.Len() != 1 {
		t.Errorf("cache len = %d, want 1", cache.Len())
	}
}

func TestBuiltinExecutor_CachedCodeIsNotRecompiled(t *testing.T) {
	wl := newWl(t)
	exec, _ := newExecutor(t)
	payload := EncodePayload(CodeNoop, nil)

	first := gas.NewTxGasMeter(1_000)
	if err := exec.Apply(payload, first, wl); err != nil {
		t.Fatal(err)
	}
	if want := uint64(len(CodeNoop)) * CompileGasPerByte; first.Used() != want {
		t.Errorf("first run used %d gas, want %d", first.Used(), want)
	}
	second := gas.NewTxGasMeter(1_000)
	if err := exec.Apply(payload, second, wl); err != nil {
		t.Fatal(err)
	}
	if second.Used() != 0 {
		t.Errorf("cached run used %d gas, want 0", second.Used())
	}
}

func TestBuiltinExecutor_Errors(t *testing.T) {
	wl := newWl(t)
	exec, _ := newExecutor(t)

	tests := []struct {
		name    string
		payload []byte
		limit   uint64
		want    error
	}{
		{"malformed", []byte{0x01}, 1_000_000, ErrMalformedPayload},
		{"unknown code", EncodePayload([]byte("tx_missing"), nil), 1_000_000, ErrUnknownCode},
		{"insufficient balance", transferPayload(t, TransferData{Source: types.Address{0x09}, Amount: 1}), 1_000_000, token.ErrInsufficientBalance},
		{"out of gas", EncodePayload(CodeNoop, make([]byte, 64)), 10, gas.ErrTxLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exec.Apply(tt.payload, gas.NewTxGasMeter(tt.limit), wl)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPayload_Decode(t *testing.T) {
	var p Payload
	if err := p.UnmarshalSSZ(EncodePayload(CodeNoop, []byte{1, 2})); err != nil {
		t.Fatal(err)
	}
	if string(p.Code) != string(CodeNoop) || len(p.Data) != 2 {
		t.Errorf("payload = %+v", p)
	}
	bad := EncodePayload(CodeNoop, nil)
	bad[4] = 0xff
	if err := p.UnmarshalSSZ(bad); err == nil {
		t.Error("expected offset error")
	}
}
