package genesis

import (
	"strings"
	"testing"

	"github.com/geanlabs/ledger/clock"
	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/storage/memory"
	"github.com/geanlabs/ledger/token"
	"github.com/geanlabs/ledger/tx"
	"github.com/geanlabs/ledger/types"
)

const testGenesis = `{
	"chain_id": "test-chain",
	"genesis_time": 1704085200,
	"native_token": "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
	"epoch_duration": {"min_num_of_blocks": 4, "min_duration_secs": 0},
	"pos_params": {
		"unbonding_len": 2,
		"pipeline_len": 2,
		"cubic_slashing_window_length": 1,
		"duplicate_vote_min_slash_rate": 1000,
		"light_client_attack_min_slash_rate": 1000
	},
	"wrapper_fee": 250,
	"pow_difficulty": 4,
	"eth_bridge": {
		"enabled": true,
		"min_confirmations": 12,
		"bridge_contract": "0x00000000000000000000000000000000000000b1",
		"governance_contract": "0x00000000000000000000000000000000000000b2",
		"start_height": 100
	},
	"validators": [{
		"address": "0x0101010101010101010101010101010101010101",
		"consensus_key": "0x0101010101010101010101010101010101010101010101010101010101010101",
		"protocol_key": "0202020202020202020202020202020202020202020202020202020202020202",
		"eth_hot_key": "0x00000000000000000000000000000000000000a1",
		"stake": 1000
	}],
	"balances": [{
		"token": "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
		"owner": "0x0101010101010101010101010101010101010101",
		"amount": 5000
	}]
}`

func TestLoadFromJSON(t *testing.T) {
	g, err := LoadFromJSON([]byte(testGenesis))
	if err != nil {
		t.Fatalf("LoadFromJSON failed: %v", err)
	}
	if g.ChainID != "test-chain" || g.GenesisTime != 1704085200 {
		t.Errorf("ChainID = %s, GenesisTime = %d", g.ChainID, g.GenesisTime)
	}
	if g.EpochDuration != (clock.EpochDuration{MinNumOfBlocks: 4}) {
		t.Errorf("EpochDuration = %+v", g.EpochDuration)
	}
	if g.PosParams.UnbondingLen != 2 || g.WrapperFee != 250 {
		t.Errorf("PosParams = %+v, WrapperFee = %d", g.PosParams, g.WrapperFee)
	}
	if g.PowDifficulty == nil || *g.PowDifficulty != 4 {
		t.Errorf("PowDifficulty = %v, want 4", g.PowDifficulty)
	}
	if g.EthBridge == nil || g.EthBridge.Config.MinConfirmations != 12 {
		t.Errorf("EthBridge = %+v", g.EthBridge)
	}
	if len(g.Validators) != 1 || g.Validators[0].Stake != 1000 || g.Validators[0].Validator.ProtocolKey[0] != 0x02 {
		t.Errorf("Validators = %+v", g.Validators)
	}
	if g.TotalStake() != 1000 {
		t.Errorf("TotalStake = %d, want 1000", g.TotalStake())
	}
}

func TestLoadFromJSON_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		replace [2]string
	}{
		{"bad native token", [2]string{`"native_token": "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"`, `"native_token": "0x12"`}},
		{"short consensus key", [2]string{`"consensus_key": "0x0101010101010101010101010101010101010101010101010101010101010101"`, `"consensus_key": "0x01"`}},
		{"bad eth hot key", [2]string{`"eth_hot_key": "0x00000000000000000000000000000000000000a1"`, `"eth_hot_key": "nope"`}},
		{"empty chain id", [2]string{`"chain_id": "test-chain"`, `"chain_id": ""`}},
		{"zero epoch blocks", [2]string{`"min_num_of_blocks": 4`, `"min_num_of_blocks": 0`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := strings.Replace(testGenesis, tt.replace[0], tt.replace[1], 1)
			if data == testGenesis {
				t.Fatal("replacement did not apply")
			}
			if _, err := LoadFromJSON([]byte(data)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestGenesis_Write(t *testing.T) {
	g, err := LoadFromJSON([]byte(testGenesis))
	if err != nil {
		t.Fatal(err)
	}
	s, err := storage.Open(memory.New(), g.ChainID, g.NativeToken, nil)
	if err != nil {
		t.Fatal(err)
	}
	wl := storage.NewWlStorage(s)
	if err := g.Write(wl); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if fee, _ := tx.ReadWrapperFee(wl); fee != 250 {
		t.Errorf("wrapper fee = %d, want 250", fee)
	}
	if d, ok, _ := tx.ReadPowDifficulty(wl); !ok || d != 4 {
		t.Errorf("pow difficulty = (%d, %v), want (4, true)", d, ok)
	}
	if active, _ := ethbridge.IsBridgeActive(wl); !active {
		t.Error("bridge should be active")
	}
	if cfg, ok, _ := ethbridge.ReadConfig(wl); !ok || cfg.StartHeight != 100 {
		t.Errorf("bridge config = %+v, %v", cfg, ok)
	}
	addr := g.Validators[0].Validator.Address
	for e := types.Epoch(0); e <= 2; e++ {
		if power, ok, _ := pos.VotingPower(wl, addr, e); !ok || power != 1000 {
			t.Errorf("voting power at epoch %d = (%d, %v)", e, power, ok)
		}
	}
	if bal, _ := token.Balance(wl, g.NativeToken, addr); bal != 5000 {
		t.Errorf("balance = %d, want 5000", bal)
	}
	if d, _ := clock.ReadDuration(wl); d.MinNumOfBlocks != 4 {
		t.Errorf("epoch duration = %+v", d)
	}

	updates := g.ValidatorUpdates()
	if len(updates) != 1 || updates[0].Power != 1000 {
		t.Errorf("ValidatorUpdates = %+v", updates)
	}
}
