// Package genesis loads the genesis file and writes the initial chain state.
package genesis

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/geanlabs/ledger/clock"
	"github.com/geanlabs/ledger/ethbridge"
	"github.com/geanlabs/ledger/pos"
	"github.com/geanlabs/ledger/types"
)

// Genesis holds everything written to storage by InitChain.
type Genesis struct {
	ChainID       types.ChainID
	GenesisTime   uint64
	NativeToken   types.Address
	EpochDuration clock.EpochDuration
	PosParams     pos.Params
	WrapperFee    types.Amount
	// PowDifficulty enables the faucet when set.
	PowDifficulty *uint8
	EthBridge     *EthBridge
	Validators    []pos.GenesisValidator
	Balances      []Balance
}

// EthBridge is the genesis configuration of the Ethereum bridge.
type EthBridge struct {
	Enabled bool
	Config  ethbridge.Config
}

type Balance struct {
	Token  types.Address
	Owner  types.Address
	Amount types.Amount
}

// genesisJSON is the intermediate struct for JSON unmarshaling.
type genesisJSON struct {
	ChainID       string `json:"chain_id"`
	GenesisTime   uint64 `json:"genesis_time"`
	NativeToken   string `json:"native_token"`
	EpochDuration struct {
		MinNumOfBlocks  uint64 `json:"min_num_of_blocks"`
		MinDurationSecs uint64 `json:"min_duration_secs"`
	} `json:"epoch_duration"`
	PosParams *struct {
		UnbondingLen              uint64 `json:"unbonding_len"`
		PipelineLen               uint64 `json:"pipeline_len"`
		CubicSlashingWindowLength uint64 `json:"cubic_slashing_window_length"`
		DuplicateVoteMinSlashRate uint64 `json:"duplicate_vote_min_slash_rate"`
		LightClientAttackMinRate  uint64 `json:"light_client_attack_min_slash_rate"`
	} `json:"pos_params"`
	WrapperFee    *uint64 `json:"wrapper_fee"`
	PowDifficulty *uint8  `json:"pow_difficulty"`
	EthBridge     *struct {
		Enabled            bool   `json:"enabled"`
		MinConfirmations   uint64 `json:"min_confirmations"`
		BridgeContract     string `json:"bridge_contract"`
		GovernanceContract string `json:"governance_contract"`
		StartHeight        uint64 `json:"start_height"`
	} `json:"eth_bridge"`
	Validators []struct {
		Address      string `json:"address"`
		ConsensusKey string `json:"consensus_key"`
		ProtocolKey  string `json:"protocol_key"`
		EthHotKey    string `json:"eth_hot_key"`
		Stake        uint64 `json:"stake"`
	} `json:"validators"`
	Balances []struct {
		Token  string `json:"token"`
		Owner  string `json:"owner"`
		Amount uint64 `json:"amount"`
	} `json:"balances"`
}

// LoadFromFile loads a Genesis from a JSON file.
func LoadFromFile(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	return LoadFromJSON(data)
}

// LoadFromJSON loads a Genesis from JSON bytes.
func LoadFromJSON(data []byte) (*Genesis, error) {
	var raw genesisJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing genesis JSON: %w", err)
	}
	if raw.ChainID == "" {
		return nil, fmt.Errorf("genesis chain_id is empty")
	}
	if raw.EpochDuration.MinNumOfBlocks == 0 {
		return nil, fmt.Errorf("genesis epoch_duration.min_num_of_blocks must be positive")
	}

	g := &Genesis{
		ChainID:     types.ChainID(raw.ChainID),
		GenesisTime: raw.GenesisTime,
		EpochDuration: clock.EpochDuration{
			MinNumOfBlocks: raw.EpochDuration.MinNumOfBlocks,
			MinDuration:    raw.EpochDuration.MinDurationSecs,
		},
		PosParams:     pos.DefaultParams(),
		PowDifficulty: raw.PowDifficulty,
	}
	var err error
	if g.NativeToken, err = types.ParseAddress(raw.NativeToken); err != nil {
		return nil, fmt.Errorf("parsing native token: %w", err)
	}
	if p := raw.PosParams; p != nil {
		g.PosParams = pos.Params{
			UnbondingLen:              p.UnbondingLen,
			PipelineLen:               p.PipelineLen,
			CubicSlashingWindowLength: p.CubicSlashingWindowLength,
			DuplicateVoteMinSlashRate: p.DuplicateVoteMinSlashRate,
			LightClientAttackMinRate:  p.LightClientAttackMinRate,
		}
	}
	if g.PosParams.PipelineLen == 0 {
		return nil, fmt.Errorf("genesis pos_params.pipeline_len must be positive")
	}
	if raw.WrapperFee != nil {
		g.WrapperFee = types.Amount(*raw.WrapperFee)
	}

	if b := raw.EthBridge; b != nil {
		if !common.IsHexAddress(b.BridgeContract) || !common.IsHexAddress(b.GovernanceContract) {
			return nil, fmt.Errorf("genesis eth_bridge contracts must be hex addresses")
		}
		g.EthBridge = &EthBridge{
			Enabled: b.Enabled,
			Config: ethbridge.Config{
				MinConfirmations:   b.MinConfirmations,
				BridgeContract:     common.HexToAddress(b.BridgeContract),
				GovernanceContract: common.HexToAddress(b.GovernanceContract),
				StartHeight:        b.StartHeight,
			},
		}
	}

	for i, v := range raw.Validators {
		var gv pos.GenesisValidator
		if gv.Validator.Address, err = types.ParseAddress(v.Address); err != nil {
			return nil, fmt.Errorf("parsing validator %d address: %w", i, err)
		}
		if gv.Validator.ConsensusKey, err = parseKey32(v.ConsensusKey); err != nil {
			return nil, fmt.Errorf("parsing validator %d consensus key: %w", i, err)
		}
		if gv.Validator.ProtocolKey, err = parseKey32(v.ProtocolKey); err != nil {
			return nil, fmt.Errorf("parsing validator %d protocol key: %w", i, err)
		}
		if !common.IsHexAddress(v.EthHotKey) {
			return nil, fmt.Errorf("parsing validator %d eth hot key: not a hex address", i)
		}
		gv.Validator.EthHotKey = common.HexToAddress(v.EthHotKey)
		gv.Stake = v.Stake
		g.Validators = append(g.Validators, gv)
	}

	for i, b := range raw.Balances {
		bal := Balance{Amount: types.Amount(b.Amount)}
		if bal.Token, err = types.ParseAddress(b.Token); err != nil {
			return nil, fmt.Errorf("parsing balance %d token: %w", i, err)
		}
		if bal.Owner, err = types.ParseAddress(b.Owner); err != nil {
			return nil, fmt.Errorf("parsing balance %d owner: %w", i, err)
		}
		g.Balances = append(g.Balances, bal)
	}
	return g, nil
}

// parseKey32 converts a hex string (with or without 0x prefix) to a 32-byte
// public key.
func parseKey32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("invalid key length: got %d hex chars, want 64", len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, fmt.Errorf("decoding hex: %w", err)
	}
	var key [32]byte
	copy(key[:], decoded)
	return key, nil
}
