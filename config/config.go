// Package config loads the node configuration file.
package config

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"github.com/geanlabs/ledger/types"
)

// Operating modes.
const (
	ModeValidator = "validator"
	ModeFull      = "full"
	ModeSeed      = "seed"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	ChainID     string `yaml:"chain_id"`
	BaseDir     string `yaml:"base_dir"`
	Mode        string `yaml:"mode"`
	DBBackend   string `yaml:"db_backend"`
	GenesisFile string `yaml:"genesis_file"`
	// StorageReadPastHeightLimit bounds historical queries; unset keeps all
	// history.
	StorageReadPastHeightLimit *uint64 `yaml:"storage_read_past_height_limit"`
	TxCacheSize                int     `yaml:"tx_cache_size"`
	EventLogSize               int     `yaml:"event_log_size"`
	BlockGasLimit              uint64  `yaml:"block_gas_limit"`
	ValidatorKeyFile           string  `yaml:"validator_key_file"`
	MetricsAddr                string  `yaml:"metrics_addr"`

	Broadcaster Broadcaster `yaml:"broadcaster"`
	Ethereum    Ethereum    `yaml:"ethereum"`
}

type Broadcaster struct {
	RPCURL        string        `yaml:"rpc_url"`
	Timeout       time.Duration `yaml:"timeout"`
	Buffer        int           `yaml:"buffer"`
	ListenAddrs   []string      `yaml:"listen_addrs"`
	Bootnodes     []string      `yaml:"bootnodes"`
	BootnodesFile string        `yaml:"bootnodes_file"`
}

type Ethereum struct {
	RPCURL       string        `yaml:"rpc_url"`
	EventsBuffer int           `yaml:"events_buffer"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns a config for a memory-backed full node.
func Default() *Config {
	return &Config{
		ChainID:       "local-devnet",
		BaseDir:       ".ledger",
		Mode:          ModeFull,
		DBBackend:     BackendPebble,
		TxCacheSize:   256,
		EventLogSize:  10_000,
		BlockGasLimit: 20_000_000,
		Broadcaster: Broadcaster{
			Timeout: 5 * time.Second,
			Buffer:  1024,
		},
		Ethereum: Ethereum{
			EventsBuffer: 1000,
			PollInterval: 2 * time.Second,
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Broadcaster.BootnodesFile != "" {
		nodes, err := LoadBootnodes(cfg.resolve(cfg.Broadcaster.BootnodesFile))
		if err != nil {
			return nil, err
		}
		cfg.Broadcaster.Bootnodes = append(cfg.Broadcaster.Bootnodes, nodes...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeValidator, ModeFull, ModeSeed:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	switch c.DBBackend {
	case BackendMemory, BackendPebble:
	default:
		return fmt.Errorf("%w: unknown db backend %q", ErrInvalidConfig, c.DBBackend)
	}
	if c.ChainID == "" {
		return fmt.Errorf("%w: chain_id is required", ErrInvalidConfig)
	}
	if c.Mode == ModeValidator && c.ValidatorKeyFile == "" {
		return fmt.Errorf("%w: validator mode requires validator_key_file", ErrInvalidConfig)
	}
	return nil
}

// DBDir is the pebble database directory.
func (c *Config) DBDir() string {
	return filepath.Join(c.BaseDir, c.ChainID, "db")
}

// GenesisPath resolves the genesis file relative to the base dir.
func (c *Config) GenesisPath() string {
	if c.GenesisFile == "" {
		return filepath.Join(c.BaseDir, c.ChainID, "genesis.json")
	}
	return c.resolve(c.GenesisFile)
}

// KeyPath resolves the validator key file relative to the base dir.
func (c *Config) KeyPath() string { return c.resolve(c.ValidatorKeyFile) }

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// ValidatorKeys is the key material of a validator node.
type ValidatorKeys struct {
	Address      types.Address
	ConsensusKey ed25519.PrivateKey
	ProtocolKey  ed25519.PrivateKey
	EthBridgeKey *ecdsa.PrivateKey
}

type keyFile struct {
	Address       string `yaml:"address"`
	ConsensusSeed string `yaml:"consensus_seed"`
	ProtocolSeed  string `yaml:"protocol_seed"`
	EthBridgeKey  string `yaml:"eth_bridge_key"`
}

// LoadValidatorKeys reads a YAML key file holding hex-encoded ed25519 seeds
// and a secp256k1 private key.
func LoadValidatorKeys(path string) (*ValidatorKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read validator keys: %w", err)
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse validator keys: %w", err)
	}
	addr, err := types.ParseAddress(kf.Address)
	if err != nil {
		return nil, fmt.Errorf("validator address: %w", err)
	}
	consensus, err := parseSeed(kf.ConsensusSeed)
	if err != nil {
		return nil, fmt.Errorf("consensus key: %w", err)
	}
	protocol, err := parseSeed(kf.ProtocolSeed)
	if err != nil {
		return nil, fmt.Errorf("protocol key: %w", err)
	}
	eth, err := crypto.HexToECDSA(strings.TrimPrefix(kf.EthBridgeKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("eth bridge key: %w", err)
	}
	return &ValidatorKeys{Address: addr, ConsensusKey: consensus, ProtocolKey: protocol, EthBridgeKey: eth}, nil
}

func parseSeed(s string) (ed25519.PrivateKey, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
