package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "nodes.yaml", "- multiaddr: /ip4/10.0.0.1/tcp/26660/p2p/peer1\n- multiaddr: /ip4/10.0.0.2/tcp/26660/p2p/peer2\n")
	path := writeFile(t, dir, "config.yaml", `
chain_id: test-chain
base_dir: `+dir+`
mode: full
db_backend: memory
storage_read_past_height_limit: 100
broadcaster:
  rpc_url: http://127.0.0.1:26657
  timeout: 3s
  bootnodes_file: nodes.yaml
ethereum:
  poll_interval: 500ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChainID != "test-chain" || cfg.DBBackend != BackendMemory {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.StorageReadPastHeightLimit == nil || *cfg.StorageReadPastHeightLimit != 100 {
		t.Errorf("past height limit = %v, want 100", cfg.StorageReadPastHeightLimit)
	}
	if cfg.Broadcaster.Timeout != 3*time.Second || cfg.Ethereum.PollInterval != 500*time.Millisecond {
		t.Errorf("durations = %v, %v", cfg.Broadcaster.Timeout, cfg.Ethereum.PollInterval)
	}
	if len(cfg.Broadcaster.Bootnodes) != 2 {
		t.Errorf("bootnodes = %v, want 2 entries", cfg.Broadcaster.Bootnodes)
	}
	if cfg.TxCacheSize != 256 || cfg.Ethereum.EventsBuffer != 1000 {
		t.Errorf("defaults not kept: %+v", cfg)
	}
	if got := cfg.GenesisPath(); got != filepath.Join(dir, "test-chain", "genesis.json") {
		t.Errorf("GenesisPath = %s", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "archive" }},
		{"unknown backend", func(c *Config) { c.DBBackend = "leveldb" }},
		{"missing chain id", func(c *Config) { c.ChainID = "" }},
		{"validator without keys", func(c *Config) { c.Mode = ModeValidator }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadBootnodes_PlainList(t *testing.T) {
	path := writeFile(t, t.TempDir(), "nodes.yaml", "- /ip4/10.0.0.1/tcp/26660\n- /ip4/10.0.0.2/tcp/26660\n")
	nodes, err := LoadBootnodes(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 || nodes[1] != "/ip4/10.0.0.2/tcp/26660" {
		t.Errorf("nodes = %v", nodes)
	}
}

func TestLoadBootnodes_Mixed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "nodes.yaml", `
- multiaddr: /ip4/10.0.0.1/tcp/26660
- enr: enr:-IS4QHCYrYZbAKWCBRlAy5zzaDZXJBGkcnh4MHcBFZntXNFrdvJjX04jRzjzCBOonrkTfj499SZuOh8R33Ls8RRcy5wBgmlkgnY0
- /ip4/10.0.0.1/tcp/26660
- ""
`)
	nodes, err := LoadBootnodes(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("nodes = %v, want 2 entries", nodes)
	}
	if !strings.HasPrefix(nodes[1], "enr:") {
		t.Errorf("nodes[1] = %s, want an enr record", nodes[1])
	}
}

func TestLoadValidatorKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "keys.yaml", `
address: "0x0101010101010101010101010101010101010101"
consensus_seed: "0101010101010101010101010101010101010101010101010101010101010101"
protocol_seed: "0x0202020202020202020202020202020202020202020202020202020202020202"
eth_bridge_key: "0x0000000000000000000000000000000000000000000000000000000000000003"
`)
	keys, err := LoadValidatorKeys(path)
	if err != nil {
		t.Fatalf("LoadValidatorKeys: %v", err)
	}
	if keys.Address[0] != 0x01 || len(keys.ConsensusKey) == 0 || keys.EthBridgeKey == nil {
		t.Errorf("keys = %+v", keys)
	}

	bad := writeFile(t, t.TempDir(), "keys.yaml", "address: \"0x01\"\n")
	if _, err := LoadValidatorKeys(bad); err == nil {
		t.Error("expected error for short address")
	}
}
