package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// bootnode is one entry of a nodes file: a bare string or a mapping naming
// the address kind.
type bootnode struct {
	Multiaddr string `yaml:"multiaddr"`
	ENR       string `yaml:"enr"`
}

func (b *bootnode) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		b.Multiaddr = n.Value
		return nil
	}
	type plain bootnode
	return n.Decode((*plain)(b))
}

func (b bootnode) addr() string {
	if b.ENR != "" {
		return strings.TrimSpace(b.ENR)
	}
	return strings.TrimSpace(b.Multiaddr)
}

// LoadBootnodes reads a nodes.yaml file of gossip bootnodes. Entries are
// multiaddrs or ENR records, written as plain strings or as
// {multiaddr: ...} / {enr: ...} mappings. Blank and repeated entries are
// dropped.
func LoadBootnodes(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}
	var entries []bootnode
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse nodes %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		addr := e.addr()
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}
