package ethbridge

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/geanlabs/ledger/storage"
	"github.com/geanlabs/ledger/types"
)

var ErrMalformedStatus = errors.New("malformed bridge status")

var (
	prefix            = storage.KeyOf("eth_bridge")
	ActiveKey         = prefix.Push("active")
	MinConfirmKey     = prefix.Push("min_confirmations")
	BridgeContractKey = prefix.Push("contracts").Push("bridge")
	GovContractKey    = prefix.Push("contracts").Push("governance")
	StartHeightKey    = prefix.Push("eth_start_height")
	PoolRootKey       = prefix.Push("bridge_pool").Push("root")
	PoolNonceKey      = prefix.Push("bridge_pool").Push("nonce")
	SignedRootKey     = prefix.Push("bridge_pool").Push("signed_root")
)

// SignedValSetKey records the attested validator set of epoch.
func SignedValSetKey(epoch types.Epoch) storage.Key {
	return prefix.Push("signed_valset").Push(fmt.Sprintf("%d", epoch))
}

// Status is the bridge activation state.
type Status struct {
	Enabled bool
	// Since is the epoch from which the bridge is enabled.
	Since types.Epoch
}

func (s Status) encode() []byte {
	buf := []byte{0}
	if s.Enabled {
		buf[0] = 1
	}
	return append(buf, encodeUint64(uint64(s.Since))...)
}

// Config is the bridge configuration written at genesis.
type Config struct {
	MinConfirmations   uint64
	BridgeContract     common.Address
	GovernanceContract common.Address
	StartHeight        uint64
}

// ReadStatus returns the bridge status, or false if it was never written.
func ReadStatus(r storage.Reader) (Status, bool, error) {
	raw, _, err := r.Read(ActiveKey)
	if err != nil {
		return Status{}, false, err
	}
	if raw == nil {
		return Status{}, false, nil
	}
	if len(raw) != 9 || raw[0] > 1 {
		return Status{}, false, ErrMalformedStatus
	}
	return Status{Enabled: raw[0] == 1, Since: types.Epoch(decodeUint64(raw[1:]))}, true, nil
}

func WriteStatus(w storage.Writer, s Status) error {
	_, err := w.Write(ActiveKey, s.encode())
	return err
}

// IsBridgeActive reports whether the bridge status is present and enabled.
func IsBridgeActive(r storage.Reader) (bool, error) {
	s, ok, err := ReadStatus(r)
	if err != nil || !ok {
		return false, err
	}
	return s.Enabled, nil
}

// ReadConfig reads the bridge configuration. It reports false if any part of
// it is missing.
func ReadConfig(r storage.Reader) (*Config, bool, error) {
	minConf, ok, err := storage.ReadUint64(r, MinConfirmKey)
	if err != nil || !ok {
		return nil, false, err
	}
	start, ok, err := storage.ReadUint64(r, StartHeightKey)
	if err != nil || !ok {
		return nil, false, err
	}
	bridge, ok, err := readAddress(r, BridgeContractKey)
	if err != nil || !ok {
		return nil, false, err
	}
	gov, ok, err := readAddress(r, GovContractKey)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Config{
		MinConfirmations:   minConf,
		BridgeContract:     bridge,
		GovernanceContract: gov,
		StartHeight:        start,
	}, true, nil
}

// WriteConfig stores cfg.
func WriteConfig(w storage.Writer, cfg *Config) error {
	if err := storage.WriteUint64(w, MinConfirmKey, cfg.MinConfirmations); err != nil {
		return err
	}
	if err := storage.WriteUint64(w, StartHeightKey, cfg.StartHeight); err != nil {
		return err
	}
	if _, err := w.Write(BridgeContractKey, cfg.BridgeContract.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(GovContractKey, cfg.GovernanceContract.Bytes())
	return err
}

func readAddress(r storage.Reader, key storage.Key) (common.Address, bool, error) {
	raw, _, err := r.Read(key)
	if err != nil || raw == nil {
		return common.Address{}, false, err
	}
	if len(raw) != common.AddressLength {
		return common.Address{}, false, fmt.Errorf("%s: address has %d bytes", key, len(raw))
	}
	return common.BytesToAddress(raw), true, nil
}

// PoolRoot is the bridge pool root signed by validators at a nonce.
type PoolRoot struct {
	Root  types.Hash
	Nonce uint64
}

// ReadPoolRoot returns the current bridge pool root and nonce. A fresh chain
// has the zero root at nonce zero.
func ReadPoolRoot(r storage.Reader) (PoolRoot, error) {
	raw, _, err := r.Read(PoolRootKey)
	if err != nil {
		return PoolRoot{}, err
	}
	var root types.Hash
	copy(root[:], raw)
	nonce, _, err := storage.ReadUint64(r, PoolNonceKey)
	if err != nil {
		return PoolRoot{}, err
	}
	return PoolRoot{Root: root, Nonce: nonce}, nil
}

// WritePoolRoot stores the bridge pool root and nonce.
func WritePoolRoot(w storage.Writer, p PoolRoot) error {
	if _, err := w.Write(PoolRootKey, p.Root[:]); err != nil {
		return err
	}
	return storage.WriteUint64(w, PoolNonceKey, p.Nonce)
}
