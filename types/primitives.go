// Package types defines the primitive types shared by the ledger shell.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Primitive types.
type BlockHeight uint64
type Epoch uint64
type Amount uint64
type ChainID string

// Hash is a 32-byte content hash.
type Hash [32]byte

// Address identifies an account or validator.
type Address [20]byte

func (h Hash) IsZero() bool { return h == Hash{} }

// String renders the hash in upper-case hex, the form used in storage keys
// and log lines.
func (h Hash) String() string {
	return strings.ToUpper(hex.EncodeToString(h[:]))
}

// Short returns a short hex representation of the hash (first 4 bytes).
func (h Hash) Short() string {
	return fmt.Sprintf("%x", h[:4])
}

// Compare compares two hashes lexicographically.
// Returns 1 if h > other, -1 if h < other, 0 if equal.
func (h Hash) Compare(other Hash) int {
	for i := 0; i < 32; i++ {
		if h[i] > other[i] {
			return 1
		}
		if h[i] < other[i] {
			return -1
		}
	}
	return 0
}

// HashBytes returns the sha256 hash of data.
func HashBytes(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// ParseAddress parses a hex address with or without the 0x prefix.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 40 {
		return Address{}, fmt.Errorf("invalid address length: got %d hex chars, want 40", len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("decoding hex: %w", err)
	}
	var addr Address
	copy(addr[:], decoded)
	return addr, nil
}

// AddressFromPublicKey derives the implicit account address of an ed25519
// public key.
func AddressFromPublicKey(pk []byte) Address {
	sum := sha256.Sum256(pk)
	var addr Address
	copy(addr[:], sum[:20])
	return addr
}

// ConsensusRawHash returns the consensus engine's identity of a validator
// consensus key: the upper-case hex of the first 20 bytes of sha256(pk).
func ConsensusRawHash(pk []byte) string {
	sum := sha256.Sum256(pk)
	return RawHashString(sum[:20])
}

// RawHashString renders a raw consensus address the way it is indexed in
// storage.
func RawHashString(raw []byte) string {
	return strings.ToUpper(hex.EncodeToString(raw))
}

func (c ChainID) String() string { return string(c) }

// MaxChainIDLength bounds the chain identifier carried in tx headers.
const MaxChainIDLength = 64

// Unix converts a block time to the seconds representation stored in
// headers and block metadata.
func Unix(t time.Time) uint64 {
	if t.Unix() < 0 {
		return 0
	}
	return uint64(t.Unix())
}

// FromUnix is the inverse of Unix.
func FromUnix(secs uint64) time.Time {
	return time.Unix(int64(secs), 0).UTC()
}
