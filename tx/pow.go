package tx

import (
	"crypto/sha256"
	"encoding/binary"
	"math/bits"

	"github.com/geanlabs/ledger/types"
)

// PowChallenge is the faucet challenge a wrapper without fee may solve.
type PowChallenge struct {
	Payer      types.Address
	Counter    uint64
	Difficulty uint8
}

func (c PowChallenge) digest(nonce uint64) [32]byte {
	var buf [20 + 8 + 8]byte
	copy(buf[:20], c.Payer[:])
	binary.BigEndian.PutUint64(buf[20:28], c.Counter)
	binary.BigEndian.PutUint64(buf[28:], nonce)
	return sha256.Sum256(buf[:])
}

// Verify checks that s solves the challenge: the digest of payer, counter and
// nonce must start with Difficulty zero bits.
func (c PowChallenge) Verify(s PowSolution) bool {
	if s.Counter != c.Counter {
		return false
	}
	return leadingZeroBits(c.digest(s.Nonce)) >= int(c.Difficulty)
}

// Solve searches nonces from zero until a solution is found.
func (c PowChallenge) Solve() PowSolution {
	for nonce := uint64(0); ; nonce++ {
		if leadingZeroBits(c.digest(nonce)) >= int(c.Difficulty) {
			return PowSolution{Counter: c.Counter, Nonce: nonce}
		}
	}
}

func leadingZeroBits(h [32]byte) int {
	n := 0
	for _, b := range h {
		if b != 0 {
			return n + bits.LeadingZeros8(b)
		}
		n += 8
	}
	return n
}
