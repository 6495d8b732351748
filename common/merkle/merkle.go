// Package merkle computes the application hash committed at the end of every
// block.
package merkle

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/geanlabs/ledger/types"
)

var ZeroHash = types.Hash{}

// deletedMarker distinguishes a deleted key from a key written with an empty
// value.
var deletedMarker = []byte{0xff}

func Hash(data []byte) types.Hash {
	return types.Hash(sha256.Sum256(data))
}

func HashNodes(a, b types.Hash) types.Hash {
	h := sha256.New()
	h.Write(a[:])
	h.Write(b[:])
	var result types.Hash
	copy(result[:], h.Sum(nil))
	return result
}

// Leaf hashes one storage write. A nil value marks a deletion.
func Leaf(key string, value []byte) types.Hash {
	h := sha256.New()
	var keyLen [8]byte
	binary.LittleEndian.PutUint64(keyLen[:], uint64(len(key)))
	h.Write(keyLen[:])
	h.Write([]byte(key))
	if value == nil {
		h.Write(deletedMarker)
	} else {
		h.Write([]byte{0x00})
		h.Write(value)
	}
	var result types.Hash
	copy(result[:], h.Sum(nil))
	return result
}

func Merkleize(chunks []types.Hash, limit int) types.Hash {
	n := len(chunks)

	if n == 0 {
		if limit > 0 {
			return zeroTreeRoot(nextPowerOfTwo(limit))
		}
		return ZeroHash
	}

	width := nextPowerOfTwo(n)
	if limit > 0 && limit >= n {
		width = nextPowerOfTwo(limit)
	}

	if width == 1 {
		return chunks[0]
	}

	level := make([]types.Hash, width)
	copy(level, chunks)

	for len(level) > 1 {
		next := make([]types.Hash, len(level)/2)
		for i := range next {
			next[i] = HashNodes(level[i*2], level[i*2+1])
		}
		level = next
	}

	return level[0]
}

func MixInLength(root types.Hash, length uint64) types.Hash {
	var lenChunk types.Hash
	binary.LittleEndian.PutUint64(lenChunk[:8], length)
	return HashNodes(root, lenChunk)
}

// NextRoot chains the root of the previous block with the merkleized leaves
// of the current block's writes. Leaves must already be in key order.
func NextRoot(prev types.Hash, leaves []types.Hash) types.Hash {
	return HashNodes(prev, MixInLength(Merkleize(leaves, 0), uint64(len(leaves))))
}

func nextPowerOfTwo(x int) int {
	if x <= 1 {
		return 1
	}
	n := x - 1
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

func zeroTreeRoot(width int) types.Hash {
	if width <= 1 {
		return ZeroHash
	}
	h := ZeroHash
	for width > 1 {
		h = HashNodes(h, h)
		width /= 2
	}
	return h
}
