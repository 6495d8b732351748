package shell

import (
	"fmt"

	"github.com/geanlabs/ledger/gas"
)

// blockSpace splits the bytes of a proposal between tx kinds: decrypted txs
// first, protocol txs up to a third of the block, wrappers in what is left.
type blockSpace struct {
	max      uint64
	used     uint64
	protocol uint64
	gas      *gas.BlockGasMeter
}

func newBlockSpace(maxBytes int64, gasLimit uint64) *blockSpace {
	if maxBytes <= 0 {
		maxBytes = 1 << 22
	}
	return &blockSpace{max: uint64(maxBytes), gas: gas.NewBlockGasMeter(gasLimit)}
}

func (b *blockSpace) left() uint64 { return b.max - min(b.used, b.max) }

// allocDecrypted reserves space for a decrypted tx. They were already
// admitted with their wrappers, so only the byte bound applies.
func (b *blockSpace) allocDecrypted(size int) error {
	if uint64(size) > b.left() {
		return fmt.Errorf("%w: decrypted tx of %d bytes, %d left", ErrBlockSpace, size, b.left())
	}
	b.used += uint64(size)
	return nil
}

func (b *blockSpace) allocProtocol(size int) error {
	if uint64(size) > b.max/3-min(b.protocol, b.max/3) || uint64(size) > b.left() {
		return fmt.Errorf("%w: protocol tx of %d bytes", ErrBlockSpace, size)
	}
	b.protocol += uint64(size)
	b.used += uint64(size)
	return nil
}

// allocWrapper reserves bytes and the gas limit of a wrapper. A wrapper
// larger than a whole block fails with ErrNeverFits.
func (b *blockSpace) allocWrapper(size int, gasLimit uint64) error {
	if uint64(size) > b.max || gasLimit > b.gas.Limit() {
		return fmt.Errorf("%w: %d bytes, gas limit %d", ErrNeverFits, size, gasLimit)
	}
	if uint64(size) > b.left() || !b.gas.Fits(gasLimit) {
		return fmt.Errorf("%w: wrapper of %d bytes", ErrBlockSpace, size)
	}
	m := gas.NewTxGasMeter(gasLimit)
	if err := m.Consume(gasLimit); err != nil {
		return err
	}
	if err := b.gas.Finalize(m); err != nil {
		return err
	}
	b.used += uint64(size)
	return nil
}
