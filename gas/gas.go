// Package gas meters the gas consumed by transactions and blocks.
package gas

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrOverflow         = errors.New("gas overflow")
	ErrTxLimitExceeded  = errors.New("transaction gas limit exceeded")
	ErrBlockLimitExceed = errors.New("block gas limit exceeded")
)

// DefaultBlockLimit is the gas available to a whole block.
const DefaultBlockLimit uint64 = 20_000_000

// TxGasMeter tracks the gas of one transaction against its limit.
type TxGasMeter struct {
	limit uint64
	used  uint64
}

func NewTxGasMeter(limit uint64) *TxGasMeter {
	return &TxGasMeter{limit: limit}
}

// Consume charges gas, failing once the limit is exceeded. The charge is
// recorded even when it fails.
func (m *TxGasMeter) Consume(gas uint64) error {
	if m.used > math.MaxUint64-gas {
		m.used = math.MaxUint64
		return ErrOverflow
	}
	m.used += gas
	if m.used > m.limit {
		return fmt.Errorf("%w: used %d, limit %d", ErrTxLimitExceeded, m.used, m.limit)
	}
	return nil
}

func (m *TxGasMeter) Used() uint64  { return m.used }
func (m *TxGasMeter) Limit() uint64 { return m.limit }

// BlockGasMeter accumulates the gas of every tx applied in a block.
type BlockGasMeter struct {
	limit uint64
	used  uint64
}

func NewBlockGasMeter(limit uint64) *BlockGasMeter {
	return &BlockGasMeter{limit: limit}
}

// Finalize adds the gas used by a transaction.
func (m *BlockGasMeter) Finalize(tx *TxGasMeter) error {
	if m.used > math.MaxUint64-tx.used {
		return ErrOverflow
	}
	m.used += tx.used
	if m.used > m.limit {
		return fmt.Errorf("%w: used %d, limit %d", ErrBlockLimitExceed, m.used, m.limit)
	}
	return nil
}

// Fits reports whether a tx with the given gas limit could still fit.
func (m *BlockGasMeter) Fits(gas uint64) bool {
	return gas <= m.limit-min(m.used, m.limit)
}

func (m *BlockGasMeter) Used() uint64  { return m.used }
func (m *BlockGasMeter) Limit() uint64 { return m.limit }

// Reset clears the meter at the beginning of a block.
func (m *BlockGasMeter) Reset() { m.used = 0 }
