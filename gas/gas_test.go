package gas

import (
	"errors"
	"math"
	"testing"
)

func TestTxGasMeter(t *testing.T) {
	m := NewTxGasMeter(10)
	if err := m.Consume(10); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := m.Consume(1); !errors.Is(err, ErrTxLimitExceeded) {
		t.Errorf("err = %v, want ErrTxLimitExceeded", err)
	}
	if m.Used() != 11 {
		t.Errorf("used = %d, want 11", m.Used())
	}
	if err := m.Consume(math.MaxUint64); !errors.Is(err, ErrOverflow) {
		t.Errorf("err = %v, want ErrOverflow", err)
	}
}

func TestBlockGasMeter(t *testing.T) {
	b := NewBlockGasMeter(100)
	tx := NewTxGasMeter(1000)
	_ = tx.Consume(60)
	if err := b.Finalize(tx); err != nil {
		t.Fatal(err)
	}
	if !b.Fits(40) || b.Fits(41) {
		t.Error("Fits disagrees with remaining gas")
	}
	if err := b.Finalize(tx); !errors.Is(err, ErrBlockLimitExceed) {
		t.Errorf("err = %v, want ErrBlockLimitExceed", err)
	}
	b.Reset()
	if b.Used() != 0 {
		t.Errorf("used after reset = %d", b.Used())
	}
}
