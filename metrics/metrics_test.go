package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.CheckTx(0)
	m.Proposal(true)
	m.SlashRecorded()
	m.SlashesProcessed(2)
	m.ProtocolTxBroadcast()
	m.Committed(1, 0)
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestMetrics_Counts(t *testing.T) {
	m := New()
	m.CheckTx(0)
	m.CheckTx(0)
	m.CheckTx(10)
	m.Proposal(false)
	m.SlashesProcessed(3)
	m.Committed(42, 3)

	if got := testutil.ToFloat64(m.checkTx.WithLabelValues("0")); got != 2 {
		t.Errorf("check_tx{code=0} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.checkTx.WithLabelValues("10")); got != 1 {
		t.Errorf("check_tx{code=10} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.proposals.WithLabelValues("rejected")); got != 1 {
		t.Errorf("proposals{rejected} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.slashesProcessed); got != 3 {
		t.Errorf("slashes_processed = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.height); got != 42 {
		t.Errorf("height = %v, want 42", got)
	}
}
