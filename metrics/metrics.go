// Package metrics exposes ledger shell counters and gauges to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledger"

type Metrics struct {
	registry *prometheus.Registry

	checkTx          *prometheus.CounterVec
	proposals        *prometheus.CounterVec
	slashesRecorded  prometheus.Counter
	slashesProcessed prometheus.Counter
	protocolTxs      prometheus.Counter
	height           prometheus.Gauge
	epoch            prometheus.Gauge
}

// New registers the ledger metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checkTx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_tx_total",
			Help:      "Mempool validation results by code.",
		}, []string{"code"}),
		proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_total",
			Help:      "Processed proposals by outcome.",
		}, []string{"result"}),
		slashesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slashes_recorded_total",
			Help:      "Slashes enqueued from evidence.",
		}),
		slashesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slashes_processed_total",
			Help:      "Enqueued slashes applied to stake.",
		}),
		protocolTxs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_txs_broadcast_total",
			Help:      "Protocol transactions handed to the broadcaster.",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_height",
			Help:      "Last committed block height.",
		}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch",
			Help:      "Epoch of the last committed block.",
		}),
	}
	m.registry.MustRegister(
		m.checkTx, m.proposals, m.slashesRecorded, m.slashesProcessed,
		m.protocolTxs, m.height, m.epoch,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CheckTx(code uint32) {
	if m == nil {
		return
	}
	m.checkTx.WithLabelValues(strconv.FormatUint(uint64(code), 10)).Inc()
}

func (m *Metrics) Proposal(accepted bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.proposals.WithLabelValues(result).Inc()
}

func (m *Metrics) SlashRecorded() {
	if m != nil {
		m.slashesRecorded.Inc()
	}
}

func (m *Metrics) SlashesProcessed(n int) {
	if m != nil {
		m.slashesProcessed.Add(float64(n))
	}
}

func (m *Metrics) ProtocolTxBroadcast() {
	if m != nil {
		m.protocolTxs.Inc()
	}
}

func (m *Metrics) Committed(height, epoch uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
	m.epoch.Set(float64(epoch))
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
