// Package metrics exposes the pipeline's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec // labels: command, status
	DatesTotal          *prometheus.CounterVec // labels: outcome=ok|coverage|not_trading
	SymbolsUnavailable  prometheus.Counter
	ConsolidateDuration prometheus.Histogram
	SnapshotRows        prometheus.Gauge
	LedgerRecords       prometheus.Gauge
	LastRecordDate      prometheus.Gauge // unix seconds of the latest ledger date
	BarsFetched         prometheus.Counter
	FetchErrors         prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the metrics and registers them with reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbi_runs_total",
			Help: "Pipeline runs by command and final status",
		}, []string{"command", "status"}),
		DatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbi_dates_total",
			Help: "Dates processed by outcome",
		}, []string{"outcome"}),
		SymbolsUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mbi_symbols_unavailable_total",
			Help: "Universe symbols skipped during consolidation",
		}),
		ConsolidateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mbi_consolidate_duration_seconds",
			Help:    "Time to consolidate one date",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		SnapshotRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mbi_snapshot_rows",
			Help: "Rows in the most recent snapshot",
		}),
		LedgerRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mbi_ledger_records",
			Help: "Records held by the ledger",
		}),
		LastRecordDate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mbi_ledger_latest_date_seconds",
			Help: "Unix time of the most recent ledger date",
		}),
		BarsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mbi_bars_fetched_total",
			Help: "Daily bars downloaded by the gatherer",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mbi_fetch_errors_total",
			Help: "Failed bar download batches",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.RunsTotal, m.DatesTotal, m.SymbolsUnavailable, m.ConsolidateDuration,
		m.SnapshotRows, m.LedgerRecords, m.LastRecordDate, m.BarsFetched, m.FetchErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Run counts one finished command.
func (m *Metrics) Run(command string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(command, status).Inc()
}

// Date records the outcome of one date.
func (m *Metrics) Date(outcome string, rows, unavailable int, took time.Duration) {
	if m == nil {
		return
	}
	m.DatesTotal.WithLabelValues(outcome).Inc()
	m.SymbolsUnavailable.Add(float64(unavailable))
	m.ConsolidateDuration.Observe(took.Seconds())
	if rows > 0 {
		m.SnapshotRows.Set(float64(rows))
	}
}

// Ledger records the ledger size and latest date.
func (m *Metrics) Ledger(records int, latest time.Time) {
	if m == nil {
		return
	}
	m.LedgerRecords.Set(float64(records))
	if !latest.IsZero() {
		m.LastRecordDate.Set(float64(latest.Unix()))
	}
}

// Fetched counts downloaded bars and failed batches.
func (m *Metrics) Fetched(bars int, err error) {
	if m == nil {
		return
	}
	m.BarsFetched.Add(float64(bars))
	if err != nil {
		m.FetchErrors.Inc()
	}
}
