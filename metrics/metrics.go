// Package metrics counts what one batch run accepted, rejected and imputed,
// and writes the counters as a node-exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/caseledger/ledger"
)

// Metrics implements ledger.Recorder on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// Records applied to the ledger by mode
	RecordsAccepted *prometheus.CounterVec

	// Records skipped by rejection reason
	RecordsRejected *prometheus.CounterVec

	// Records loaded per feed, before validation
	FeedRecords *prometheus.GaugeVec

	// Unknown-district residuals imputed by statistic
	Residuals *prometheus.CounterVec

	// Cross-tally findings by kind
	Discrepancies *prometheus.CounterVec

	// Duration of each pipeline stage
	StageDuration *prometheus.GaugeVec

	// Unix time the run finished
	LastRun prometheus.Gauge
}

// New creates a Metrics instance with every run metric registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		RecordsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caseledger_records_accepted_total",
			Help: "Records applied to the ledger by mode",
		}, []string{"mode"}),

		RecordsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caseledger_records_rejected_total",
			Help: "Records skipped by rejection reason",
		}, []string{"reason"}), // reason: "malformed", "unresolved_region", "date_out_of_range"

		FeedRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "caseledger_feed_records",
			Help: "Records loaded from each feed",
		}, []string{"feed"}),

		Residuals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caseledger_unknown_residuals_total",
			Help: "Unknown-district residuals imputed at the gospel date",
		}, []string{"statistic"}),

		Discrepancies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "caseledger_tally_discrepancies_total",
			Help: "Cross-tally discrepancies against the authoritative feeds",
		}, []string{"kind"}),

		StageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "caseledger_stage_duration_seconds",
			Help: "Duration of each batch stage",
		}, []string{"stage"}),

		LastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "caseledger_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RecordAccepted(mode ledger.Mode) {
	if m != nil {
		m.RecordsAccepted.WithLabelValues(string(mode)).Inc()
	}
}

func (m *Metrics) RecordRejected(reason string) {
	if m != nil {
		m.RecordsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RecordResidual(stat ledger.Statistic) {
	if m != nil {
		m.Residuals.WithLabelValues(stat.String()).Inc()
	}
}

func (m *Metrics) RecordDiscrepancy(kind ledger.DiscrepancyKind) {
	if m != nil {
		m.Discrepancies.WithLabelValues(string(kind)).Inc()
	}
}

// SetFeedRecords records how many records a feed produced.
func (m *Metrics) SetFeedRecords(feed string, n int) {
	if m != nil {
		m.FeedRecords.WithLabelValues(feed).Set(float64(n))
	}
}

// ObserveStage records the duration of one stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Set(d.Seconds())
	}
}

// WriteTextfile stamps the run time and writes every metric to path.
func (m *Metrics) WriteTextfile(path string, now time.Time) error {
	m.LastRun.Set(float64(now.Unix()))
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
