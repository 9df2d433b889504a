/*
engine.go - Stage orchestration for one batch run

STAGE ORDER:
  1. Ingest       apply every canonical record (bad records skipped, logged)
  2. Gospel       authoritative district totals at the gospel date
  3. Accumulate   delta-native totals up to and including the gospel date
  4. Reconcile    snapshot-native deltas and carry-forward
  5. Impute       Unknown district residuals at the gospel date
  6. Accumulate   delta-native totals after the gospel date
  7. Windows      delta7 (all statistics), delta21_14 (confirmed)
  8. Populations  meta.population from the registry
  9. Project      region-major timeseries, trimmed
 10. Annotate     final-date meta from the statewise/districtwise feeds
 11. Tally        final-date cross-check, logged only

FAILURE POLICY:
  Per-record anomalies never abort the run. The only fatal condition is a
  stream with no usable record (ErrEmptyInput).
*/
package ledger

import (
	"fmt"
	"log/slog"
)

// Config bounds a run.
type Config struct {
	Floor   Date // records before are rejected
	Ceiling Date // records after are rejected
	Gospel  Date
}

// Window returns the accepted date range.
func (c Config) Window() Range { return Range{From: c.Floor, To: c.Ceiling} }

// Recorder receives run counters. The metrics package implements it.
type Recorder interface {
	RecordAccepted(mode Mode)
	RecordRejected(reason string)
	RecordResidual(stat Statistic)
	RecordDiscrepancy(kind DiscrepancyKind)
}

// DistrictNote is a districtwise feed note for the final date.
type DistrictNote struct {
	Region Region
	Notes  string
}

// Input is the fully materialized canonical input of a run.
type Input struct {
	Records []Record
	Gospel  []GospelRow

	Populations      Populations
	StateAnnotations []StateAnnotation
	DistrictNotes    []DistrictNote

	StateReports    []TallyReport
	DistrictReports []TallyReport
}

// Result holds both output documents' sources plus run findings.
type Result struct {
	Ledger     *Ledger
	Timeseries *Timeseries

	Accepted      int
	Rejected      int
	Residuals     []Residual
	Discrepancies []Discrepancy
}

type Engine struct {
	cfg      Config
	topo     Topology
	logger   *slog.Logger
	recorder Recorder
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// NewEngine validates the config and builds an engine.
func NewEngine(cfg Config, topo Topology, opts ...Option) (*Engine, error) {
	if cfg.Gospel.IsZero() {
		return nil, fmt.Errorf("gospel date is required")
	}
	if !cfg.Floor.IsZero() && !cfg.Ceiling.IsZero() && cfg.Ceiling.Before(cfg.Floor) {
		return nil, fmt.Errorf("ceiling %s before floor %s", cfg.Ceiling, cfg.Floor)
	}
	e := &Engine{cfg: cfg, topo: topo, logger: slog.Default(), recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes every stage over in and returns the finished ledger.
func (e *Engine) Run(in Input) (*Result, error) {
	if len(in.Records) == 0 {
		return nil, ErrEmptyInput
	}

	l := New(e.cfg.Gospel, e.topo)
	res := &Result{Ledger: l}

	e.logger.Info("ingesting records", "count", len(in.Records))
	e.ingest(l, in.Records, res)
	if res.Accepted == 0 {
		return nil, fmt.Errorf("%w: all %d records rejected", ErrEmptyInput, res.Rejected)
	}

	e.logger.Info("adding gospel district totals", "date", e.cfg.Gospel.String(), "rows", len(in.Gospel))
	for _, row := range in.Gospel {
		for _, s := range row.Totals.Statistics() {
			l.RecordGospel(row.Region, s, row.Totals[s])
		}
	}

	e.logger.Info("accumulating totals up to gospel date")
	l.Accumulate(Range{To: e.cfg.Gospel})

	e.logger.Info("reconciling snapshot statistics")
	l.ReconcileSnapshots()

	e.logger.Info("imputing unknown district residuals")
	res.Residuals = l.ImputeUnknown()
	for _, r := range res.Residuals {
		e.recorder.RecordResidual(r.Statistic)
		e.logger.Debug("unknown district residual",
			"state", r.State, "statistic", r.Statistic.String(),
			"state_total", r.StateTotal, "districts", r.KnownDistrictSum, "unknown", r.Unknown)
	}

	e.logger.Info("accumulating totals after gospel date")
	l.Accumulate(Range{From: e.cfg.Gospel.AddDays(1)})

	e.logger.Info("computing rolling windows")
	l.AccumulateWindow(7, 0, AllStatistics)
	l.AccumulateWindow(7, 14, []Statistic{Confirmed})

	l.AttachPopulations(in.Populations)

	e.logger.Info("projecting timeseries")
	res.Timeseries = l.Project()

	for _, code := range l.Annotate(in.StateAnnotations) {
		e.logger.Debug("statewise meta for state without final-date entry", "state", code)
	}
	for _, n := range in.DistrictNotes {
		l.AnnotateDistrict(n.Region, n.Notes)
	}

	e.tally(l, in, res)
	return res, nil
}

func (e *Engine) ingest(l *Ledger, records []Record, res *Result) {
	window := e.cfg.Window()
	for _, r := range records {
		if err := l.Apply(r, window); err != nil {
			res.Rejected++
			e.recorder.RecordRejected(Reason(err))
			e.logger.Warn("record skipped",
				"feed", r.Feed, "line", r.Line, "date", r.Date.String(),
				"region", r.Region.String(), "statistic", r.Statistic.String(),
				"reason", err.Error())
			continue
		}
		res.Accepted++
		e.recorder.RecordAccepted(r.Mode)
	}
}

func (e *Engine) tally(l *Ledger, in Input, res *Result) {
	if len(in.StateReports) > 0 {
		e.logger.Info("tallying final date with statewise feed", "date", l.LastDate().String())
		res.Discrepancies = append(res.Discrepancies, e.report(l.TallyStates(in.StateReports))...)
	}
	if len(in.DistrictReports) > 0 {
		e.logger.Info("tallying final date with districtwise feed", "date", l.LastDate().String())
		res.Discrepancies = append(res.Discrepancies, e.report(l.TallyDistricts(in.DistrictReports))...)
	}
}

func (e *Engine) report(ds []Discrepancy) []Discrepancy {
	for _, d := range ds {
		e.recorder.RecordDiscrepancy(d.Kind)
		if d.Kind == MissingInFeed {
			e.logger.Warn("extra entry\n"+d.Dump, "region", d.Region.String())
			continue
		}
		e.logger.Warn(d.String(),
			"region", d.Region.String(), "statistic", d.Statistic.String(),
			"bucket", d.Bucket, "sheet", d.Feed, "parser", d.Ledger)
	}
	return ds
}

type nopRecorder struct{}

func (nopRecorder) RecordAccepted(Mode)               {}
func (nopRecorder) RecordRejected(string)             {}
func (nopRecorder) RecordResidual(Statistic)          {}
func (nopRecorder) RecordDiscrepancy(DiscrepancyKind) {}
