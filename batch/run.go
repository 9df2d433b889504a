package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warp/caseledger/config"
	"github.com/warp/caseledger/export"
	"github.com/warp/caseledger/feed"
	"github.com/warp/caseledger/ledger"
	"github.com/warp/caseledger/ledger/store"
	"github.com/warp/caseledger/metrics"
	"github.com/warp/caseledger/registry"
	"github.com/warp/caseledger/store/sqlite"
)

// =============================================================================
// RUNNER - One batch from feeds to documents
// =============================================================================

// Summary is what a finished batch reports.
type Summary struct {
	RunID          string // empty without a database
	Dates          int
	Accepted       int
	Rejected       int // engine and feed rejections
	Residuals      int
	Discrepancies  int
	Written        []string
	MissingFeeds   []string
	FeedRejections []*ledger.RecordError
}

type Runner struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

func NewRunner(cfg config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	return r
}

// Run executes the batch. Feed-level problems are logged and counted; only
// unreadable inputs, an empty record stream and output failures are errors.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	layout := Layout{Root: r.cfg.InputDir}

	stage := r.stage("registry")
	reg, err := registry.LoadFiles(layout.Path(MetaFile), layout.Path(DistrictListFile), registry.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	stage()
	r.logger.Info("registry loaded", "states", len(reg.States()))

	engineCfg := r.cfg.Engine()
	norm := feed.NewNormalizer(reg, engineCfg.Window(), feed.WithLogger(r.logger), feed.WithRecorder(r.metrics))
	buf := store.NewMemory()

	stage = r.stage("load")
	loaded, err := NewLoader(layout, norm, buf,
		WithLoaderLogger(r.logger),
		WithFeedObserver(r.metrics),
		WithConcurrency(r.cfg.Loaders),
	).Load(ctx)
	if err != nil {
		return nil, err
	}
	records, err := buf.Load(ctx)
	if err != nil {
		return nil, err
	}
	stage()
	r.logger.Info("feeds loaded", "records", len(records), "feeds", len(loaded.Feeds), "rejected", len(loaded.Rejected))

	engine, err := ledger.NewEngine(engineCfg, reg, ledger.WithLogger(r.logger), ledger.WithRecorder(r.metrics))
	if err != nil {
		return nil, err
	}

	stage = r.stage("engine")
	res, err := engine.Run(input(records, loaded, reg))
	if err != nil {
		return nil, err
	}
	stage()

	stage = r.stage("export")
	w := export.NewWriter(r.cfg.OutputDir,
		export.WithLogger(r.logger),
		export.WithStateNames(reg.StateName),
		export.WithUnassignedState(registry.UnassignedState),
	)
	if err := w.WriteAll(res.Ledger, res.Timeseries); err != nil {
		return nil, err
	}
	stage()

	sum := &Summary{
		Dates:          res.Ledger.Len(),
		Accepted:       res.Accepted,
		Rejected:       res.Rejected + len(loaded.Rejected),
		Residuals:      len(res.Residuals),
		Discrepancies:  len(res.Discrepancies),
		Written:        w.Written(),
		MissingFeeds:   loaded.Missing,
		FeedRejections: loaded.Rejected,
	}

	if r.cfg.DBPath != "" {
		id, err := r.persist(ctx, engineCfg, res)
		if err != nil {
			return nil, err
		}
		sum.RunID = id
	}

	if r.cfg.MetricsFile != "" {
		if err := r.metrics.WriteTextfile(r.cfg.MetricsFile, r.now()); err != nil {
			return nil, err
		}
	}
	return sum, nil
}

func (r *Runner) persist(ctx context.Context, cfg ledger.Config, res *ledger.Result) (string, error) {
	db, err := sqlite.New(r.cfg.DBPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	run, err := db.SaveRun(ctx, sqlite.NewRun(cfg), res)
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	r.logger.Info("run saved", "run_id", run.ID, "db", r.cfg.DBPath)
	return run.ID, nil
}

// stage starts timing a stage; the returned func records it.
func (r *Runner) stage(name string) func() {
	start := r.now()
	return func() {
		r.metrics.ObserveStage(name, r.now().Sub(start))
	}
}

func input(records []ledger.Record, loaded *Loaded, reg *registry.Registry) ledger.Input {
	in := ledger.Input{
		Records:     records,
		Gospel:      loaded.Gospel,
		Populations: reg,
	}
	if sw := loaded.Statewise; sw != nil {
		in.StateAnnotations = sw.Annotations
		in.StateReports = sw.Reports
	}
	if dw := loaded.Districtwise; dw != nil {
		in.DistrictNotes = dw.Notes
		in.DistrictReports = dw.Reports
	}
	return in
}
