package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/warp/caseledger/feed"
	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// FEED LOADING - Concurrent parse into the record buffer
// =============================================================================

// Feed priorities order same-date records in the buffer. Lower sorts first;
// line lists use their index. Every task has its own priority, so the order
// never depends on which loader finished first.
const (
	priorityRecords       = 0
	priorityOutcomes      = 100
	prioritySnapshots     = 200
	priorityPivotSnapshot = 300
)

const (
	priorityICMR = prioritySnapshots + iota
	priorityStateTests
	priorityStateVaccinations
	priorityGospel
	priorityStatewise
	priorityDistrictwise
)

// RecordSink receives the records of each feed. store.Memory implements it.
type RecordSink interface {
	AppendBatch(ctx context.Context, priority int, recs []ledger.Record) error
}

// FeedObserver is told how many records each feed produced.
type FeedObserver interface {
	SetFeedRecords(feed string, n int)
}

// Loaded is everything a load produced besides the buffered records.
type Loaded struct {
	Gospel       []ledger.GospelRow
	Statewise    *feed.Statewise
	Districtwise *feed.Districtwise
	Rejected     []*ledger.RecordError
	Feeds        []string // feeds read, in completion order
	Missing      []string // optional feeds not found
}

type Loader struct {
	layout   Layout
	norm     *feed.Normalizer
	sink     RecordSink
	limit    int
	logger   *slog.Logger
	observer FeedObserver

	mu     sync.Mutex
	loaded *Loaded
}

type LoaderOption func(*Loader)

func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

func WithFeedObserver(o FeedObserver) LoaderOption {
	return func(l *Loader) {
		l.observer = o
	}
}

// WithConcurrency caps the number of feeds parsed at once.
func WithConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		l.limit = n
	}
}

func NewLoader(layout Layout, norm *feed.Normalizer, sink RecordSink, opts ...LoaderOption) *Loader {
	l := &Loader{layout: layout, norm: norm, sink: sink, limit: 4, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type task struct {
	path  string
	parse func(name string, r io.Reader) error
}

// Load parses every feed of the layout concurrently. Records go to the sink,
// the rest is returned. The first unreadable or undecodable feed cancels
// the others.
func (l *Loader) Load(ctx context.Context) (*Loaded, error) {
	l.loaded = &Loaded{}

	g, ctx := errgroup.WithContext(ctx)
	if l.limit > 0 {
		g.SetLimit(l.limit)
	}

	for _, t := range l.tasks(ctx) {
		t := t
		g.Go(func() error {
			return l.run(ctx, t)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return l.loaded, nil
}

func (l *Loader) tasks(ctx context.Context) []task {
	n := l.norm
	records := func(priority int, parse func(string, io.Reader) (*feed.Batch, error)) func(string, io.Reader) error {
		return func(name string, r io.Reader) error {
			b, err := parse(name, r)
			if err != nil {
				return err
			}
			return l.keep(ctx, priority, b)
		}
	}

	tasks := []task{
		{path: l.layout.Path(RecordsFile), parse: records(priorityRecords, n.ParseRecords)},
	}
	for i, path := range l.layout.LineLists() {
		index := i + 1
		tasks = append(tasks, task{path: path, parse: records(index, func(name string, r io.Reader) (*feed.Batch, error) {
			return n.ParseLineList(name, index, r)
		})})
	}
	for index := 1; index <= feed.LegacyFeeds; index++ {
		tasks = append(tasks, task{path: l.layout.Outcome(index), parse: records(priorityOutcomes+index, n.ParseOutcomes)})
	}

	tasks = append(tasks,
		task{path: l.layout.CSV(GospelFile), parse: func(name string, r io.Reader) error {
			b, err := n.ParseGospel(name, r)
			if err != nil {
				return err
			}
			l.mu.Lock()
			l.loaded.Gospel = append(l.loaded.Gospel, b.Gospel...)
			l.mu.Unlock()
			return l.keep(ctx, priorityGospel, b)
		}},
		task{path: l.layout.Path(DataFile), parse: records(priorityICMR, n.ParseICMR)},
		task{path: l.layout.CSV(StateTestsFile), parse: records(priorityStateTests, n.ParseStateTests)},
		task{path: l.layout.CSV(StateVaccinationFile), parse: records(priorityStateVaccinations, n.ParseStateVaccinations)},
		task{path: l.layout.CSV(DistrictTestsFile), parse: records(priorityPivotSnapshot, n.ParseDistrictTests)},
		task{path: l.layout.CSV(DistrictVaccinationFile), parse: records(priorityPivotSnapshot+1, n.ParseDistrictVaccinations)},
		task{path: l.layout.Path(DataFile), parse: func(name string, r io.Reader) error {
			sw, err := n.ParseStatewise(name, r)
			if err != nil {
				return err
			}
			l.mu.Lock()
			l.loaded.Statewise = sw
			l.mu.Unlock()
			return l.keep(ctx, priorityStatewise, &sw.Batch)
		}},
		task{path: l.layout.Path(DistrictListFile), parse: func(name string, r io.Reader) error {
			dw, err := n.ParseDistrictwise(name, r)
			if err != nil {
				return err
			}
			l.mu.Lock()
			l.loaded.Districtwise = dw
			l.mu.Unlock()
			return l.keep(ctx, priorityDistrictwise, &dw.Batch)
		}},
	)
	return tasks
}

func (l *Loader) run(ctx context.Context, t task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := filepath.Base(t.path)

	f, err := os.Open(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("feed missing", "feed", name, "path", t.path)
		l.mu.Lock()
		l.loaded.Missing = append(l.loaded.Missing, name)
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	l.logger.Info("parsing feed", "feed", name)
	if err := t.parse(name, f); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// keep appends a batch's records to the sink and its rejections to the result.
func (l *Loader) keep(ctx context.Context, priority int, b *feed.Batch) error {
	if len(b.Records) > 0 {
		if err := l.sink.AppendBatch(ctx, priority, b.Records); err != nil {
			return fmt.Errorf("buffer %s: %w", b.Feed, err)
		}
	}
	if l.observer != nil && len(b.Records) > 0 {
		l.observer.SetFeedRecords(b.Feed, len(b.Records))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded.Rejected = append(l.loaded.Rejected, b.Rejected...)
	l.loaded.Feeds = append(l.loaded.Feeds, b.Feed)
	l.logger.Info("feed loaded", "feed", b.Feed, "records", len(b.Records), "rejected", len(b.Rejected))
	return nil
}
