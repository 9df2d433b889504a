/*
Package sqlite persists finished runs in SQLite.

PURPOSE:
  Keeps a queryable copy of every run: its bounds and counters, the flat
  ledger entries, the imputed residuals and the tally discrepancies. The JSON
  documents stay the primary output; the database is for looking back across
  runs.

KEY TABLES:
  runs:          One row per run, bounds and counters
  entries:       (run, date, state, district, statistic) → total, delta
  residuals:     Unknown-district values imputed at the gospel date
  discrepancies: Cross-tally findings against the authoritative feeds

APPEND-ONLY:
  A run is written once, in one transaction. Saving the same run id twice
  fails with ErrDuplicateRun. Nothing is updated in place.

INDEXES:
  - idx_entries_region: series lookups for one region across dates
  - idx_runs_created_at: latest run

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode.

USAGE:
  store, err := sqlite.New("./data/caseledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  run, err := store.SaveRun(ctx, sqlite.NewRun(cfg), result)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/engine.go: the Result being persisted
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/caseledger/ledger"
)

var (
	ErrDuplicateRun = errors.New("run already saved")
	ErrRunNotFound  = errors.New("run not found")
)

// Store persists runs.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		floor TEXT,
		ceiling TEXT,
		gospel TEXT NOT NULL,
		first_date TEXT,
		last_date TEXT,
		accepted INTEGER NOT NULL DEFAULT 0,
		rejected INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at
		ON runs(created_at DESC);

	CREATE TABLE IF NOT EXISTS entries (
		run_id TEXT NOT NULL REFERENCES runs(id),
		date TEXT NOT NULL,
		state TEXT NOT NULL,
		district TEXT NOT NULL DEFAULT '',
		statistic TEXT NOT NULL,
		total INTEGER,
		delta INTEGER,
		PRIMARY KEY (run_id, date, state, district, statistic)
	);

	CREATE INDEX IF NOT EXISTS idx_entries_region
		ON entries(run_id, state, district, statistic, date);

	CREATE TABLE IF NOT EXISTS residuals (
		run_id TEXT NOT NULL REFERENCES runs(id),
		state TEXT NOT NULL,
		statistic TEXT NOT NULL,
		state_total INTEGER NOT NULL,
		district_sum INTEGER NOT NULL,
		unknown INTEGER NOT NULL,
		PRIMARY KEY (run_id, state, statistic)
	);

	CREATE TABLE IF NOT EXISTS discrepancies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		kind TEXT NOT NULL,
		state TEXT NOT NULL,
		district TEXT NOT NULL DEFAULT '',
		statistic TEXT,
		bucket TEXT,
		feed_value INTEGER,
		ledger_value INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_discrepancies_run
		ON discrepancies(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RUNS
// =============================================================================

// Run is the persisted summary of one engine run.
type Run struct {
	ID        string
	Floor     ledger.Date
	Ceiling   ledger.Date
	Gospel    ledger.Date
	FirstDate ledger.Date
	LastDate  ledger.Date
	Accepted  int
	Rejected  int
	CreatedAt time.Time
}

// NewRun starts a run summary with a fresh id and the engine bounds.
func NewRun(cfg ledger.Config) Run {
	return Run{
		ID:      uuid.NewString(),
		Floor:   cfg.Floor,
		Ceiling: cfg.Ceiling,
		Gospel:  cfg.Gospel,
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveRun writes the run and everything in res atomically. Counters and
// date bounds are taken from res.
func (s *Store) SaveRun(ctx context.Context, run Run, res *ledger.Result) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Accepted, run.Rejected = res.Accepted, res.Rejected
	if res.Ledger != nil && res.Ledger.Len() > 0 {
		run.FirstDate = res.Ledger.Dates()[0]
		run.LastDate = res.Ledger.LastDate()
	}
	run.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, floor, ceiling, gospel, first_date, last_date, accepted, rejected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		nullDate(run.Floor),
		nullDate(run.Ceiling),
		run.Gospel.String(),
		nullDate(run.FirstDate),
		nullDate(run.LastDate),
		run.Accepted,
		run.Rejected,
		run.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return Run{}, ErrDuplicateRun
		}
		return Run{}, fmt.Errorf("failed to save run: %w", err)
	}

	if res.Ledger != nil {
		if err := saveEntries(ctx, tx, run.ID, res.Ledger); err != nil {
			return Run{}, err
		}
	}
	if err := saveResiduals(ctx, tx, run.ID, res.Residuals); err != nil {
		return Run{}, err
	}
	if err := saveDiscrepancies(ctx, tx, run.ID, res.Discrepancies); err != nil {
		return Run{}, err
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("failed to commit run: %w", err)
	}
	return run, nil
}

func saveEntries(ctx context.Context, tx *sql.Tx, runID string, l *ledger.Ledger) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (run_id, date, state, district, statistic, total, delta)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare entries: %w", err)
	}
	defer stmt.Close()

	for _, date := range l.Dates() {
		for _, r := range l.AllRegions(date) {
			e, _ := l.Entry(date, r)
			for _, stat := range ledger.AllStatistics {
				total, hasTotal := e.Total.Get(stat)
				delta, hasDelta := e.Delta.Get(stat)
				if !hasTotal && !hasDelta {
					continue
				}
				_, err := stmt.ExecContext(ctx,
					runID, date.String(), r.State, r.District, stat.String(),
					nullInt(total, hasTotal), nullInt(delta, hasDelta),
				)
				if err != nil {
					return fmt.Errorf("failed to save entry %s %s: %w", date, r, err)
				}
			}
		}
	}
	return nil
}

func saveResiduals(ctx context.Context, db execer, runID string, rs []ledger.Residual) error {
	for _, r := range rs {
		_, err := db.ExecContext(ctx, `
			INSERT INTO residuals (run_id, state, statistic, state_total, district_sum, unknown)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, r.State, r.Statistic.String(), r.StateTotal, r.KnownDistrictSum, r.Unknown)
		if err != nil {
			return fmt.Errorf("failed to save residual %s %s: %w", r.State, r.Statistic, err)
		}
	}
	return nil
}

func saveDiscrepancies(ctx context.Context, db execer, runID string, ds []ledger.Discrepancy) error {
	for _, d := range ds {
		var stat sql.NullString
		if d.Kind == ledger.ValueMismatch {
			stat = nullString(d.Statistic.String())
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO discrepancies (run_id, kind, state, district, statistic, bucket, feed_value, ledger_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, string(d.Kind), d.Region.State, d.Region.District, stat, nullString(d.Bucket), d.Feed, d.Ledger)
		if err != nil {
			return fmt.Errorf("failed to save discrepancy %s: %w", d.Region, err)
		}
	}
	return nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, floor, ceiling, gospel, first_date, last_date, accepted, rejected, created_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRun returns the most recently saved run.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, floor, ceiling, gospel, first_date, last_date, accepted, rejected, created_at
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func scanRun(row *sql.Row) (Run, error) {
	var (
		run                         Run
		floor, ceiling, first, last sql.NullString
		gospel, createdAt           string
	)
	if err := row.Scan(&run.ID, &floor, &ceiling, &gospel, &first, &last, &run.Accepted, &run.Rejected, &createdAt); err != nil {
		return Run{}, err
	}

	var err error
	if run.Gospel, err = ledger.ParseDate(gospel); err != nil {
		return Run{}, fmt.Errorf("run %s gospel: %w", run.ID, err)
	}
	for _, f := range []struct {
		src sql.NullString
		dst *ledger.Date
	}{{floor, &run.Floor}, {ceiling, &run.Ceiling}, {first, &run.FirstDate}, {last, &run.LastDate}} {
		if !f.src.Valid {
			continue
		}
		if *f.dst, err = ledger.ParseDate(f.src.String); err != nil {
			return Run{}, fmt.Errorf("run %s: %w", run.ID, err)
		}
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return run, nil
}

// =============================================================================
// ENTRIES
// =============================================================================

// LoadEntry returns the totals and deltas saved for one cell.
func (s *Store) LoadEntry(ctx context.Context, runID string, date ledger.Date, region ledger.Region) (total, delta ledger.Counts, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT statistic, total, delta FROM entries
		WHERE run_id = ? AND date = ? AND state = ? AND district = ?
	`, runID, date.String(), region.State, region.District)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	total, delta = ledger.Counts{}, ledger.Counts{}
	for rows.Next() {
		var (
			name string
			t, d sql.NullInt64
		)
		if err := rows.Scan(&name, &t, &d); err != nil {
			return nil, nil, err
		}
		stat, err := ledger.ParseStatistic(name)
		if err != nil {
			return nil, nil, err
		}
		if t.Valid {
			total[stat] = t.Int64
		}
		if d.Valid {
			delta[stat] = d.Int64
		}
	}
	return total, delta, rows.Err()
}

// SeriesPoint is one date of a stored series.
type SeriesPoint struct {
	Date  ledger.Date
	Total int64
	Delta int64
}

// LoadSeries returns one statistic of one region across dates, ascending.
func (s *Store) LoadSeries(ctx context.Context, runID string, region ledger.Region, stat ledger.Statistic) ([]SeriesPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, COALESCE(total, 0), COALESCE(delta, 0) FROM entries
		WHERE run_id = ? AND state = ? AND district = ? AND statistic = ?
		ORDER BY date ASC
	`, runID, region.State, region.District, stat.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	var out []SeriesPoint
	for rows.Next() {
		var (
			p    SeriesPoint
			date string
		)
		if err := rows.Scan(&date, &p.Total, &p.Delta); err != nil {
			return nil, err
		}
		if p.Date, err = ledger.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountDiscrepancies returns the discrepancies of a run per kind.
func (s *Store) CountDiscrepancies(ctx context.Context, runID string) (map[ledger.DiscrepancyKind]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM discrepancies WHERE run_id = ? GROUP BY kind
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query discrepancies: %w", err)
	}
	defer rows.Close()

	out := make(map[ledger.DiscrepancyKind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[ledger.DiscrepancyKind(kind)] = n
	}
	return out, rows.Err()
}

// LoadResiduals returns the residuals of a run ordered by state.
func (s *Store) LoadResiduals(ctx context.Context, runID string) ([]ledger.Residual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT state, statistic, state_total, district_sum, unknown FROM residuals
		WHERE run_id = ? ORDER BY state, statistic
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query residuals: %w", err)
	}
	defer rows.Close()

	var out []ledger.Residual
	for rows.Next() {
		var (
			r    ledger.Residual
			name string
		)
		if err := rows.Scan(&r.State, &name, &r.StateTotal, &r.KnownDistrictSum, &r.Unknown); err != nil {
			return nil, err
		}
		if r.Statistic, err = ledger.ParseStatistic(name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reset clears all data (for testing).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"discrepancies", "residuals", "entries", "runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d ledger.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return nullString(d.String())
}

func nullInt(v int64, ok bool) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: ok}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
