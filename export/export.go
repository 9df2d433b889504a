/*
Package export writes the finished ledger and timeseries to disk.

OUTPUT LAYOUT (under the output directory):
  min/data-all.min.json         full date-major ledger, minified
  data-<date>.json              one file per non-final date
  data.json                     the final date
  min/timeseries-all.min.json   full region-major timeseries, minified
  timeseries.json               state series only
  timeseries-<state>.json       one state with its districts (not UN)
  states.csv, districts.csv     flat totals

Every JSON document is written pretty in the top directory and minified
under min/. Keys are sorted, so repeated runs produce identical bytes.
*/
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/warp/caseledger/ledger"
)

const (
	DataPrefix       = "data"
	TimeseriesPrefix = "timeseries"
	MinDir           = "min"
)

type Writer struct {
	dir        string
	unassigned string
	names      func(state string) string
	logger     *slog.Logger
	written    []string
}

type Option func(*Writer)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithUnassignedState names the state without its own timeseries file.
func WithUnassignedState(code string) Option {
	return func(w *Writer) {
		w.unassigned = code
	}
}

// WithStateNames sets the display names used in the CSV dumps.
func WithStateNames(names func(state string) string) Option {
	return func(w *Writer) {
		w.names = names
	}
}

func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{
		dir:        dir,
		unassigned: "UN",
		names:      func(s string) string { return s },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Written returns the paths written so far, in order.
func (w *Writer) Written() []string { return w.written }

// WriteAll writes every JSON document and both CSV dumps.
func (w *Writer) WriteAll(l *ledger.Ledger, ts *ledger.Timeseries) error {
	if err := os.MkdirAll(filepath.Join(w.dir, MinDir), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := w.WriteLedger(l); err != nil {
		return err
	}
	if err := w.WriteTimeseries(ts); err != nil {
		return err
	}
	return w.WriteCSVs(l)
}

// WriteLedger writes data-all.min.json and the per-date split.
func (w *Writer) WriteLedger(l *ledger.Ledger) error {
	doc := l.Document()
	if err := w.writeMin(DataPrefix+"-all", doc); err != nil {
		return err
	}

	dates := l.Dates()
	for i, d := range dates {
		day, ok := doc[d.String()]
		if !ok {
			continue
		}
		name := DataPrefix + "-" + d.String()
		if i == len(dates)-1 {
			name = DataPrefix
		}
		if err := w.writeBoth(name, day); err != nil {
			return err
		}
	}
	w.logger.Info("wrote ledger documents", "dates", len(doc))
	return nil
}

// WriteTimeseries writes timeseries-all.min.json, timeseries.json and the
// per-state split.
func (w *Writer) WriteTimeseries(ts *ledger.Timeseries) error {
	doc := ts.Document()
	if err := w.writeMin(TimeseriesPrefix+"-all", doc); err != nil {
		return err
	}
	if err := w.writeBoth(TimeseriesPrefix, ts.StatesDocument()); err != nil {
		return err
	}
	for code, state := range doc {
		if code == w.unassigned {
			continue
		}
		if err := w.writeBoth(TimeseriesPrefix+"-"+code, map[string]any{code: state}); err != nil {
			return err
		}
	}
	w.logger.Info("wrote timeseries documents", "states", len(doc))
	return nil
}

func (w *Writer) writeBoth(name string, v any) error {
	pretty, err := encode(v, true)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := w.write(filepath.Join(w.dir, name+".json"), pretty); err != nil {
		return err
	}
	return w.writeMin(name, v)
}

func (w *Writer) writeMin(name string, v any) error {
	b, err := encode(v, false)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return w.write(filepath.Join(w.dir, MinDir, name+".min.json"), b)
}

// encode marshals with sorted map keys and without HTML escaping.
func encode(v any, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (w *Writer) write(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.written = append(w.written, path)
	return nil
}
