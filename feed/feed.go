/*
Package feed is the Normalizer: it turns the raw source feeds into the
canonical record stream the ledger consumes.

PURPOSE:
  Every string-keyed source (JSON line lists, CSV sheets, pivoted CSVs) is
  mapped here, at the boundary, onto validated enum values and registry
  regions. The core never sees a free-text name or a raw status string.

FEEDS:
  records.go   canonical records CSV (date,state,district,statistic,value,mode,source)
  linelist.go  raw_dataN.json line lists and deaths_recoveriesN.json outcomes
  gospel.go    gospel-date district totals CSV
  snapshot.go  ICMR national counts, state tested and state vaccination CSVs
  pivot.go     pivoted district tested and vaccination CSVs
  tally.go     statewise and districtwise feeds for meta and cross-tally

FAILURE POLICY:
  A bad row is skipped, logged at warn and kept in Batch.Rejected. Only an
  unreadable or undecodable file is returned as an error.
*/
package feed

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/caseledger/ledger"
)

// SheetDateLayout is the dd/mm/yyyy layout every sheet uses.
const SheetDateLayout = "02/01/2006"

// SheetTimestampLayout is the statewise lastupdatedtime layout.
const SheetTimestampLayout = "02/01/2006 15:04:05"

// Resolver is what the Normalizer needs from the Region Registry.
type Resolver interface {
	ResolveState(name string) (string, error)
	ResolveStateCode(code string) (string, error)
	ResolveDistrict(state, name string) (ledger.Region, error)
	ResolveDistrictName(state, name string) (ledger.Region, error)
	SingleDistrict(state string) bool
	NoDistrictData(state string) bool
	Unassigned(state string) bool
	StateName(state string) string
}

// Batch is the output of one feed.
type Batch struct {
	Feed     string
	Records  []ledger.Record
	Gospel   []ledger.GospelRow
	Rejected []*ledger.RecordError
}

func (b *Batch) add(r ledger.Record) {
	r.Feed = b.Feed
	b.Records = append(b.Records, r)
}

// =============================================================================
// NORMALIZER
// =============================================================================

type Normalizer struct {
	reg      Resolver
	window   ledger.Range
	logger   *slog.Logger
	recorder ledger.Recorder
}

type Option func(*Normalizer)

func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

// WithRecorder counts rejected rows by reason.
func WithRecorder(r ledger.Recorder) Option {
	return func(n *Normalizer) {
		n.recorder = r
	}
}

// NewNormalizer builds a Normalizer accepting dates within window.
func NewNormalizer(reg Resolver, window ledger.Range, opts ...Option) *Normalizer {
	n := &Normalizer{reg: reg, window: window, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// reject logs a skipped row and keeps it on the batch.
func (n *Normalizer) reject(b *Batch, line int, field, value string, err error) {
	re := &ledger.RecordError{Source: b.Feed, Line: line, Field: field, Value: value, Err: err}
	b.Rejected = append(b.Rejected, re)
	if n.recorder != nil {
		n.recorder.RecordRejected(ledger.Reason(err))
	}
	n.logger.Warn("record skipped", "feed", b.Feed, "line", line, "field", field, "value", value, "reason", err.Error())
}

// date parses a sheet date and checks it against the window.
func (n *Normalizer) date(layout, s string) (ledger.Date, error) {
	d, err := ledger.ParseDateLayout(layout, strings.TrimSpace(s))
	if err != nil {
		return ledger.Date{}, fmt.Errorf("%w: %v", ledger.ErrMalformedRecord, err)
	}
	if !n.window.Contains(d) {
		return ledger.Date{}, fmt.Errorf("%w: %s not in %s", ledger.ErrDateOutOfRange, d, n.window)
	}
	return d, nil
}

// =============================================================================
// VALUE PARSING
// =============================================================================

// ParseCount parses an integral count. Sheets write counts as "1234",
// "1,234" or "1234.0"; a fractional or non-numeric value is malformed.
// An empty string gives ok=false.
func ParseCount(s string) (v int64, ok bool, err error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false, fmt.Errorf("%w: count %q", ledger.ErrMalformedRecord, s)
	}
	if !d.IsInteger() {
		return 0, false, fmt.Errorf("%w: fractional count %q", ledger.ErrMalformedRecord, s)
	}
	return d.IntPart(), true, nil
}

// ParseTimestamp parses a statewise lastupdatedtime in India time.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(SheetTimestampLayout, strings.TrimSpace(s), ledger.IST)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ledger.ErrMalformedRecord, s)
	}
	return t, nil
}

// statusStatistics maps line-list currentstatus/patientstatus values.
var statusStatistics = map[string]ledger.Statistic{
	"hospitalized":   ledger.Confirmed,
	"recovered":      ledger.Recovered,
	"deceased":       ledger.Deceased,
	"migrated_other": ledger.Other,
}

// ParseStatus maps a patient status to its statistic.
func ParseStatus(s string) (ledger.Statistic, error) {
	st, ok := statusStatistics[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: status %q", ledger.ErrMalformedRecord, s)
	}
	return st, nil
}
