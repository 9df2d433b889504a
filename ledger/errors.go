/*
errors.go - Error taxonomy for the ingestion and reconciliation stages

ERROR CATEGORIES:
  1. Record errors - recoverable, the record is skipped and logged
     (malformed, unresolved region, date out of range)
  2. Stage errors - programming or contract violations (snapshot write on a
     delta-native statistic)
  3. Run errors - fatal for the whole batch (empty or unreadable input)

Conservation mismatches at the gospel date and tally mismatches are not
errors: the first produces a signed residual, the second is only logged.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMalformedRecord covers unparseable dates, numbers and enum values.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrUnresolvedRegion is returned when a state or district name is not in
	// the registry. Regions are never invented.
	ErrUnresolvedRegion = errors.New("unresolved region")

	// ErrDateOutOfRange is returned for dates before the floor or after the
	// processing ceiling.
	ErrDateOutOfRange = errors.New("date out of range")

	// ErrNotSnapshotStatistic is returned when a snapshot is recorded for a
	// delta-native statistic.
	ErrNotSnapshotStatistic = errors.New("statistic is not snapshot-native")

	// ErrEmptyInput is the only fatal run condition: the canonical stream
	// carried no usable record.
	ErrEmptyInput = errors.New("canonical input stream is empty")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// RecordError locates a rejected record in its source feed.
type RecordError struct {
	Source string // feed name, e.g. "raw_data3.json"
	Line   int    // 1-based line or row, 0 when unknown
	Field  string
	Value  string
	Err    error
}

func (e *RecordError) Error() string {
	loc := e.Source
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:L%d", e.Source, e.Line)
	}
	if e.Field == "" {
		return fmt.Sprintf("[%s] %v", loc, e.Err)
	}
	return fmt.Sprintf("[%s] [%s: %q] %v", loc, e.Field, e.Value, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRecoverable reports whether the batch continues after err.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrMalformedRecord) ||
		errors.Is(err, ErrUnresolvedRegion) ||
		errors.Is(err, ErrDateOutOfRange)
}

// IsFatal reports whether err aborts the run.
func IsFatal(err error) bool {
	return err != nil && !IsRecoverable(err)
}

// Reason returns a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedRecord):
		return "malformed"
	case errors.Is(err, ErrUnresolvedRegion):
		return "unresolved_region"
	case errors.Is(err, ErrDateOutOfRange):
		return "date_out_of_range"
	default:
		return "other"
	}
}
