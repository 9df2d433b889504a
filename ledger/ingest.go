package ledger

import "fmt"

// =============================================================================
// RECORDS - The canonical input stream
// =============================================================================

// Record is one validated fact from the Normalizer.
type Record struct {
	Date      Date
	Region    Region
	Statistic Statistic
	Value     int64
	Mode      Mode
	Source    string

	// Legacy marks feeds whose district attribution is not trusted for
	// states with their own district breakdown.
	Legacy bool

	// Feed and Line locate the record for logs.
	Feed string
	Line int
}

// GospelRow is one district of the authoritative gospel-date snapshot.
type GospelRow struct {
	Region Region
	Totals Counts
}

// Validate checks the record against the processing window.
func (r Record) Validate(window Range) error {
	switch {
	case r.Date.IsZero():
		return r.fail("date", "", ErrMalformedRecord)
	case !window.Contains(r.Date):
		return r.fail("date", r.Date.String(), ErrDateOutOfRange)
	case r.Region.State == "":
		return r.fail("state", "", ErrUnresolvedRegion)
	case !r.Statistic.Valid():
		return r.fail("statistic", fmt.Sprint(int(r.Statistic)), ErrMalformedRecord)
	case r.Value < 0:
		return r.fail("value", fmt.Sprint(r.Value), ErrMalformedRecord)
	}
	switch r.Mode {
	case ModeDelta:
		if r.Statistic.IsSnapshot() {
			return r.fail("mode", string(r.Mode), fmt.Errorf("%w: %s is snapshot-native", ErrMalformedRecord, r.Statistic))
		}
	case ModeSnapshot:
		if !r.Statistic.IsSnapshot() {
			return r.fail("mode", string(r.Mode), fmt.Errorf("%w: %s is delta-native", ErrMalformedRecord, r.Statistic))
		}
	default:
		return r.fail("mode", string(r.Mode), ErrMalformedRecord)
	}
	return nil
}

func (r Record) fail(field, value string, err error) error {
	return &RecordError{Source: r.Feed, Line: r.Line, Field: field, Value: value, Err: err}
}

// Apply routes a validated record into the ledger.
//
// Delta records increment the country, the state and, where district data is
// reliable, the district. Districts of states with their own breakdown are
// only incremented after the gospel date, never for the unassigned state and
// never for legacy feeds; mirrored states get their district from the
// accumulation mirror instead.
//
// Snapshot records set the absolute count. Zero values are not observations.
func (l *Ledger) Apply(r Record, window Range) error {
	if err := r.Validate(window); err != nil {
		return err
	}
	if r.Value == 0 {
		return nil
	}

	if r.Mode == ModeSnapshot {
		return l.RecordSnapshot(r.Region, r.Date, r.Statistic, r.Value, r.Source)
	}

	state := r.Region.Parent()
	if state.State != CountryCode {
		l.Increment(Country(), r.Date, r.Statistic, r.Value)
	}
	l.Increment(state, r.Date, r.Statistic, r.Value)

	if r.Region.IsDistrict() && l.acceptsDistrictDelta(r) {
		l.Increment(r.Region, r.Date, r.Statistic, r.Value)
	}
	return nil
}

func (l *Ledger) acceptsDistrictDelta(r Record) bool {
	st := r.Region.State
	if !l.hasDistricts(st) || r.Legacy || l.unassigned(st) {
		return false
	}
	return r.Date.After(l.gospel)
}
