/*
projection.go - Region-major timeseries projection

PURPOSE:
  Transposes the date-major ledger into region → date → {total, delta,
  delta7}, then trims trailing stale dates so a series never ends in a flat
  tail of carried-forward values past its last real update.

RULES:
  1. Zero values and empty buckets are not projected.
  2. District series start at the gospel date; earlier district data is not
     exposed as a continuous series.
  3. Trim: per state, and independently per district, every date after the
     most recent one with a non-empty delta bucket is removed. A series
     with no delta at all is removed entirely.

SEE ALSO:
  - window.go: produces the delta7 bucket copied here
*/
package ledger

import "sort"

// =============================================================================
// TIMESERIES TYPES
// =============================================================================

// Point is one date of a series.
type Point struct {
	Total  Counts
	Delta  Counts
	Delta7 Counts
}

func (p Point) empty() bool {
	return len(p.Total) == 0 && len(p.Delta) == 0 && len(p.Delta7) == 0
}

// Series is a date-keyed sequence of points.
type Series struct {
	Dates map[Date]Point
}

// SortedDates returns the series dates ascending.
func (s *Series) SortedDates() []Date {
	out := make([]Date, 0, len(s.Dates))
	for d := range s.Dates {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Last returns the most recent point of the series.
func (s *Series) Last() (Date, Point, bool) {
	dates := s.SortedDates()
	if len(dates) == 0 {
		return Date{}, Point{}, false
	}
	d := dates[len(dates)-1]
	return d, s.Dates[d], true
}

// StateSeries is a state (or country) series with nested district series.
type StateSeries struct {
	Series
	Districts map[string]*Series
}

// Timeseries is the region-major document.
type Timeseries struct {
	States map[string]*StateSeries
}

// State returns the series of a state code, nil when absent.
func (ts *Timeseries) State(code string) *StateSeries { return ts.States[code] }

// District returns the series of a district, nil when absent.
func (ts *Timeseries) District(state, district string) *Series {
	s := ts.States[state]
	if s == nil {
		return nil
	}
	return s.Districts[district]
}

// =============================================================================
// PROJECTOR
// =============================================================================

// Project builds the trimmed timeseries from the ledger.
func (l *Ledger) Project() *Timeseries {
	ts := &Timeseries{States: make(map[string]*StateSeries)}

	for _, date := range l.Dates() {
		for r, e := range l.days[date] {
			p := Point{Total: e.Total.NonZero(), Delta: e.Delta.NonZero(), Delta7: e.Window(Window7).NonZero()}
			if p.empty() {
				continue
			}
			if r.IsDistrict() && date.Before(l.gospel) {
				continue
			}

			ss := ts.States[r.State]
			if ss == nil {
				ss = &StateSeries{Series: Series{Dates: make(map[Date]Point)}, Districts: make(map[string]*Series)}
				ts.States[r.State] = ss
			}
			if !r.IsDistrict() {
				ss.Dates[date] = p
				continue
			}
			ds := ss.Districts[r.District]
			if ds == nil {
				ds = &Series{Dates: make(map[Date]Point)}
				ss.Districts[r.District] = ds
			}
			ds.Dates[date] = p
		}
	}

	ts.trim()
	return ts
}

func (ts *Timeseries) trim() {
	for code, ss := range ts.States {
		trimSeries(&ss.Series)
		for name, ds := range ss.Districts {
			if !trimSeries(ds) {
				delete(ss.Districts, name)
			}
		}
		if len(ss.Dates) == 0 && len(ss.Districts) == 0 {
			delete(ts.States, code)
		}
	}
}

// trimSeries drops every date after the last one with a delta and reports
// whether anything remains.
func trimSeries(s *Series) bool {
	var last Date
	found := false
	for d, p := range s.Dates {
		if len(p.Delta) == 0 {
			continue
		}
		if !found || d.After(last) {
			last, found = d, true
		}
	}
	for d := range s.Dates {
		if !found || d.After(last) {
			delete(s.Dates, d)
		}
	}
	return len(s.Dates) > 0
}
