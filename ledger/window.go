package ledger

import "fmt"

// =============================================================================
// ROLLING WINDOWS - Trailing sums of deltas
// =============================================================================

const (
	// Window7 sums the trailing seven days including today.
	Window7 = "delta7"
	// Window21to14 sums confirmed deltas from 20 to 14 days ago.
	Window21to14 = "delta21_14"
)

// WindowKey names the window of size days ending offset days ago.
func WindowKey(size, offset int) string {
	key := fmt.Sprintf("delta%d", size+offset)
	if offset > 0 {
		key = fmt.Sprintf("%s_%d", key, offset)
	}
	return key
}

// AccumulateWindow stores, for every date d and region, the sum of the
// deltas of stats over [d-offset-size+1, d-offset]. Days missing from the
// ledger contribute nothing. District cells of states with their own
// breakdown only get windows after the gospel date. Recomputing a window
// replaces the previous values.
func (l *Ledger) AccumulateWindow(size, offset int, stats []Statistic) string {
	key := WindowKey(size, offset)
	if size <= 0 {
		return key
	}

	for _, regions := range l.days {
		for _, e := range regions {
			delete(e.Windows, key)
		}
	}

	for _, date := range l.Dates() {
		for back := offset; back < offset+size; back++ {
			day := date.AddDays(-back)
			for r, pe := range l.days[day] {
				if r.IsDistrict() && !l.districtReliable(r.State, date) {
					continue
				}
				l.addWindow(date, r, key, pe.Delta, stats)
			}
		}
	}
	return key
}

func (l *Ledger) addWindow(date Date, r Region, key string, delta Counts, stats []Statistic) {
	var e *Entry
	for _, s := range stats {
		v, ok := delta.Get(s)
		if !ok {
			continue
		}
		if e == nil {
			e = l.cell(date, r)
			if e.Windows == nil {
				e.Windows = make(map[string]Counts)
			}
			if e.Windows[key] == nil {
				e.Windows[key] = Counts{}
			}
		}
		e.Windows[key][s] += v
	}
}
