/*
ledger.go - Date-major sparse store of ledger entries

PURPOSE:
  The Ledger is the in-memory document every stage reads and writes:
  date → region → Entry. It is constructed per run and passed through the
  stages explicitly; there is no package-level state.

CRITICAL INVARIANTS:
  1. SPARSE: reads never create entries. Only the write stages (increment,
     accumulation, snapshot reconciliation, residual imputation) create
     entries, lazily on first reference.
  2. ORDERED: Dates() is always ascending; every fold walks it in order.
  3. CLOSED REGIONS: region paths come from the Registry, never invented here.

LIFECYCLE:
  Increment / RecordSnapshot / SetDistrictTotal   (ingestion)
  Accumulate → ReconcileSnapshots → ImputeUnknown  (write stages)
  AccumulateWindow → Project → Tally               (read-mostly stages)

SEE ALSO:
  - accumulate.go: day-by-day fold of deltas into totals
  - snapshot.go: differencing of absolute counts
*/
package ledger

import (
	"sort"
)

// =============================================================================
// TOPOLOGY - What the core needs from the Region Registry
// =============================================================================

// Topology classifies states. The Registry implements it.
type Topology interface {
	// SingleDistrict states have one district mirroring the state.
	SingleDistrict(state string) bool
	// NoDistrictData states never produce a district breakdown; their counts
	// land in the Unknown district.
	NoDistrictData(state string) bool
	// Unassigned is the bucket for counts not attributed to a real state.
	Unassigned(state string) bool
	// StateName returns the display name used as the sole district name of
	// single-district states.
	StateName(state string) string
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	gospel Date
	topo   Topology

	days  map[Date]map[Region]*Entry
	dates []Date // ascending, rebuilt when a new date appears
}

// New creates an empty ledger for one run.
func New(gospel Date, topo Topology) *Ledger {
	return &Ledger{
		gospel: gospel,
		topo:   topo,
		days:   make(map[Date]map[Region]*Entry),
	}
}

// GospelDate returns the reference date with authoritative district totals.
func (l *Ledger) GospelDate() Date { return l.gospel }

// Topology returns the registry classification the ledger was built with.
func (l *Ledger) Topology() Topology { return l.topo }

// Dates returns every date present, ascending.
func (l *Ledger) Dates() []Date {
	out := make([]Date, len(l.dates))
	copy(out, l.dates)
	return out
}

// LastDate returns the final ledger date, zero when empty.
func (l *Ledger) LastDate() Date {
	if len(l.dates) == 0 {
		return Date{}
	}
	return l.dates[len(l.dates)-1]
}

// Len returns the number of dates.
func (l *Ledger) Len() int { return len(l.dates) }

// Entry returns the cell for (date, region) without creating it.
func (l *Ledger) Entry(date Date, region Region) (*Entry, bool) {
	regions, ok := l.days[date]
	if !ok {
		return nil, false
	}
	e, ok := regions[region]
	return e, ok
}

// Regions returns the state-level regions present on date, sorted.
func (l *Ledger) Regions(date Date) []Region {
	var out []Region
	for r := range l.days[date] {
		if !r.IsDistrict() {
			out = append(out, r)
		}
	}
	sortRegions(out)
	return out
}

// Districts returns the district regions of state present on date, sorted.
func (l *Ledger) Districts(date Date, state string) []Region {
	var out []Region
	for r := range l.days[date] {
		if r.IsDistrict() && r.State == state {
			out = append(out, r)
		}
	}
	sortRegions(out)
	return out
}

// AllRegions returns every region (state and district level) on date.
func (l *Ledger) AllRegions(date Date) []Region {
	out := make([]Region, 0, len(l.days[date]))
	for r := range l.days[date] {
		out = append(out, r)
	}
	sortRegions(out)
	return out
}

// previous returns the ledger date preceding date, if any.
func (l *Ledger) previous(date Date) (Date, bool) {
	i := sort.Search(len(l.dates), func(i int) bool { return !l.dates[i].Before(date) })
	if i == 0 {
		return Date{}, false
	}
	return l.dates[i-1], true
}

// cell returns the entry for (date, region), creating it on first reference.
func (l *Ledger) cell(date Date, region Region) *Entry {
	regions, ok := l.days[date]
	if !ok {
		regions = make(map[Region]*Entry)
		l.days[date] = regions
		l.insertDate(date)
	}
	e, ok := regions[region]
	if !ok {
		e = newEntry()
		regions[region] = e
	}
	return e
}

// insertDate keeps dates ascending; binary search for the insertion point.
func (l *Ledger) insertDate(date Date) {
	i := sort.Search(len(l.dates), func(i int) bool { return l.dates[i].After(date) })
	l.dates = append(l.dates, Date{})
	copy(l.dates[i+1:], l.dates[i:])
	l.dates[i] = date
}

// hasDistricts reports whether a state carries its own district breakdown,
// as opposed to mirroring the state into one district.
func (l *Ledger) hasDistricts(state string) bool {
	if state == CountryCode {
		return false
	}
	if l.topo == nil {
		return true
	}
	return !l.topo.SingleDistrict(state) && !l.topo.NoDistrictData(state)
}

// mirrored reports whether a state's district is a copy of the state.
func (l *Ledger) mirrored(state string) bool {
	if l.topo == nil || state == CountryCode {
		return false
	}
	return l.topo.SingleDistrict(state) || l.topo.NoDistrictData(state)
}

// districtReliable reports whether district cells of state on date are part
// of the day-by-day fold. Before and at the gospel date only mirrored states
// qualify; afterwards every state does.
func (l *Ledger) districtReliable(state string, date Date) bool {
	if l.mirrored(state) {
		return true
	}
	return date.After(l.gospel)
}

func sortRegions(rs []Region) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].State != rs[j].State {
			return rs[i].State < rs[j].State
		}
		return rs[i].District < rs[j].District
	})
}
