/*
accumulate.go - Delta Accumulation Engine

PURPOSE:
  Folds per-day deltas of delta-native statistics into running cumulative
  totals, strictly in ascending date order (an explicit prefix-sum scan).

INVARIANT:
  For every region r, delta-native statistic s, and consecutive present
  dates (p, d):
      total[d][r][s] = total[p][r][s] + delta[d][r][s]

  Totals are assigned, never incremented, so replaying a range that was
  already processed leaves every value unchanged.

DISTRICTS:
  - Single-district and no-district-data states: the sole district is a
    mirror of the state (the state name, or Unknown respectively).
  - Other states: districts are folded only after the gospel date. Up to and
    including that date their totals come from the gospel snapshot and the
    conservation residual (residual.go).

SEE ALSO:
  - ingest.go: how records become deltas
  - residual.go: gospel-date Unknown district
*/
package ledger

// Increment adds amount into the delta of one cell. Zero is a no-op.
// Negative amounts are corrections and are kept as-is.
func (l *Ledger) Increment(region Region, date Date, stat Statistic, amount int64) {
	if amount == 0 {
		return
	}
	e := l.cell(date, region)
	e.Delta[stat] += amount
}

// Accumulate walks the ledger dates within r in ascending order and sets
// each delta-native total to the previous present date's total plus the
// day's delta. A zero bound in r is open.
func (l *Ledger) Accumulate(r Range) {
	for _, date := range l.Dates() {
		if !r.Contains(date) {
			continue
		}
		l.accumulateDate(date)
	}
}

func (l *Ledger) accumulateDate(date Date) {
	prev, hasPrev := l.previous(date)

	states := l.unionRegions(date, prev, hasPrev, func(r Region) bool { return !r.IsDistrict() })
	for _, state := range states {
		cur := l.cell(date, state)
		l.fold(cur, l.prevEntry(prev, hasPrev, state))

		switch {
		case l.mirrored(state.State):
			l.mirror(date, state.State, cur)
		case l.districtReliable(state.State, date):
			districts := l.unionRegions(date, prev, hasPrev, func(r Region) bool {
				return r.IsDistrict() && r.State == state.State
			})
			for _, d := range districts {
				l.fold(l.cell(date, d), l.prevEntry(prev, hasPrev, d))
			}
		}
	}
}

// fold assigns cur.Total = prev.Total + cur.Delta per delta-native statistic.
func (l *Ledger) fold(cur, prev *Entry) {
	for _, s := range DeltaStatistics {
		var base int64
		hasBase := false
		if prev != nil {
			base, hasBase = prev.Total.Get(s)
		}
		delta, hasDelta := cur.Delta.Get(s)
		if hasBase || hasDelta {
			cur.Total[s] = base + delta
		}
	}
}

// mirror copies the state's delta-native total and delta into its sole district.
func (l *Ledger) mirror(date Date, state string, src *Entry) {
	name := l.soleDistrict(state)
	if name == "" {
		return
	}
	dst := l.cell(date, District(state, name))
	for _, s := range DeltaStatistics {
		if v, ok := src.Total.Get(s); ok {
			dst.Total[s] = v
		}
		if v, ok := src.Delta.Get(s); ok {
			dst.Delta[s] = v
		} else {
			delete(dst.Delta, s)
		}
	}
}

// soleDistrict names the district a mirrored state reports into.
func (l *Ledger) soleDistrict(state string) string {
	if l.topo == nil {
		return ""
	}
	switch {
	case l.topo.SingleDistrict(state):
		return l.topo.StateName(state)
	case l.topo.NoDistrictData(state):
		return UnknownDistrict
	}
	return ""
}

func (l *Ledger) prevEntry(prev Date, hasPrev bool, r Region) *Entry {
	if !hasPrev {
		return nil
	}
	e, _ := l.Entry(prev, r)
	return e
}

// unionRegions returns the regions matching keep on date and on prev.
func (l *Ledger) unionRegions(date, prev Date, hasPrev bool, keep func(Region) bool) []Region {
	seen := make(map[Region]struct{})
	var out []Region
	add := func(d Date) {
		for r := range l.days[d] {
			if _, ok := seen[r]; ok || !keep(r) {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	add(date)
	if hasPrev {
		add(prev)
	}
	sortRegions(out)
	return out
}
