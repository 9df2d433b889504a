package ledger

// =============================================================================
// SNAPSHOT RECONCILIATION - Absolute counts → implied daily deltas
// =============================================================================

// RecordSnapshot sets the observed absolute count of a snapshot-native
// statistic and cites its source. A state-level snapshot of a single-district
// state is mirrored into its sole district.
func (l *Ledger) RecordSnapshot(region Region, date Date, stat Statistic, count int64, source string) error {
	if !stat.IsSnapshot() {
		return ErrNotSnapshotStatistic
	}
	l.setSnapshot(region, date, stat, count, source)

	if !region.IsDistrict() && l.topo != nil && l.topo.SingleDistrict(region.State) {
		l.setSnapshot(District(region.State, l.topo.StateName(region.State)), date, stat, count, source)
	}
	return nil
}

func (l *Ledger) setSnapshot(region Region, date Date, stat Statistic, count int64, source string) {
	e := l.cell(date, region)
	e.Total[stat] = count
	delete(e.carried, stat)
	e.setSource(stat, AsOf{Source: source, Date: date})
}

// ReconcileSnapshots derives deltas for snapshot-native statistics in one
// ascending pass over all dates:
//
//   - an observed total with no previous total is its own delta
//   - an observed total after a previous total gives delta = today - yesterday
//   - a missing total after a previous total is carried forward unchanged,
//     with its meta; the gap day gets no delta for that statistic
//
// "Yesterday" is the previous date present in the ledger. Carried totals are
// flagged, so running the pass again yields the same ledger.
func (l *Ledger) ReconcileSnapshots() {
	dates := l.Dates()
	for i, date := range dates {
		for _, e := range l.days[date] {
			for _, s := range SnapshotStatistics {
				if e.carried[s] {
					delete(e.Delta, s)
					continue
				}
				if v, ok := e.Total.Get(s); ok {
					e.Delta[s] = v
				}
			}
		}
		if i == 0 {
			continue
		}

		prev := dates[i-1]
		for _, r := range l.AllRegions(prev) {
			pe, _ := l.Entry(prev, r)
			for _, s := range SnapshotStatistics {
				pv, ok := pe.Total.Get(s)
				if !ok {
					continue
				}
				cur := l.cell(date, r)
				if _, observed := cur.Total.Get(s); observed && !cur.carried[s] {
					cur.Delta[s] -= pv
					continue
				}
				cur.Total[s] = pv
				if cur.carried == nil {
					cur.carried = make(map[Statistic]bool)
				}
				cur.carried[s] = true
				delete(cur.Delta, s)
				if _, cited := cur.Meta.Sources[s.MetaGroup()]; !cited {
					if src, ok := pe.Meta.Sources[s.MetaGroup()]; ok {
						cur.setSource(s, src)
					}
				}
			}
		}
	}
}
