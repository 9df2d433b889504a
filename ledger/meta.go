package ledger

import "time"

// =============================================================================
// META ATTACHMENT - Populations and final-date annotations
// =============================================================================

// Populations resolves region populations. The Registry implements it.
type Populations interface {
	Population(r Region) (int64, bool)
}

// AttachPopulations sets meta.population on every entry whose region has a
// known population.
func (l *Ledger) AttachPopulations(p Populations) {
	if p == nil {
		return
	}
	for _, regions := range l.days {
		for r, e := range regions {
			if pop, ok := p.Population(r); ok {
				e.Meta.Population = pop
			}
		}
	}
}

// StateAnnotation carries the statewise feed's last-updated time and notes.
type StateAnnotation struct {
	State       string
	LastUpdated time.Time
	Notes       string
}

// Annotate stamps state entries of the final date with their as-of date,
// last-updated time and notes. States absent from the final date are skipped
// and returned.
func (l *Ledger) Annotate(states []StateAnnotation) []string {
	last := l.LastDate()
	var skipped []string
	for _, a := range states {
		e, ok := l.Entry(last, State(a.State))
		if !ok {
			skipped = append(skipped, a.State)
			continue
		}
		e.Meta.Date = last
		e.Meta.LastUpdated = a.LastUpdated
		if a.Notes != "" {
			e.Meta.Notes = a.Notes
		}
	}
	return skipped
}

// AnnotateDistrict sets notes on a district entry of the final date. It
// reports false when the district has no entry that day.
func (l *Ledger) AnnotateDistrict(region Region, notes string) bool {
	if notes == "" || !region.IsDistrict() {
		return false
	}
	e, ok := l.Entry(l.LastDate(), region)
	if !ok {
		return false
	}
	e.Meta.Notes = notes
	return true
}
