package ledger

// =============================================================================
// RESIDUAL IMPUTATION - Gospel-date conservation check
// =============================================================================

// Residual records one imputed Unknown district value.
type Residual struct {
	State            string
	Statistic        Statistic
	StateTotal       int64
	KnownDistrictSum int64
	Unknown          int64 // StateTotal - KnownDistrictSum, may be negative
}

// RecordGospel sets the authoritative district total of a primary statistic
// at the gospel date. Mirrored states and non-primary statistics are ignored.
func (l *Ledger) RecordGospel(region Region, stat Statistic, count int64) bool {
	if !region.IsDistrict() || !stat.IsPrimary() || !l.hasDistricts(region.State) {
		return false
	}
	if count == 0 {
		return false
	}
	l.cell(l.gospel, region).Total[stat] = count
	return true
}

// ImputeUnknown enforces, at the gospel date, for every state with its own
// district breakdown and a state total for a primary statistic:
//
//	state.total = Σ known districts + Unknown.total
//
// The Unknown district takes the signed difference. No clamping: a negative
// residual surfaces districts overcounting the state. Only run once the
// state totals up to the gospel date are accumulated.
func (l *Ledger) ImputeUnknown() []Residual {
	var out []Residual
	for _, state := range l.Regions(l.gospel) {
		if !l.hasDistricts(state.State) {
			continue
		}
		districts := l.Districts(l.gospel, state.State)
		if len(districts) == 0 {
			continue
		}
		se, _ := l.Entry(l.gospel, state)

		for _, s := range PrimaryStatistics {
			stateTotal, ok := se.Total.Get(s)
			if !ok {
				continue
			}
			var known int64
			for _, d := range districts {
				if d.District == UnknownDistrict {
					continue
				}
				de, _ := l.Entry(l.gospel, d)
				known += de.Total.Value(s)
			}
			unknown := District(state.State, UnknownDistrict)
			if stateTotal == known {
				if ue, ok := l.Entry(l.gospel, unknown); ok {
					delete(ue.Total, s)
				}
				continue
			}
			l.cell(l.gospel, unknown).Total[s] = stateTotal - known
			out = append(out, Residual{
				State:            state.State,
				Statistic:        s,
				StateTotal:       stateTotal,
				KnownDistrictSum: known,
				Unknown:          stateTotal - known,
			})
		}
	}
	return out
}
