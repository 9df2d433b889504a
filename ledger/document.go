package ledger

// =============================================================================
// DOCUMENTS - Serializable shapes of the ledger and the timeseries
// =============================================================================
//
// Both documents drop zero values and empty buckets. Keys are strings so the
// same maps feed encoding/json and the YAML dumps of the tally.

// Document returns the date-major ledger:
//
//	date → state → {total, delta, delta7, delta21_14, meta, districts: {name → same}}
func (l *Ledger) Document() map[string]map[string]map[string]any {
	out := make(map[string]map[string]map[string]any, len(l.dates))
	for _, date := range l.dates {
		day := make(map[string]map[string]any)
		for _, state := range l.Regions(date) {
			doc := l.EntryDocument(date, state)
			if len(doc) > 0 {
				day[state.State] = doc
			}
		}
		if len(day) > 0 {
			out[date.String()] = day
		}
	}
	return out
}

// DateDocument returns one date of the ledger document.
func (l *Ledger) DateDocument(date Date) map[string]map[string]any {
	return l.Document()[date.String()]
}

// EntryDocument returns a state entry with its nested districts; it is nil
// when everything is empty.
func (l *Ledger) EntryDocument(date Date, state Region) map[string]any {
	e, ok := l.Entry(date, state)
	var doc map[string]any
	if ok {
		doc = e.Document()
	}

	districts := make(map[string]any)
	for _, d := range l.Districts(date, state.State) {
		de, _ := l.Entry(date, d)
		if dd := de.Document(); len(dd) > 0 {
			districts[d.District] = dd
		}
	}
	if len(districts) > 0 {
		if doc == nil {
			doc = make(map[string]any)
		}
		doc["districts"] = districts
	}
	return doc
}

// Document returns the non-empty buckets of one entry, without districts.
func (e *Entry) Document() map[string]any {
	if e == nil {
		return nil
	}
	doc := make(map[string]any)
	putCounts(doc, "total", e.Total)
	putCounts(doc, "delta", e.Delta)
	for key, w := range e.Windows {
		putCounts(doc, key, w)
	}
	if meta := e.Meta.Document(); len(meta) > 0 {
		doc["meta"] = meta
	}
	if len(doc) == 0 {
		return nil
	}
	return doc
}

// Document returns the set meta fields.
func (m Meta) Document() map[string]any {
	doc := make(map[string]any)
	if m.Population != 0 {
		doc["population"] = m.Population
	}
	if !m.Date.IsZero() {
		doc["date"] = m.Date.String()
	}
	if s := m.LastUpdatedString(); s != "" {
		doc["last_updated"] = s
	}
	if m.Notes != "" {
		doc["notes"] = m.Notes
	}
	for group, at := range m.Sources {
		src := make(map[string]any)
		if at.Source != "" {
			src["source"] = at.Source
		}
		if !at.Date.IsZero() {
			src["date"] = at.Date.String()
		}
		if len(src) > 0 {
			doc[group] = src
		}
	}
	return doc
}

// Document returns the region-major timeseries:
//
//	state → {dates: {date → {total, delta, delta7}}, districts: {name → {dates: ...}}}
func (ts *Timeseries) Document() map[string]map[string]any {
	out := make(map[string]map[string]any, len(ts.States))
	for code, ss := range ts.States {
		doc := make(map[string]any)
		if dates := ss.Series.document(); len(dates) > 0 {
			doc["dates"] = dates
		}
		districts := make(map[string]any)
		for name, ds := range ss.Districts {
			if dates := ds.document(); len(dates) > 0 {
				districts[name] = map[string]any{"dates": dates}
			}
		}
		if len(districts) > 0 {
			doc["districts"] = districts
		}
		out[code] = doc
	}
	return out
}

// StatesDocument returns the timeseries without district series.
func (ts *Timeseries) StatesDocument() map[string]map[string]any {
	out := make(map[string]map[string]any, len(ts.States))
	for code, ss := range ts.States {
		out[code] = map[string]any{"dates": ss.Series.document()}
	}
	return out
}

func (s *Series) document() map[string]any {
	out := make(map[string]any, len(s.Dates))
	for d, p := range s.Dates {
		point := make(map[string]any)
		putCounts(point, "total", p.Total)
		putCounts(point, "delta", p.Delta)
		putCounts(point, Window7, p.Delta7)
		if len(point) > 0 {
			out[d.String()] = point
		}
	}
	return out
}

func putCounts(doc map[string]any, key string, c Counts) {
	m := countsMap(c)
	if len(m) > 0 {
		doc[key] = m
	}
}

func countsMap(c Counts) map[string]int64 {
	var out map[string]int64
	for s, v := range c {
		if v == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]int64, len(c))
		}
		out[s.String()] = v
	}
	return out
}
