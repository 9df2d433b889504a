package ledger

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// =============================================================================
// CROSS-TALLY VALIDATOR - Final date vs authoritative snapshot feeds
// =============================================================================
//
// Read-only and non-fatal: every discrepancy is returned for logging, none
// alters the ledger.

// TallyReport is one row of an authoritative statewise or districtwise feed.
type TallyReport struct {
	Region Region
	Total  Counts
	Delta  Counts
}

type DiscrepancyKind string

const (
	// MissingInFeed: the ledger has the region on its final date, the feed does not.
	MissingInFeed DiscrepancyKind = "missing_in_feed"
	// ValueMismatch: the feed reports a different total or delta.
	ValueMismatch DiscrepancyKind = "mismatch"
)

type Discrepancy struct {
	Kind      DiscrepancyKind
	Region    Region
	Statistic Statistic
	Bucket    string // "total" or "delta"
	Feed      int64
	Ledger    int64
	// Dump is the YAML of the ledger entry for MissingInFeed.
	Dump string
}

func (d Discrepancy) String() string {
	if d.Kind == MissingInFeed {
		return fmt.Sprintf("%s not in feed", d.Region)
	}
	return fmt.Sprintf("%s %s %s: (sheet: %d, parser: %d)", d.Region, d.Statistic, d.Bucket, d.Feed, d.Ledger)
}

// TallyStates checks the final ledger date against a statewise feed.
func (l *Ledger) TallyStates(reports []TallyReport) []Discrepancy {
	last := l.LastDate()
	var out []Discrepancy

	inFeed := make(map[string]bool, len(reports))
	for _, r := range reports {
		inFeed[r.Region.State] = true
	}
	for _, state := range l.Regions(last) {
		if !inFeed[state.State] {
			out = append(out, Discrepancy{
				Kind:   MissingInFeed,
				Region: state,
				Dump:   dumpYAML(state.String(), l.EntryDocument(last, state)),
			})
		}
	}

	for _, r := range reports {
		e, _ := l.Entry(last, r.Region.Parent())
		out = append(out, compare(r.Region.Parent(), r, e)...)
	}
	return out
}

// TallyDistricts checks the final ledger date against a districtwise feed.
// Mirrored states and the unassigned state are skipped.
func (l *Ledger) TallyDistricts(reports []TallyReport) []Discrepancy {
	last := l.LastDate()
	var out []Discrepancy

	feedStates := make(map[string]bool)
	feedDistricts := make(map[Region]bool)
	for _, r := range reports {
		feedStates[r.Region.State] = true
		if r.Region.IsDistrict() {
			feedDistricts[r.Region] = true
		}
	}

	for _, state := range l.Regions(last) {
		if !l.hasDistricts(state.State) || l.unassigned(state.State) {
			continue
		}
		districts := l.Districts(last, state.State)
		if len(districts) == 0 {
			continue
		}
		if !feedStates[state.State] {
			out = append(out, Discrepancy{
				Kind:   MissingInFeed,
				Region: state,
				Dump:   dumpYAML(state.String(), l.EntryDocument(last, state)),
			})
			continue
		}
		for _, d := range districts {
			if feedDistricts[d] {
				continue
			}
			de, _ := l.Entry(last, d)
			if !hasPrimary(de) {
				continue
			}
			out = append(out, Discrepancy{
				Kind:   MissingInFeed,
				Region: d,
				Dump:   dumpYAML(fmt.Sprintf("%s (%s)", d.District, d.State), de.Document()),
			})
		}
	}

	for _, r := range reports {
		if !r.Region.IsDistrict() || !l.hasDistricts(r.Region.State) || l.unassigned(r.Region.State) {
			continue
		}
		e, _ := l.Entry(last, r.Region)
		out = append(out, compare(r.Region, r, e)...)
	}
	return out
}

// compare reports primary-statistic mismatches; zero feed values are not checked.
func compare(region Region, r TallyReport, e *Entry) []Discrepancy {
	var out []Discrepancy
	check := func(bucket string, feed, ledger Counts) {
		for _, s := range PrimaryStatistics {
			want := feed.Value(s)
			if want == 0 {
				continue
			}
			got := ledger.Value(s)
			if got != want {
				out = append(out, Discrepancy{
					Kind: ValueMismatch, Region: region, Statistic: s,
					Bucket: bucket, Feed: want, Ledger: got,
				})
			}
		}
	}
	var total, delta Counts
	if e != nil {
		total, delta = e.Total, e.Delta
	}
	check("total", r.Total, total)
	check("delta", r.Delta, delta)
	return out
}

func hasPrimary(e *Entry) bool {
	if e == nil {
		return false
	}
	for _, s := range PrimaryStatistics {
		if e.Total.Has(s) || e.Delta.Has(s) {
			return true
		}
	}
	return false
}

func (l *Ledger) unassigned(state string) bool {
	return l.topo != nil && l.topo.Unassigned(state)
}

func dumpYAML(key string, doc map[string]any) string {
	b, err := yaml.Marshal(map[string]any{key: doc})
	if err != nil {
		return fmt.Sprintf("%s: %v", key, doc)
	}
	return string(b)
}
