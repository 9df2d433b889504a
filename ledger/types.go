/*
Package ledger provides the reconciliation and temporal aggregation engine.

PURPOSE:
  Turns a canonical stream of per-record observations into a date-ordered,
  hierarchical (country → state → district) ledger of cumulative totals,
  daily deltas and rolling windows, then re-projects it into a region-major
  timeseries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Statistic: closed enum of tracked counts
  - Region: one or two segment path (state code, optional district)
  - Counts: sparse statistic → integer mapping
  - Entry: one cell of the ledger (date × region)
  - Meta: population, sources, as-of date, notes, last updated

STATISTIC KINDS:
  Delta-native (confirmed, recovered, deceased, other) arrive as incremental
  event counts. Snapshot-native (tested, vaccinated1, vaccinated2) arrive as
  absolute as-of counts and need differencing to derive a delta.

SEE ALSO:
  - ledger.go: the Ledger store
  - accumulate.go, snapshot.go, residual.go, window.go: the write stages
  - projection.go, tally.go: the read-only stages
*/
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// STATISTIC - Closed set of tracked counts
// =============================================================================

type Statistic int

const (
	Confirmed Statistic = iota
	Recovered
	Deceased
	Other
	Tested
	Vaccinated1
	Vaccinated2

	numStatistics
)

var statisticNames = [numStatistics]string{
	Confirmed:   "confirmed",
	Recovered:   "recovered",
	Deceased:    "deceased",
	Other:       "other",
	Tested:      "tested",
	Vaccinated1: "vaccinated1",
	Vaccinated2: "vaccinated2",
}

var (
	// PrimaryStatistics are subject to the gospel-date conservation check.
	PrimaryStatistics = []Statistic{Confirmed, Recovered, Deceased}
	// DeltaStatistics are observed as incremental event counts.
	DeltaStatistics = []Statistic{Confirmed, Recovered, Deceased, Other}
	// SnapshotStatistics are observed as absolute as-of counts.
	SnapshotStatistics = []Statistic{Tested, Vaccinated1, Vaccinated2}
	// AllStatistics in canonical order.
	AllStatistics = []Statistic{Confirmed, Recovered, Deceased, Other, Tested, Vaccinated1, Vaccinated2}
)

func (s Statistic) Valid() bool { return s >= 0 && s < numStatistics }

// IsSnapshot reports whether s is observed as an absolute count.
func (s Statistic) IsSnapshot() bool { return s == Tested || s == Vaccinated1 || s == Vaccinated2 }

// IsPrimary reports whether s is one of confirmed, recovered, deceased.
func (s Statistic) IsPrimary() bool { return s == Confirmed || s == Recovered || s == Deceased }

func (s Statistic) String() string {
	if !s.Valid() {
		return fmt.Sprintf("statistic(%d)", int(s))
	}
	return statisticNames[s]
}

// MetaGroup names the meta bucket a snapshot statistic reports its source under.
func (s Statistic) MetaGroup() string {
	switch s {
	case Vaccinated1, Vaccinated2:
		return "vaccinated"
	default:
		return s.String()
	}
}

func (s Statistic) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: statistic %d", ErrMalformedRecord, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Statistic) UnmarshalText(b []byte) error {
	parsed, err := ParseStatistic(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatistic maps a canonical statistic name to the enum.
func ParseStatistic(name string) (Statistic, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range statisticNames {
		if n == name {
			return Statistic(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown statistic %q", ErrMalformedRecord, name)
}

// =============================================================================
// MODE - How a record's value is interpreted
// =============================================================================

type Mode string

const (
	ModeDelta    Mode = "delta"
	ModeSnapshot Mode = "snapshot"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDelta:
		return ModeDelta, nil
	case ModeSnapshot:
		return ModeSnapshot, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrMalformedRecord, s)
}

// =============================================================================
// REGION - Path into the hierarchy
// =============================================================================

const (
	// CountryCode is the singleton country-level region.
	CountryCode = "TT"
	// UnknownDistrict receives counts with no usable district and the
	// gospel-date conservation residual.
	UnknownDistrict = "Unknown"
)

// Region is a state code with an optional district. District == "" is the
// state (or country) itself.
type Region struct {
	State    string
	District string
}

func Country() Region                        { return Region{State: CountryCode} }
func State(code string) Region               { return Region{State: code} }
func District(state, district string) Region { return Region{State: state, District: district} }

func (r Region) IsDistrict() bool { return r.District != "" }
func (r Region) IsCountry() bool  { return r.State == CountryCode && r.District == "" }

// Parent returns the state-level region of a district, or r itself.
func (r Region) Parent() Region { return Region{State: r.State} }

func (r Region) String() string {
	if r.District == "" {
		return r.State
	}
	return r.State + "/" + r.District
}

// =============================================================================
// COUNTS - Sparse statistic → integer mapping
// =============================================================================

// Counts maps a statistic to a value. Absence means "not observed", which
// reads as zero but is distinct for carry-forward decisions.
type Counts map[Statistic]int64

func (c Counts) Get(s Statistic) (int64, bool) {
	v, ok := c[s]
	return v, ok
}

// Value returns the count for s, zero when absent.
func (c Counts) Value(s Statistic) int64 { return c[s] }

func (c Counts) Has(s Statistic) bool {
	_, ok := c[s]
	return ok
}

// NonZero returns a copy without zero values, or nil when nothing remains.
func (c Counts) NonZero() Counts {
	var out Counts
	for s, v := range c {
		if v == 0 {
			continue
		}
		if out == nil {
			out = make(Counts, len(c))
		}
		out[s] = v
	}
	return out
}

func (c Counts) Clone() Counts {
	if c == nil {
		return nil
	}
	out := make(Counts, len(c))
	for s, v := range c {
		out[s] = v
	}
	return out
}

// Statistics returns the present statistics in canonical order.
func (c Counts) Statistics() []Statistic {
	stats := make([]Statistic, 0, len(c))
	for s := range c {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i] < stats[j] })
	return stats
}

// =============================================================================
// META
// =============================================================================

// AsOf cites where and when a snapshot statistic was observed.
type AsOf struct {
	Source string
	Date   Date
}

type Meta struct {
	Population  int64
	Date        Date
	LastUpdated time.Time
	Notes       string
	// Sources is keyed by Statistic.MetaGroup ("tested", "vaccinated").
	Sources map[string]AsOf
}

// IsZero reports whether no meta field is set.
func (m Meta) IsZero() bool {
	return m.Population == 0 && m.Date.IsZero() && m.LastUpdated.IsZero() && m.Notes == "" && len(m.Sources) == 0
}

// LastUpdatedString formats LastUpdated in ISO-8601 with the +05:30 offset.
func (m Meta) LastUpdatedString() string {
	if m.LastUpdated.IsZero() {
		return ""
	}
	return m.LastUpdated.In(IST).Format("2006-01-02T15:04:05-07:00")
}

// =============================================================================
// ENTRY - One ledger cell (date × region)
// =============================================================================

type Entry struct {
	Total   Counts
	Delta   Counts
	Windows map[string]Counts
	Meta    Meta

	// carried marks snapshot totals filled by carry-forward, not observed.
	carried map[Statistic]bool
}

func newEntry() *Entry {
	return &Entry{Total: Counts{}, Delta: Counts{}}
}

// Window returns the rolling window counts stored under key.
func (e *Entry) Window(key string) Counts {
	if e == nil || e.Windows == nil {
		return nil
	}
	return e.Windows[key]
}

// Carried reports whether the total for s was carried forward.
func (e *Entry) Carried(s Statistic) bool { return e.carried[s] }

func (e *Entry) setSource(s Statistic, at AsOf) {
	if e.Meta.Sources == nil {
		e.Meta.Sources = make(map[string]AsOf)
	}
	e.Meta.Sources[s.MetaGroup()] = at
}
