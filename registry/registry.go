/*
Package registry resolves free-text state and district names to canonical
region identifiers.

PURPOSE:
  The Registry is the closed set of regions the ledger may hold. Feeds never
  invent a region: a name that does not resolve here is rejected.

SOURCES:
  misc.json                 state_meta_data (codes, names, populations)
                            district_meta_data (district populations)
  state_district_wise.json  district names per state

STATE CLASSES:
  single-district   CH, DL, LD: the sole district mirrors the state and is
                    named after it
  no-district-data  AN, AS, GA, MN, SK, TG: counts land in Unknown
  unassigned        UN: counts not attributed to a real state

NAME MATCHING:
  Case-insensitive, using Unicode case folding, after trimming whitespace.
*/
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/warp/caseledger/ledger"
)

var (
	// SingleDistrictStates report one district named after the state.
	SingleDistrictStates = []string{"CH", "DL", "LD"}
	// NoDistrictDataStates have no district breakdown at all.
	NoDistrictDataStates = []string{"AN", "AS", "GA", "MN", "SK", "TG"}
)

// UnassignedState is the code of the "Unassigned States" bucket.
const UnassignedState = "UN"

type Registry struct {
	codes map[string]string // folded state name → code
	names map[string]string // code → display name

	districts map[string]map[string]string // code → folded district → display

	statePopulation    map[string]int64
	districtPopulation map[ledger.Region]int64

	single     map[string]bool
	noData     map[string]bool
	unassigned string

	logger *slog.Logger
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithSingleDistrictStates replaces the default single-district states.
func WithSingleDistrictStates(codes ...string) Option {
	return func(r *Registry) {
		r.single = set(codes)
	}
}

// WithNoDistrictDataStates replaces the default no-district-data states.
func WithNoDistrictDataStates(codes ...string) Option {
	return func(r *Registry) {
		r.noData = set(codes)
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		codes:              make(map[string]string),
		names:              make(map[string]string),
		districts:          make(map[string]map[string]string),
		statePopulation:    make(map[string]int64),
		districtPopulation: make(map[ledger.Region]int64),
		single:             set(SingleDistrictStates),
		noData:             set(NoDistrictDataStates),
		unassigned:         UnassignedState,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// BUILDING
// =============================================================================

// AddState registers a state. The code is upper-cased.
func (r *Registry) AddState(code, name string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	name = strings.TrimSpace(name)
	r.codes[fold(name)] = code
	r.names[code] = name
	if r.single[code] {
		r.AddDistrict(code, name)
	}
}

// AddDistrict registers a district display name under a known state.
func (r *Registry) AddDistrict(state, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	m := r.districts[state]
	if m == nil {
		m = make(map[string]string)
		r.districts[state] = m
	}
	m[fold(name)] = name
}

func (r *Registry) SetStatePopulation(code string, population int64) {
	r.statePopulation[code] = population
}

func (r *Registry) SetDistrictPopulation(region ledger.Region, population int64) {
	r.districtPopulation[region] = population
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ResolveState maps a state name to its code.
func (r *Registry) ResolveState(name string) (string, error) {
	code, ok := r.codes[fold(name)]
	if !ok {
		return "", fmt.Errorf("%w: state %q", ledger.ErrUnresolvedRegion, strings.TrimSpace(name))
	}
	return code, nil
}

// ResolveStateCode validates a state code. The country code is accepted.
func (r *Registry) ResolveStateCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == ledger.CountryCode || r.KnownState(code) {
		return code, nil
	}
	return "", fmt.Errorf("%w: state code %q", ledger.ErrUnresolvedRegion, code)
}

func (r *Registry) KnownState(code string) bool {
	_, ok := r.names[code]
	return ok
}

// ResolveDistrict maps a district name within state to a region:
//
//   - single-district states map every name to the state name
//   - no-district-data states map every name to Unknown
//   - an empty name or "unknown" maps to Unknown
//   - otherwise the name must be a registered district of state
func (r *Registry) ResolveDistrict(state, name string) (ledger.Region, error) {
	switch {
	case r.single[state]:
		return ledger.District(state, r.StateName(state)), nil
	case r.noData[state]:
		return ledger.District(state, ledger.UnknownDistrict), nil
	}
	return r.lookupDistrict(state, name)
}

// ResolveDistrictName applies only the empty/unknown rule and the registry
// lookup, for feeds that name districts of every state literally.
func (r *Registry) ResolveDistrictName(state, name string) (ledger.Region, error) {
	return r.lookupDistrict(state, name)
}

func (r *Registry) lookupDistrict(state, name string) (ledger.Region, error) {
	key := fold(name)
	if key == "" || key == fold(ledger.UnknownDistrict) {
		return ledger.District(state, ledger.UnknownDistrict), nil
	}
	if display, ok := r.districts[state][key]; ok {
		return ledger.District(state, display), nil
	}
	return ledger.Region{}, fmt.Errorf("%w: district %q (%s)", ledger.ErrUnresolvedRegion, strings.TrimSpace(name), state)
}

// States returns every registered state code, sorted.
func (r *Registry) States() []string {
	out := make([]string, 0, len(r.names))
	for code := range r.names {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// ledger.Topology and ledger.Populations
// =============================================================================

func (r *Registry) SingleDistrict(state string) bool { return r.single[state] }
func (r *Registry) NoDistrictData(state string) bool { return r.noData[state] }
func (r *Registry) Unassigned(state string) bool     { return state == r.unassigned }

// StateName returns the display name of a code, or the code when unknown.
func (r *Registry) StateName(state string) string {
	if name, ok := r.names[state]; ok {
		return name
	}
	return state
}

// Population returns the population of a state or district.
func (r *Registry) Population(region ledger.Region) (int64, bool) {
	if region.IsDistrict() {
		p, ok := r.districtPopulation[region]
		return p, ok
	}
	p, ok := r.statePopulation[region.State]
	return p, ok
}

// fold builds a Caser per call; Casers are stateful and the registry is read
// from several feed loaders at once.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func set(codes []string) map[string]bool {
	m := make(map[string]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}
