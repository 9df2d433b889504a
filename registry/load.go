package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// LOADING - misc.json and state_district_wise.json
// =============================================================================

type metaFile struct {
	States    []stateMeta    `json:"state_meta_data"`
	Districts []districtMeta `json:"district_meta_data"`
}

type stateMeta struct {
	Name       string `json:"stateut"`
	Code       string `json:"abbreviation"`
	Population string `json:"population"`
}

type districtMeta struct {
	State      string `json:"statecode"`
	District   string `json:"district"`
	Population string `json:"population"`
}

type districtListEntry struct {
	StateCode    string                     `json:"statecode"`
	DistrictData map[string]json.RawMessage `json:"districtData"`
}

// LoadFiles builds a registry from the metadata and district list files.
func LoadFiles(metaPath, districtsPath string, opts ...Option) (*Registry, error) {
	meta, err := os.Open(metaPath)
	if err != nil {
		return nil, fmt.Errorf("open registry metadata: %w", err)
	}
	defer meta.Close()

	districts, err := os.Open(districtsPath)
	if err != nil {
		return nil, fmt.Errorf("open district list: %w", err)
	}
	defer districts.Close()

	return Load(meta, districts, opts...)
}

// Load builds a registry. States come first, then district names, then
// district populations, which need both.
func Load(meta, districts io.Reader, opts ...Option) (*Registry, error) {
	var mf metaFile
	if err := json.NewDecoder(meta).Decode(&mf); err != nil {
		return nil, fmt.Errorf("decode registry metadata: %w", err)
	}
	var list map[string]districtListEntry
	if err := json.NewDecoder(districts).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode district list: %w", err)
	}

	r := New(opts...)
	r.loadStates(mf.States)
	r.loadDistrictList(list)
	r.loadDistrictMeta(mf.Districts)

	if len(r.names) == 0 {
		return nil, fmt.Errorf("registry metadata lists no states")
	}
	return r, nil
}

func (r *Registry) loadStates(states []stateMeta) {
	for i, s := range states {
		code := strings.ToUpper(strings.TrimSpace(s.Code))
		if code == "" {
			continue
		}
		r.AddState(code, s.Name)

		pop, ok, err := parsePopulation(s.Population)
		if err != nil {
			r.logger.Warn("bad population", "line", i+2, "state", code, "value", s.Population)
			continue
		}
		if ok {
			r.SetStatePopulation(code, pop)
		}
	}
}

func (r *Registry) loadDistrictList(list map[string]districtListEntry) {
	// Map iteration order is random; sort for stable log output.
	names := make([]string, 0, len(list))
	for name := range list {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		entry := list[name]
		code := strings.ToUpper(strings.TrimSpace(entry.StateCode))
		if !r.KnownState(code) {
			r.logger.Warn("bad state in district list", "line", i+2, "state", entry.StateCode)
			continue
		}
		for district := range entry.DistrictData {
			r.AddDistrict(code, district)
		}
	}
}

func (r *Registry) loadDistrictMeta(districts []districtMeta) {
	for i, d := range districts {
		code := strings.ToUpper(strings.TrimSpace(d.State))
		if !r.KnownState(code) {
			r.logger.Warn("bad state in district metadata", "line", i+2, "state", d.State)
			continue
		}
		region, err := r.ResolveDistrictName(code, d.District)
		if err != nil {
			r.logger.Warn("unexpected district", "line", i+2, "state", code, "district", d.District)
			continue
		}

		pop, ok, err := parsePopulation(d.Population)
		if err != nil {
			r.logger.Warn("bad population", "line", i+2, "state", code, "district", region.District, "value", d.Population)
			continue
		}
		if ok {
			r.SetDistrictPopulation(region, pop)
		}
	}
}

// parsePopulation reports ok=false for an empty value.
func parsePopulation(s string) (int64, bool, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false, fmt.Errorf("%w: population %q", ledger.ErrMalformedRecord, s)
	}
	if !d.IsInteger() || d.IsNegative() {
		return 0, false, fmt.Errorf("%w: population %q", ledger.ErrMalformedRecord, s)
	}
	return d.IntPart(), true, nil
}
