package feed

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// AUTHORITATIVE FEEDS - statewise (data.json) and districtwise
// =============================================================================

// Statewise is the statewise feed: final-date reports and state meta.
type Statewise struct {
	Batch
	Reports     []ledger.TallyReport
	Annotations []ledger.StateAnnotation
}

// Districtwise is the districtwise feed: final-date reports and district notes.
type Districtwise struct {
	Batch
	Reports []ledger.TallyReport
	Notes   []ledger.DistrictNote
}

type statewiseFile struct {
	Statewise []statewiseRow `json:"statewise"`
}

type statewiseRow struct {
	StateCode      string `json:"statecode"`
	LastUpdated    string `json:"lastupdatedtime"`
	Notes          string `json:"statenotes"`
	Confirmed      string `json:"confirmed"`
	Recovered      string `json:"recovered"`
	Deaths         string `json:"deaths"`
	DeltaConfirmed string `json:"deltaconfirmed"`
	DeltaRecovered string `json:"deltarecovered"`
	DeltaDeaths    string `json:"deltadeaths"`
}

// ParseStatewise reads the "statewise" entries of data.json.
func (n *Normalizer) ParseStatewise(name string, r io.Reader) (*Statewise, error) {
	var f statewiseFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	out := &Statewise{Batch: Batch{Feed: name}}
	for i, row := range f.Statewise {
		line := i + 2
		state, err := n.reg.ResolveStateCode(row.StateCode)
		if err != nil {
			n.reject(&out.Batch, line, "statecode", row.StateCode, err)
			continue
		}
		updated, err := ParseTimestamp(row.LastUpdated)
		if err != nil {
			n.reject(&out.Batch, line, "lastupdatedtime", row.LastUpdated, err)
			continue
		}
		out.Annotations = append(out.Annotations, ledger.StateAnnotation{
			State:       state,
			LastUpdated: updated,
			Notes:       strings.TrimSpace(row.Notes),
		})

		report := ledger.TallyReport{Region: ledger.State(state), Total: ledger.Counts{}, Delta: ledger.Counts{}}
		values := []struct {
			stat         ledger.Statistic
			total, delta string
		}{
			{ledger.Confirmed, row.Confirmed, row.DeltaConfirmed},
			{ledger.Recovered, row.Recovered, row.DeltaRecovered},
			{ledger.Deceased, row.Deaths, row.DeltaDeaths},
		}
		for _, v := range values {
			total, _, err := ParseCount(v.total)
			if err != nil {
				n.reject(&out.Batch, line, v.stat.String(), v.total, err)
				continue
			}
			delta, _, err := ParseCount(v.delta)
			if err != nil {
				n.reject(&out.Batch, line, "delta"+v.stat.String(), v.delta, err)
				continue
			}
			report.Total[v.stat] = total
			report.Delta[v.stat] = delta
		}
		out.Reports = append(out.Reports, report)
	}
	return out, nil
}

type districtwiseState struct {
	StateCode    string                      `json:"statecode"`
	DistrictData map[string]districtwiseData `json:"districtData"`
}

type districtwiseData struct {
	Notes     string `json:"notes"`
	Confirmed int64  `json:"confirmed"`
	Recovered int64  `json:"recovered"`
	Deceased  int64  `json:"deceased"`
	Delta     struct {
		Confirmed int64 `json:"confirmed"`
		Recovered int64 `json:"recovered"`
		Deceased  int64 `json:"deceased"`
	} `json:"delta"`
}

// ParseDistrictwise reads state_district_wise.json. Mirrored states carry
// no district data of their own and are skipped.
func (n *Normalizer) ParseDistrictwise(name string, r io.Reader) (*Districtwise, error) {
	var f map[string]districtwiseState
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)

	out := &Districtwise{Batch: Batch{Feed: name}}
	for i, stateName := range names {
		line := i + 2
		entry := f[stateName]
		state, err := n.reg.ResolveStateCode(entry.StateCode)
		if err != nil {
			n.reject(&out.Batch, line, "statecode", entry.StateCode, err)
			continue
		}
		if n.reg.SingleDistrict(state) || n.reg.NoDistrictData(state) {
			continue
		}

		districts := make([]string, 0, len(entry.DistrictData))
		for d := range entry.DistrictData {
			districts = append(districts, d)
		}
		sort.Strings(districts)

		for _, d := range districts {
			data := entry.DistrictData[d]
			region, err := n.reg.ResolveDistrict(state, d)
			if err != nil {
				n.reject(&out.Batch, line, "district", d, err)
				continue
			}
			if notes := strings.TrimSpace(data.Notes); notes != "" {
				out.Notes = append(out.Notes, ledger.DistrictNote{Region: region, Notes: notes})
			}
			if n.reg.Unassigned(state) {
				continue
			}
			out.Reports = append(out.Reports, ledger.TallyReport{
				Region: region,
				Total: ledger.Counts{
					ledger.Confirmed: data.Confirmed,
					ledger.Recovered: data.Recovered,
					ledger.Deceased:  data.Deceased,
				},
				Delta: ledger.Counts{
					ledger.Confirmed: data.Delta.Confirmed,
					ledger.Recovered: data.Delta.Recovered,
					ledger.Deceased:  data.Delta.Deceased,
				},
			})
		}
	}
	return out, nil
}
