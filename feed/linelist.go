package feed

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// LINE LISTS - raw_dataN.json and deaths_recoveriesN.json
// =============================================================================

// LegacyFeeds is the number of leading raw_data feeds whose district
// attribution is not trusted and whose rows are all confirmed cases.
const LegacyFeeds = 2

type lineListFile struct {
	Rows []lineListRow `json:"raw_data"`
}

type lineListRow struct {
	NumCases      string `json:"numcases"`
	State         string `json:"detectedstate"`
	District      string `json:"detecteddistrict"`
	DateAnnounced string `json:"dateannounced"`
	CurrentStatus string `json:"currentstatus"`
}

type outcomeFile struct {
	Rows []outcomeRow `json:"deaths_recoveries"`
}

type outcomeRow struct {
	Date          string `json:"date"`
	State         string `json:"state"`
	District      string `json:"district"`
	PatientStatus string `json:"patientstatus"`
}

// ParseLineList reads raw_data<index>.json. Feeds up to LegacyFeeds carry
// only confirmed cases and are not district-reliable.
func (n *Normalizer) ParseLineList(name string, index int, r io.Reader) (*Batch, error) {
	var f lineListFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	legacy := index <= LegacyFeeds
	b := &Batch{Feed: name}
	for i, row := range f.Rows {
		line := i + 2
		raw := strings.TrimSpace(row.NumCases)
		if raw == "" {
			continue
		}
		if strings.TrimSpace(row.State) == "" {
			continue
		}

		state, err := n.reg.ResolveState(row.State)
		if err != nil {
			n.reject(b, line, "detectedstate", row.State, err)
			continue
		}
		date, err := n.date(SheetDateLayout, row.DateAnnounced)
		if err != nil {
			n.reject(b, line, "dateannounced", row.DateAnnounced, err)
			continue
		}
		region, err := n.lineListRegion(state, row.District, legacy)
		if err != nil {
			// Still counted for the country and the state.
			n.logger.Warn("unexpected district", "feed", name, "line", line, "state", state, "district", row.District)
			region = ledger.State(state)
		}
		count, _, err := ParseCount(raw)
		if err != nil {
			n.reject(b, line, "numcases", row.NumCases, err)
			continue
		}
		if count == 0 {
			continue
		}

		stat := ledger.Confirmed
		if !legacy {
			if stat, err = ParseStatus(row.CurrentStatus); err != nil {
				n.reject(b, line, "currentstatus", row.CurrentStatus, err)
				continue
			}
		}

		b.add(ledger.Record{
			Date:      date,
			Region:    region,
			Statistic: stat,
			Value:     count,
			Mode:      ledger.ModeDelta,
			Legacy:    legacy,
			Line:      line,
		})
	}
	return b, nil
}

// ParseOutcomes reads deaths_recoveriesN.json: one recovered, deceased or
// other case per row, for the legacy line lists.
func (n *Normalizer) ParseOutcomes(name string, r io.Reader) (*Batch, error) {
	var f outcomeFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	b := &Batch{Feed: name}
	for i, row := range f.Rows {
		line := i + 2
		if strings.TrimSpace(row.State) == "" {
			continue
		}
		state, err := n.reg.ResolveState(row.State)
		if err != nil {
			n.reject(b, line, "state", row.State, err)
			continue
		}
		date, err := n.date(SheetDateLayout, row.Date)
		if err != nil {
			n.reject(b, line, "date", row.Date, err)
			continue
		}
		region, err := n.lineListRegion(state, row.District, true)
		if err != nil {
			n.reject(b, line, "district", row.District, err)
			continue
		}
		stat, err := ParseStatus(row.PatientStatus)
		if err != nil {
			n.reject(b, line, "patientstatus", row.PatientStatus, err)
			continue
		}

		b.add(ledger.Record{
			Date:      date,
			Region:    region,
			Statistic: stat,
			Value:     1,
			Mode:      ledger.ModeDelta,
			Legacy:    true,
			Line:      line,
		})
	}
	return b, nil
}

// lineListRegion resolves the district of a line-list row. Legacy rows of
// states with their own breakdown, and rows of the unassigned state, never
// reach a district, so they stay at state level without a lookup. The only
// error is ErrUnresolvedRegion for an unregistered district.
func (n *Normalizer) lineListRegion(state, district string, legacy bool) (ledger.Region, error) {
	mirrored := n.reg.SingleDistrict(state) || n.reg.NoDistrictData(state)
	if !mirrored && (legacy || n.reg.Unassigned(state)) {
		return ledger.State(state), nil
	}
	return n.reg.ResolveDistrict(state, district)
}
