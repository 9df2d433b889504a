package feed

import (
	"errors"
	"fmt"
	"io"

	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// GOSPEL - Authoritative district totals at the gospel date
// =============================================================================
//
//	State_Code,District,Confirmed,Recovered,Deceased
//
// Mirrored states are skipped: their district follows the state.

// ParseGospel reads the gospel-date district CSV into Batch.Gospel. Rows
// resolving to the same district are summed.
func (n *Normalizer) ParseGospel(name string, r io.Reader) (*Batch, error) {
	cr := newCSVReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := h.require("State_Code", "District", "Confirmed", "Recovered", "Deceased"); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	b := &Batch{Feed: name}
	index := make(map[ledger.Region]int)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", name, line, err)
		}

		raw := h.get(row, "State_Code")
		state, err := n.reg.ResolveStateCode(raw)
		if err != nil {
			n.reject(b, line, "State_Code", raw, err)
			continue
		}
		if n.reg.SingleDistrict(state) || n.reg.NoDistrictData(state) {
			continue
		}
		raw = h.get(row, "District")
		region, err := n.reg.ResolveDistrict(state, raw)
		if err != nil {
			n.reject(b, line, "District", raw, err)
			continue
		}

		totals, col, err := gospelCounts(h, row)
		if err != nil {
			n.reject(b, line, col, h.get(row, col), err)
			continue
		}
		if len(totals) == 0 {
			continue
		}
		if i, ok := index[region]; ok {
			for s, v := range totals {
				b.Gospel[i].Totals[s] += v
			}
			continue
		}
		index[region] = len(b.Gospel)
		b.Gospel = append(b.Gospel, ledger.GospelRow{Region: region, Totals: totals})
	}
	return b, nil
}

var gospelColumns = map[ledger.Statistic]string{
	ledger.Confirmed: "Confirmed",
	ledger.Recovered: "Recovered",
	ledger.Deceased:  "Deceased",
}

func gospelCounts(h header, row []string) (ledger.Counts, string, error) {
	totals := ledger.Counts{}
	for _, s := range ledger.PrimaryStatistics {
		col := gospelColumns[s]
		v, _, err := ParseCount(h.get(row, col))
		if err != nil {
			return nil, col, err
		}
		if v != 0 {
			totals[s] = v
		}
	}
	return totals, "", nil
}
