package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// PIVOTED SHEETS - One column group per date
// =============================================================================
//
// Row 1 repeats a date over each group of columns, row 2 names the columns
// inside the group:
//
//	State,District,01/05/2021,01/05/2021,02/05/2021,02/05/2021
//	,,Tested,Source1,Tested,Source1
//
// Leading columns before the first date are row keys.

// PivotHeader is the parsed two-row header of a pivoted sheet.
type PivotHeader struct {
	// RowKeys maps lower-cased leading column names to their index.
	RowKeys map[string]int
	// ColumnKeys maps lower-cased sub-headers to their offset in a group.
	ColumnKeys map[string]int
	// Dates holds one date per group; zero for an invalid or out-of-range date.
	Dates []ledger.Date
}

// GroupStart returns the column index of group g.
func (p *PivotHeader) GroupStart(g int) int {
	return len(p.RowKeys) + g*len(p.ColumnKeys)
}

// ColumnString returns the spreadsheet letters of a 1-based column number.
func ColumnString(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// ParsePivotHeaders parses the two header rows. Bad group dates are logged
// with their column letters and left zero.
func (n *Normalizer) ParsePivotHeaders(header1, header2 []string) (*PivotHeader, error) {
	p := &PivotHeader{RowKeys: make(map[string]int), ColumnKeys: make(map[string]int)}

	first := -1
	var firstDate ledger.Date
	for j, col := range header1 {
		d, err := ledger.ParseDateLayout(SheetDateLayout, strings.TrimSpace(col))
		if err == nil {
			first, firstDate = j, d
			break
		}
		p.RowKeys[strings.ToLower(strings.TrimSpace(col))] = j
	}
	if first < 0 {
		return nil, fmt.Errorf("%w: pivot header has no date column", ledger.ErrMalformedRecord)
	}

	for j := first; j < len(header1); j++ {
		d, err := ledger.ParseDateLayout(SheetDateLayout, strings.TrimSpace(header1[j]))
		if err != nil || !d.Equal(firstDate) {
			break
		}
		if j >= len(header2) {
			return nil, fmt.Errorf("%w: pivot sub-header shorter than header", ledger.ErrMalformedRecord)
		}
		p.ColumnKeys[strings.ToLower(strings.TrimSpace(header2[j]))] = j - first
	}

	for j := first; j < len(header1); j += len(p.ColumnKeys) {
		d, err := n.date(SheetDateLayout, header1[j])
		if err != nil {
			n.logger.Warn("pivot column skipped", "column", ColumnString(j+1), "value", header1[j], "reason", err.Error())
			d = ledger.Date{}
		}
		p.Dates = append(p.Dates, d)
	}
	return p, nil
}

// ParseDistrictTests reads the pivoted district tested sheet. Row keys:
// state, district. Group columns: tested.
func (n *Normalizer) ParseDistrictTests(name string, r io.Reader) (*Batch, error) {
	return n.parsePivot(name, r, pivotSpec{
		state:    "state",
		byName:   true,
		district: "district",
		stats:    []pivotStat{{ledger.Tested, "tested"}},
	})
}

// ParseDistrictVaccinations reads the pivoted district vaccination sheet.
// Row keys: state_code, district. Rows resolving to the same district on
// the same date are summed.
func (n *Normalizer) ParseDistrictVaccinations(name string, r io.Reader) (*Batch, error) {
	return n.parsePivot(name, r, pivotSpec{
		state:    "state_code",
		district: "district",
		stats: []pivotStat{
			{ledger.Vaccinated1, "first dose administered"},
			{ledger.Vaccinated2, "second dose administered"},
		},
		sum: true,
	})
}

type pivotStat struct {
	stat ledger.Statistic
	key  string
}

type pivotSpec struct {
	state    string
	byName   bool // state column holds names instead of codes
	district string
	stats    []pivotStat
	sum      bool
}

func (n *Normalizer) parsePivot(name string, r io.Reader, spec pivotSpec) (*Batch, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	h1, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", name, err)
	}
	h2, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read sub-header: %w", name, err)
	}
	p, err := n.ParsePivotHeaders(h1, h2)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	for _, key := range []string{spec.state, spec.district} {
		if _, ok := p.RowKeys[key]; !ok {
			return nil, fmt.Errorf("%s: missing row key %q", name, key)
		}
	}
	for _, s := range spec.stats {
		if _, ok := p.ColumnKeys[s.key]; !ok {
			return nil, fmt.Errorf("%s: missing group column %q", name, s.key)
		}
	}

	b := &Batch{Feed: name}
	type cellKey struct {
		date   ledger.Date
		region ledger.Region
		stat   ledger.Statistic
	}
	summed := make(map[cellKey]int)

	for line := 3; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", name, line, err)
		}

		rawState := cell(row, p.RowKeys[spec.state])
		var state string
		if spec.byName {
			state, err = n.reg.ResolveState(rawState)
		} else {
			state, err = n.reg.ResolveStateCode(rawState)
		}
		if err != nil {
			n.reject(b, line, spec.state, rawState, err)
			continue
		}
		// Single-district states come from the state sheets.
		if n.reg.SingleDistrict(state) {
			continue
		}
		rawDistrict := cell(row, p.RowKeys[spec.district])
		region, err := n.reg.ResolveDistrictName(state, rawDistrict)
		if err != nil {
			n.reject(b, line, spec.district, rawDistrict, err)
			continue
		}

		for g, date := range p.Dates {
			if date.IsZero() {
				continue
			}
			start := p.GroupStart(g)
			for _, s := range spec.stats {
				col := start + p.ColumnKeys[s.key]
				raw := cell(row, col)
				v, ok, err := ParseCount(raw)
				if err != nil {
					n.reject(b, line, ColumnString(col+1), raw, err)
					continue
				}
				if !ok || v == 0 {
					continue
				}
				key := cellKey{date, region, s.stat}
				if i, dup := summed[key]; dup && spec.sum {
					b.Records[i].Value += v
					continue
				}
				summed[key] = len(b.Records)
				b.add(ledger.Record{
					Date:      date,
					Region:    region,
					Statistic: s.stat,
					Value:     v,
					Mode:      ledger.ModeSnapshot,
					Line:      line,
				})
			}
		}
	}
	return b, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
