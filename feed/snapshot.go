package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// SNAPSHOT FEEDS - Absolute as-of counts
// =============================================================================

type icmrFile struct {
	Tested []icmrRow `json:"tested"`
}

type icmrRow map[string]string

// icmrColumns maps each national snapshot statistic to its count and source keys.
var icmrColumns = []struct {
	stat   ledger.Statistic
	count  string
	source string
}{
	{ledger.Tested, "totalsamplestested", "source"},
	{ledger.Vaccinated1, "firstdoseadministered", "source4"},
	{ledger.Vaccinated2, "seconddoseadministered", "source4"},
}

// ParseICMR reads the national "tested" entries of data.json into country
// snapshots.
func (n *Normalizer) ParseICMR(name string, r io.Reader) (*Batch, error) {
	var f icmrFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	b := &Batch{Feed: name}
	for i, row := range f.Tested {
		line := i + 2
		for _, col := range icmrColumns {
			raw := strings.TrimSpace(row[col.count])
			if raw == "" {
				continue
			}
			date, err := n.date(SheetDateLayout, row["testedasof"])
			if err != nil {
				n.reject(b, line, "testedasof", row["testedasof"], err)
				continue
			}
			v, _, err := ParseCount(raw)
			if err != nil {
				n.reject(b, line, col.count, raw, err)
				continue
			}
			if v == 0 {
				continue
			}
			b.add(ledger.Record{
				Date:      date,
				Region:    ledger.Country(),
				Statistic: col.stat,
				Value:     v,
				Mode:      ledger.ModeSnapshot,
				Source:    strings.TrimSpace(row[col.source]),
				Line:      line,
			})
		}
	}
	return b, nil
}

// ParseStateTests reads the statewise tested CSV:
//
//	State,Updated On,Total Tested,Source1
func (n *Normalizer) ParseStateTests(name string, r io.Reader) (*Batch, error) {
	return n.parseStateSnapshots(name, r, "Updated On", []snapshotColumn{
		{stat: ledger.Tested, column: "Total Tested", source: "Source1"},
	}, nil)
}

// VaccinationSkipStates are summary rows of the vaccination sheet.
var VaccinationSkipStates = []string{"total", "miscellaneous"}

// ParseStateVaccinations reads the statewise vaccination CSV:
//
//	State,Vaccinated As of,First Dose Administered,Second Dose Administered
func (n *Normalizer) ParseStateVaccinations(name string, r io.Reader) (*Batch, error) {
	return n.parseStateSnapshots(name, r, "Vaccinated As of", []snapshotColumn{
		{stat: ledger.Vaccinated1, column: "First Dose Administered"},
		{stat: ledger.Vaccinated2, column: "Second Dose Administered"},
	}, VaccinationSkipStates)
}

type snapshotColumn struct {
	stat   ledger.Statistic
	column string
	source string // optional source column
}

func (n *Normalizer) parseStateSnapshots(name string, r io.Reader, dateCol string, cols []snapshotColumn, skip []string) (*Batch, error) {
	cr := newCSVReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	required := []string{"State", dateCol}
	for _, c := range cols {
		required = append(required, c.column)
	}
	if err := h.require(required...); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}

	b := &Batch{Feed: name}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", name, line, err)
		}

		for _, col := range cols {
			raw := h.get(row, col.column)
			if raw == "" {
				continue
			}
			date, err := n.date(SheetDateLayout, h.get(row, dateCol))
			if err != nil {
				n.reject(b, line, dateCol, h.get(row, dateCol), err)
				continue
			}
			stateName := h.get(row, "State")
			if skipped[strings.ToLower(stateName)] {
				continue
			}
			state, err := n.reg.ResolveState(stateName)
			if err != nil {
				n.reject(b, line, "State", stateName, err)
				continue
			}
			v, _, err := ParseCount(raw)
			if err != nil {
				n.reject(b, line, col.column, raw, err)
				continue
			}
			if v == 0 {
				continue
			}
			var source string
			if col.source != "" {
				source = h.get(row, col.source)
			}
			b.add(ledger.Record{
				Date:      date,
				Region:    ledger.State(state),
				Statistic: col.stat,
				Value:     v,
				Mode:      ledger.ModeSnapshot,
				Source:    source,
				Line:      line,
			})
		}
	}
	return b, nil
}
