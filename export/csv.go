package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// CSV DUMPS - states.csv and districts.csv
// =============================================================================

var csvStatistics = []ledger.Statistic{
	ledger.Confirmed, ledger.Recovered, ledger.Deceased, ledger.Other, ledger.Tested,
}

var (
	StateCSVHeader    = []string{"Date", "State", "Confirmed", "Recovered", "Deceased", "Other", "Tested"}
	DistrictCSVHeader = []string{"Date", "State", "District", "Confirmed", "Recovered", "Deceased", "Other", "Tested"}
)

// WriteCSVs writes one row per (date, state) and per (date, district) with
// a non-zero total. District rows start at the gospel date. A missing
// tested count is left empty, other counts default to 0.
func (w *Writer) WriteCSVs(l *ledger.Ledger) error {
	states, err := w.create("states.csv")
	if err != nil {
		return err
	}
	defer states.Close()
	districts, err := w.create("districts.csv")
	if err != nil {
		return err
	}
	defer districts.Close()

	sw, dw := csv.NewWriter(states), csv.NewWriter(districts)
	if err := sw.Write(StateCSVHeader); err != nil {
		return fmt.Errorf("write states.csv: %w", err)
	}
	if err := dw.Write(DistrictCSVHeader); err != nil {
		return fmt.Errorf("write districts.csv: %w", err)
	}

	gospel := l.GospelDate()
	for _, date := range l.Dates() {
		for _, state := range l.Regions(date) {
			e, _ := l.Entry(date, state)
			name := w.names(state.State)
			if row, ok := csvRow(e, date.String(), name); ok {
				if err := sw.Write(row); err != nil {
					return fmt.Errorf("write states.csv: %w", err)
				}
			}
			if date.Before(gospel) {
				continue
			}
			for _, d := range l.Districts(date, state.State) {
				de, _ := l.Entry(date, d)
				if row, ok := csvRow(de, date.String(), name, d.District); ok {
					if err := dw.Write(row); err != nil {
						return fmt.Errorf("write districts.csv: %w", err)
					}
				}
			}
		}
	}

	sw.Flush()
	dw.Flush()
	if err := sw.Error(); err != nil {
		return fmt.Errorf("flush states.csv: %w", err)
	}
	if err := dw.Error(); err != nil {
		return fmt.Errorf("flush districts.csv: %w", err)
	}
	return nil
}

func csvRow(e *ledger.Entry, lead ...string) ([]string, bool) {
	if e == nil {
		return nil, false
	}
	total := e.Total.NonZero()
	found := false
	for _, s := range csvStatistics {
		if total.Has(s) {
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}

	row := append([]string{}, lead...)
	for _, s := range csvStatistics {
		v, ok := total.Get(s)
		switch {
		case ok:
			row = append(row, strconv.FormatInt(v, 10))
		case s == ledger.Tested:
			row = append(row, "")
		default:
			row = append(row, "0")
		}
	}
	return row, true
}

func (w *Writer) create(name string) (*os.File, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(w.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	w.written = append(w.written, path)
	return f, nil
}
