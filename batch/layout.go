/*
Package batch runs one end-to-end pass: load the feeds, run the engine, write
the documents, and optionally persist the run and its metrics.

INPUT LAYOUT (under the input directory):
  misc.json                             registry metadata
  state_district_wise.json              district list, districtwise tally and notes
  raw_data<N>.json                      line lists, N = 1, 2, ... until missing
  deaths_recoveries<N>.json             outcomes for the legacy line lists
  data.json                             ICMR national counts, statewise tally and meta
  records.csv                           canonical records
  csv/latest/districts_26apr_gospel.csv gospel-date district totals
  csv/latest/statewise_tested_numbers_data.csv
  csv/latest/district_testing.csv
  csv/latest/vaccine_doses_statewise_v2.csv
  csv/latest/cowin_vaccine_data_districtwise.csv

The registry files are required. Every other feed is optional; a missing
one is logged and skipped.

SEE ALSO:
  - feed/: the parsers behind each file
  - ledger/engine.go: the stages run over the loaded input
*/
package batch

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	MetaFile         = "misc.json"
	DistrictListFile = "state_district_wise.json"
	DataFile         = "data.json"
	RecordsFile      = "records.csv"

	LineListPattern = "raw_data%d.json"
	OutcomePattern  = "deaths_recoveries%d.json"

	CSVDir                  = "csv/latest"
	GospelFile              = "districts_26apr_gospel.csv"
	StateTestsFile          = "statewise_tested_numbers_data.csv"
	DistrictTestsFile       = "district_testing.csv"
	StateVaccinationFile    = "vaccine_doses_statewise_v2.csv"
	DistrictVaccinationFile = "cowin_vaccine_data_districtwise.csv"
)

// Layout locates the feeds under one input directory.
type Layout struct {
	Root string
}

func (l Layout) Path(name string) string { return filepath.Join(l.Root, name) }

func (l Layout) CSV(name string) string { return filepath.Join(l.Root, CSVDir, name) }

// LineLists returns the line-list paths present, in index order. The
// sequence stops at the first missing index.
func (l Layout) LineLists() []string {
	var out []string
	for i := 1; ; i++ {
		path := l.Path(fmt.Sprintf(LineListPattern, i))
		if _, err := os.Stat(path); err != nil {
			return out
		}
		out = append(out, path)
	}
}

// Outcome returns the outcome file path for a line-list index.
func (l Layout) Outcome(index int) string {
	return l.Path(fmt.Sprintf(OutcomePattern, index))
}
