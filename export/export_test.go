package export_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/caseledger/export"
	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type topology struct{}

func (topology) SingleDistrict(state string) bool { return state == "CH" }
func (topology) NoDistrictData(string) bool       { return false }
func (topology) Unassigned(state string) bool     { return state == "UN" }
func (topology) StateName(state string) string {
	if state == "CH" {
		return "Chandigarh"
	}
	return state
}

var (
	gospel = ledger.MustParseDate("2020-04-26")
	day1   = ledger.MustParseDate("2020-04-25")
	day2   = gospel
)

func newTestLedger(t *testing.T) (*ledger.Ledger, *ledger.Timeseries) {
	t.Helper()
	l := ledger.New(gospel, topology{})
	l.Increment(ledger.State("CH"), day1, ledger.Confirmed, 2)
	l.Increment(ledger.State("CH"), day2, ledger.Confirmed, 1)
	l.Increment(ledger.State("UN"), day2, ledger.Confirmed, 4)
	require.NoError(t, l.RecordSnapshot(ledger.State("CH"), day2, ledger.Tested, 50, "bulletin"))
	l.Accumulate(ledger.Range{})
	l.ReconcileSnapshots()
	l.AccumulateWindow(7, 0, ledger.AllStatistics)
	return l, l.Project()
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(b, &v))
	return v
}

// =============================================================================
// JSON DOCUMENTS
// =============================================================================

func TestWriteAll_Layout(t *testing.T) {
	// GIVEN: A two-date ledger with CH and UN
	// WHEN: Writing everything
	// THEN: The per-date split ends in data.json and UN gets no timeseries file

	dir := t.TempDir()
	l, ts := newTestLedger(t)
	w := export.NewWriter(dir, export.WithStateNames(topology{}.StateName))

	require.NoError(t, w.WriteAll(l, ts))

	for _, name := range []string{
		"data-2020-04-25.json", "data.json", "timeseries.json", "timeseries-CH.json",
		"min/data-all.min.json", "min/data.min.json", "min/timeseries-all.min.json",
		"min/timeseries-CH.min.json", "states.csv", "districts.csv",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.NoFileExists(t, filepath.Join(dir, "timeseries-UN.json"))
	assert.NoFileExists(t, filepath.Join(dir, "data-2020-04-26.json"))
	assert.Len(t, w.Written(), 12)
}

func TestWriteLedger_FinalDateDocument(t *testing.T) {
	dir := t.TempDir()
	l, _ := newTestLedger(t)

	require.NoError(t, export.NewWriter(dir).WriteLedger(l))

	doc := readJSON(t, filepath.Join(dir, "data.json"))
	ch := doc["CH"].(map[string]any)
	assert.Equal(t, map[string]any{"confirmed": 3.0, "tested": 50.0}, ch["total"])
	districts := ch["districts"].(map[string]any)
	assert.Contains(t, districts, "Chandigarh")

	all := readJSON(t, filepath.Join(dir, "min", "data-all.min.json"))
	assert.Contains(t, all, "2020-04-25")
	assert.Contains(t, all, "2020-04-26")

	min, err := os.ReadFile(filepath.Join(dir, "min", "data.min.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(min), "\n")
}

func TestWriteTimeseries_StatesOnly(t *testing.T) {
	dir := t.TempDir()
	_, ts := newTestLedger(t)

	require.NoError(t, export.NewWriter(dir).WriteTimeseries(ts))

	states := readJSON(t, filepath.Join(dir, "timeseries.json"))
	ch := states["CH"].(map[string]any)
	assert.Contains(t, ch, "dates")
	assert.NotContains(t, ch, "districts")

	one := readJSON(t, filepath.Join(dir, "timeseries-CH.json"))
	assert.Contains(t, one["CH"].(map[string]any), "districts")
}

// =============================================================================
// CSV DUMPS
// =============================================================================

func TestWriteCSVs(t *testing.T) {
	dir := t.TempDir()
	l, _ := newTestLedger(t)

	require.NoError(t, export.NewWriter(dir, export.WithStateNames(topology{}.StateName)).WriteCSVs(l))

	states, err := os.ReadFile(filepath.Join(dir, "states.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(states)), "\n")
	assert.Equal(t, "Date,State,Confirmed,Recovered,Deceased,Other,Tested", lines[0])
	assert.Contains(t, lines, "2020-04-25,Chandigarh,2,0,0,0,")
	assert.Contains(t, lines, "2020-04-26,Chandigarh,3,0,0,0,50")
	assert.Contains(t, lines, "2020-04-26,UN,4,0,0,0,")

	districts, err := os.ReadFile(filepath.Join(dir, "districts.csv"))
	require.NoError(t, err)
	dlines := strings.Split(strings.TrimSpace(string(districts)), "\n")
	require.Len(t, dlines, 2, "district rows start at the gospel date")
	assert.Equal(t, "2020-04-26,Chandigarh,Chandigarh,3,0,0,0,50", dlines[1])
}
