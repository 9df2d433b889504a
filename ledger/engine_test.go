package ledger_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type countingRecorder struct {
	accepted      map[ledger.Mode]int
	rejected      map[string]int
	residuals     int
	discrepancies map[ledger.DiscrepancyKind]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		accepted:      make(map[ledger.Mode]int),
		rejected:      make(map[string]int),
		discrepancies: make(map[ledger.DiscrepancyKind]int),
	}
}

func (c *countingRecorder) RecordAccepted(m ledger.Mode)    { c.accepted[m]++ }
func (c *countingRecorder) RecordRejected(reason string)    { c.rejected[reason]++ }
func (c *countingRecorder) RecordResidual(ledger.Statistic) { c.residuals++ }
func (c *countingRecorder) RecordDiscrepancy(k ledger.DiscrepancyKind) {
	c.discrepancies[k]++
}

func testConfig() ledger.Config {
	return ledger.Config{
		Floor:   ledger.MustParseDate("2020-01-01"),
		Ceiling: ledger.MustParseDate("2020-12-31"),
		Gospel:  gospel,
	}
}

func newTestEngine(t *testing.T, rec ledger.Recorder) (*ledger.Engine, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	opts := []ledger.Option{ledger.WithLogger(logger)}
	if rec != nil {
		opts = append(opts, ledger.WithRecorder(rec))
	}
	e, err := ledger.NewEngine(testConfig(), fakeTopology{}, opts...)
	require.NoError(t, err)
	return e, &buf
}

func deltaRecord(date ledger.Date, region ledger.Region, s ledger.Statistic, v int64) ledger.Record {
	return ledger.Record{Date: date, Region: region, Statistic: s, Value: v, Mode: ledger.ModeDelta, Feed: "test"}
}

func snapshotRecord(date ledger.Date, region ledger.Region, s ledger.Statistic, v int64, src string) ledger.Record {
	return ledger.Record{Date: date, Region: region, Statistic: s, Value: v, Mode: ledger.ModeSnapshot, Source: src, Feed: "test"}
}

// =============================================================================
// ENGINE CONSTRUCTION
// =============================================================================

func TestNewEngine_RequiresGospelDate(t *testing.T) {
	_, err := ledger.NewEngine(ledger.Config{}, fakeTopology{})
	assert.Error(t, err)
}

func TestNewEngine_RejectsInvertedWindow(t *testing.T) {
	_, err := ledger.NewEngine(ledger.Config{Floor: day3, Ceiling: day1, Gospel: gospel}, fakeTopology{})
	assert.Error(t, err)
}

// =============================================================================
// RUN SCENARIOS
// =============================================================================

func TestRun_EmptyInput_Fatal(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	_, err := e.Run(ledger.Input{})
	assert.ErrorIs(t, err, ledger.ErrEmptyInput)
}

func TestRun_AllRecordsRejected_Fatal(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	_, err := e.Run(ledger.Input{Records: []ledger.Record{
		deltaRecord(ledger.MustParseDate("2019-12-31"), ledger.State("KA"), ledger.Confirmed, 1),
	}})
	assert.ErrorIs(t, err, ledger.ErrEmptyInput)
}

func TestRun_CountryStateTotals(t *testing.T) {
	// GIVEN: Confirmed deltas of 5 (day 1) and 3 (day 2) for a KA district
	// WHEN: Running the engine
	// THEN: KA and TT totals are [5, 8]; the district gets nothing before gospel

	e, _ := newTestEngine(t, nil)
	bengaluru := ledger.District("KA", "Bengaluru")

	res, err := e.Run(ledger.Input{Records: []ledger.Record{
		deltaRecord(day1, bengaluru, ledger.Confirmed, 5),
		deltaRecord(day2, bengaluru, ledger.Confirmed, 3),
	}})
	require.NoError(t, err)

	l := res.Ledger
	for _, r := range []ledger.Region{ledger.State("KA"), ledger.Country()} {
		assert.Equal(t, int64(5), total(t, l, day1, r, ledger.Confirmed))
		assert.Equal(t, int64(8), total(t, l, day2, r, ledger.Confirmed))
	}
	_, ok := l.Entry(day1, bengaluru)
	assert.False(t, ok)
	assert.Equal(t, 2, res.Accepted)
}

func TestRun_DistrictsAfterGospel(t *testing.T) {
	// GIVEN: Gospel totals for KA districts and a delta the day after
	// WHEN: Running the engine
	// THEN: The district total continues from the gospel value

	e, _ := newTestEngine(t, nil)
	bengaluru := ledger.District("KA", "Bengaluru")
	next := gospel.AddDays(1)

	res, err := e.Run(ledger.Input{
		Records: []ledger.Record{
			deltaRecord(gospel, bengaluru, ledger.Confirmed, 100),
			deltaRecord(next, bengaluru, ledger.Confirmed, 4),
		},
		Gospel: []ledger.GospelRow{
			{Region: bengaluru, Totals: ledger.Counts{ledger.Confirmed: 90}},
		},
	})
	require.NoError(t, err)

	l := res.Ledger
	assert.Equal(t, int64(94), total(t, l, next, bengaluru, ledger.Confirmed))
	assert.Equal(t, int64(10), total(t, l, next, ledger.District("KA", ledger.UnknownDistrict), ledger.Confirmed))
	assert.Equal(t, int64(104), total(t, l, next, ledger.State("KA"), ledger.Confirmed))
	require.Len(t, res.Residuals, 1)
	assert.Equal(t, int64(10), res.Residuals[0].Unknown)
}

func TestRun_SnapshotGap(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ka := ledger.State("KA")

	res, err := e.Run(ledger.Input{Records: []ledger.Record{
		snapshotRecord(day1, ka, ledger.Tested, 100, "icmr"),
		deltaRecord(day2, ka, ledger.Confirmed, 1),
		snapshotRecord(day3, ka, ledger.Tested, 150, "icmr"),
	}})
	require.NoError(t, err)

	assert.Equal(t, int64(100), total(t, res.Ledger, day2, ka, ledger.Tested))
	d3, _ := delta(t, res.Ledger, day3, ka, ledger.Tested)
	assert.Equal(t, int64(50), d3)
}

func TestRun_RejectsBadRecordsAndContinues(t *testing.T) {
	// GIVEN: One good record and three bad ones
	// WHEN: Running
	// THEN: Bad records are skipped with a warning and counted by reason

	rec := newCountingRecorder()
	e, logs := newTestEngine(t, rec)

	res, err := e.Run(ledger.Input{Records: []ledger.Record{
		deltaRecord(day1, ledger.State("KA"), ledger.Confirmed, 1),
		deltaRecord(ledger.MustParseDate("2021-01-01"), ledger.State("KA"), ledger.Confirmed, 1),
		deltaRecord(day1, ledger.Region{}, ledger.Confirmed, 1),
		deltaRecord(day1, ledger.State("KA"), ledger.Tested, 1),
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 3, res.Rejected)
	assert.Equal(t, 1, rec.rejected["date_out_of_range"])
	assert.Equal(t, 1, rec.rejected["unresolved_region"])
	assert.Equal(t, 1, rec.rejected["malformed"])
	assert.Equal(t, 1, rec.accepted[ledger.ModeDelta])
	assert.Contains(t, logs.String(), "record skipped")
}

func TestRun_LegacyFeedNeverTouchesDistricts(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	next := gospel.AddDays(1)
	r := deltaRecord(next, ledger.District("KA", "Bengaluru"), ledger.Confirmed, 1)
	r.Legacy = true

	res, err := e.Run(ledger.Input{Records: []ledger.Record{r}})
	require.NoError(t, err)

	_, ok := res.Ledger.Entry(next, ledger.District("KA", "Bengaluru"))
	assert.False(t, ok)
	assert.Equal(t, int64(1), total(t, res.Ledger, next, ledger.State("KA"), ledger.Confirmed))
}

func TestRun_WindowsAndTimeseries(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ka := ledger.State("KA")

	res, err := e.Run(ledger.Input{Records: []ledger.Record{
		deltaRecord(day1, ka, ledger.Confirmed, 2),
		deltaRecord(day2, ka, ledger.Confirmed, 3),
	}})
	require.NoError(t, err)

	e2, _ := res.Ledger.Entry(day2, ka)
	assert.Equal(t, int64(5), e2.Window(ledger.Window7).Value(ledger.Confirmed))

	p := res.Timeseries.State("KA").Dates[day2]
	assert.Equal(t, int64(5), p.Delta7.Value(ledger.Confirmed))
	assert.Equal(t, int64(5), p.Total.Value(ledger.Confirmed))
}

// =============================================================================
// TALLY
// =============================================================================

func TestRun_TallyReportsMismatchAndExtraEntry(t *testing.T) {
	// GIVEN: Ledger KA total 8 and KL total 1; statewise feed says KA total 9
	// WHEN: Running with the statewise reports
	// THEN: One mismatch for KA, one extra entry for KL, run still succeeds

	rec := newCountingRecorder()
	e, logs := newTestEngine(t, rec)
	ka := ledger.State("KA")

	res, err := e.Run(ledger.Input{
		Records: []ledger.Record{
			deltaRecord(day1, ka, ledger.Confirmed, 5),
			deltaRecord(day2, ka, ledger.Confirmed, 3),
			deltaRecord(day2, ledger.State("KL"), ledger.Confirmed, 1),
		},
		StateReports: []ledger.TallyReport{
			{Region: ledger.Country(), Total: ledger.Counts{ledger.Confirmed: 9}, Delta: ledger.Counts{ledger.Confirmed: 4}},
			{Region: ka, Total: ledger.Counts{ledger.Confirmed: 9}, Delta: ledger.Counts{ledger.Confirmed: 3}},
		},
	})
	require.NoError(t, err)

	var mismatches, missing []ledger.Discrepancy
	for _, d := range res.Discrepancies {
		switch d.Kind {
		case ledger.ValueMismatch:
			mismatches = append(mismatches, d)
		case ledger.MissingInFeed:
			missing = append(missing, d)
		}
	}
	require.Len(t, mismatches, 1)
	assert.Equal(t, ka, mismatches[0].Region)
	assert.Equal(t, "total", mismatches[0].Bucket)
	assert.Equal(t, int64(9), mismatches[0].Feed)
	assert.Equal(t, int64(8), mismatches[0].Ledger)
	assert.Contains(t, mismatches[0].String(), "(sheet: 9, parser: 8)")

	require.Len(t, missing, 1)
	assert.Equal(t, ledger.State("KL"), missing[0].Region)
	assert.Contains(t, missing[0].Dump, "KL:")

	assert.Equal(t, 1, rec.discrepancies[ledger.ValueMismatch])
	assert.Contains(t, logs.String(), "extra entry")
}

func TestTallyDistricts_SkipsMirroredStates(t *testing.T) {
	l := newTestLedger()
	l.Increment(ledger.State("CH"), day1, ledger.Confirmed, 1)
	l.Accumulate(ledger.Range{})

	assert.Empty(t, l.TallyDistricts([]ledger.TallyReport{
		{Region: ledger.District("CH", "Chandigarh"), Total: ledger.Counts{ledger.Confirmed: 5}},
	}))
}

// =============================================================================
// ANNOTATION
// =============================================================================

func TestRun_PopulationsAndAnnotations(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ka := ledger.State("KA")

	res, err := e.Run(ledger.Input{
		Records:     []ledger.Record{deltaRecord(day1, ka, ledger.Confirmed, 1)},
		Populations: populations{ka: 1000},
		StateAnnotations: []ledger.StateAnnotation{
			{State: "KA", Notes: "bulletin delayed"},
			{State: "ZZ"},
		},
	})
	require.NoError(t, err)

	e1, _ := res.Ledger.Entry(day1, ka)
	assert.Equal(t, int64(1000), e1.Meta.Population)
	assert.Equal(t, "bulletin delayed", e1.Meta.Notes)
	assert.True(t, e1.Meta.Date.Equal(day1))
}

type populations map[ledger.Region]int64

func (p populations) Population(r ledger.Region) (int64, bool) {
	v, ok := p[r]
	return v, ok
}

// =============================================================================
// ERRORS
// =============================================================================

func TestRecordError_WrapsSentinel(t *testing.T) {
	err := deltaRecord(day1, ledger.Region{}, ledger.Confirmed, 1).Validate(testConfig().Window())

	var re *ledger.RecordError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "state", re.Field)
	assert.True(t, ledger.IsRecoverable(err))
	assert.False(t, ledger.IsFatal(err))
	assert.True(t, ledger.IsFatal(ledger.ErrEmptyInput))
}
