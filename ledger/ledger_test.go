package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/caseledger/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeTopology: CH single-district, AS no district data, UN unassigned.
type fakeTopology struct{}

func (fakeTopology) SingleDistrict(state string) bool { return state == "CH" }
func (fakeTopology) NoDistrictData(state string) bool { return state == "AS" }
func (fakeTopology) Unassigned(state string) bool     { return state == "UN" }
func (fakeTopology) StateName(state string) string {
	if state == "CH" {
		return "Chandigarh"
	}
	return state
}

var (
	day1   = ledger.MustParseDate("2020-04-01")
	day2   = ledger.MustParseDate("2020-04-02")
	day3   = ledger.MustParseDate("2020-04-03")
	gospel = ledger.MustParseDate("2020-04-26")
)

func newTestLedger() *ledger.Ledger {
	return ledger.New(gospel, fakeTopology{})
}

func total(t *testing.T, l *ledger.Ledger, d ledger.Date, r ledger.Region, s ledger.Statistic) int64 {
	t.Helper()
	e, ok := l.Entry(d, r)
	require.True(t, ok, "no entry for %s on %s", r, d)
	return e.Total.Value(s)
}

func delta(t *testing.T, l *ledger.Ledger, d ledger.Date, r ledger.Region, s ledger.Statistic) (int64, bool) {
	t.Helper()
	e, ok := l.Entry(d, r)
	require.True(t, ok, "no entry for %s on %s", r, d)
	return e.Delta.Get(s)
}

// =============================================================================
// DATE TESTS
// =============================================================================

func TestDate_ParseAndFormat(t *testing.T) {
	d, err := ledger.ParseDateLayout("02/01/2006", "26/04/2020")
	require.NoError(t, err)
	assert.Equal(t, "2020-04-26", d.String())
	assert.True(t, d.Equal(gospel))
	assert.Equal(t, 25, ledger.DaysBetween(day1, gospel))
	assert.Equal(t, "2020-04-27", gospel.AddDays(1).String())

	_, err = ledger.ParseDate("2020-13-01")
	assert.Error(t, err)
}

func TestRange_ZeroBoundIsOpen(t *testing.T) {
	assert.True(t, ledger.Range{To: day2}.Contains(day1))
	assert.False(t, ledger.Range{To: day2}.Contains(day3))
	assert.True(t, ledger.Range{From: day2}.Contains(day3))
	assert.False(t, ledger.Range{From: day2}.Contains(day1))
	assert.True(t, ledger.Range{}.Contains(day1))
}

// =============================================================================
// DELTA ACCUMULATION TESTS
// =============================================================================

func TestAccumulate_DeltaConsistency(t *testing.T) {
	// GIVEN: Confirmed deltas of 5 (day 1) and 3 (day 2) in KA
	// WHEN: Accumulating
	// THEN: Totals are [5, 8] and total[d2] = total[d1] + delta[d2]

	l := newTestLedger()
	ka := ledger.State("KA")
	l.Increment(ka, day1, ledger.Confirmed, 5)
	l.Increment(ka, day2, ledger.Confirmed, 3)

	l.Accumulate(ledger.Range{})

	assert.Equal(t, int64(5), total(t, l, day1, ka, ledger.Confirmed))
	assert.Equal(t, int64(8), total(t, l, day2, ka, ledger.Confirmed))
	d2, _ := delta(t, l, day2, ka, ledger.Confirmed)
	assert.Equal(t, total(t, l, day1, ka, ledger.Confirmed)+d2, total(t, l, day2, ka, ledger.Confirmed))
}

func TestAccumulate_CarriesTotalOverDaysWithoutDelta(t *testing.T) {
	// GIVEN: KA confirmed on day 1, only KL on day 2
	// WHEN: Accumulating
	// THEN: KA still has its total on day 2, without a delta

	l := newTestLedger()
	l.Increment(ledger.State("KA"), day1, ledger.Confirmed, 5)
	l.Increment(ledger.State("KL"), day2, ledger.Confirmed, 2)

	l.Accumulate(ledger.Range{})

	assert.Equal(t, int64(5), total(t, l, day2, ledger.State("KA"), ledger.Confirmed))
	_, has := delta(t, l, day2, ledger.State("KA"), ledger.Confirmed)
	assert.False(t, has)
}

func TestAccumulate_NegativeCorrectionKept(t *testing.T) {
	l := newTestLedger()
	ka := ledger.State("KA")
	l.Increment(ka, day1, ledger.Deceased, 4)
	l.Increment(ka, day2, ledger.Deceased, -1)

	l.Accumulate(ledger.Range{})

	assert.Equal(t, int64(3), total(t, l, day2, ka, ledger.Deceased))
}

func TestAccumulate_Idempotent(t *testing.T) {
	// GIVEN: An accumulated ledger
	// WHEN: Accumulating the same range again
	// THEN: Nothing changes

	l := newTestLedger()
	ka := ledger.State("KA")
	l.Increment(ka, day1, ledger.Confirmed, 5)
	l.Increment(ka, day2, ledger.Confirmed, 3)
	l.Increment(ka, day3, ledger.Recovered, 1)

	l.Accumulate(ledger.Range{})
	before := l.Document()
	l.Accumulate(ledger.Range{})

	assert.Equal(t, before, l.Document())
}

func TestAccumulate_SingleDistrictStateMirrored(t *testing.T) {
	// GIVEN: CH is a single-district state
	// WHEN: A state delta is accumulated
	// THEN: Its sole district carries the same total and delta

	l := newTestLedger()
	l.Increment(ledger.State("CH"), day1, ledger.Confirmed, 7)
	l.Accumulate(ledger.Range{})

	d := ledger.District("CH", "Chandigarh")
	assert.Equal(t, int64(7), total(t, l, day1, d, ledger.Confirmed))
	v, _ := delta(t, l, day1, d, ledger.Confirmed)
	assert.Equal(t, int64(7), v)
}

func TestAccumulate_NoDistrictDataStateMirroredIntoUnknown(t *testing.T) {
	l := newTestLedger()
	l.Increment(ledger.State("AS"), day1, ledger.Confirmed, 2)
	l.Accumulate(ledger.Range{})

	assert.Equal(t, int64(2), total(t, l, day1, ledger.District("AS", ledger.UnknownDistrict), ledger.Confirmed))
}

func TestReads_NeverCreateEntries(t *testing.T) {
	l := newTestLedger()
	_, ok := l.Entry(day1, ledger.State("KA"))
	assert.False(t, ok)
	assert.Empty(t, l.Regions(day1))
	assert.Equal(t, 0, l.Len())
}

// =============================================================================
// SNAPSHOT RECONCILIATION TESTS
// =============================================================================

func TestReconcile_CarryForwardAcrossGap(t *testing.T) {
	// GIVEN: tested snapshot 100 on day 1, nothing on day 2, 150 on day 3
	// WHEN: Reconciling snapshots
	// THEN: day 2 total stays 100 with no delta and the day 1 source; day 3 delta is 50

	l := newTestLedger()
	ka := ledger.State("KA")
	require.NoError(t, l.RecordSnapshot(ka, day1, ledger.Tested, 100, "icmr"))
	l.Increment(ka, day2, ledger.Confirmed, 1) // day 2 exists in the ledger
	require.NoError(t, l.RecordSnapshot(ka, day3, ledger.Tested, 150, "bulletin"))

	l.ReconcileSnapshots()

	d1, _ := delta(t, l, day1, ka, ledger.Tested)
	assert.Equal(t, int64(100), d1)

	assert.Equal(t, int64(100), total(t, l, day2, ka, ledger.Tested))
	_, has := delta(t, l, day2, ka, ledger.Tested)
	assert.False(t, has)
	e2, _ := l.Entry(day2, ka)
	assert.True(t, e2.Carried(ledger.Tested))
	assert.Equal(t, ledger.AsOf{Source: "icmr", Date: day1}, e2.Meta.Sources["tested"])

	d3, _ := delta(t, l, day3, ka, ledger.Tested)
	assert.Equal(t, int64(50), d3)
	assert.Equal(t, int64(150), total(t, l, day3, ka, ledger.Tested))
}

func TestReconcile_Idempotent(t *testing.T) {
	l := newTestLedger()
	ka := ledger.State("KA")
	require.NoError(t, l.RecordSnapshot(ka, day1, ledger.Vaccinated1, 10, "cowin"))
	l.Increment(ka, day2, ledger.Confirmed, 1)
	require.NoError(t, l.RecordSnapshot(ka, day3, ledger.Vaccinated1, 25, "cowin"))

	l.ReconcileSnapshots()
	before := l.Document()
	l.ReconcileSnapshots()

	assert.Equal(t, before, l.Document())
}

func TestReconcile_DecreaseGivesNegativeDelta(t *testing.T) {
	l := newTestLedger()
	ka := ledger.State("KA")
	require.NoError(t, l.RecordSnapshot(ka, day1, ledger.Tested, 100, "a"))
	require.NoError(t, l.RecordSnapshot(ka, day2, ledger.Tested, 90, "a"))

	l.ReconcileSnapshots()

	d2, _ := delta(t, l, day2, ka, ledger.Tested)
	assert.Equal(t, int64(-10), d2)
}

func TestRecordSnapshot_RejectsDeltaStatistic(t *testing.T) {
	l := newTestLedger()
	err := l.RecordSnapshot(ledger.State("KA"), day1, ledger.Confirmed, 1, "x")
	assert.ErrorIs(t, err, ledger.ErrNotSnapshotStatistic)
}

func TestRecordSnapshot_SingleDistrictMirrored(t *testing.T) {
	l := newTestLedger()
	require.NoError(t, l.RecordSnapshot(ledger.State("CH"), day1, ledger.Tested, 40, "x"))

	assert.Equal(t, int64(40), total(t, l, day1, ledger.District("CH", "Chandigarh"), ledger.Tested))
}

// =============================================================================
// RESIDUAL TESTS
// =============================================================================

func TestImputeUnknown_PositiveResidual(t *testing.T) {
	// GIVEN: State total 100 at gospel, known districts 60 + 30
	// WHEN: Imputing
	// THEN: Unknown = 10

	l := newTestLedger()
	l.Increment(ledger.State("KA"), gospel, ledger.Confirmed, 100)
	l.Accumulate(ledger.Range{To: gospel})
	assert.True(t, l.RecordGospel(ledger.District("KA", "Bengaluru"), ledger.Confirmed, 60))
	assert.True(t, l.RecordGospel(ledger.District("KA", "Mysuru"), ledger.Confirmed, 30))

	res := l.ImputeUnknown()

	require.Len(t, res, 1)
	assert.Equal(t, int64(10), res[0].Unknown)
	assert.Equal(t, int64(10), total(t, l, gospel, ledger.District("KA", ledger.UnknownDistrict), ledger.Confirmed))
}

func TestImputeUnknown_NegativeResidualPreserved(t *testing.T) {
	// GIVEN: State total 100, known districts sum 115
	// THEN: Unknown = -15, no clamping

	l := newTestLedger()
	l.Increment(ledger.State("KA"), gospel, ledger.Confirmed, 100)
	l.Accumulate(ledger.Range{To: gospel})
	l.RecordGospel(ledger.District("KA", "Bengaluru"), ledger.Confirmed, 80)
	l.RecordGospel(ledger.District("KA", "Mysuru"), ledger.Confirmed, 35)

	res := l.ImputeUnknown()

	require.Len(t, res, 1)
	assert.Equal(t, int64(-15), res[0].Unknown)
	assert.Equal(t, int64(115), res[0].KnownDistrictSum)
}

func TestImputeUnknown_Conservation(t *testing.T) {
	l := newTestLedger()
	ka := ledger.State("KA")
	l.Increment(ka, day1, ledger.Confirmed, 40)
	l.Increment(ka, gospel, ledger.Confirmed, 60)
	l.Increment(ka, gospel, ledger.Recovered, 20)
	l.Accumulate(ledger.Range{To: gospel})
	l.RecordGospel(ledger.District("KA", "Bengaluru"), ledger.Confirmed, 70)
	l.RecordGospel(ledger.District("KA", "Bengaluru"), ledger.Recovered, 20)

	l.ImputeUnknown()

	for _, s := range ledger.PrimaryStatistics {
		var sum int64
		for _, d := range l.Districts(gospel, "KA") {
			sum += total(t, l, gospel, d, s)
		}
		assert.Equal(t, total(t, l, gospel, ka, s), sum, s.String())
	}
	unknown, _ := l.Entry(gospel, ledger.District("KA", ledger.UnknownDistrict))
	assert.False(t, unknown.Total.Has(ledger.Recovered), "balanced statistic leaves no residual")
}

func TestRecordGospel_IgnoresMirroredStates(t *testing.T) {
	l := newTestLedger()
	assert.False(t, l.RecordGospel(ledger.District("CH", "Chandigarh"), ledger.Confirmed, 10))
	assert.False(t, l.RecordGospel(ledger.District("KA", "Bengaluru"), ledger.Tested, 10))
	assert.False(t, l.RecordGospel(ledger.State("KA"), ledger.Confirmed, 10))
}

// =============================================================================
// ROLLING WINDOW TESTS
// =============================================================================

func TestWindowKey(t *testing.T) {
	assert.Equal(t, ledger.Window7, ledger.WindowKey(7, 0))
	assert.Equal(t, ledger.Window21to14, ledger.WindowKey(7, 14))
}

func TestAccumulateWindow_TrailingSum(t *testing.T) {
	// GIVEN: One confirmed each day for ten consecutive days
	// WHEN: Computing delta7
	// THEN: delta7 on day d = sum of deltas over d-6..d

	l := newTestLedger()
	ka := ledger.State("KA")
	start := ledger.MustParseDate("2020-05-01")
	for i := 0; i < 10; i++ {
		l.Increment(ka, start.AddDays(i), ledger.Confirmed, int64(i+1))
	}

	l.AccumulateWindow(7, 0, ledger.AllStatistics)

	for i := 0; i < 10; i++ {
		var want int64
		for j := i - 6; j <= i; j++ {
			if j >= 0 {
				want += int64(j + 1)
			}
		}
		e, _ := l.Entry(start.AddDays(i), ka)
		assert.Equal(t, want, e.Window(ledger.Window7).Value(ledger.Confirmed), "day %d", i)
	}
}

func TestAccumulateWindow_OffsetSkipsMissingDays(t *testing.T) {
	l := newTestLedger()
	ka := ledger.State("KA")
	start := ledger.MustParseDate("2020-05-01")
	l.Increment(ka, start, ledger.Confirmed, 4)
	end := start.AddDays(20)
	l.Increment(ka, end, ledger.Confirmed, 1)

	key := l.AccumulateWindow(7, 14, []ledger.Statistic{ledger.Confirmed})

	e, _ := l.Entry(end, ka)
	assert.Equal(t, int64(4), e.Window(key).Value(ledger.Confirmed))
	first, _ := l.Entry(start, ka)
	assert.Nil(t, first.Window(key))
}

func TestAccumulateWindow_OffsetWindowEdges(t *testing.T) {
	// GIVEN: Deltas 21, 20, 14 and 13 days before a target date, plus a
	// recovered delta inside the offset window
	l := newTestLedger()
	ka := ledger.State("KA")
	target := ledger.MustParseDate("2020-06-01")
	l.Increment(ka, target.AddDays(-21), ledger.Confirmed, 1000)
	l.Increment(ka, target.AddDays(-20), ledger.Confirmed, 100)
	l.Increment(ka, target.AddDays(-14), ledger.Confirmed, 10)
	l.Increment(ka, target.AddDays(-13), ledger.Confirmed, 1)
	l.Increment(ka, target.AddDays(-15), ledger.Recovered, 7)
	l.Increment(ka, target, ledger.Confirmed, 5)

	// WHEN: Computing the confirmed-only 14-21 days ago window
	key := l.AccumulateWindow(7, 14, []ledger.Statistic{ledger.Confirmed})

	// THEN: Only days 20 through 14 back count, and only confirmed
	e, _ := l.Entry(target, ka)
	assert.Equal(t, ledger.Counts{ledger.Confirmed: 110}, e.Window(key))
	assert.False(t, e.Window(key).Has(ledger.Recovered))
}

func TestAccumulateWindow_DistrictsOnlyAfterGospel(t *testing.T) {
	// GIVEN: KA/Mysuru deltas on the gospel date and the day after
	l := newTestLedger()
	mysuru := ledger.District("KA", "Mysuru")
	after := gospel.AddDays(1)
	l.Increment(mysuru, gospel.AddDays(-1), ledger.Confirmed, 4)
	l.Increment(mysuru, gospel, ledger.Confirmed, 2)
	l.Increment(mysuru, after, ledger.Confirmed, 3)

	// WHEN: Computing delta7
	l.AccumulateWindow(7, 0, ledger.AllStatistics)

	// THEN: No district window on or before the gospel date; afterwards the
	// window still sums the earlier days
	for _, d := range []ledger.Date{gospel.AddDays(-1), gospel} {
		e, _ := l.Entry(d, mysuru)
		assert.Nil(t, e.Window(ledger.Window7), "window on %s", d)
	}
	e, _ := l.Entry(after, mysuru)
	assert.Equal(t, int64(9), e.Window(ledger.Window7).Value(ledger.Confirmed))
}

func TestAccumulateWindow_RecomputeReplaces(t *testing.T) {
	l := newTestLedger()
	ka := ledger.State("KA")
	l.Increment(ka, day1, ledger.Confirmed, 3)

	l.AccumulateWindow(7, 0, ledger.AllStatistics)
	l.AccumulateWindow(7, 0, ledger.AllStatistics)

	e, _ := l.Entry(day1, ka)
	assert.Equal(t, int64(3), e.Window(ledger.Window7).Value(ledger.Confirmed))
}

// =============================================================================
// PROJECTION TESTS
// =============================================================================

func TestProject_TrimsTrailingCarriedDates(t *testing.T) {
	// GIVEN: KA tested changes on day 1 and day 2, then is carried on day 3
	// WHEN: Projecting
	// THEN: The KA series ends on day 2

	l := newTestLedger()
	ka := ledger.State("KA")
	require.NoError(t, l.RecordSnapshot(ka, day1, ledger.Tested, 10, "x"))
	require.NoError(t, l.RecordSnapshot(ka, day2, ledger.Tested, 20, "x"))
	l.Increment(ledger.State("KL"), day3, ledger.Confirmed, 1)
	l.ReconcileSnapshots()

	ts := l.Project()

	last, p, ok := ts.State("KA").Last()
	require.True(t, ok)
	assert.True(t, last.Equal(day2))
	assert.NotEmpty(t, p.Delta)
	assert.Len(t, ts.State("KA").Dates, 2)
}

func TestProject_DistrictsStartAtGospel(t *testing.T) {
	l := newTestLedger()
	l.Increment(ledger.State("CH"), day1, ledger.Confirmed, 1)
	l.Increment(ledger.State("CH"), gospel, ledger.Confirmed, 2)
	l.Accumulate(ledger.Range{})

	ts := l.Project()

	ds := ts.District("CH", "Chandigarh")
	require.NotNil(t, ds)
	assert.Len(t, ds.Dates, 1)
	_, ok := ds.Dates[gospel]
	assert.True(t, ok)
	assert.Len(t, ts.State("CH").Dates, 2)
}

func TestProject_DropsZeroValues(t *testing.T) {
	l := newTestLedger()
	ka := ledger.State("KA")
	l.Increment(ka, day1, ledger.Confirmed, 2)
	l.Increment(ka, day2, ledger.Confirmed, 2)
	l.Increment(ka, day2, ledger.Confirmed, -2)
	l.Accumulate(ledger.Range{})

	ts := l.Project()

	series := ts.State("KA")
	require.NotNil(t, series)
	_, ok := series.Dates[day2]
	assert.False(t, ok, "zero delta is stripped, so day 2 past the last real update is trimmed")
}

// =============================================================================
// DOCUMENT TESTS
// =============================================================================

func TestDocument_ShapeAndMeta(t *testing.T) {
	l := newTestLedger()
	ka := ledger.State("KA")
	l.Increment(ka, day1, ledger.Confirmed, 5)
	require.NoError(t, l.RecordSnapshot(ka, day1, ledger.Vaccinated1, 9, "cowin"))
	l.Accumulate(ledger.Range{})
	l.ReconcileSnapshots()

	doc := l.Document()

	ka1 := doc["2020-04-01"]["KA"]
	require.NotNil(t, ka1)
	assert.Equal(t, map[string]int64{"confirmed": 5, "vaccinated1": 9}, ka1["total"])
	meta := ka1["meta"].(map[string]any)
	assert.Equal(t, map[string]any{"source": "cowin", "date": "2020-04-01"}, meta["vaccinated"])
}

func TestMeta_LastUpdatedString(t *testing.T) {
	m := ledger.Meta{LastUpdated: time.Date(2021, 5, 1, 22, 31, 0, 0, ledger.IST)}
	assert.Equal(t, "2021-05-01T22:31:00+05:30", m.LastUpdatedString())
	assert.Equal(t, "", ledger.Meta{}.LastUpdatedString())
}
