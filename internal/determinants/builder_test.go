package determinants

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpulse/ratescan/internal/interval"
	"github.com/gridpulse/ratescan/internal/warn"
)

func f(v float64) *float64 { return &v }

// hourlySeries builds an hourly series spanning the given kW values
// from start.
func hourlySeries(t *testing.T, start time.Time, kws ...float64) *interval.NormalizedSeries {
	t.Helper()
	rows := make([]interval.RawPoint, len(kws))
	for i, kw := range kws {
		rows[i] = interval.RawPoint{TimestampISO: start.Add(time.Duration(i) * time.Hour).Format(time.RFC3339), KW: kw}
	}
	series, warns := interval.Normalize(interval.Input{RawKW: rows})
	require.Empty(t, warns)
	return series
}

func day(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }

func TestBuild_EnergyAndDemand(t *testing.T) {
	// 48 hourly points over two days, peak 20 kW in day one.
	kws := make([]float64, 48)
	for i := range kws {
		kws[i] = 10
	}
	kws[10] = 20 // day-1 peak
	kws[30] = 15 // day-2 peak
	series := hourlySeries(t, day(1), kws...)

	pack, warns := Build(series, []Cycle{
		{Label: "2024-03-a", Start: day(1), End: day(2)},
		{Label: "2024-03-b", Start: day(2), End: day(3)},
	}, Options{DemandMethod: DemandStraightMax})

	assert.Empty(t, warns)
	require.Len(t, pack.Cycles, 2)

	a := pack.Cycles[0]
	assert.Equal(t, "2024-03-a", a.CycleLabel)
	assert.InDelta(t, 23*10+20, a.KWhTotal, 1e-9) // hourly kWh == kW
	assert.Equal(t, 20.0, a.KWMax)
	assert.Equal(t, 20.0, a.BillingDemandKW)
	assert.InDelta(t, 1.0, a.CoveragePct, 1e-9)
	assert.False(t, a.LowCoverage)

	b := pack.Cycles[1]
	assert.Equal(t, 15.0, b.KWMax)
}

func TestBuild_RatchetDemand(t *testing.T) {
	series := hourlySeries(t, day(1), 10, 12, 11, 10)

	pack, _ := Build(series, []Cycle{{Label: "c", Start: day(1), End: day(1).Add(4 * time.Hour)}}, Options{
		DemandMethod:        DemandRatchet,
		RatchetFloorPct:     0.5,
		RatchetHistoryMaxKW: 40,
	})

	c := pack.Cycles[0]
	assert.Equal(t, 12.0, c.KWMax)
	assert.Equal(t, 20.0, c.RatchetDemandKW)
	// Ratchet floor exceeds the current maximum.
	assert.Equal(t, 20.0, c.BillingDemandKW)
	assert.Equal(t, 40.0, c.RatchetHistoryMax)
}

func TestBuild_TOUMaxima(t *testing.T) {
	series := hourlySeries(t, day(1), 5, 6, 18, 17, 4)
	label := func(ts time.Time) string {
		if h := ts.Hour(); h >= 2 && h < 4 {
			return "on_peak"
		}
		return "off_peak"
	}

	pack, _ := Build(series, []Cycle{{Label: "c", Start: day(1), End: day(2)}}, Options{TOULabel: label})

	tou := pack.Cycles[0].KWMaxByTouPeriod
	require.NotNil(t, tou)
	assert.Equal(t, 18.0, tou["on_peak"])
	assert.Equal(t, 6.0, tou["off_peak"])
}

func TestBuild_LowCoverageFlagged(t *testing.T) {
	// 4 hourly points against a 24-hour cycle: ~17% coverage.
	series := hourlySeries(t, day(1), 1, 2, 3, 4)

	pack, warns := Build(series, []Cycle{{Label: "c", Start: day(1), End: day(2)}}, Options{})

	require.Len(t, pack.Cycles, 1)
	assert.True(t, pack.Cycles[0].LowCoverage)
	assert.InDelta(t, 4.0/24.0, pack.Cycles[0].CoveragePct, 1e-3)
	require.Len(t, warns, 1)
	assert.Equal(t, warn.CodeLowCoverage, warns[0].Code)
}

func TestBuild_EmptySeries(t *testing.T) {
	empty, _ := interval.Normalize(interval.Input{})

	pack, _ := Build(empty, []Cycle{{Label: "c", Start: day(1), End: day(2)}}, Options{})

	require.Len(t, pack.Cycles, 1)
	assert.Zero(t, pack.Cycles[0].KWhTotal)
	assert.Zero(t, pack.Cycles[0].CoveragePct)
	assert.True(t, pack.Cycles[0].LowCoverage)
}

func TestBuild_NilSeries(t *testing.T) {
	pack, _ := Build(nil, []Cycle{{Label: "c", Start: day(1), End: day(2)}}, Options{})

	require.Len(t, pack.Cycles, 1)
	assert.Zero(t, pack.Cycles[0].KWhTotal)
	assert.Zero(t, pack.Cycles[0].KWMax)
	assert.Zero(t, pack.Cycles[0].CoveragePct)
	assert.True(t, pack.Cycles[0].LowCoverage)
}

func TestBuild_CyclesSortedByStart(t *testing.T) {
	series := hourlySeries(t, day(1), 1, 2, 3)
	pack, _ := Build(series, []Cycle{
		{Label: "later", Start: day(2), End: day(3)},
		{Label: "earlier", Start: day(1), End: day(2)},
	}, Options{})

	assert.Equal(t, "earlier", pack.Cycles[0].CycleLabel)
	assert.Equal(t, "later", pack.Cycles[1].CycleLabel)
}

func TestReconcile_CountsMismatchesWithoutFailing(t *testing.T) {
	series := hourlySeries(t, day(1), repeat(10, 24)...)
	pack, _ := Build(series, []Cycle{{Label: "c", Start: day(1), End: day(2)}}, Options{})

	warns := Reconcile(pack, []BilledCycle{{
		Label: "c", Start: day(1), End: day(2),
		KWh:      f(480), // interval says 240: far outside 5%
		DemandKW: f(10.5),
	}}, ReconcileOptions{})

	assert.Equal(t, 1, pack.KWhMismatchCount)
	assert.Equal(t, 0, pack.DemandMismatchCount) // 10.5 vs 10 inside 10% tolerance
	require.Len(t, warns, 1)
	assert.Equal(t, warn.CodeReconcileMismatch, warns[0].Code)
}

func TestReconcile_Exclusions(t *testing.T) {
	series := hourlySeries(t, day(1), 1, 2, 3, 4) // low coverage for a day cycle
	pack, _ := Build(series, []Cycle{{Label: "sparse", Start: day(1), End: day(2)}}, Options{})

	start := day(1)
	warns := Reconcile(pack, []BilledCycle{
		{Label: "sparse", Start: day(1), End: day(2), KWh: f(100)},
		{Label: "ancient", Start: day(1).AddDate(-1, 0, 0), End: day(2).AddDate(-1, 0, 0), KWh: f(5)},
	}, ReconcileOptions{OverlapStart: &start})

	assert.Empty(t, warns)
	assert.Zero(t, pack.KWhMismatchCount)
	require.Len(t, pack.Exclusions, 2)
	assert.Equal(t, ReasonLowIntervalCoverage, pack.Exclusions[0].Reason)
	assert.Equal(t, ReasonOutOfOverlapWindow, pack.Exclusions[1].Reason)
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
