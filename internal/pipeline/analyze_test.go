package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpulse/ratescan/internal/determinants"
	"github.com/gridpulse/ratescan/internal/interval"
	"github.com/gridpulse/ratescan/internal/snapshots"
	"github.com/gridpulse/ratescan/internal/supply"
	"github.com/gridpulse/ratescan/internal/warn"
	"github.com/gridpulse/ratescan/internal/weather"
)

func seededStore(t *testing.T) *snapshots.MemStore {
	t.Helper()
	store := snapshots.NewMemStore()
	store.Put(snapshots.KindTariff, "pge", snapshots.Snapshot{
		ID:             "tariff-2024",
		EffectiveStart: snapshots.NewDate(2024, 1, 1),
		Payload: json.RawMessage(`{
			"utility": "pge",
			"rates": [
				{"code": "B-19", "name": "Medium General Demand TOU", "demand_method": "max"},
				{"code": "B-20", "name": "Large General Demand TOU", "demand_method": "ratchet", "ratchet_floor_pct": 0.5}
			]
		}`),
	})
	store.Put(snapshots.KindCCAGeneration, "cpa", snapshots.Snapshot{
		ID:             "gen-2024",
		EffectiveStart: snapshots.NewDate(2024, 1, 1),
		Payload: json.RawMessage(`{
			"provider": "cpa",
			"price_windows": [
				{"period": "on_peak", "price_per_kwh": 0.15},
				{"period": "off_peak", "price_per_kwh": 0.08}
			]
		}`),
	})
	store.Put(snapshots.KindCCAAdders, "cpa", snapshots.Snapshot{
		ID:             "adders-2024",
		EffectiveStart: snapshots.NewDate(2024, 1, 1),
		Payload: json.RawMessage(`{
			"items": [
				{"id": "pcia_restated", "label": "PCIA (restated)", "rate_per_kwh": 0.02},
				{"id": "other", "label": "Program adder", "rate_per_kwh": 0.005}
			]
		}`),
	})
	store.Put(snapshots.KindExitFees, "pge", snapshots.Snapshot{
		ID:             "fees-2024",
		EffectiveStart: snapshots.NewDate(2024, 1, 1),
		Payload: json.RawMessage(`{
			"total_per_kwh": 0.027,
			"items": [
				{"id": "pcia_2024", "label": "PCIA vintage 2024", "rate_per_kwh": 0.02},
				{"id": "nbc_dwr", "label": "DWR bond charge", "rate_per_kwh": 0.007}
			]
		}`),
	})
	return store
}

// hourlyPoints builds days of hourly canonical data with a 2pm-6pm
// peak at 120 kW and a baseline that tracks the day's temperature, so
// the weather fit has real signal while the peak stays fixed.
func hourlyPoints(start time.Time, days int, withTemps bool) []interval.CanonicalPoint {
	var pts []interval.CanonicalPoint
	for d := 0; d < days; d++ {
		temp := 55.0 + float64(d%30)
		base := 40.0
		if temp > 65 {
			base += 2 * (temp - 65)
		} else {
			base += 1.5 * (65 - temp)
		}
		for h := 0; h < 24; h++ {
			ts := start.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour)
			kw := base
			if h >= 14 && h < 18 {
				kw = 120.0
			}
			kwh := kw // hourly
			p := interval.CanonicalPoint{
				TimestampISO:    ts.Format(time.RFC3339),
				IntervalMinutes: 60,
				KWh:             &kwh,
			}
			if withTemps {
				t := temp
				p.TemperatureF = &t
			}
			pts = append(pts, p)
		}
	}
	return pts
}

func counterIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%04d", n)
	}
}

func testDeps(t *testing.T) Dependencies {
	t.Helper()
	return Dependencies{
		Snapshots: snapshots.NewResolver(seededStore(t)),
		Now:       time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC),
		NewID:     counterIDs(),
	}
}

func fullInputs() Inputs {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	billing := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)
	return Inputs{
		Utility:     "pge",
		MeterID:     "meter-1",
		BillingDate: &billing,
		BillText:    "Your generation is provided by Clean Power Alliance",
		RateHints:   []string{"B-19"},
		Canonical:   hourlyPoints(start, 90, true),
		BillingCycles: []determinants.Cycle{
			{Label: "2024-03", Start: start, End: start.AddDate(0, 1, 0)},
			{Label: "2024-04", Start: start.AddDate(0, 1, 0), End: start.AddDate(0, 2, 0)},
			{Label: "2024-05", Start: start.AddDate(0, 2, 0), End: start.AddDate(0, 3, 0)},
		},
	}
}

func TestAnalyzeFullRun(t *testing.T) {
	res, err := Analyze(context.Background(), fullInputs(), testDeps(t))
	require.NoError(t, err)

	require.Len(t, res.Steps, len(StepOrder))
	for i, rec := range res.Steps {
		assert.Equal(t, StepOrder[i], rec.Name)
		assert.Equal(t, StatusRan, rec.Status, "step %s: %s", rec.Name, rec.Reason)
	}

	require.NotNil(t, res.Series)
	assert.Equal(t, 60, res.Series.GranularityMinutes)

	require.NotNil(t, res.Classification)
	assert.Equal(t, supply.ProviderCCA, res.Classification.ProviderType)
	assert.Equal(t, "cpa", res.Classification.ProviderKey)

	require.NotNil(t, res.RateContext)
	assert.Equal(t, supply.MatchFound, res.RateContext.TariffMatch.Status)
	assert.Equal(t, "B-19", res.RateContext.TariffMatch.Rate.Code)
	assert.False(t, res.RateContext.GenerationMissing)
	require.Len(t, res.RateContext.AllInWindows, 2)
	// adders restated PCIA is deduped down to the program adder
	assert.InDelta(t, 0.15+0.005+0.027, res.RateContext.AllInWindows[0].AllInPerKWh, 1e-9)

	require.NotNil(t, res.Determinants)
	require.Len(t, res.Determinants.Cycles, 3)
	assert.InDelta(t, 120.0, res.Determinants.Cycles[0].BillingDemandKW, 1e-9)

	require.NotNil(t, res.IntervalStats)
	assert.InDelta(t, 120.0, res.IntervalStats.PeakKW, 1e-9)
	assert.Greater(t, res.IntervalStats.LoadFactor, 0.0)

	require.NotNil(t, res.Weather)
	assert.Equal(t, 90, res.Weather.OverlapDays)
	assert.NotEqual(t, weather.TierNone, res.Weather.ConfidenceTier)

	require.NotNil(t, res.Battery)
	require.NotNil(t, res.BatteryDecision)
	require.NotNil(t, res.Programs)

	assert.Contains(t, warnCodes(res.Warnings), warn.CodeAddersOverlapDedupe)
}

func warnCodes(ws []warn.Engine) []warn.Code {
	codes := make([]warn.Code, 0, len(ws))
	for _, w := range ws {
		codes = append(codes, w.Code)
	}
	return codes
}

func TestAnalyzeDeterministicOutput(t *testing.T) {
	in := fullInputs()

	var outs [][]byte
	for i := 0; i < 2; i++ {
		res, err := Analyze(context.Background(), in, testDeps(t))
		require.NoError(t, err)
		b, err := json.Marshal(res)
		require.NoError(t, err)
		outs = append(outs, b)
	}
	assert.Equal(t, string(outs[0]), string(outs[1]))
}

func TestAnalyzeInvalidInputs(t *testing.T) {
	deps := testDeps(t)

	_, err := Analyze(context.Background(), Inputs{}, deps)
	assert.Error(t, err)

	_, err = Analyze(context.Background(), Inputs{Utility: "PG&E"}, deps)
	assert.Error(t, err)

	_, err = Analyze(context.Background(), Inputs{Utility: "pge"}, Dependencies{})
	assert.Error(t, err)
}

func TestAnalyzeNoIntervalData(t *testing.T) {
	in := Inputs{Utility: "pge", BillText: "bundled service"}
	res, err := Analyze(context.Background(), in, testDeps(t))
	require.NoError(t, err)

	byName := make(map[StepName]StepRecord)
	for _, rec := range res.Steps {
		byName[rec.Name] = rec
	}
	assert.Equal(t, StatusRan, byName[StepNormalize].Status)
	assert.Equal(t, StatusRan, byName[StepSupplyStructure].Status)
	assert.Equal(t, ReasonNoBillingCycles, byName[StepDeterminants].Reason)
	assert.Equal(t, ReasonNoIntervalData, byName[StepIntervalIntelligence].Reason)
	assert.Equal(t, ReasonNoIntervalData, byName[StepWeatherRegression].Reason)
	assert.Equal(t, ReasonNoIntervalData, byName[StepBatteryOpportunity].Reason)
	assert.Equal(t, ReasonNoBatteryOpportunity, byName[StepBatteryDecision].Reason)
	assert.Equal(t, StatusRan, byName[StepRecommendations].Status)
	assert.Equal(t, StatusRan, byName[StepMissingInfo].Status)

	require.NotEmpty(t, res.MissingInfo)
	top := res.MissingInfo[0]
	assert.Equal(t, warn.SeverityCritical, top.Severity)
	assert.Equal(t, "interval_data", top.Category)
}

func TestAnalyzeUnsupportedTerritory(t *testing.T) {
	deps := testDeps(t)
	deps.Snapshots = snapshots.NewResolver(seededStore(t), snapshots.WithSupportedUtilities("pge"))

	in := fullInputs()
	in.Utility = "sce"
	res, err := Analyze(context.Background(), in, deps)
	require.NoError(t, err)

	for _, rec := range res.Steps {
		if rec.Name == StepRateContext {
			assert.Equal(t, StatusSkipped, rec.Status)
			assert.Equal(t, ReasonUnsupportedTerritory, rec.Reason)
		}
	}
	assert.Nil(t, res.RateContext)
	assert.Contains(t, warnCodes(res.Warnings), warn.CodeUnsupported)
}

func TestAnalyzeStepPanicBecomesWarning(t *testing.T) {
	deps := testDeps(t)
	deps.TOULabel = func(time.Time) string { panic("boom") }

	res, err := Analyze(context.Background(), fullInputs(), deps)
	require.NoError(t, err)

	var detRec StepRecord
	for _, rec := range res.Steps {
		if rec.Name == StepDeterminants {
			detRec = rec
		}
	}
	assert.Equal(t, StatusSkipped, detRec.Status)
	assert.Equal(t, ReasonComponentError, detRec.Reason)

	found := false
	for _, w := range res.Warnings {
		if w.Code == warn.CodeStepFailed && w.ExceptionKind == "panic" {
			found = true
		}
	}
	assert.True(t, found, "expected a panic step warning, got %v", res.Warnings)
	assert.Nil(t, res.Determinants)

	// downstream steps that only need the series still run
	for _, rec := range res.Steps {
		if rec.Name == StepIntervalIntelligence {
			assert.Equal(t, StatusRan, rec.Status)
		}
	}
}

func TestAnalyzeRatchetDemandFromTariff(t *testing.T) {
	in := fullInputs()
	in.RateHints = []string{"B-20"}
	in.RatchetHistoryMaxKW = 300

	res, err := Analyze(context.Background(), fullInputs(), testDeps(t))
	require.NoError(t, err)
	straight := res.Determinants.Cycles[0].BillingDemandKW

	res, err = Analyze(context.Background(), in, testDeps(t))
	require.NoError(t, err)
	require.Equal(t, supply.MatchFound, res.RateContext.TariffMatch.Status)
	require.Equal(t, "B-20", res.RateContext.TariffMatch.Rate.Code)
	ratcheted := res.Determinants.Cycles[0].BillingDemandKW

	// 50% ratchet on a 300 kW history floors demand at 150 kW,
	// above the observed 120 kW peak.
	assert.InDelta(t, 120.0, straight, 1e-9)
	assert.InDelta(t, 150.0, ratcheted, 1e-9)
}

func TestAnalyzePriceSignalsOverride(t *testing.T) {
	deps := testDeps(t)
	deps.PriceSignals = &supply.RateContext{
		Classification: supply.Classification{ProviderType: supply.ProviderBundled},
		TariffMatch:    supply.TariffMatch{Status: supply.MatchNotFound},
	}

	res, err := Analyze(context.Background(), fullInputs(), deps)
	require.NoError(t, err)
	assert.Same(t, deps.PriceSignals, res.RateContext)
}

func TestAnalyzeTinyLoadStillSerializes(t *testing.T) {
	// A vanishingly small but valid load rounds battery savings to zero;
	// the run must still complete and marshal cleanly.
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]interval.RawPoint, 48)
	for i := range pts {
		pts[i] = interval.RawPoint{
			TimestampISO: start.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
			KW:           0.00001,
		}
	}

	res, err := Analyze(context.Background(), Inputs{Utility: "pge", RawKW: pts}, testDeps(t))
	require.NoError(t, err)

	require.NotNil(t, res.Battery)
	assert.Nil(t, res.Battery.SimplePaybackYrs)
	assert.False(t, res.Battery.Attractive)

	_, err = json.Marshal(res)
	require.NoError(t, err)
}

func TestStateApplyRefusesOverwrite(t *testing.T) {
	s := &State{}
	series := &interval.NormalizedSeries{}
	require.NoError(t, s.apply(StepNormalize, Delta{Series: series}))
	err := s.apply(StepDeterminants, Delta{Series: &interval.NormalizedSeries{}})
	require.Error(t, err)
	assert.Same(t, series, s.Series)
}

func TestTouSpread(t *testing.T) {
	assert.Zero(t, touSpread(nil))
	spread := touSpread([]supply.AllInWindow{
		{AllInPerKWh: 0.30},
		{AllInPerKWh: 0.12},
		{AllInPerKWh: 0.22},
	})
	assert.InDelta(t, 0.18, spread, 1e-9)
}
