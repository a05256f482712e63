package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gridpulse/ratescan/internal/interval"
	"github.com/gridpulse/ratescan/internal/supply"
	"github.com/gridpulse/ratescan/internal/warn"
	"github.com/gridpulse/ratescan/internal/weather"
)

// IntervalStats are shape metrics over the full normalized series.
type IntervalStats struct {
	PeakKW      float64 `json:"peak_kw"`
	AvgKW       float64 `json:"avg_kw"`
	BaseLoadKW  float64 `json:"base_load_kw"` // 5th percentile demand
	LoadFactor  float64 `json:"load_factor"`
	TotalKWh    float64 `json:"total_kwh"`
	AvgDailyKWh float64 `json:"avg_daily_kwh"`
}

// Recommendation is one actionable finding assembled at the end of a
// run.
type Recommendation struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Title     string `json:"title"`
	Rationale string `json:"rationale"`
}

// MissingInfoItem is an input the run wanted but did not have, graded
// by how much it limited the analysis.
type MissingInfoItem = warn.Item

func computeIntervalStats(series *interval.NormalizedSeries) *IntervalStats {
	st := &IntervalStats{}
	if series == nil || series.Empty() {
		return st
	}
	kws := make([]float64, 0, len(series.Points))
	for _, p := range series.Points {
		st.TotalKWh += p.KWh
		st.AvgKW += p.KW
		if p.KW > st.PeakKW {
			st.PeakKW = p.KW
		}
		kws = append(kws, p.KW)
	}
	st.AvgKW /= float64(len(series.Points))
	sort.Float64s(kws)
	st.BaseLoadKW = kws[int(float64(len(kws))*0.05)]
	if st.PeakKW > 0 {
		st.LoadFactor = round4(st.AvgKW / st.PeakKW)
	}
	if series.Coverage.Days > 0 {
		st.AvgDailyKWh = st.TotalKWh / series.Coverage.Days
	}
	return st
}

// dailyRows joins daily usage totals from the series with temperature
// readings. Explicit readings win; otherwise per-point temperatures
// embedded in the series are averaged per calendar day. Days lacking
// either side are dropped.
func dailyRows(series *interval.NormalizedSeries, temps []TemperatureReading) []weather.DailyRow {
	if series == nil || series.Empty() {
		return nil
	}

	type acc struct {
		kwh     float64
		tempSum float64
		tempObs int
	}
	days := make(map[time.Time]*acc)
	for _, p := range series.Points {
		day := p.Timestamp.UTC().Truncate(24 * time.Hour)
		a := days[day]
		if a == nil {
			a = &acc{}
			days[day] = a
		}
		a.kwh += p.KWh
		if p.TemperatureF != nil {
			a.tempSum += *p.TemperatureF
			a.tempObs++
		}
	}

	explicit := make(map[time.Time]float64, len(temps))
	for _, t := range temps {
		explicit[t.Date.UTC().Truncate(24*time.Hour)] = t.AvgTempF
	}

	rows := make([]weather.DailyRow, 0, len(days))
	for day, a := range days {
		var temp float64
		if v, ok := explicit[day]; ok {
			temp = v
		} else if a.tempObs > 0 {
			temp = a.tempSum / float64(a.tempObs)
		} else {
			continue
		}
		rows = append(rows, weather.DailyRow{Date: day, KWh: a.kwh, AvgTempF: temp})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows
}

func buildRecommendations(s *State, newID func() string) []Recommendation {
	recs := []Recommendation{}

	if s.BatteryDecision != nil && s.BatteryDecision.Proceed && s.Battery != nil && s.Battery.SimplePaybackYrs != nil {
		recs = append(recs, Recommendation{
			ID:       newID(),
			Category: "battery",
			Title:    "Evaluate peak-shaving battery storage",
			Rationale: fmt.Sprintf("A %.0f kWh battery shaving %.1f kW of peak pays back in %.1f years.",
				s.Battery.BatteryKWh, s.Battery.ShaveKW, *s.Battery.SimplePaybackYrs),
		})
	}

	if s.Programs != nil && len(s.Programs.Eligible) > 0 {
		names := make([]string, 0, len(s.Programs.Eligible))
		for _, p := range s.Programs.Eligible {
			names = append(names, p.Name)
		}
		recs = append(recs, Recommendation{
			ID:        newID(),
			Category:  "programs",
			Title:     "Enroll in eligible demand programs",
			Rationale: "Eligible: " + strings.Join(names, "; ") + ".",
		})
	}

	if s.Weather != nil && s.Weather.ConfidenceTier != weather.TierNone {
		if s.Weather.SlopeCDD > 0 && s.Weather.SlopeCDD >= s.Weather.SlopeHDD {
			recs = append(recs, Recommendation{
				ID:       newID(),
				Category: "efficiency",
				Title:    "Usage is cooling-driven",
				Rationale: fmt.Sprintf("Each cooling degree-day adds %.1f kWh (R²=%.2f); HVAC tuning targets the largest controllable load.",
					s.Weather.SlopeCDD, s.Weather.RSquared),
			})
		} else if s.Weather.SlopeHDD > 0 {
			recs = append(recs, Recommendation{
				ID:       newID(),
				Category: "efficiency",
				Title:    "Usage is heating-driven",
				Rationale: fmt.Sprintf("Each heating degree-day adds %.1f kWh (R²=%.2f); heating efficiency upgrades target the largest controllable load.",
					s.Weather.SlopeHDD, s.Weather.RSquared),
			})
		}
	}

	if s.IntervalStats != nil && s.IntervalStats.PeakKW > 0 && s.IntervalStats.LoadFactor < 0.3 {
		recs = append(recs, Recommendation{
			ID:       newID(),
			Category: "load-shape",
			Title:    "Flatten a peaky load profile",
			Rationale: fmt.Sprintf("Load factor %.2f means demand charges are driven by short peaks well above the %.1f kW average.",
				s.IntervalStats.LoadFactor, s.IntervalStats.AvgKW),
		})
	}

	return recs
}

func buildMissingInfo(in Inputs, s *State, newID func() string) []MissingInfoItem {
	items := []MissingInfoItem{}
	add := func(category string, sev warn.Severity, desc string) {
		items = append(items, MissingInfoItem{
			ID:          newID(),
			Category:    category,
			Severity:    sev,
			Description: desc,
		})
	}

	if s.Series == nil || s.Series.Empty() {
		add("interval_data", warn.SeverityCritical,
			"No interval usage data was available; demand, weather, and battery analysis could not run.")
	}

	if s.RateContext != nil {
		switch s.RateContext.TariffMatch.Status {
		case supply.MatchAmbiguous:
			add("tariff_match", warn.SeverityCritical,
				"Rate hints matched multiple schedules ("+strings.Join(s.RateContext.TariffMatch.Candidates, ", ")+"); confirm the billed rate.")
		case supply.MatchNotFound:
			add("tariff_match", warn.SeverityWarning,
				"Rate hints matched no schedule in the tariff snapshot; rate-specific economics used defaults.")
		}
		if s.RateContext.GenerationMissing {
			add("generation_prices", warn.SeverityWarning,
				"No generation price snapshot resolved for the supply provider; all-in prices were not composed.")
		}
	} else {
		add("rate_context", warn.SeverityWarning,
			"No rate context was resolved; tariff and supply pricing is unknown.")
	}

	if len(in.BillingCycles) == 0 {
		add("billing_cycles", warn.SeverityInfo,
			"No billing-cycle boundaries were provided; per-cycle determinants were not built.")
	}

	if s.Weather == nil {
		add("temperature_data", warn.SeverityInfo,
			"No overlapping temperature data; weather sensitivity was not estimated.")
	} else if s.Weather.ConfidenceTier == weather.TierNone {
		add("temperature_data", warn.SeverityInfo,
			"Temperature overlap was too thin for a usable weather fit.")
	}

	if s.Determinants != nil {
		low := 0
		for _, c := range s.Determinants.Cycles {
			if c.LowCoverage {
				low++
			}
		}
		if low > 0 {
			add("interval_coverage", warn.SeverityInfo,
				fmt.Sprintf("%d billing cycle(s) had interval coverage below the reconciliation threshold.", low))
		}
	}

	warn.SortItems(items)
	return items
}

// round4 keeps reported ratios stable across platforms.
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
