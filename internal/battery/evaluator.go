// Package battery holds the closed-form battery-economics evaluator
// consumed by the analysis pipeline. It is a feasibility signal, not a
// dispatch simulation: inputs are cycle determinants and composed
// prices, outputs are savings headroom and a go/no-go decision.
package battery

import (
	"fmt"
	"math"
)

// Inputs is the narrow contract the pipeline hands the evaluator.
type Inputs struct {
	PeakKW            float64  `json:"peak_kw"`
	AvgKW             float64  `json:"avg_kw"`
	LoadFactor        float64  `json:"load_factor"`
	TOUSpreadPerKWh   float64  `json:"tou_spread_per_kwh"` // max−min all-in window price
	DemandChargePerKW float64  `json:"demand_charge_per_kw"`
	AnnualKWh         *float64 `json:"annual_kwh,omitempty"`
}

// Overrides lets callers pin economics assumptions for reproducible
// what-if runs.
type Overrides struct {
	DemandChargePerKW *float64 `json:"demand_charge_per_kw,omitempty"`
	CapitalPerKWh     *float64 `json:"capital_per_kwh,omitempty"`
	ShaveFraction     *float64 `json:"shave_fraction,omitempty"`
}

// Defaults applied when no override is supplied.
const (
	defaultDemandChargePerKW = 18.0  // $/kW-month, typical CA commercial
	defaultCapitalPerKWh     = 400.0 // installed $/kWh
	defaultShaveFraction     = 0.25  // fraction of peak a battery can shave
	defaultDurationHours     = 2.0
)

// Opportunity is the sizing and savings estimate. SimplePaybackYrs is
// nil when annual savings are zero, so no payback exists; every field
// stays JSON-serializable.
type Opportunity struct {
	ShaveKW          float64  `json:"shave_kw"`
	BatteryKWh       float64  `json:"battery_kwh"`
	AnnualDemandSave float64  `json:"annual_demand_savings"`
	AnnualArbitrage  float64  `json:"annual_arbitrage_savings"`
	AnnualSavings    float64  `json:"annual_savings"`
	CapitalCost      float64  `json:"capital_cost"`
	SimplePaybackYrs *float64 `json:"simple_payback_years,omitempty"`
	Attractive       bool     `json:"attractive"`
}

// Decision is the go/no-go verdict derived from an Opportunity.
type Decision struct {
	Proceed bool   `json:"proceed"`
	Reason  string `json:"reason"`
}

// Evaluate sizes a peak-shaving battery and estimates simple payback.
// It returns an error only on contract violations (negative demand);
// thin opportunities come back with Attractive=false.
func Evaluate(in Inputs, ov Overrides) (*Opportunity, error) {
	if in.PeakKW < 0 || in.AvgKW < 0 {
		return nil, fmt.Errorf("negative demand inputs: peak=%.2f avg=%.2f", in.PeakKW, in.AvgKW)
	}
	if in.PeakKW == 0 {
		return &Opportunity{Attractive: false}, nil
	}

	demandCharge := pick(ov.DemandChargePerKW, defaultDemandChargePerKW)
	if ov.DemandChargePerKW == nil && in.DemandChargePerKW > 0 {
		demandCharge = in.DemandChargePerKW
	}
	capital := pick(ov.CapitalPerKWh, defaultCapitalPerKWh)
	shaveFrac := pick(ov.ShaveFraction, defaultShaveFraction)

	// Spiky loads (low load factor) shave better than flat ones.
	spikiness := 1.0 - clamp01(in.LoadFactor)
	shaveKW := in.PeakKW * shaveFrac * (0.5 + 0.5*spikiness)
	batteryKWh := shaveKW * defaultDurationHours

	op := &Opportunity{
		ShaveKW:          round2(shaveKW),
		BatteryKWh:       round2(batteryKWh),
		AnnualDemandSave: round2(shaveKW * demandCharge * 12),
		CapitalCost:      round2(batteryKWh * capital),
	}
	if in.AnnualKWh != nil && in.TOUSpreadPerKWh > 0 {
		// One daily cycle through the TOU spread, derated for losses.
		op.AnnualArbitrage = round2(batteryKWh * in.TOUSpreadPerKWh * 365 * 0.85)
	}
	op.AnnualSavings = round2(op.AnnualDemandSave + op.AnnualArbitrage)

	if op.AnnualSavings > 0 {
		payback := round2(op.CapitalCost / op.AnnualSavings)
		op.SimplePaybackYrs = &payback
		op.Attractive = payback > 0 && payback <= 7
	}

	return op, nil
}

// Decide converts an opportunity into a go/no-go decision.
func Decide(op *Opportunity) *Decision {
	switch {
	case op == nil || op.ShaveKW == 0:
		return &Decision{Proceed: false, Reason: "no_shaveable_peak"}
	case !op.Attractive:
		return &Decision{Proceed: false, Reason: "payback_too_long"}
	default:
		return &Decision{Proceed: true, Reason: "payback_within_threshold"}
	}
}

func pick(override *float64, fallback float64) float64 {
	if override != nil {
		return *override
	}
	return fallback
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
