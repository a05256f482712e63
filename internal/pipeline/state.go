package pipeline

import (
	"fmt"

	"github.com/gridpulse/ratescan/internal/battery"
	"github.com/gridpulse/ratescan/internal/determinants"
	"github.com/gridpulse/ratescan/internal/interval"
	"github.com/gridpulse/ratescan/internal/programs"
	"github.com/gridpulse/ratescan/internal/supply"
	"github.com/gridpulse/ratescan/internal/weather"
)

// State is the append-only arena a run accumulates into. Each field is
// written by exactly one step; a second write to the same field is a
// contract violation and is refused by apply.
type State struct {
	Series          *interval.NormalizedSeries
	Classification  *supply.Classification
	RateContext     *supply.RateContext
	Determinants    *determinants.Pack
	IntervalStats   *IntervalStats
	Weather         *weather.Result
	Battery         *battery.Opportunity
	BatteryDecision *battery.Decision
	Programs        *programs.MatchResult
	Recommendations []Recommendation
	MissingInfo     []MissingInfoItem
}

// Delta is the write-set a single step produces. Nil fields are not
// written; non-nil fields must land on an empty State slot.
type Delta struct {
	Series          *interval.NormalizedSeries
	Classification  *supply.Classification
	RateContext     *supply.RateContext
	Determinants    *determinants.Pack
	IntervalStats   *IntervalStats
	Weather         *weather.Result
	Battery         *battery.Opportunity
	BatteryDecision *battery.Decision
	Programs        *programs.MatchResult
	Recommendations []Recommendation
	MissingInfo     []MissingInfoItem
}

// apply merges a step's delta into the state. It refuses to overwrite
// an already-populated slot so a misbehaving step cannot silently
// clobber an earlier step's output.
func (s *State) apply(step StepName, d Delta) error {
	set := func(slot string, occupied bool, assign func()) error {
		if occupied {
			return fmt.Errorf("pipeline: step %s attempted to overwrite %s", step, slot)
		}
		assign()
		return nil
	}
	if d.Series != nil {
		if err := set("series", s.Series != nil, func() { s.Series = d.Series }); err != nil {
			return err
		}
	}
	if d.Classification != nil {
		if err := set("classification", s.Classification != nil, func() { s.Classification = d.Classification }); err != nil {
			return err
		}
	}
	if d.RateContext != nil {
		if err := set("rate_context", s.RateContext != nil, func() { s.RateContext = d.RateContext }); err != nil {
			return err
		}
	}
	if d.Determinants != nil {
		if err := set("determinants", s.Determinants != nil, func() { s.Determinants = d.Determinants }); err != nil {
			return err
		}
	}
	if d.IntervalStats != nil {
		if err := set("interval_stats", s.IntervalStats != nil, func() { s.IntervalStats = d.IntervalStats }); err != nil {
			return err
		}
	}
	if d.Weather != nil {
		if err := set("weather", s.Weather != nil, func() { s.Weather = d.Weather }); err != nil {
			return err
		}
	}
	if d.Battery != nil {
		if err := set("battery", s.Battery != nil, func() { s.Battery = d.Battery }); err != nil {
			return err
		}
	}
	if d.BatteryDecision != nil {
		if err := set("battery_decision", s.BatteryDecision != nil, func() { s.BatteryDecision = d.BatteryDecision }); err != nil {
			return err
		}
	}
	if d.Programs != nil {
		if err := set("programs", s.Programs != nil, func() { s.Programs = d.Programs }); err != nil {
			return err
		}
	}
	if d.Recommendations != nil {
		if err := set("recommendations", s.Recommendations != nil, func() { s.Recommendations = d.Recommendations }); err != nil {
			return err
		}
	}
	if d.MissingInfo != nil {
		if err := set("missing_info", s.MissingInfo != nil, func() { s.MissingInfo = d.MissingInfo }); err != nil {
			return err
		}
	}
	return nil
}
