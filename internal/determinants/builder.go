// Package determinants converts a normalized interval series plus
// billing-cycle boundaries into per-cycle energy and demand
// determinants, and reconciles them against billed values when both
// exist. Low-coverage cycles are flagged, never silently trusted as
// billed-equivalent.
package determinants

import (
	"math"
	"sort"
	"time"

	"github.com/gridpulse/ratescan/internal/interval"
	"github.com/gridpulse/ratescan/internal/warn"
)

// DemandMethod selects how billing demand is derived from the cycle
// maximum.
type DemandMethod string

const (
	DemandStraightMax DemandMethod = "max"
	DemandRatchet     DemandMethod = "ratchet"
)

// Cycle is one billing-cycle boundary, half-open [Start, End).
type Cycle struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TOULabelFunc maps a timestamp to its time-of-use period label.
type TOULabelFunc func(t time.Time) string

// Options configures determinant construction.
type Options struct {
	TOULabel             TOULabelFunc
	DemandMethod         DemandMethod
	RatchetFloorPct      float64 // e.g. 0.5 for a 50% ratchet
	RatchetHistoryMaxKW  float64 // highest demand in the ratchet window
	LowCoverageThreshold float64 // fraction below which a cycle is flagged
}

// DefaultLowCoverage is applied when Options carries no threshold.
const DefaultLowCoverage = 0.5

// CycleDeterminants is one billing-cycle record for one meter.
type CycleDeterminants struct {
	CycleLabel        string             `json:"cycle_label"`
	Start             time.Time          `json:"start"`
	End               time.Time          `json:"end"`
	KWhTotal          float64            `json:"kwh_total"`
	KWMax             float64            `json:"kw_max"`
	KWMaxByTouPeriod  map[string]float64 `json:"kw_max_by_tou_period,omitempty"`
	BillingDemandKW   float64            `json:"billing_demand_kw"`
	RatchetDemandKW   float64            `json:"ratchet_demand_kw,omitempty"`
	RatchetHistoryMax float64            `json:"ratchet_history_max_kw,omitempty"`
	CoveragePct       float64            `json:"coverage_pct"`
	LowCoverage       bool               `json:"low_coverage"`
}

// Pack is the full determinants output for one meter.
type Pack struct {
	Cycles              []CycleDeterminants `json:"cycles"`
	DemandMismatchCount int                 `json:"demand_mismatch_count"`
	KWhMismatchCount    int                 `json:"kwh_mismatch_count"`
	Exclusions          []Exclusion         `json:"exclusions,omitempty"`
}

// Exclusion records a cycle left out of reconciliation and why.
type Exclusion struct {
	CycleLabel string `json:"cycle_label"`
	Reason     string `json:"reason"`
}

// Reconciliation exclusion reasons.
const (
	ReasonLowIntervalCoverage = "low_interval_coverage"
	ReasonNoUsage             = "no_usage"
	ReasonOutOfOverlapWindow  = "out_of_overlap_window"
)

// Build aggregates the series over each cycle boundary. Cycles are
// processed in ascending start order regardless of input order.
func Build(series *interval.NormalizedSeries, cycles []Cycle, opts Options) (*Pack, []warn.Engine) {
	if opts.LowCoverageThreshold <= 0 {
		opts.LowCoverageThreshold = DefaultLowCoverage
	}
	ordered := make([]Cycle, len(cycles))
	copy(ordered, cycles)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Start.Equal(ordered[j].Start) {
			return ordered[i].Start.Before(ordered[j].Start)
		}
		return ordered[i].Label < ordered[j].Label
	})

	pack := &Pack{Cycles: make([]CycleDeterminants, 0, len(ordered))}
	var warns []warn.Engine
	anyLow := false

	for _, c := range ordered {
		cd := buildCycle(series, c, opts)
		if cd.LowCoverage {
			anyLow = true
		}
		pack.Cycles = append(pack.Cycles, cd)
	}

	if anyLow {
		warns = append(warns, warn.Engine{
			Code:       warn.CodeLowCoverage,
			Module:     "determinants",
			Operation:  "build",
			ContextKey: "interval_coverage",
		})
	}
	return pack, warns
}

func buildCycle(series *interval.NormalizedSeries, c Cycle, opts Options) CycleDeterminants {
	cd := CycleDeterminants{
		CycleLabel: c.Label,
		Start:      c.Start,
		End:        c.End,
	}

	var points []interval.Point
	granularity := 0
	if !series.Empty() {
		points = series.Slice(c.Start, c.End)
		granularity = series.GranularityMinutes
	}

	var touMax map[string]float64
	for _, p := range points {
		cd.KWhTotal += p.KWh
		if p.KW > cd.KWMax {
			cd.KWMax = p.KW
		}
		if opts.TOULabel != nil {
			if touMax == nil {
				touMax = make(map[string]float64)
			}
			label := opts.TOULabel(p.Timestamp)
			if p.KW > touMax[label] {
				touMax[label] = p.KW
			}
		}
	}
	cd.KWMaxByTouPeriod = touMax

	cd.CoveragePct = coveragePct(points, c, granularity)
	cd.LowCoverage = cd.CoveragePct < opts.LowCoverageThreshold

	switch opts.DemandMethod {
	case DemandRatchet:
		cd.RatchetHistoryMax = opts.RatchetHistoryMaxKW
		cd.RatchetDemandKW = opts.RatchetFloorPct * opts.RatchetHistoryMaxKW
		cd.BillingDemandKW = math.Max(cd.KWMax, cd.RatchetDemandKW)
	default:
		cd.BillingDemandKW = cd.KWMax
	}
	return cd
}

// coveragePct is the fraction of the cycle actually covered by
// interval points, derived from the expected point count at the
// series granularity and clamped to [0, 1].
func coveragePct(points []interval.Point, c Cycle, granularityMinutes int) float64 {
	if len(points) == 0 {
		return 0
	}
	if granularityMinutes <= 0 {
		return 1
	}
	expected := c.End.Sub(c.Start).Minutes() / float64(granularityMinutes)
	if expected <= 0 {
		return 0
	}
	pct := float64(len(points)) / expected
	if pct > 1 {
		pct = 1
	}
	return math.Round(pct*10000) / 10000
}
