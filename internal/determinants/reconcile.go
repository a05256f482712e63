package determinants

import (
	"math"
	"time"

	"github.com/gridpulse/ratescan/internal/warn"
)

// BilledCycle carries determinants as stated on the bill, for
// cross-checking against interval-derived values. Absent fields are
// simply not reconciled.
type BilledCycle struct {
	Label    string    `json:"label"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	KWh      *float64  `json:"kwh,omitempty"`
	DemandKW *float64  `json:"demand_kw,omitempty"`
}

// ReconcileOptions bounds the cross-check.
type ReconcileOptions struct {
	KWhTolerancePct    float64    // relative; default 0.05
	DemandTolerancePct float64    // relative; default 0.10
	OverlapStart       *time.Time // billed cycles outside are excluded
	OverlapEnd         *time.Time
}

// Reconcile cross-checks billed against interval-derived determinants
// cycle by cycle, counting mismatches without failing. Low-coverage
// and zero-usage cycles are excluded with a recorded reason.
func Reconcile(pack *Pack, billed []BilledCycle, opts ReconcileOptions) []warn.Engine {
	if opts.KWhTolerancePct <= 0 {
		opts.KWhTolerancePct = 0.05
	}
	if opts.DemandTolerancePct <= 0 {
		opts.DemandTolerancePct = 0.10
	}

	byLabel := make(map[string]*CycleDeterminants, len(pack.Cycles))
	for i := range pack.Cycles {
		byLabel[pack.Cycles[i].CycleLabel] = &pack.Cycles[i]
	}

	mismatched := false
	for _, b := range billed {
		if outOfWindow(b, opts) {
			pack.Exclusions = append(pack.Exclusions, Exclusion{CycleLabel: b.Label, Reason: ReasonOutOfOverlapWindow})
			continue
		}
		cd, ok := byLabel[b.Label]
		if !ok {
			continue
		}
		if cd.LowCoverage {
			pack.Exclusions = append(pack.Exclusions, Exclusion{CycleLabel: b.Label, Reason: ReasonLowIntervalCoverage})
			continue
		}
		if cd.KWhTotal == 0 && cd.KWMax == 0 {
			pack.Exclusions = append(pack.Exclusions, Exclusion{CycleLabel: b.Label, Reason: ReasonNoUsage})
			continue
		}

		if b.KWh != nil && relDiff(*b.KWh, cd.KWhTotal) > opts.KWhTolerancePct {
			pack.KWhMismatchCount++
			mismatched = true
		}
		if b.DemandKW != nil && relDiff(*b.DemandKW, cd.KWMax) > opts.DemandTolerancePct {
			pack.DemandMismatchCount++
			mismatched = true
		}
	}

	if mismatched {
		return []warn.Engine{{
			Code:       warn.CodeReconcileMismatch,
			Module:     "determinants",
			Operation:  "reconcile",
			ContextKey: "billed_vs_interval",
		}}
	}
	return nil
}

func outOfWindow(b BilledCycle, opts ReconcileOptions) bool {
	if opts.OverlapStart != nil && b.End.Before(*opts.OverlapStart) {
		return true
	}
	if opts.OverlapEnd != nil && b.Start.After(*opts.OverlapEnd) {
		return true
	}
	return false
}

// relDiff is the relative difference between a billed and a derived
// value, scaled by the billed value when nonzero.
func relDiff(billed, derived float64) float64 {
	diff := math.Abs(billed - derived)
	if billed != 0 {
		return diff / math.Abs(billed)
	}
	if derived == 0 {
		return 0
	}
	return math.Inf(1)
}
