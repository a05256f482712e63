// Package weather fits a heating/cooling degree-day model to daily
// usage versus temperature. Every fit is closed-form and total:
// degenerate inputs produce a zero-slope fit around the sample mean,
// never NaN.
package weather

import (
	"math"
	"sort"
	"time"

	"github.com/gridpulse/ratescan/internal/warn"
)

// Config holds the regression parameters.
type Config struct {
	HDDBaseF float64 `yaml:"hdd_base_f"`
	CDDBaseF float64 `yaml:"cdd_base_f"`
}

// DefaultConfig uses the standard 65°F degree-day bases.
func DefaultConfig() Config {
	return Config{HDDBaseF: 65, CDDBaseF: 65}
}

// DailyRow is one calendar day with both usage and temperature.
type DailyRow struct {
	Date     time.Time `json:"date"`
	KWh      float64   `json:"kwh"`
	AvgTempF float64   `json:"avg_temp_f"`
}

// ConfidenceTier grades a fit by fixed thresholds.
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "HIGH"
	TierMedium ConfidenceTier = "MEDIUM"
	TierLow    ConfidenceTier = "LOW"
	TierNone   ConfidenceTier = "NONE"
)

// Result is the fitted weather decomposition.
type Result struct {
	InterceptPerDay   float64        `json:"intercept_per_day"`
	SlopeHDD          float64        `json:"slope_hdd"`
	SlopeCDD          float64        `json:"slope_cdd"`
	RSquared          float64        `json:"r_squared"`
	ConfidenceTier    ConfidenceTier `json:"confidence_tier"`
	OverlapDays       int            `json:"overlap_days"`
	ClippedPointCount int            `json:"clipped_point_count"`
	AnnualizedKWh     *float64       `json:"annualized_kwh,omitempty"`
	Warnings          []warn.Engine  `json:"warnings,omitempty"`
}

// iqrClipFactor widens the clipping fence to 4×IQR so only gross
// outliers are touched.
const iqrClipFactor = 4.0

// annualizeMinDays gates annualization on sample size.
const annualizeMinDays = 90

// Fit runs the degree-day regression over the daily rows.
func Fit(rows []DailyRow, cfg Config) Result {
	res := Result{OverlapDays: len(rows), ConfidenceTier: TierNone}
	if len(rows) == 0 {
		return res
	}

	usage := make([]float64, len(rows))
	hdd := make([]float64, len(rows))
	cdd := make([]float64, len(rows))
	for i, r := range rows {
		usage[i] = r.KWh
		hdd[i] = math.Max(0, cfg.HDDBaseF-r.AvgTempF)
		cdd[i] = math.Max(0, r.AvgTempF-cfg.CDDBaseF)
	}

	clipped := clipOutliers(usage)
	res.ClippedPointCount = clipped
	if clipped > 0 {
		res.Warnings = append(res.Warnings, warn.Engine{
			Code:       warn.CodeOutliersClipped,
			Module:     "weather",
			Operation:  "fit",
			ContextKey: "usage_iqr",
		})
	}

	mean := meanOf(usage)
	sst := 0.0
	for _, y := range usage {
		sst += (y - mean) * (y - mean)
	}

	hddVaries := variance(hdd) > 0
	cddVaries := variance(cdd) > 0

	switch {
	case sst == 0 || (!hddVaries && !cddVaries):
		// Degenerate: constant usage or constant predictors.
		res.InterceptPerDay = mean
	case hddVaries && cddVaries:
		b0, b1, b2, ok := olsTwo(hdd, cdd, usage)
		if !ok {
			res.InterceptPerDay = mean
			break
		}
		res.InterceptPerDay, res.SlopeHDD, res.SlopeCDD = b0, b1, b2
		res.RSquared = rSquared(usage, sst, func(i int) float64 { return b0 + b1*hdd[i] + b2*cdd[i] })
	case hddVaries:
		b0, b1 := olsOne(hdd, usage)
		res.InterceptPerDay, res.SlopeHDD = b0, b1
		res.RSquared = rSquared(usage, sst, func(i int) float64 { return b0 + b1*hdd[i] })
	default:
		b0, b1 := olsOne(cdd, usage)
		res.InterceptPerDay, res.SlopeCDD = b0, b1
		res.RSquared = rSquared(usage, sst, func(i int) float64 { return b0 + b1*cdd[i] })
	}

	res.ConfidenceTier = tierOf(res.OverlapDays, res.RSquared, res.ClippedPointCount)

	if res.OverlapDays >= annualizeMinDays && res.ConfidenceTier != TierNone {
		fitted := 0.0
		for i := range usage {
			fitted += res.InterceptPerDay + res.SlopeHDD*hdd[i] + res.SlopeCDD*cdd[i]
		}
		annual := fitted / float64(len(usage)) * 365
		res.AnnualizedKWh = &annual
	}
	return res
}

// tierOf is the fixed-threshold confidence grading; it depends only on
// its three arguments.
func tierOf(days int, r2 float64, clipped int) ConfidenceTier {
	switch {
	case days >= 180 && r2 >= 0.6 && clipped == 0:
		return TierHigh
	case days >= 60 && r2 >= 0.35:
		return TierMedium
	case days >= 30 && r2 >= 0.15:
		return TierLow
	default:
		return TierNone
	}
}

// clipOutliers clips values outside [Q1 − 4·IQR, Q3 + 4·IQR] in place
// and returns how many were touched. Values are clipped, not dropped,
// so day alignment with the predictors survives.
func clipOutliers(values []float64) int {
	if len(values) < 4 {
		return 0
	}
	q1 := quantile(values, 0.25)
	q3 := quantile(values, 0.75)
	iqr := q3 - q1
	lo := q1 - iqrClipFactor*iqr
	hi := q3 + iqrClipFactor*iqr

	clipped := 0
	for i, v := range values {
		switch {
		case v < lo:
			values[i] = lo
			clipped++
		case v > hi:
			values[i] = hi
			clipped++
		}
	}
	return clipped
}

// quantile interpolates linearly over the sorted copy of values.
func quantile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	mean := meanOf(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - mean) * (v - mean)
	}
	return sum
}

// olsOne is single-predictor least squares.
func olsOne(x, y []float64) (intercept, slope float64) {
	mx := meanOf(x)
	my := meanOf(y)
	num, den := 0.0, 0.0
	for i := range x {
		num += (x[i] - mx) * (y[i] - my)
		den += (x[i] - mx) * (x[i] - mx)
	}
	if den == 0 {
		return my, 0
	}
	slope = num / den
	return my - slope*mx, slope
}

// olsTwo solves the 2-predictor normal equations (XᵀX)b = Xᵀy with X =
// [1, x1, x2] via a closed-form 3×3 inverse. ok is false when the
// system is singular (collinear predictors).
func olsTwo(x1, x2, y []float64) (b0, b1, b2 float64, ok bool) {
	n := float64(len(y))
	var s1, s2, s11, s22, s12, sy, s1y, s2y float64
	for i := range y {
		s1 += x1[i]
		s2 += x2[i]
		s11 += x1[i] * x1[i]
		s22 += x2[i] * x2[i]
		s12 += x1[i] * x2[i]
		sy += y[i]
		s1y += x1[i] * y[i]
		s2y += x2[i] * y[i]
	}

	// A is symmetric: [n s1 s2; s1 s11 s12; s2 s12 s22].
	det := n*(s11*s22-s12*s12) - s1*(s1*s22-s12*s2) + s2*(s1*s12-s11*s2)
	if math.Abs(det) < 1e-12 {
		return 0, 0, 0, false
	}

	// Cofactor expansion of A⁻¹ applied to [sy s1y s2y].
	c00 := s11*s22 - s12*s12
	c01 := -(s1*s22 - s12*s2)
	c02 := s1*s12 - s11*s2
	c11 := n*s22 - s2*s2
	c12 := -(n*s12 - s1*s2)
	c22 := n*s11 - s1*s1

	b0 = (c00*sy + c01*s1y + c02*s2y) / det
	b1 = (c01*sy + c11*s1y + c12*s2y) / det
	b2 = (c02*sy + c12*s1y + c22*s2y) / det

	if math.IsNaN(b0) || math.IsNaN(b1) || math.IsNaN(b2) {
		return 0, 0, 0, false
	}
	return b0, b1, b2, true
}

func rSquared(y []float64, sst float64, predict func(i int) float64) float64 {
	if sst == 0 {
		return 0
	}
	sse := 0.0
	for i, v := range y {
		d := v - predict(i)
		sse += d * d
	}
	r2 := 1 - sse/sst
	if r2 < 0 {
		return 0
	}
	return r2
}
