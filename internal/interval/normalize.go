// Package interval canonicalizes heterogeneous interval-power inputs
// into one sorted kW/kWh series with coverage metadata. Malformed rows
// are dropped and counted, never raised as errors; normalizing an
// already-normalized series is a no-op.
package interval

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridpulse/ratescan/internal/warn"
)

// granularityProbe caps how many points feed the modal-spacing
// inference.
const granularityProbe = 500

// CanonicalPoint is a fully described meter reading. KWh and KW are
// both optional; when only KWh is present KW is derived from the
// interval length.
type CanonicalPoint struct {
	TimestampISO    string   `json:"timestamp_iso"`
	IntervalMinutes int      `json:"interval_minutes"`
	KWh             *float64 `json:"kwh,omitempty"`
	KW              *float64 `json:"kw,omitempty"`
	TemperatureF    *float64 `json:"temperature_f,omitempty"`
}

// RawPoint is a bare kW sample from an external telemetry feed.
type RawPoint struct {
	TimestampISO string  `json:"timestamp_iso"`
	KW           float64 `json:"kw"`
}

// Point is one normalized sample.
type Point struct {
	Timestamp    time.Time `json:"timestamp"`
	KW           float64   `json:"kw"`
	KWh          float64   `json:"kwh"`
	TemperatureF *float64  `json:"temperature_f,omitempty"`
}

// Coverage describes the span of a normalized series.
type Coverage struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Days   float64   `json:"days"`
	Points int       `json:"points"`
}

// NormalizedSeries is the canonical output: strictly ascending
// timestamps, one point per timestamp.
type NormalizedSeries struct {
	Points             []Point  `json:"points"`
	GranularityMinutes int      `json:"granularity_minutes"`
	Coverage           Coverage `json:"coverage"`
	DroppedRows        int      `json:"dropped_rows"`
}

// Input carries the candidate sources. Canonical points take
// precedence over the raw kW series when both are present.
type Input struct {
	Canonical       []CanonicalPoint
	RawKW           []RawPoint
	GranularityHint int // minutes; used when modal inference has no signal
}

// Normalize builds the canonical series. It never returns nil: empty
// input yields an empty series with zero coverage. Malformed rows are
// excluded and reported through a ROWS_DROPPED warning.
func Normalize(in Input) (*NormalizedSeries, []warn.Engine) {
	var points []Point
	dropped := 0

	switch {
	case len(in.Canonical) > 0:
		points, dropped = parseCanonical(in.Canonical)
	case len(in.RawKW) > 0:
		points, dropped = parseRaw(in.RawKW)
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	points = dedupe(points)

	gran := modalSpacingMinutes(points)
	if gran == 0 {
		gran = in.GranularityHint
	}

	// Raw kW feeds carry no per-point energy; fill it in once the
	// granularity is known.
	if len(in.Canonical) == 0 && gran > 0 {
		for i := range points {
			if points[i].KWh == 0 && points[i].KW != 0 {
				points[i].KWh = points[i].KW * float64(gran) / 60.0
			}
		}
	}

	series := &NormalizedSeries{
		Points:             points,
		GranularityMinutes: gran,
		Coverage:           coverageOf(points),
		DroppedRows:        dropped,
	}

	var warns []warn.Engine
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("interval rows excluded during normalization")
		warns = append(warns, warn.Engine{
			Code:       warn.CodeRowsDropped,
			Module:     "interval",
			Operation:  "normalize",
			ContextKey: "malformed_rows",
		})
	}
	return series, warns
}

// Renormalize re-runs normalization on an existing series. Because the
// series is already sorted and deduplicated this is a stable no-op;
// exposed so callers can treat externally supplied series uniformly.
func Renormalize(s *NormalizedSeries) *NormalizedSeries {
	if s == nil {
		empty, _ := Normalize(Input{})
		return empty
	}
	points := make([]Point, len(s.Points))
	copy(points, s.Points)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	points = dedupe(points)
	gran := modalSpacingMinutes(points)
	if gran == 0 {
		gran = s.GranularityMinutes
	}
	return &NormalizedSeries{
		Points:             points,
		GranularityMinutes: gran,
		Coverage:           coverageOf(points),
		DroppedRows:        s.DroppedRows,
	}
}

// Slice returns the points within [start, end).
func (s *NormalizedSeries) Slice(start, end time.Time) []Point {
	lo := sort.Search(len(s.Points), func(i int) bool {
		return !s.Points[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(s.Points), func(i int) bool {
		return !s.Points[i].Timestamp.Before(end)
	})
	return s.Points[lo:hi]
}

// Empty reports whether the series has no points.
func (s *NormalizedSeries) Empty() bool {
	return s == nil || len(s.Points) == 0
}

func parseCanonical(rows []CanonicalPoint) ([]Point, int) {
	points := make([]Point, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		ts, ok := parseTimestamp(row.TimestampISO)
		if !ok {
			dropped++
			continue
		}
		p := Point{Timestamp: ts, TemperatureF: row.TemperatureF}
		switch {
		case row.KW != nil:
			p.KW = *row.KW
			if row.KWh != nil {
				p.KWh = *row.KWh
			} else if row.IntervalMinutes > 0 {
				p.KWh = *row.KW * float64(row.IntervalMinutes) / 60.0
			}
		case row.KWh != nil:
			p.KWh = *row.KWh
			if row.IntervalMinutes > 0 {
				p.KW = *row.KWh * 60.0 / float64(row.IntervalMinutes)
			}
		case row.TemperatureF != nil:
			// Temperature-only rows are valid; they contribute to the
			// weather join but carry no load.
		default:
			dropped++
			continue
		}
		if math.IsNaN(p.KW) || math.IsInf(p.KW, 0) || math.IsNaN(p.KWh) || math.IsInf(p.KWh, 0) {
			dropped++
			continue
		}
		points = append(points, p)
	}
	return points, dropped
}

func parseRaw(rows []RawPoint) ([]Point, int) {
	points := make([]Point, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		ts, ok := parseTimestamp(row.TimestampISO)
		if !ok {
			dropped++
			continue
		}
		if math.IsNaN(row.KW) || math.IsInf(row.KW, 0) {
			dropped++
			continue
		}
		points = append(points, Point{Timestamp: ts, KW: row.KW})
	}
	return points, dropped
}

// timestampLayouts are tried in order. The first two cover the store
// formats; the date-only form appears in billing exports.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// dedupe drops exact-duplicate timestamps keeping the first
// occurrence. Input must already be sorted.
func dedupe(points []Point) []Point {
	if len(points) < 2 {
		return points
	}
	out := points[:1]
	for _, p := range points[1:] {
		if p.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// modalSpacingMinutes infers granularity as the statistical mode of
// observed spacing over up to the first granularityProbe points. Ties
// break toward the smaller spacing.
func modalSpacingMinutes(points []Point) int {
	if len(points) < 2 {
		return 0
	}
	n := len(points)
	if n > granularityProbe {
		n = granularityProbe
	}
	counts := make(map[int]int)
	for i := 1; i < n; i++ {
		gap := points[i].Timestamp.Sub(points[i-1].Timestamp)
		minutes := int(math.Round(gap.Minutes()))
		if minutes > 0 {
			counts[minutes]++
		}
	}
	best, bestCount := 0, 0
	for minutes, count := range counts {
		if count > bestCount || (count == bestCount && minutes < best) {
			best, bestCount = minutes, count
		}
	}
	return best
}

func coverageOf(points []Point) Coverage {
	if len(points) == 0 {
		return Coverage{}
	}
	start := points[0].Timestamp
	end := points[len(points)-1].Timestamp
	days := end.Sub(start).Seconds() / 86400.0
	return Coverage{
		Start:  start,
		End:    end,
		Days:   math.Round(days*1000) / 1000,
		Points: len(points),
	}
}
