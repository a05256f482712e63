package interval

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpulse/ratescan/internal/warn"
)

func f(v float64) *float64 { return &v }

func rawSeries(start time.Time, step time.Duration, kws ...float64) []RawPoint {
	out := make([]RawPoint, len(kws))
	for i, kw := range kws {
		out[i] = RawPoint{TimestampISO: start.Add(time.Duration(i) * step).Format(time.RFC3339), KW: kw}
	}
	return out
}

func TestNormalize_EmptyInput(t *testing.T) {
	series, warns := Normalize(Input{})
	require.NotNil(t, series)
	assert.Empty(t, warns)
	assert.Equal(t, 0, series.Coverage.Points)
	assert.True(t, series.Empty())
}

func TestNormalize_RawKWSeries(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	series, warns := Normalize(Input{RawKW: rawSeries(start, 15*time.Minute, 10, 12, 8, 14)})

	assert.Empty(t, warns)
	require.Len(t, series.Points, 4)
	assert.Equal(t, 15, series.GranularityMinutes)
	// 15-minute raw kW: kWh = kW / 4.
	assert.InDelta(t, 2.5, series.Points[0].KWh, 1e-12)
	assert.InDelta(t, 0.031, series.Coverage.Days, 1e-9) // 45 min / 1440, 3dp
}

func TestNormalize_CanonicalKWhDerivesKW(t *testing.T) {
	series, warns := Normalize(Input{Canonical: []CanonicalPoint{
		{TimestampISO: "2024-03-01T00:00:00Z", IntervalMinutes: 15, KWh: f(2.5)},
		{TimestampISO: "2024-03-01T00:15:00Z", IntervalMinutes: 15, KWh: f(3.0)},
	}})

	assert.Empty(t, warns)
	require.Len(t, series.Points, 2)
	assert.InDelta(t, 10.0, series.Points[0].KW, 1e-12)
	assert.InDelta(t, 12.0, series.Points[1].KW, 1e-12)
}

func TestNormalize_CanonicalPrecedenceOverRaw(t *testing.T) {
	series, _ := Normalize(Input{
		Canonical: []CanonicalPoint{{TimestampISO: "2024-03-01T00:00:00Z", IntervalMinutes: 60, KW: f(5)}},
		RawKW:     rawSeries(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Hour, 99, 99, 99),
	})
	require.Len(t, series.Points, 1)
	assert.Equal(t, 5.0, series.Points[0].KW)
}

func TestNormalize_MalformedRowsDroppedAndCounted(t *testing.T) {
	series, warns := Normalize(malformedInput())

	assert.Equal(t, 2, series.DroppedRows)
	require.Len(t, warns, 1)
	assert.Equal(t, warn.CodeRowsDropped, warns[0].Code)
	assert.Len(t, series.Points, 2)
}

// malformedInput builds an input with two good and two bad rows.
func malformedInput() Input {
	return Input{RawKW: []RawPoint{
		{TimestampISO: "2024-03-01T00:00:00Z", KW: 1},
		{TimestampISO: "not-a-timestamp", KW: 2},
		{TimestampISO: "", KW: 3},
		{TimestampISO: "2024-03-01T00:15:00Z", KW: 4},
	}}
}

func TestNormalize_DuplicateTimestampsKeepFirst(t *testing.T) {
	series, _ := Normalize(Input{RawKW: []RawPoint{
		{TimestampISO: "2024-03-01T00:15:00Z", KW: 7},
		{TimestampISO: "2024-03-01T00:00:00Z", KW: 1},
		{TimestampISO: "2024-03-01T00:15:00Z", KW: 9},
	}})

	require.Len(t, series.Points, 2)
	assert.Equal(t, 1.0, series.Points[0].KW)
	assert.Equal(t, 7.0, series.Points[1].KW) // first occurrence in input order survives
}

func TestNormalize_GranularityModeAndHint(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	// Mostly 15-minute spacing with one 60-minute gap.
	rows := rawSeries(start, 15*time.Minute, 1, 2, 3, 4)
	rows = append(rows, RawPoint{TimestampISO: start.Add(105 * time.Minute).Format(time.RFC3339), KW: 5})
	series, _ := Normalize(Input{RawKW: rows})
	assert.Equal(t, 15, series.GranularityMinutes)

	// Single point: no spacing signal, hint wins.
	single, _ := Normalize(Input{
		RawKW:           rawSeries(start, time.Hour, 1),
		GranularityHint: 30,
	})
	assert.Equal(t, 30, single.GranularityMinutes)
}

func TestRenormalize_Idempotent(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	series, _ := Normalize(Input{RawKW: rawSeries(start, 30*time.Minute, 5, 6, 7, 8, 9)})

	again := Renormalize(series)
	assert.Equal(t, series.Coverage, again.Coverage)
	assert.Equal(t, series.GranularityMinutes, again.GranularityMinutes)
	assert.Equal(t, series.Points, again.Points)
}

func TestSlice_HalfOpenWindow(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	series, _ := Normalize(Input{RawKW: rawSeries(start, time.Hour, 1, 2, 3, 4, 5)})

	window := series.Slice(start.Add(time.Hour), start.Add(3*time.Hour))
	require.Len(t, window, 2)
	assert.Equal(t, 2.0, window[0].KW)
	assert.Equal(t, 3.0, window[1].KW)
}

func TestNormalize_Determinism(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := rawSeries(start, 15*time.Minute, 1, 2, 3, 4, 5, 6, 7, 8)

	a, _ := Normalize(Input{RawKW: rows})
	b, _ := Normalize(Input{RawKW: rows})
	assert.Equal(t, fmt.Sprintf("%+v", a), fmt.Sprintf("%+v", b))
}
