package snapshots

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datePtr(d Date) *Date { return &d }

func tp(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestSelect_CoveringRange(t *testing.T) {
	snaps := []Snapshot{
		{ID: "v1", EffectiveStart: NewDate(2024, 1, 1), EffectiveEnd: datePtr(NewDate(2024, 6, 30))},
		{ID: "v2", EffectiveStart: NewDate(2024, 7, 1)},
	}

	res := Select(snaps, tp(2024, 5, 15))
	require.Equal(t, StatusFound, res.Status)
	assert.Equal(t, "v1", res.Snapshot.ID)

	res = Select(snaps, tp(2024, 8, 1))
	require.Equal(t, StatusFound, res.Status)
	assert.Equal(t, "v2", res.Snapshot.ID)

	// No date: latest published wins.
	res = Select(snaps, nil)
	require.Equal(t, StatusFound, res.Status)
	assert.Equal(t, "v2", res.Snapshot.ID)
}

func TestSelect_Monotonicity(t *testing.T) {
	// Five consecutive half-year snapshots; a date inside snapshot k's
	// range must always return snapshot k.
	var snaps []Snapshot
	for k := 0; k < 5; k++ {
		start := NewDate(2022+k/2, time.Month(1+6*(k%2)), 1)
		end := NewDate(2022+(k+1)/2, time.Month(1+6*((k+1)%2)), 1)
		endDate := Date{end.AddDate(0, 0, -1)}
		snaps = append(snaps, Snapshot{
			ID:             string(rune('a' + k)),
			EffectiveStart: start,
			EffectiveEnd:   &endDate,
		})
	}
	for k, s := range snaps {
		probe := s.EffectiveStart.AddDate(0, 1, 0)
		res := Select(snaps, &probe)
		require.Equal(t, StatusFound, res.Status, "k=%d", k)
		assert.Equal(t, s.ID, res.Snapshot.ID, "k=%d", k)
	}
}

func TestSelect_Misses(t *testing.T) {
	res := Select(nil, tp(2024, 1, 1))
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Equal(t, "empty_partition", res.Reason)

	snaps := []Snapshot{{ID: "v1", EffectiveStart: NewDate(2024, 6, 1)}}
	res = Select(snaps, tp(2024, 1, 1))
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Equal(t, "no_covering_snapshot", res.Reason)
}

func TestSelect_TieBreakLatestStart(t *testing.T) {
	// Overlapping ranges (ill-formed store): latest start wins.
	snaps := []Snapshot{
		{ID: "old", EffectiveStart: NewDate(2024, 1, 1)},
		{ID: "new", EffectiveStart: NewDate(2024, 3, 1)},
	}
	res := Select(snaps, tp(2024, 4, 1))
	require.Equal(t, StatusFound, res.Status)
	assert.Equal(t, "new", res.Snapshot.ID)
}

func TestDate_RoundTrip(t *testing.T) {
	var s Snapshot
	err := json.Unmarshal([]byte(`{"snapshot_id":"x","effective_start_date":"2024-01-01","effective_end_date":null}`), &s)
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, 1, 1), s.EffectiveStart)
	assert.Nil(t, s.EffectiveEnd)

	b, err := json.Marshal(s.EffectiveStart)
	require.NoError(t, err)
	assert.Equal(t, `"2024-01-01"`, string(b))
}

func TestValidProviderKey(t *testing.T) {
	assert.True(t, ValidProviderKey("pge"))
	assert.True(t, ValidProviderKey("clean-power-alliance"))
	assert.False(t, ValidProviderKey("../escape"))
	assert.False(t, ValidProviderKey(""))
	assert.False(t, ValidProviderKey("PGE"))
}
