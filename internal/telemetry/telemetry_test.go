package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpulse/ratescan/internal/interval"
)

type fakeSource struct {
	name   Source
	points []interval.RawPoint
	err    error
	calls  int
}

func (s *fakeSource) Name() Source { return s.name }
func (s *fakeSource) Fetch(context.Context, string) ([]interval.RawPoint, error) {
	s.calls++
	return s.points, s.err
}

func pts(n int) []interval.RawPoint {
	out := make([]interval.RawPoint, n)
	for i := range out {
		out[i] = interval.RawPoint{TimestampISO: "2024-03-01T00:00:00Z", KW: float64(i)}
	}
	return out
}

func TestResolver_FirstSourceWins(t *testing.T) {
	primary := &fakeSource{name: SourcePostgres, points: pts(3)}
	fallback := &fakeSource{name: SourceInline, points: pts(9)}

	res, warns := NewResolver(primary, fallback).Resolve(context.Background(), "m1")

	assert.Empty(t, warns)
	require.True(t, res.Found)
	assert.Equal(t, SourcePostgres, res.Source)
	assert.Len(t, res.Points, 3)
	assert.Zero(t, fallback.calls, "fallback must not be consulted")
}

func TestResolver_ErrorDegradesToNextSource(t *testing.T) {
	broken := &fakeSource{name: SourceAPI, err: errors.New("boom")}
	fallback := &fakeSource{name: SourceFile, points: pts(2)}

	res, warns := NewResolver(broken, fallback).Resolve(context.Background(), "m1")

	require.True(t, res.Found)
	assert.Equal(t, SourceFile, res.Source)
	require.Len(t, warns, 1)
	assert.Equal(t, "api", warns[0].ContextKey)
}

func TestResolver_EmptySourceSkipped(t *testing.T) {
	empty := &fakeSource{name: SourcePostgres}
	inline := NewInlineSource(pts(1))

	res, warns := NewResolver(empty, inline).Resolve(context.Background(), "m1")

	assert.Empty(t, warns)
	require.True(t, res.Found)
	assert.Equal(t, SourceInline, res.Source)
}

func TestResolver_ExhaustedChain(t *testing.T) {
	res, warns := NewResolver(&fakeSource{name: SourcePostgres}).Resolve(context.Background(), "m1")
	assert.False(t, res.Found)
	assert.Empty(t, warns)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readings.csv")
	csv := "timestamp,kw\n2024-03-01T00:00:00Z,10.5\n2024-03-01T00:15:00Z,11.0\nbadrow,not-a-number\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	points, err := NewFileSource(path).Fetch(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 10.5, points[0].KW)

	// Missing file resolves as empty, not an error.
	points, err = NewFileSource(filepath.Join(dir, "absent.csv")).Fetch(context.Background(), "m1")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestAPISource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/meters/m1/readings":
			w.Write([]byte(`[{"timestamp":"2024-03-01T00:00:00Z","kw":5.5}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src := NewAPISource(APIConfig{BaseURL: srv.URL})

	points, err := src.Fetch(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 5.5, points[0].KW)

	points, err = src.Fetch(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, points)
}
