// Package telemetry resolves raw interval readings for a meter from a
// prioritized chain of sources (remote API, project database, file,
// in-memory). Precedence is an explicit, testable policy: the resolver
// walks its sources in order and returns a tagged result naming the
// source that answered, or NotFound.
package telemetry

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/gridpulse/ratescan/internal/interval"
	"github.com/gridpulse/ratescan/internal/warn"
)

// Source tags where a resolution came from.
type Source string

const (
	SourceAPI      Source = "api"
	SourcePostgres Source = "postgres"
	SourceFile     Source = "file"
	SourceInline   Source = "inline"
)

// Resolution is the tagged outcome of a lookup.
type Resolution struct {
	Found  bool                `json:"found"`
	Source Source              `json:"source,omitempty"`
	Points []interval.RawPoint `json:"points,omitempty"`
}

// PointSource is one rung of the precedence chain.
type PointSource interface {
	Name() Source
	Fetch(ctx context.Context, meterID string) ([]interval.RawPoint, error)
}

// Resolver walks sources in construction order. A source error is
// degraded to a warning and the next source is consulted; only an
// exhausted chain yields NotFound.
type Resolver struct {
	sources []PointSource
}

// NewResolver builds a resolver; source order is precedence order.
func NewResolver(sources ...PointSource) *Resolver {
	return &Resolver{sources: sources}
}

// Resolve returns the first source that yields points.
func (r *Resolver) Resolve(ctx context.Context, meterID string) (Resolution, []warn.Engine) {
	var warns []warn.Engine
	for _, src := range r.sources {
		points, err := src.Fetch(ctx, meterID)
		if err != nil {
			log.Warn().Str("source", string(src.Name())).Str("meter", meterID).Err(err).
				Msg("telemetry source failed, trying next")
			warns = append(warns, warn.Engine{
				Code:          warn.CodePartial,
				Module:        "telemetry",
				Operation:     "fetch",
				ExceptionKind: "source_error",
				ContextKey:    string(src.Name()),
			})
			continue
		}
		if len(points) == 0 {
			continue
		}
		return Resolution{Found: true, Source: src.Name(), Points: points}, warns
	}
	return Resolution{}, warns
}

// InlineSource serves a fixed series, the last rung of the chain.
type InlineSource struct {
	points []interval.RawPoint
}

// NewInlineSource wraps an in-memory series.
func NewInlineSource(points []interval.RawPoint) *InlineSource {
	return &InlineSource{points: points}
}

// Name implements PointSource.
func (s *InlineSource) Name() Source { return SourceInline }

// Fetch implements PointSource.
func (s *InlineSource) Fetch(context.Context, string) ([]interval.RawPoint, error) {
	return s.points, nil
}
