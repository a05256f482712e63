package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/gridpulse/ratescan/internal/interval"
)

// APISource fetches readings from a remote telemetry API, guarded by a
// token-bucket rate limiter and a circuit breaker so a degraded
// upstream cannot stall the pipeline.
type APISource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// APIConfig bounds the remote client.
type APIConfig struct {
	BaseURL             string        `yaml:"base_url"`
	RequestsPerSecond   float64       `yaml:"requests_per_second"`
	Burst               int           `yaml:"burst"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// NewAPISource builds the guarded client.
func NewAPISource(cfg APIConfig) *APISource {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 3
	}

	return &APISource{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "telemetry-api",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
		}),
	}
}

// Name implements PointSource.
func (s *APISource) Name() Source { return SourceAPI }

type apiReading struct {
	Timestamp string  `json:"timestamp"`
	KW        float64 `json:"kw"`
}

// Fetch implements PointSource.
func (s *APISource) Fetch(ctx context.Context, meterID string) ([]interval.RawPoint, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.fetchOnce(ctx, meterID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]interval.RawPoint), nil
}

func (s *APISource) fetchOnce(ctx context.Context, meterID string) ([]interval.RawPoint, error) {
	url := fmt.Sprintf("%s/meters/%s/readings", s.baseURL, meterID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telemetry api status %d for %s", resp.StatusCode, meterID)
	}

	var readings []apiReading
	if err := json.NewDecoder(resp.Body).Decode(&readings); err != nil {
		return nil, fmt.Errorf("decode telemetry response: %w", err)
	}

	points := make([]interval.RawPoint, len(readings))
	for i, r := range readings {
		points[i] = interval.RawPoint{TimestampISO: r.Timestamp, KW: r.KW}
	}
	return points, nil
}
