package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/gridpulse/ratescan/internal/snapshots"
)

// CachedStore is a read-through snapshots.Store: local TTL cache
// first, optional Redis second, then the underlying store. A cache
// failure never fails a read; it falls through to the next tier.
type CachedStore struct {
	inner  snapshots.Store
	local  *TTLCache
	redis  *redis.Client // nil disables the shared tier
	ttl    time.Duration
	clock  func() time.Time
	hits   prometheus.Counter // nil disables instrumentation
	misses prometheus.Counter
}

// StoreOption configures a CachedStore.
type StoreOption func(*CachedStore)

// WithRedis enables the shared Redis tier.
func WithRedis(client *redis.Client) StoreOption {
	return func(s *CachedStore) { s.redis = client }
}

// WithClock injects the time source; defaults to time.Now.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *CachedStore) { s.clock = clock }
}

// WithCounters reports local-tier hits and misses to Prometheus.
func WithCounters(hits, misses prometheus.Counter) StoreOption {
	return func(s *CachedStore) {
		s.hits = hits
		s.misses = misses
	}
}

// NewCachedStore wraps inner with caching. Snapshots are immutable so
// the TTL only bounds staleness of newly published files.
func NewCachedStore(inner snapshots.Store, ttl time.Duration, opts ...StoreOption) *CachedStore {
	s := &CachedStore{
		inner: inner,
		local: NewTTLCache(256),
		ttl:   ttl,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List implements snapshots.Store.
func (s *CachedStore) List(ctx context.Context, kind snapshots.Kind, providerKey string) ([]snapshots.Snapshot, error) {
	key := fmt.Sprintf("ratescan:snapshots:%s:%s", kind, providerKey)
	now := s.clock()

	if v, ok := s.local.Get(key, now); ok {
		if s.hits != nil {
			s.hits.Inc()
		}
		return v.([]snapshots.Snapshot), nil
	}
	if s.misses != nil {
		s.misses.Inc()
	}

	if s.redis != nil {
		if b, err := s.redis.Get(ctx, key).Bytes(); err == nil {
			var snaps []snapshots.Snapshot
			if err := json.Unmarshal(b, &snaps); err == nil {
				s.local.Set(key, snaps, s.ttl, now)
				return snaps, nil
			}
		} else if err != redis.Nil {
			log.Warn().Str("key", key).Err(err).Msg("redis snapshot read failed, using underlying store")
		}
	}

	snaps, err := s.inner.List(ctx, kind, providerKey)
	if err != nil {
		return nil, err
	}

	s.local.Set(key, snaps, s.ttl, now)
	if s.redis != nil {
		if b, err := json.Marshal(snaps); err == nil {
			if err := s.redis.Set(ctx, key, b, s.ttl).Err(); err != nil {
				log.Warn().Str("key", key).Err(err).Msg("redis snapshot write failed")
			}
		}
	}
	return snaps, nil
}

// Stats exposes local-tier hit/miss counters.
func (s *CachedStore) Stats() (hits, misses int64) {
	return s.local.Stats()
}
