// Package application loads the service configuration and assembles
// the pipeline's dependency graph from it.
package application

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"gopkg.in/yaml.v3"

	"github.com/gridpulse/ratescan/internal/cache"
	"github.com/gridpulse/ratescan/internal/determinants"
	"github.com/gridpulse/ratescan/internal/metrics"
	"github.com/gridpulse/ratescan/internal/pipeline"
	"github.com/gridpulse/ratescan/internal/programs"
	"github.com/gridpulse/ratescan/internal/snapshots"
	"github.com/gridpulse/ratescan/internal/supply"
	"github.com/gridpulse/ratescan/internal/telemetry"
	"github.com/gridpulse/ratescan/internal/weather"
)

// Config is the full service configuration, loaded from one YAML file.
type Config struct {
	Snapshots struct {
		Root               string   `yaml:"root"`
		SupportedUtilities []string `yaml:"supported_utilities"`
	} `yaml:"snapshots"`

	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds"`
		Redis      struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Registry struct {
		Path string `yaml:"path"` // empty uses the built-in CCA list
	} `yaml:"registry"`

	Programs struct {
		Path string `yaml:"path"` // empty uses the built-in catalog
	} `yaml:"programs"`

	Telemetry struct {
		API      telemetry.APIConfig `yaml:"api"`
		Postgres struct {
			DSN          string        `yaml:"dsn"`
			QueryTimeout time.Duration `yaml:"query_timeout"`
		} `yaml:"postgres"`
		FilePath string `yaml:"file_path"`
	} `yaml:"telemetry"`

	Analysis struct {
		HDDBaseF             float64 `yaml:"hdd_base_f"`
		CDDBaseF             float64 `yaml:"cdd_base_f"`
		LowCoverageThreshold float64 `yaml:"low_coverage_threshold"`
		KWhTolerancePct      float64 `yaml:"kwh_tolerance_pct"`
		DemandTolerancePct   float64 `yaml:"demand_tolerance_pct"`
	} `yaml:"analysis"`
}

// LoadConfig reads and parses the YAML config at path.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &c, nil
}

// CacheTTL returns the snapshot cache TTL, defaulting to 5 minutes.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// BuildDependencies assembles the pipeline dependency graph: cached
// snapshot store, CCA registry, program catalog, and the telemetry
// precedence chain. ctx bounds the initial Postgres dial only; reg may
// be nil to run uninstrumented.
func BuildDependencies(ctx context.Context, cfg *Config, reg *metrics.Registry) (pipeline.Dependencies, error) {
	deps := pipeline.Dependencies{Metrics: reg}

	root := cfg.Snapshots.Root
	if root == "" {
		root = "snapshots"
	}
	var store snapshots.Store = snapshots.NewDirStore(root)

	storeOpts := []cache.StoreOption{}
	if reg != nil {
		storeOpts = append(storeOpts, cache.WithCounters(reg.CacheHits, reg.CacheMisses))
	}
	if cfg.Cache.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.Redis.Addr,
			DB:   cfg.Cache.Redis.DB,
		})
		storeOpts = append(storeOpts, cache.WithRedis(client))
	}
	store = cache.NewCachedStore(store, cfg.CacheTTL(), storeOpts...)

	var resolverOpts []snapshots.Option
	if len(cfg.Snapshots.SupportedUtilities) > 0 {
		resolverOpts = append(resolverOpts, snapshots.WithSupportedUtilities(cfg.Snapshots.SupportedUtilities...))
	}
	deps.Snapshots = snapshots.NewResolver(store, resolverOpts...)

	if cfg.Registry.Path != "" {
		reg, err := supply.LoadRegistry(cfg.Registry.Path)
		if err != nil {
			return deps, fmt.Errorf("load cca registry: %w", err)
		}
		deps.Registry = reg
	}

	if cfg.Programs.Path != "" {
		cat, err := programs.LoadCatalog(cfg.Programs.Path)
		if err != nil {
			return deps, fmt.Errorf("load program catalog: %w", err)
		}
		deps.Programs = cat
	}

	var sources []telemetry.PointSource
	if cfg.Telemetry.API.BaseURL != "" {
		sources = append(sources, telemetry.NewAPISource(cfg.Telemetry.API))
	}
	if cfg.Telemetry.Postgres.DSN != "" {
		db, err := telemetry.OpenPostgres(ctx, cfg.Telemetry.Postgres.DSN)
		if err != nil {
			return deps, fmt.Errorf("open telemetry postgres: %w", err)
		}
		sources = append(sources, telemetry.NewPostgresSource(db, cfg.Telemetry.Postgres.QueryTimeout))
	}
	if cfg.Telemetry.FilePath != "" {
		sources = append(sources, telemetry.NewFileSource(cfg.Telemetry.FilePath))
	}
	if len(sources) > 0 {
		deps.Telemetry = telemetry.NewResolver(sources...)
	}

	deps.Weather = weather.Config{HDDBaseF: cfg.Analysis.HDDBaseF, CDDBaseF: cfg.Analysis.CDDBaseF}
	if deps.Weather == (weather.Config{}) {
		deps.Weather = weather.DefaultConfig()
	}
	deps.LowCoverageThreshold = cfg.Analysis.LowCoverageThreshold
	deps.Reconcile = determinants.ReconcileOptions{
		KWhTolerancePct:    cfg.Analysis.KWhTolerancePct,
		DemandTolerancePct: cfg.Analysis.DemandTolerancePct,
	}
	return deps, nil
}
