// Package http exposes the analysis pipeline over a small JSON API:
// one POST endpoint to run an analysis, plus health and Prometheus
// metrics for operators.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/gridpulse/ratescan/internal/metrics"
	"github.com/gridpulse/ratescan/internal/pipeline"
)

// ServerConfig holds the HTTP listener settings. All fields can be
// overridden from the environment with the RATESCAN_HTTP prefix.
type ServerConfig struct {
	Host         string        `envconfig:"HOST" default:"127.0.0.1"`
	Port         int           `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
}

// ConfigFromEnv loads ServerConfig from RATESCAN_HTTP_* variables.
func ConfigFromEnv() (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("RATESCAN_HTTP", &cfg); err != nil {
		return cfg, fmt.Errorf("http config: %w", err)
	}
	return cfg, nil
}

// Server serves the analysis API.
type Server struct {
	router *mux.Router
	server *http.Server
	deps   pipeline.Dependencies
	config ServerConfig
}

// NewServer wires routes and middleware over the injected pipeline
// dependencies. When deps carries no metrics registry one is created
// and registered so /metrics is never empty.
func NewServer(cfg ServerConfig, deps pipeline.Dependencies) (*Server, error) {
	if deps.Snapshots == nil {
		return nil, fmt.Errorf("http server: snapshot resolver is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
		if err := deps.Metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("http server: register metrics: %w", err)
		}
	}

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		config: cfg,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/v1/analyze", s.handleAnalyze).Methods("POST")

	s.router.NotFoundHandler = http.HandlerFunc(handleNotFound)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" && s.deps.NewID != nil {
			id = s.deps.NewID()
		}
		if id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).Msg("request served")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
