package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gridpulse/ratescan/internal/application"
	httpapi "github.com/gridpulse/ratescan/internal/interfaces/http"
	"github.com/gridpulse/ratescan/internal/metrics"
)

// newServeCmd runs the HTTP API until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API over HTTP",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := application.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	reg := metrics.NewRegistry()
	if err := reg.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	deps, err := application.BuildDependencies(cmd.Context(), cfg, reg)
	if err != nil {
		return err
	}

	httpCfg, err := httpapi.ConfigFromEnv()
	if err != nil {
		return err
	}
	srv, err := httpapi.NewServer(httpCfg, deps)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
