package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "ratescan"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Deterministic utility-bill and interval-data analysis",
		Version: version,
		Long: `RateScan analyzes commercial electric accounts: it normalizes interval
usage, resolves versioned tariff and CCA price snapshots, derives
billing determinants, fits weather sensitivity, and sizes battery and
program opportunities. Every run over the same inputs and snapshot set
produces byte-identical output.`,
	}

	rootCmd.PersistentFlags().AddFlagSet(globalFlags())

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newSnapshotsCmd())
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func globalFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("global", pflag.ContinueOnError)
	fs.String("config", "config/ratescan.yaml", "Path to the service config file")
	fs.String("log-level", "info", "Log level (trace|debug|info|warn|error)")
	return fs
}

func setupLogging(cmd *cobra.Command) {
	level, _ := cmd.Flags().GetString("log-level")
	if parsed, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(parsed)
	}
}
