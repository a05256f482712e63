package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gridpulse/ratescan/internal/application"
	"github.com/gridpulse/ratescan/internal/pipeline"
)

// newAnalyzeCmd runs one analysis from a JSON inputs file and prints
// the result to stdout.
func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <inputs.json>",
		Short: "Run one analysis from a JSON inputs file",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	cmd.Flags().Bool("pretty", false, "Indent the JSON output")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)

	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := application.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	deps, err := application.BuildDependencies(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read inputs: %w", err)
	}
	var in pipeline.Inputs
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("parse inputs: %w", err)
	}

	res, err := pipeline.Analyze(cmd.Context(), in, deps)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if pretty, _ := cmd.Flags().GetBool("pretty"); pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}
