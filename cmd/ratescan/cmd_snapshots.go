package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridpulse/ratescan/internal/application"
	"github.com/gridpulse/ratescan/internal/snapshots"
)

// newSnapshotsCmd inspects the snapshot store: list the versions in a
// partition or resolve the one effective at a date.
func newSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect the versioned snapshot store",
	}

	listCmd := &cobra.Command{
		Use:   "list <kind> <provider-key>",
		Short: "List all snapshot versions in a partition",
		Args:  cobra.ExactArgs(2),
		RunE:  runSnapshotsList,
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve <kind> <provider-key>",
		Short: "Resolve the snapshot effective at a date",
		Args:  cobra.ExactArgs(2),
		RunE:  runSnapshotsResolve,
	}
	resolveCmd.Flags().String("as-of", "", "Effective date (YYYY-MM-DD); empty picks the latest")

	cmd.AddCommand(listCmd, resolveCmd)
	return cmd
}

func snapshotStore(cmd *cobra.Command) (snapshots.Store, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := application.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	root := cfg.Snapshots.Root
	if root == "" {
		root = "snapshots"
	}
	return snapshots.NewDirStore(root), nil
}

func runSnapshotsList(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	store, err := snapshotStore(cmd)
	if err != nil {
		return err
	}

	snaps, err := store.List(cmd.Context(), snapshots.Kind(args[0]), args[1])
	if err != nil {
		return err
	}
	for _, s := range snaps {
		end := "open"
		if s.EffectiveEnd != nil {
			end = s.EffectiveEnd.Format("2006-01-02")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.ID, s.EffectiveStart.Format("2006-01-02"), end)
	}
	if len(snaps) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no snapshots")
	}
	return nil
}

func runSnapshotsResolve(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	store, err := snapshotStore(cmd)
	if err != nil {
		return err
	}

	var asOf *time.Time
	if raw, _ := cmd.Flags().GetString("as-of"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return fmt.Errorf("bad --as-of date: %w", err)
		}
		asOf = &t
	}

	snaps, err := store.List(cmd.Context(), snapshots.Kind(args[0]), args[1])
	if err != nil {
		return err
	}
	res := snapshots.Select(snaps, asOf)
	if res.Status != snapshots.StatusFound {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Status, res.Reason)
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res.Snapshot)
}
