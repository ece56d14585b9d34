package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom/internal/scheduler"
	"github.com/rjwalters/loom/internal/snapshot"
)

var flagRecoverForce bool

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run the stuck-detection sweep once, outside the daemon loop",
	RunE:  runRecover,
}

func init() {
	recoverCmd.Flags().BoolVar(&flagRecoverForce, "recover", false, "take recovery action instead of only recording alerts")
}

func runRecover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dc, err := buildDaemonContext(ctx)
	if err != nil {
		return err
	}

	state, err := dc.store.Read()
	if err != nil {
		return fmt.Errorf("reading daemon state: %w", err)
	}

	snap, err := snapshot.Build(ctx, dc.platform.GitHub, dc.platform.Usage, state, dc.cfg)
	if err != nil {
		return fmt.Errorf("building snapshot: %w", err)
	}

	detector := scheduler.NewStuckDetector(dc.platform, dc.store, dc.cfg)
	detector.SweepWithRecover(ctx, snap, state, flagRecoverForce || state.ForceMode)

	if flagRecoverForce {
		fmt.Fprintln(cmd.OutOrStdout(), "loom: recovery sweep complete (forced)")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "loom: recovery sweep complete (report-only; pass --recover to act)")
	}
	return nil
}
