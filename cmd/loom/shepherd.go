package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom/internal/shepherd"
	"github.com/rjwalters/loom/internal/worker"
)

// taskIDPattern matches the 7-hex task_id format used throughout .loom
// state (spec §3.1).
var taskIDPattern = regexp.MustCompile(`^[0-9a-f]{7}$`)

func randomTaskID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "0000000"
	}
	return hex.EncodeToString(buf)[:7]
}

var (
	flagShepherdForce  bool
	flagShepherdWait   bool
	flagShepherdTo     string
	flagShepherdTaskID string
)

var shepherdCmd = &cobra.Command{
	Use:   "shepherd <issue>",
	Short: "Drive a single issue through the pipeline, outside the daemon loop",
	Args:  cobra.ExactArgs(1),
	RunE:  runShepherd,
}

func init() {
	shepherdCmd.Flags().BoolVar(&flagShepherdForce, "force", false, "force past the normal PR-approval/merge gate")
	shepherdCmd.Flags().BoolVar(&flagShepherdWait, "wait", false, "wait for human PR review instead of force-merging")
	shepherdCmd.Flags().StringVar(&flagShepherdTo, "to", "", "force-stop stage: only \"pr\" is recognized; curated, approved and any other value are ignored")
	shepherdCmd.Flags().StringVar(&flagShepherdTaskID, "task-id", "", "7-hex task id (default: generated)")
}

func runShepherd(cmd *cobra.Command, args []string) error {
	issue, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid issue number %q: %w", args[0], err)
	}

	ctx := cmd.Context()
	dc, err := buildDaemonContext(ctx)
	if err != nil {
		return err
	}

	mode := shepherd.ModeWait
	switch {
	case flagShepherdForce:
		mode = shepherd.ModeForceMerge
	case flagShepherdTo == "pr":
		mode = shepherd.ModeForcePR
	case flagShepherdWait:
		mode = shepherd.ModeWait
	}

	taskID := flagShepherdTaskID
	if taskID == "" {
		taskID = randomTaskID()
	}
	if !taskIDPattern.MatchString(taskID) {
		return fmt.Errorf("--task-id must match ^[0-9a-f]{7}$, got %q", taskID)
	}

	supervisor := worker.NewSupervisor(dc.platform, dc.bus, dc.cfg)
	executor := worker.NewExecutor(supervisor, dc.store, dc.cfg.StuckMaxRetries)
	orch := shepherd.New(dc.platform, dc.store, dc.bus, dc.cfg, executor)

	result, err := orch.Run(ctx, issue, mode, taskID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if result.Success {
		fmt.Fprintf(out, "issue #%d: success", issue)
		if result.PRNumber != nil {
			fmt.Fprintf(out, " (PR #%d)", *result.PRNumber)
		}
		fmt.Fprintln(out)
		return nil
	}
	fmt.Fprintf(out, "issue #%d: failed (%s)\n", issue, result.Reason)
	return &exitCodeErr{code: 1, msg: fmt.Sprintf("shepherd run failed: %s", result.Reason)}
}
