package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom/internal/doctor"
	"github.com/rjwalters/loom/internal/scheduler"
	"github.com/rjwalters/loom/internal/store"
)

var (
	flagDaemonForce      bool
	flagDaemonWait       bool
	flagDaemonDebug      bool
	flagDaemonTimeoutMin int
	flagDoctorFix        bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start, stop, and inspect the orchestrator daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon loop (spec §6.3)",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running daemon to shut down gracefully",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the daemon's current state",
	RunE:  runDaemonStatus,
}

var daemonHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run health checks; exit 0/1/2 for ok/warning/error",
	RunE:  runDaemonHealth,
}

var daemonDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks against daemon state and environment",
	RunE:  runDaemonDoctor,
}

func init() {
	daemonStartCmd.Flags().BoolVarP(&flagDaemonForce, "force", "f", false, "enable force mode: stuck recovery acts instead of just warning")
	daemonStartCmd.Flags().BoolVar(&flagDaemonWait, "wait", false, "has no effect: start always runs the daemon in the foreground until it exits")
	daemonStartCmd.Flags().BoolVar(&flagDaemonDebug, "debug", false, "verbose logging")
	daemonStartCmd.Flags().IntVar(&flagDaemonTimeoutMin, "timeout-min", 0, "stop the daemon automatically after N minutes (0 = no limit)")
	daemonDoctorCmd.Flags().BoolVar(&flagDoctorFix, "fix", false, "apply fixes for fixable findings")

	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonHealthCmd, daemonDoctorCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if flagDaemonTimeoutMin > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(flagDaemonTimeoutMin)*time.Minute)
		defer cancel()
	}

	dc, err := buildDaemonContext(ctx)
	if err != nil {
		return err
	}

	state, err := dc.store.Init()
	if err != nil {
		return fmt.Errorf("initializing daemon state: %w", err)
	}
	if _, err := dc.store.Update(func(d store.DaemonState) store.DaemonState {
		d.Running = true
		d.ForceMode = flagDaemonForce
		return d
	}); err != nil {
		return fmt.Errorf("persisting startup state: %w", err)
	}

	sched := scheduler.New(dc.platform, dc.store, dc.bus, dc.cfg, state.DaemonSessionID)

	if flagDaemonDebug {
		fmt.Fprintf(os.Stderr, "loom: daemon starting, session=%s force=%v poll=%s\n", state.DaemonSessionID, flagDaemonForce, dc.cfg.PollInterval)
	}

	runErr := sched.Run(ctx)
	if runErr != nil && ctx.Err() != nil {
		return nil // timeout or cancellation is an expected stop, not a failure
	}
	return runErr
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	dc, err := buildDaemonContext(cmd.Context())
	if err != nil {
		return err
	}
	if err := dc.bus.RaiseStopDaemon(); err != nil {
		return fmt.Errorf("raising shutdown signal: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "loom: graceful shutdown signal sent")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	dc, err := buildDaemonContext(cmd.Context())
	if err != nil {
		return err
	}
	state, err := dc.store.Read()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session:    %s\n", state.DaemonSessionID)
	fmt.Fprintf(out, "running:    %v\n", state.Running)
	fmt.Fprintf(out, "force mode: %v\n", state.ForceMode)
	fmt.Fprintf(out, "started at: %s\n", state.StartedAt.Format(time.RFC3339))
	if state.StoppedAt != nil {
		fmt.Fprintf(out, "stopped at: %s\n", state.StoppedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "shepherds:\n")
	for slotID, slot := range state.Shepherds {
		issue := "-"
		if slot.Issue != nil {
			issue = strconv.Itoa(*slot.Issue)
		}
		fmt.Fprintf(out, "  %s: status=%s issue=%s task=%s\n", slotID, slot.Status, issue, slot.TaskID)
	}
	return nil
}

func runDaemonHealth(cmd *cobra.Command, args []string) error {
	dc, err := buildDaemonContext(cmd.Context())
	if err != nil {
		return err
	}
	results := doctor.Run(doctor.All(), &doctor.CheckContext{Ctx: cmd.Context(), Platform: dc.platform})
	printCheckResults(cmd, results)

	metrics, err := dc.store.ReadHealthMetrics()
	if err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "health score: %d/100 (updated %s)\n", metrics.Score, metrics.Updated.Format(time.RFC3339))
	}

	worst := doctor.Worst(results)
	if code := doctor.ExitCode(worst); code != 0 {
		return &exitCodeErr{code: code, msg: "health check reported issues"}
	}
	return nil
}

func runDaemonDoctor(cmd *cobra.Command, args []string) error {
	dc, err := buildDaemonContext(cmd.Context())
	if err != nil {
		return err
	}
	checkCtx := &doctor.CheckContext{Ctx: cmd.Context(), Platform: dc.platform, Fix: flagDoctorFix}
	checks := doctor.All()
	results := doctor.Run(checks, checkCtx)

	if flagDoctorFix {
		for i, result := range results {
			if result.Status == doctor.StatusOK {
				continue
			}
			fixable, ok := checks[i].(doctor.Fixable)
			if !ok {
				continue
			}
			if err := fixable.Fix(checkCtx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "  fix failed for %s: %v\n", result.Name, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  fixed: %s\n", result.Name)
		}
		results = doctor.Run(checks, &doctor.CheckContext{Ctx: cmd.Context(), Platform: dc.platform})
	}

	printCheckResults(cmd, results)

	worst := doctor.Worst(results)
	if code := doctor.ExitCode(worst); code != 0 {
		return &exitCodeErr{code: code, msg: "doctor reported issues"}
	}
	return nil
}

func printCheckResults(cmd *cobra.Command, results []*doctor.CheckResult) {
	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(out, "[%s] %-24s %s\n", strings.ToUpper(string(r.Status)), r.Name, r.Message)
		for _, d := range r.Details {
			fmt.Fprintf(out, "    - %s\n", d)
		}
		if r.FixHint != "" && r.Status != doctor.StatusOK {
			fmt.Fprintf(out, "    hint: %s\n", r.FixHint)
		}
	}
}
