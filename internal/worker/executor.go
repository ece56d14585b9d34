package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rjwalters/loom/internal/phase"
	"github.com/rjwalters/loom/internal/store"
)

// Milestone is reported by the executor in Outcome.Milestones as it
// progresses through a phase. The shepherd orchestrator does not copy these
// into the progress file.
type Milestone struct {
	Event  string
	Detail string
	Time   time.Time
}

// Outcome is the result of executing one phase to completion.
type Outcome struct {
	Success    bool
	Result     phase.Result
	Reason     string
	Milestones []Milestone
}

// Executor runs one phase end to end: spawn the worker, wait for it, retry
// once on a stuck(retry) result, then validate the contract (spec §4.5,
// "Execution of one phase").
type Executor struct {
	supervisor      *Supervisor
	store           *store.Store
	stuckMaxRetries int
}

// NewExecutor returns an Executor bounded to stuckMaxRetries stuck-retry
// attempts per phase (spec default 1). st is used to refresh a shepherd's
// progress file heartbeat while a long phase (e.g. Builder) runs between
// milestones.
func NewExecutor(supervisor *Supervisor, st *store.Store, stuckMaxRetries int) *Executor {
	return &Executor{supervisor: supervisor, store: st, stuckMaxRetries: stuckMaxRetries}
}

// refreshHeartbeat merges a heartbeat update into the on-disk progress file
// without clobbering the milestones/issue/phase the orchestrator already
// wrote there.
func (e *Executor) refreshHeartbeat(update store.ProgressFile) {
	current, ok, err := e.store.ReadProgress(update.TaskID)
	if err != nil || !ok {
		return
	}
	current.LastHeartbeat = update.LastHeartbeat
	current.Status = update.Status
	_ = e.store.WriteProgress(update.TaskID, current)
}

// Run executes phaseName for worker session name against validator's
// contract, within timeout. worktreePath is passed through to the
// validator's recovery step (meaningful only for Builder).
func (e *Executor) Run(ctx context.Context, name string, phaseName store.Phase, timeout time.Duration, validator phase.Validator, target phase.Target, worktreePath string, spawnOpts SpawnOptions) Outcome {
	var milestones []Milestone
	report := func(event, detail string) {
		milestones = append(milestones, Milestone{Event: event, Detail: detail, Time: time.Now()})
	}
	report("phase_entered", string(phaseName))

	retries := 0
	for {
		if _, err := e.supervisor.Spawn(ctx, name, spawnOpts); err != nil {
			return Outcome{Success: false, Result: phase.Failed, Reason: fmt.Sprintf("spawn failed: %v", err), Milestones: milestones}
		}

		waitOpts := WaitOptions{
			Issue:        target.Issue,
			Phase:        phaseName,
			WorktreePath: worktreePath,
			PR:           target.PR,
			Validator:    validator,
		}
		if spawnOpts.TaskID != "" && e.store != nil {
			waitOpts.TaskID = spawnOpts.TaskID
			waitOpts.Progress = e.refreshHeartbeat
		}

		result, err := e.supervisor.Wait(ctx, name, timeout, waitOpts)
		if err != nil {
			return Outcome{Success: false, Result: phase.Failed, Reason: err.Error(), Milestones: milestones}
		}

		switch result.Kind {
		case StuckResult:
			if result.Action == StuckRetry && retries < e.stuckMaxRetries {
				retries++
				report("stuck_retry", fmt.Sprintf("attempt %d", retries))
				continue
			}
			return Outcome{Success: false, Result: phase.Failed, Reason: "stuck: " + result.Reason, Milestones: milestones}

		case SignalReceived:
			return Outcome{Success: false, Result: phase.Failed, Reason: "signal received during phase", Milestones: milestones}

		case TimedOut:
			return Outcome{Success: false, Result: phase.Failed, Reason: "phase timed out", Milestones: milestones}

		case NotFound:
			return Outcome{Success: false, Result: phase.Failed, Reason: "worker session disappeared", Milestones: milestones}
		}

		res, err := validator.Validate(ctx, target, worktreePath)
		if err != nil {
			return Outcome{Success: false, Result: phase.Failed, Reason: err.Error(), Milestones: milestones}
		}
		report("phase_validated", string(res))

		if res == phase.Satisfied || res == phase.Recovered {
			return Outcome{Success: true, Result: res, Milestones: milestones}
		}
		return Outcome{Success: false, Result: phase.Failed, Reason: "contract not satisfied after recovery", Milestones: milestones}
	}
}
