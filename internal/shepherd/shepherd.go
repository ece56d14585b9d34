// Package shepherd runs the full per-issue pipeline (spec §4.6): curate,
// get approval, detect or build a PR, judge it, merge it. One Orchestrator
// run owns exactly one ShepherdSlot for its lifetime.
package shepherd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/rjwalters/loom/internal/config"
	"github.com/rjwalters/loom/internal/phase"
	"github.com/rjwalters/loom/internal/platform"
	"github.com/rjwalters/loom/internal/signalbus"
	"github.com/rjwalters/loom/internal/store"
	"github.com/rjwalters/loom/internal/worker"
)

// Mode selects how far the orchestrator drives the pipeline and how it
// resolves the merge step.
type Mode string

const (
	ModeWait       Mode = "wait"
	ModeForcePR    Mode = "force-pr"
	ModeForceMerge Mode = "force-merge"
)

const (
	labelIssue            = "loom:issue"
	labelBuilding         = "loom:building"
	labelCurated          = "loom:curated"
	labelBlocked          = "loom:blocked"
	labelUrgent           = "loom:urgent"
	labelAbort            = "loom:abort"
	labelReviewRequested  = "loom:review-requested"
	labelChangesRequested = "loom:changes-requested"
	labelPR               = "loom:pr"
)

// FailReason enumerates why a shepherd run did not complete successfully.
type FailReason string

const (
	ReasonNone        FailReason = ""
	ReasonClosed      FailReason = "issue_closed"
	ReasonBlocked     FailReason = "issue_blocked"
	ReasonRateLimited FailReason = "rate_limited"
	ReasonClaimFailed FailReason = "claim_failed"
	ReasonBlockedOut  FailReason = "blocked"
	ReasonShutdown    FailReason = "shutdown"
	ReasonError       FailReason = "error"
)

// Result is the outcome of one Orchestrator.Run call.
type Result struct {
	Success  bool
	Reason   FailReason
	PRNumber *int
}

// marker is the content of a worktree's .loom-in-use file (spec §3.1, §4.6).
type marker struct {
	TaskID    string    `json:"task_id"`
	Issue     int       `json:"issue"`
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
}

// Orchestrator drives one issue through the full pipeline.
type Orchestrator struct {
	platform *platform.Platform
	store    *store.Store
	bus      *signalbus.Bus
	cfg      config.Config
	executor *worker.Executor
}

// New returns an Orchestrator wired to the given collaborators.
func New(plat *platform.Platform, st *store.Store, bus *signalbus.Bus, cfg config.Config, executor *worker.Executor) *Orchestrator {
	return &Orchestrator{platform: plat, store: st, bus: bus, cfg: cfg, executor: executor}
}

// Run drives issueNumber through the pipeline under mode, reporting
// milestones to the progress file keyed by taskID.
func (o *Orchestrator) Run(ctx context.Context, issueNumber int, mode Mode, taskID string) (Result, error) {
	progress := o.newProgress(taskID, issueNumber)
	o.milestone(&progress, "started", "")

	issue, err := o.platform.GitHub.ViewIssue(ctx, issueNumber)
	if err != nil {
		return Result{Success: false, Reason: ReasonError}, err
	}
	if issue.State == "closed" {
		return Result{Success: true, Reason: ReasonClosed}, nil
	}
	if hasLabel(issue.Labels, labelBlocked) && mode != ModeForceMerge {
		return Result{Success: false, Reason: ReasonBlocked}, nil
	}

	lock := o.issueLock(issueNumber)
	if err := lock.Lock(); err != nil {
		return Result{Success: false, Reason: ReasonClaimFailed}, fmt.Errorf("locking issue #%d: %w", issueNumber, err)
	}
	defer lock.Unlock()

	if report, err := o.platform.Usage.Check(ctx); err == nil && report.SessionPercent >= float64(o.cfg.RateLimitThreshold) {
		return Result{Success: false, Reason: ReasonRateLimited}, nil
	}

	claimed, err := o.claim(ctx, issueNumber)
	if err != nil || !claimed {
		return Result{Success: false, Reason: ReasonClaimFailed}, err
	}

	name := fmt.Sprintf("shepherd-%s", taskID)
	worktreePath := o.platform.Paths.Worktree(issueNumber)
	var prNumber *int

	// This defer clears the worktree marker on every exit path and reverts
	// the claim on a panic. Other exit paths that give the issue back
	// revert or block the claim themselves before returning.
	defer func() {
		o.removeMarker(worktreePath)
		if r := recover(); r != nil {
			o.revertClaim(context.Background(), issueNumber)
			panic(r)
		}
	}()

	if o.bus.Has(signalbus.GracefulShutdown) || o.bus.Has(signalbus.StopAllShepherds) {
		o.revertClaim(ctx, issueNumber)
		return Result{Success: false, Reason: ReasonShutdown}, nil
	}

	// Curator
	o.milestone(&progress, "phase_entered", "curator")
	curatorOutcome := o.executor.Run(ctx, name, store.PhaseCurator, o.cfg.CuratorTimeout,
		phase.NewCurator(o.platform.GitHub), phase.Target{Issue: &issueNumber}, "", worker.SpawnOptions{
			Role: "curator", WorkDir: o.platform.Paths.Root, TaskID: taskID,
		})
	if !curatorOutcome.Success {
		o.block(ctx, issueNumber, "curator phase failed: "+curatorOutcome.Reason)
		o.revertClaim(ctx, issueNumber)
		return Result{Success: false, Reason: ReasonBlockedOut}, errors.New(curatorOutcome.Reason)
	}

	// Approval
	if mode == ModeWait {
		if err := o.pollForLabel(ctx, issueNumber, labelIssue); err != nil {
			o.revertClaim(ctx, issueNumber)
			return Result{Success: false, Reason: ReasonError}, err
		}
	} else {
		if err := o.platform.GitHub.EditLabels(ctx, platform.Target{Number: issueNumber}, []string{labelIssue}, []string{labelCurated}); err != nil {
			o.revertClaim(ctx, issueNumber)
			return Result{Success: false, Reason: ReasonError}, err
		}
	}

	// Re-claim: approval may have flipped the label away from building.
	if err := o.platform.GitHub.EditLabels(ctx, platform.Target{Number: issueNumber}, []string{labelBuilding}, []string{labelIssue}); err != nil {
		return Result{Success: false, Reason: ReasonError}, err
	}

	if err := o.ensureWorktree(issueNumber, worktreePath, taskID); err != nil {
		o.revertClaim(ctx, issueNumber)
		return Result{Success: false, Reason: ReasonError}, err
	}
	o.milestone(&progress, "worktree_created", worktreePath)

	// StageDetect
	existingPR, err := o.findStagePR(ctx, issueNumber)
	if err != nil {
		return Result{Success: false, Reason: ReasonError}, err
	}
	if existingPR != nil {
		prNumber = &existingPR.Number
		o.milestone(&progress, "pr_created", fmt.Sprintf("#%d (detected on re-entry)", existingPR.Number))
	} else {
		builderOutcome := o.executor.Run(ctx, name, store.PhaseBuilder, o.cfg.BuilderTimeout,
			phase.NewBuilder(o.platform.GitHub, o.platform.Git), phase.Target{Issue: &issueNumber}, worktreePath,
			worker.SpawnOptions{Role: "builder", WorkDir: worktreePath, TaskID: taskID})
		if !builderOutcome.Success {
			o.block(ctx, issueNumber, "builder phase failed: "+builderOutcome.Reason)
			return Result{Success: false, Reason: ReasonBlockedOut}, errors.New(builderOutcome.Reason)
		}
		pr, err := o.findStagePR(ctx, issueNumber)
		if err != nil || pr == nil {
			o.block(ctx, issueNumber, "builder completed but no PR found")
			return Result{Success: false, Reason: ReasonBlockedOut}, err
		}
		prNumber = &pr.Number
		o.milestone(&progress, "pr_created", fmt.Sprintf("#%d", pr.Number))
	}

	// Judge <-> Doctor loop
	doctorAttempts := 0
	for {
		judgeOutcome := o.executor.Run(ctx, name, store.PhaseJudge, o.cfg.JudgeTimeout,
			phase.NewJudge(o.platform.GitHub), phase.Target{PR: prNumber}, "",
			worker.SpawnOptions{Role: "judge", WorkDir: o.platform.Paths.Root, TaskID: taskID})
		if !judgeOutcome.Success {
			o.block(ctx, issueNumber, "judge phase failed: "+judgeOutcome.Reason)
			return Result{Success: false, Reason: ReasonBlockedOut, PRNumber: prNumber}, errors.New(judgeOutcome.Reason)
		}

		pr, err := o.platform.GitHub.ViewPR(ctx, *prNumber)
		if err != nil {
			return Result{Success: false, Reason: ReasonError, PRNumber: prNumber}, err
		}
		if hasLabel(pr.Labels, labelPR) {
			break
		}

		doctorAttempts++
		if doctorAttempts >= o.cfg.DoctorMaxRetries {
			o.block(ctx, issueNumber, "doctor attempts exhausted")
			return Result{Success: false, Reason: ReasonBlockedOut, PRNumber: prNumber}, nil
		}

		doctorOutcome := o.executor.Run(ctx, name, store.PhaseDoctor, o.cfg.DoctorTimeout,
			phase.NewDoctor(o.platform.GitHub), phase.Target{PR: prNumber}, worktreePath,
			worker.SpawnOptions{Role: "doctor", WorkDir: worktreePath, TaskID: taskID})
		if !doctorOutcome.Success {
			o.block(ctx, issueNumber, "doctor phase failed: "+doctorOutcome.Reason)
			return Result{Success: false, Reason: ReasonBlockedOut, PRNumber: prNumber}, errors.New(doctorOutcome.Reason)
		}
	}

	// Merge
	switch mode {
	case ModeForceMerge:
		if err := o.platform.GitHub.MergePR(ctx, *prNumber, true, true); err != nil {
			return Result{Success: false, Reason: ReasonError, PRNumber: prNumber}, err
		}
	case ModeForcePR:
		// leave for human review
	default:
		if err := o.pollForMerge(ctx, *prNumber); err != nil {
			return Result{Success: false, Reason: ReasonError, PRNumber: prNumber}, err
		}
	}

	o.milestone(&progress, "completed", fmt.Sprintf("issue #%d", issueNumber))
	o.finalizeProgress(taskID, progress, store.ProgressCompleted)
	return Result{Success: true, PRNumber: prNumber}, nil
}

func hasLabel(labels []string, name string) bool {
	for _, l := range labels {
		if l == name {
			return true
		}
	}
	return false
}

func (o *Orchestrator) issueLock(issue int) *flock.Flock {
	return flock.New(o.platform.Paths.IssueLock(issue))
}

// claim performs the atomic loom:issue -> loom:building transition.
func (o *Orchestrator) claim(ctx context.Context, issue int) (bool, error) {
	if err := o.platform.GitHub.EditLabels(ctx, platform.Target{Number: issue}, []string{labelBuilding}, []string{labelIssue}); err != nil {
		return false, err
	}
	return true, nil
}

// revertClaim undoes a claim on any failure path before Builder completes.
func (o *Orchestrator) revertClaim(ctx context.Context, issue int) {
	_ = o.platform.GitHub.EditLabels(ctx, platform.Target{Number: issue}, []string{labelIssue}, []string{labelBuilding})
}

func (o *Orchestrator) block(ctx context.Context, issue int, reason string) {
	_ = o.platform.GitHub.EditLabels(ctx, platform.Target{Number: issue}, []string{labelBlocked}, []string{labelBuilding})
	_ = o.platform.GitHub.Comment(ctx, platform.Target{Number: issue}, "loom: "+reason)
}

func (o *Orchestrator) ensureWorktree(issue int, worktreePath, taskID string) error {
	if err := o.platform.Git.Fetch("origin"); err != nil {
		return err
	}
	branch := platform.BranchName(issue)
	base := o.platform.Git.DefaultBranch()
	if err := o.platform.Git.EnsureWorktree(worktreePath, branch, "origin/"+base); err != nil {
		return err
	}
	m := marker{TaskID: taskID, Issue: issue, PID: os.Getpid(), CreatedAt: time.Now()}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(worktreePath, ".loom-in-use"), data, 0644)
}

func (o *Orchestrator) removeMarker(worktreePath string) {
	_ = os.Remove(filepath.Join(worktreePath, ".loom-in-use"))
}

// findStagePR looks up a PR linked to issue by branch name or issue-close
// keyword, used both for stage detection on re-entry and after Builder.
func (o *Orchestrator) findStagePR(ctx context.Context, issue int) (*platform.PullRequest, error) {
	branch := platform.BranchName(issue)
	for _, label := range []string{labelReviewRequested, labelChangesRequested, labelPR} {
		prs, err := o.platform.GitHub.ListPRsByLabel(ctx, label)
		if err != nil {
			return nil, err
		}
		for i := range prs {
			if prs[i].HeadBranch == branch || platform.ReferencesIssue(prs[i].Body, issue) {
				return &prs[i], nil
			}
		}
	}
	return nil, nil
}

func (o *Orchestrator) pollForLabel(ctx context.Context, issue int, label string) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if o.bus.Has(signalbus.GracefulShutdown) || o.bus.Has(signalbus.StopAllShepherds) {
			return fmt.Errorf("shutdown signaled while waiting for label %s", label)
		}
		current, err := o.platform.GitHub.ViewIssue(ctx, issue)
		if err != nil {
			return err
		}
		if hasLabel(current.Labels, label) {
			return nil
		}
	}
}

func (o *Orchestrator) pollForMerge(ctx context.Context, pr int) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if o.bus.Has(signalbus.GracefulShutdown) || o.bus.Has(signalbus.StopAllShepherds) {
			return fmt.Errorf("shutdown signaled while waiting for merge of PR #%d", pr)
		}
		current, err := o.platform.GitHub.ViewPR(ctx, pr)
		if err != nil {
			return err
		}
		if current.State == "merged" || current.State == "closed" {
			return nil
		}
	}
}

func (o *Orchestrator) newProgress(taskID string, issue int) store.ProgressFile {
	return store.ProgressFile{
		TaskID:        taskID,
		Issue:         issue,
		CurrentPhase:  "",
		LastHeartbeat: time.Now(),
		Status:        store.ProgressWorking,
	}
}

func (o *Orchestrator) milestone(p *store.ProgressFile, event, detail string) {
	p.Milestones = append(p.Milestones, store.Milestone{Event: event, Timestamp: time.Now(), Detail: detail})
	p.LastHeartbeat = time.Now()
	_ = o.store.WriteProgress(p.TaskID, *p)
}

func (o *Orchestrator) finalizeProgress(taskID string, p store.ProgressFile, status store.ProgressStatus) {
	p.Status = status
	_ = o.store.WriteProgress(taskID, p)
}
