// Package phase implements the per-role phase contracts (spec §4.5): a
// predicate over external GitHub state that a worker's run must satisfy,
// plus a bounded recovery step that can be run to try to make the
// predicate true without respawning the worker.
package phase

import (
	"context"
	"fmt"
	"strings"

	"github.com/rjwalters/loom/internal/platform"
)

// Result is the outcome of validating a phase's contract.
type Result string

const (
	Satisfied  Result = "satisfied"
	Recovered  Result = "recovered"
	Failed     Result = "failed"
)

// Target identifies the issue and/or PR a phase validator checks.
type Target struct {
	Issue *int
	PR    *int
}

// Validator checks (and optionally repairs) a phase's contract.
// worktreePath is only meaningful to the Builder validator's recovery step;
// every other validator ignores it.
type Validator interface {
	// Check evaluates the contract without taking any action.
	Check(ctx context.Context, target Target) (Result, error)
	// Validate evaluates the contract and, if unsatisfied, attempts the
	// phase's recovery action once.
	Validate(ctx context.Context, target Target, worktreePath string) (Result, error)
}

const (
	labelIssue            = "loom:issue"
	labelBuilding          = "loom:building"
	labelCurated          = "loom:curated"
	labelBlocked          = "loom:blocked"
	labelReviewRequested  = "loom:review-requested"
	labelChangesRequested = "loom:changes-requested"
	labelPR               = "loom:pr"
)

// hasLabel reports whether labels contains name.
func hasLabel(labels []string, name string) bool {
	for _, l := range labels {
		if l == name {
			return true
		}
	}
	return false
}

// curatorValidator: contract = issue has label loom:curated.
type curatorValidator struct {
	gh *platform.GitHub
}

// NewCurator returns the Curator phase validator.
func NewCurator(gh *platform.GitHub) Validator { return curatorValidator{gh: gh} }

func (v curatorValidator) Check(ctx context.Context, t Target) (Result, error) {
	if t.Issue == nil {
		return Failed, fmt.Errorf("curator contract requires an issue")
	}
	issue, err := v.gh.ViewIssue(ctx, *t.Issue)
	if err != nil {
		return Failed, err
	}
	if hasLabel(issue.Labels, labelCurated) {
		return Satisfied, nil
	}
	return Failed, nil
}

func (v curatorValidator) Validate(ctx context.Context, t Target, _ string) (Result, error) {
	res, err := v.Check(ctx, t)
	if err != nil || res == Satisfied {
		return res, err
	}
	if err := v.gh.EditLabels(ctx, platform.Target{Number: *t.Issue}, []string{labelCurated}, nil); err != nil {
		return Failed, err
	}
	return Recovered, nil
}

// judgeValidator: contract = PR has loom:pr OR loom:changes-requested. No recovery.
type judgeValidator struct {
	gh *platform.GitHub
}

func NewJudge(gh *platform.GitHub) Validator { return judgeValidator{gh: gh} }

func (v judgeValidator) Check(ctx context.Context, t Target) (Result, error) {
	if t.PR == nil {
		return Failed, fmt.Errorf("judge contract requires a PR")
	}
	pr, err := v.gh.ViewPR(ctx, *t.PR)
	if err != nil {
		return Failed, err
	}
	if hasLabel(pr.Labels, labelPR) || hasLabel(pr.Labels, labelChangesRequested) {
		return Satisfied, nil
	}
	return Failed, nil
}

func (v judgeValidator) Validate(ctx context.Context, t Target, _ string) (Result, error) {
	return v.Check(ctx, t)
}

// doctorValidator: contract = PR has loom:review-requested. No recovery.
type doctorValidator struct {
	gh *platform.GitHub
}

func NewDoctor(gh *platform.GitHub) Validator { return doctorValidator{gh: gh} }

func (v doctorValidator) Check(ctx context.Context, t Target) (Result, error) {
	if t.PR == nil {
		return Failed, fmt.Errorf("doctor contract requires a PR")
	}
	pr, err := v.gh.ViewPR(ctx, *t.PR)
	if err != nil {
		return Failed, err
	}
	if hasLabel(pr.Labels, labelReviewRequested) {
		return Satisfied, nil
	}
	return Failed, nil
}

func (v doctorValidator) Validate(ctx context.Context, t Target, _ string) (Result, error) {
	return v.Check(ctx, t)
}

// builderValidator: contract = an open PR exists linked to the issue via
// head branch feature/issue-<N> or a Closes/Fixes/Resolves reference, and
// carries loom:review-requested. Recovery ensures the reference and label,
// or — if the worktree has substantive changes but no PR — auto-commits,
// pushes, and opens one.
type builderValidator struct {
	gh  *platform.GitHub
	git *platform.Git
}

// NewBuilder returns the Builder phase validator. git is used only during
// recovery, to inspect and push the worktree.
func NewBuilder(gh *platform.GitHub, git *platform.Git) Validator {
	return builderValidator{gh: gh, git: git}
}

func (v builderValidator) findLinkedPR(ctx context.Context, issue int) (*platform.PullRequest, error) {
	branch := platform.BranchName(issue)
	prs, err := v.gh.ListPRsByLabel(ctx, labelReviewRequested)
	if err != nil {
		return nil, err
	}
	for i := range prs {
		if prs[i].HeadBranch == branch || platform.ReferencesIssue(prs[i].Body, issue) {
			return &prs[i], nil
		}
	}
	// Fall back to PRs labeled loom:changes-requested when none carrying
	// the review label match. A linked PR with neither label is not found.
	changesRequested, err := v.gh.ListPRsByLabel(ctx, labelChangesRequested)
	if err != nil {
		return nil, err
	}
	for i := range changesRequested {
		if changesRequested[i].HeadBranch == branch || platform.ReferencesIssue(changesRequested[i].Body, issue) {
			return &changesRequested[i], nil
		}
	}
	return nil, nil
}

func (v builderValidator) Check(ctx context.Context, t Target) (Result, error) {
	if t.Issue == nil {
		return Failed, fmt.Errorf("builder contract requires an issue")
	}
	pr, err := v.findLinkedPR(ctx, *t.Issue)
	if err != nil {
		return Failed, err
	}
	if pr != nil && hasLabel(pr.Labels, labelReviewRequested) {
		return Satisfied, nil
	}
	return Failed, nil
}

// substantiveFiles ignores marker/infra files when deciding whether a
// worktree has real work to commit.
func substantiveFiles(status *platform.Status) bool {
	ignore := func(path string) bool {
		return strings.HasSuffix(path, ".loom-in-use")
	}
	for _, f := range append(append(status.Modified, status.Added...), status.Untracked...) {
		if !ignore(f) {
			return true
		}
	}
	return false
}

func (v builderValidator) Validate(ctx context.Context, t Target, worktreePath string) (Result, error) {
	if t.Issue == nil {
		return Failed, fmt.Errorf("builder contract requires an issue")
	}
	issue := *t.Issue

	pr, err := v.findLinkedPR(ctx, issue)
	if err != nil {
		return Failed, err
	}

	if pr != nil {
		if hasLabel(pr.Labels, labelReviewRequested) {
			return Satisfied, nil
		}
		if !platform.ReferencesIssue(pr.Body, issue) {
			body := pr.Body + fmt.Sprintf("\n\nCloses #%d", issue)
			if err := v.gh.UpdatePRBody(ctx, pr.Number, body); err != nil {
				return Failed, err
			}
		}
		if err := v.gh.EditLabels(ctx, platform.Target{Number: pr.Number}, []string{labelReviewRequested}, nil); err != nil {
			return Failed, err
		}
		return Recovered, nil
	}

	status, err := v.git.Status(worktreePath)
	if err != nil {
		return Failed, err
	}
	if !substantiveFiles(status) {
		_ = v.git.RemoveWorktree(worktreePath, true)
		_ = v.git.DeleteBranch(platform.BranchName(issue), true)
		return Failed, fmt.Errorf("no substantive changes in worktree for issue #%d", issue)
	}

	if err := v.git.CommitAll(worktreePath, "Auto-commit: builder did not complete"); err != nil {
		return Failed, err
	}
	branch := platform.BranchName(issue)
	if err := v.git.Push(worktreePath, "origin", branch, false); err != nil {
		return Failed, err
	}
	title := fmt.Sprintf("Fix #%d", issue)
	body := fmt.Sprintf("Closes #%d\n\nAuto-opened after the builder phase did not complete normally.", issue)
	if _, err := v.gh.CreatePR(ctx, branch, title, body, []string{labelReviewRequested}); err != nil {
		return Failed, err
	}
	return Recovered, nil
}
