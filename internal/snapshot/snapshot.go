// Package snapshot builds the scheduler's per-iteration view of GitHub and
// the daemon state (spec §4.7): every label query fanned out in parallel,
// then reduced into a single ordered list of recommended actions.
package snapshot

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rjwalters/loom/internal/config"
	"github.com/rjwalters/loom/internal/platform"
	"github.com/rjwalters/loom/internal/store"
)

// Action is one entry of Computed.RecommendedActions.
type Action string

const (
	ActionPromoteProposals Action = "promote_proposals"
	ActionSpawnShepherds   Action = "spawn_shepherds"
	ActionTriggerArchitect Action = "trigger_architect"
	ActionTriggerHermit    Action = "trigger_hermit"
	ActionCheckStuck       Action = "check_stuck"
	ActionWait             Action = "wait"
)

const (
	labelIssue            = "loom:issue"
	labelBuilding         = "loom:building"
	labelBlocked          = "loom:blocked"
	labelArchitect        = "loom:architect"
	labelHermit           = "loom:hermit"
	labelCurated          = "loom:curated"
	labelUrgent           = "loom:urgent"
	labelReviewRequested  = "loom:review-requested"
	labelChangesRequested = "loom:changes-requested"
	labelPR               = "loom:pr"
)

// Pipeline mirrors store.PipelineState but as issue numbers derived fresh
// from GitHub rather than the daemon's last-recorded view.
type Pipeline struct {
	Ready    []int
	Building []int
	Blocked  []int
}

// Proposals groups issues awaiting a curation decision, by the role that
// proposed them.
type Proposals struct {
	Architect []int
	Hermit    []int
	Curated   []int
}

// PRs groups open pull requests by pipeline stage.
type PRs struct {
	ReviewRequested  []int
	ChangesRequested []int
	ReadyToMerge     []int
}

// Usage is the advisory GitHub usage view.
type Usage struct {
	SessionPercent float64
	Healthy        bool
}

// Computed holds the scoring/derivation results §4.7 specifies.
type Computed struct {
	Totals              int
	ActiveShepherds     int
	AvailableSlots      int
	NeedsWorkGeneration bool
	ArchitectCooldownOK bool
	HermitCooldownOK    bool
	RecommendedActions  []Action
	StaleHeartbeatCount int
}

// ConfigView is the subset of config.Config a Snapshot echoes for display.
type ConfigView struct {
	IssueThreshold int
	MaxShepherds   int
	MaxProposals   int
	IssueStrategy  string
}

// Snapshot is the ephemeral, per-iteration view described in spec §3.1.
type Snapshot struct {
	Timestamp time.Time
	Pipeline  Pipeline
	Proposals Proposals
	PRs       PRs
	Usage     Usage
	Computed  Computed
	Config    ConfigView
}

// Build fans out every label query in parallel (bounded by errgroup) and
// reduces the results into a Snapshot, scored against state and cfg.
func Build(ctx context.Context, gh *platform.GitHub, usage *platform.Usage, state store.DaemonState, cfg config.Config) (Snapshot, error) {
	var (
		ready, building, blocked                              []platform.Issue
		architectProposals, hermitProposals, curatedProposals []platform.Issue
		reviewRequested, changesRequested, readyToMerge       []platform.PullRequest
		usageReport                                           platform.UsageReport
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { ready, err = gh.ListIssuesByLabel(gctx, labelIssue); return })
	g.Go(func() (err error) { building, err = gh.ListIssuesByLabel(gctx, labelBuilding); return })
	g.Go(func() (err error) { blocked, err = gh.ListIssuesByLabel(gctx, labelBlocked); return })
	g.Go(func() (err error) { architectProposals, err = gh.ListIssuesByLabel(gctx, labelArchitect); return })
	g.Go(func() (err error) { hermitProposals, err = gh.ListIssuesByLabel(gctx, labelHermit); return })
	g.Go(func() (err error) { curatedProposals, err = gh.ListIssuesByLabel(gctx, labelCurated); return })
	g.Go(func() (err error) { reviewRequested, err = gh.ListPRsByLabel(gctx, labelReviewRequested); return })
	g.Go(func() (err error) { changesRequested, err = gh.ListPRsByLabel(gctx, labelChangesRequested); return })
	g.Go(func() (err error) { readyToMerge, err = gh.ListPRsByLabel(gctx, labelPR); return })
	g.Go(func() error {
		report, err := usage.Check(gctx)
		if err != nil {
			// Usage is advisory: a failed check degrades scheduling, it
			// never fails the snapshot.
			return nil
		}
		usageReport = report
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	now := time.Now()
	sorted := sortReady(ready, cfg.IssueStrategy)

	snap := Snapshot{
		Timestamp: now,
		Pipeline: Pipeline{
			Ready:    issueNumbers(sorted),
			Building: issueNumbers(building),
			Blocked:  issueNumbers(blocked),
		},
		Proposals: Proposals{
			Architect: issueNumbers(architectProposals),
			Hermit:    issueNumbers(hermitProposals),
			Curated:   issueNumbers(curatedProposals),
		},
		PRs: PRs{
			ReviewRequested:  prNumbers(reviewRequested),
			ChangesRequested: prNumbers(changesRequested),
			ReadyToMerge:     prNumbers(readyToMerge),
		},
		Usage: Usage{
			SessionPercent: usageReport.SessionPercent,
			Healthy:        usageReport.SessionPercent < float64(cfg.RateLimitThreshold),
		},
		Config: ConfigView{
			IssueThreshold: cfg.IssueThreshold,
			MaxShepherds:   cfg.MaxShepherds,
			MaxProposals:   cfg.MaxProposals,
			IssueStrategy:  cfg.IssueStrategy,
		},
	}

	snap.Computed = compute(snap, state, cfg, now)
	return snap, nil
}

func issueNumbers(issues []platform.Issue) []int {
	nums := make([]int, len(issues))
	for i, issue := range issues {
		nums[i] = issue.Number
	}
	return nums
}

func prNumbers(prs []platform.PullRequest) []int {
	nums := make([]int, len(prs))
	for i, pr := range prs {
		nums[i] = pr.Number
	}
	return nums
}

// sortReady orders ready issues by strategy, with loom:urgent issues always
// partitioned first (spec §4.7).
func sortReady(issues []platform.Issue, strategy string) []platform.Issue {
	urgent := make([]platform.Issue, 0, len(issues))
	rest := make([]platform.Issue, 0, len(issues))
	for _, issue := range issues {
		if hasLabel(issue.Labels, labelUrgent) {
			urgent = append(urgent, issue)
		} else {
			rest = append(rest, issue)
		}
	}

	ascending := strategy != "lifo"
	sortByCreated(urgent, ascending)
	sortByCreated(rest, ascending)

	return append(urgent, rest...)
}

func sortByCreated(issues []platform.Issue, ascending bool) {
	sort.SliceStable(issues, func(i, j int) bool {
		if ascending {
			return issues[i].CreatedAt.Before(issues[j].CreatedAt)
		}
		return issues[i].CreatedAt.After(issues[j].CreatedAt)
	})
}

func hasLabel(labels []string, name string) bool {
	for _, l := range labels {
		if l == name {
			return true
		}
	}
	return false
}

// compute derives the scoring fields of §4.7 and the deterministic
// recommended_actions list.
func compute(snap Snapshot, state store.DaemonState, cfg config.Config, now time.Time) Computed {
	active := 0
	for _, slot := range state.Shepherds {
		if slot.Status == store.ShepherdWorking {
			active++
		}
	}
	availableSlots := cfg.MaxShepherds - active
	if availableSlots < 0 {
		availableSlots = 0
	}

	proposalsTotal := len(snap.Proposals.Architect) + len(snap.Proposals.Hermit) + len(snap.Proposals.Curated)
	needsWorkGen := len(snap.Pipeline.Ready) < cfg.IssueThreshold && proposalsTotal < cfg.MaxProposals

	architectOK := cooldownOK(state.LastArchitectTrigger, cfg.ArchitectCooldown, now)
	hermitOK := cooldownOK(state.LastHermitTrigger, cfg.HermitCooldown, now)

	staleHeartbeats := 0
	for _, slot := range state.Shepherds {
		if slot.Status != store.ShepherdWorking || slot.IdleSince == nil {
			continue
		}
		if now.Sub(*slot.IdleSince) > cfg.HeartbeatStaleThreshold {
			staleHeartbeats++
		}
	}

	var actions []Action
	if proposalsTotal > 0 && state.ForceMode {
		actions = append(actions, ActionPromoteProposals)
	}
	if len(snap.Pipeline.Ready) > 0 && availableSlots > 0 {
		actions = append(actions, ActionSpawnShepherds)
	}
	architectRunning := state.SupportRoles[store.RoleArchitect].Status == store.RoleRunning
	hermitRunning := state.SupportRoles[store.RoleHermit].Status == store.RoleRunning
	rolesActive := 0
	if architectRunning {
		rolesActive++
	}
	if hermitRunning {
		rolesActive++
	}
	if needsWorkGen && rolesActive < 2 {
		if architectOK && !architectRunning {
			actions = append(actions, ActionTriggerArchitect)
		}
		if hermitOK && !hermitRunning {
			actions = append(actions, ActionTriggerHermit)
		}
	}
	if len(snap.Pipeline.Building) > 0 {
		actions = append(actions, ActionCheckStuck)
	}
	if len(actions) == 0 || onlyCheckStuck(actions) {
		actions = append(actions, ActionWait)
	}

	return Computed{
		Totals:              len(snap.Pipeline.Ready) + len(snap.Pipeline.Building) + len(snap.Pipeline.Blocked),
		ActiveShepherds:     active,
		AvailableSlots:      availableSlots,
		NeedsWorkGeneration: needsWorkGen,
		ArchitectCooldownOK: architectOK,
		HermitCooldownOK:    hermitOK,
		RecommendedActions:  actions,
		StaleHeartbeatCount: staleHeartbeats,
	}
}

func cooldownOK(last *time.Time, cooldown time.Duration, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) > cooldown
}

func onlyCheckStuck(actions []Action) bool {
	for _, a := range actions {
		if a != ActionCheckStuck {
			return false
		}
	}
	return true
}
