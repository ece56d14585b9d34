package snapshot

import (
	"testing"
	"time"

	"github.com/rjwalters/loom/internal/config"
	"github.com/rjwalters/loom/internal/platform"
	"github.com/rjwalters/loom/internal/store"
)

func issue(n int, created time.Time, labels ...string) platform.Issue {
	return platform.Issue{Number: n, CreatedAt: created, Labels: labels}
}

func TestSortReadyFIFOPartitionsUrgentFirst(t *testing.T) {
	t0 := time.Now()
	issues := []platform.Issue{
		issue(1, t0.Add(2*time.Minute)),
		issue(2, t0, "loom:urgent"),
		issue(3, t0.Add(1*time.Minute)),
		issue(4, t0.Add(3*time.Minute), "loom:urgent"),
	}

	sorted := sortReady(issues, "fifo")
	got := issueNumbers(sorted)
	want := []int{2, 4, 3, 1}
	if !equalInts(got, want) {
		t.Errorf("sortReady(fifo) = %v, want %v", got, want)
	}
}

func TestSortReadyLIFODescending(t *testing.T) {
	t0 := time.Now()
	issues := []platform.Issue{
		issue(1, t0),
		issue(2, t0.Add(1*time.Minute)),
	}
	sorted := sortReady(issues, "lifo")
	got := issueNumbers(sorted)
	want := []int{2, 1}
	if !equalInts(got, want) {
		t.Errorf("sortReady(lifo) = %v, want %v", got, want)
	}
}

func TestComputeNeedsWorkGeneration(t *testing.T) {
	cfg := config.Defaults()
	cfg.IssueThreshold = 3
	cfg.MaxProposals = 5

	snap := Snapshot{
		Pipeline:  Pipeline{Ready: []int{1}},
		Proposals: Proposals{},
	}
	state := store.DaemonState{Shepherds: map[string]store.ShepherdSlot{}, SupportRoles: map[store.RoleID]store.SupportRole{}}

	c := compute(snap, state, cfg, time.Now())
	if !c.NeedsWorkGeneration {
		t.Error("expected needs_work_generation=true when ready < threshold and proposals < max")
	}
}

func TestComputeRecommendedActionsWaitWhenIdle(t *testing.T) {
	cfg := config.Defaults()
	snap := Snapshot{}
	state := store.DaemonState{Shepherds: map[string]store.ShepherdSlot{}, SupportRoles: map[store.RoleID]store.SupportRole{}}

	c := compute(snap, state, cfg, time.Now())
	if len(c.RecommendedActions) != 1 || c.RecommendedActions[0] != ActionWait {
		t.Errorf("expected only wait action, got %v", c.RecommendedActions)
	}
}

func TestComputeSpawnShepherdsWhenSlotsAvailable(t *testing.T) {
	cfg := config.Defaults()
	cfg.MaxShepherds = 2
	snap := Snapshot{Pipeline: Pipeline{Ready: []int{1, 2}}}
	state := store.DaemonState{Shepherds: map[string]store.ShepherdSlot{}, SupportRoles: map[store.RoleID]store.SupportRole{}}

	c := compute(snap, state, cfg, time.Now())
	if !containsAction(c.RecommendedActions, ActionSpawnShepherds) {
		t.Errorf("expected spawn_shepherds in %v", c.RecommendedActions)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsAction(actions []Action, target Action) bool {
	for _, a := range actions {
		if a == target {
			return true
		}
	}
	return false
}
