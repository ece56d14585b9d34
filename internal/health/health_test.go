package health

import (
	"testing"
	"time"

	"github.com/rjwalters/loom/internal/platform"
	"github.com/rjwalters/loom/internal/snapshot"
	"github.com/rjwalters/loom/internal/store"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	dir := t.TempDir()
	paths := platform.NewPaths(dir)
	if err := paths.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	st := store.New(paths)
	return NewMonitor(st, DefaultThresholds())
}

func TestScorePerfectWhenHealthy(t *testing.T) {
	m := newTestMonitor(t)
	snap := snapshot.Snapshot{}
	result := IterationResult{Status: "success", IssuesPerHour: 1, PRsPerHour: 1}

	if err := m.Sample(snap, result, time.Now()); err != nil {
		t.Fatalf("Sample: %v", err)
	}
	metrics, err := m.store.ReadHealthMetrics()
	if err != nil {
		t.Fatalf("ReadHealthMetrics: %v", err)
	}
	if metrics.Score != 100 {
		t.Errorf("Score = %d, want 100", metrics.Score)
	}
}

func TestScoreDeductsForStaleHeartbeats(t *testing.T) {
	m := newTestMonitor(t)
	snap := snapshot.Snapshot{Computed: snapshot.Computed{StaleHeartbeatCount: 3}}
	result := IterationResult{Status: "success", IssuesPerHour: 1, PRsPerHour: 1}

	if err := m.Sample(snap, result, time.Now()); err != nil {
		t.Fatalf("Sample: %v", err)
	}
	metrics, err := m.store.ReadHealthMetrics()
	if err != nil {
		t.Fatalf("ReadHealthMetrics: %v", err)
	}
	if metrics.Score >= 100 {
		t.Errorf("Score = %d, want deduction for stale heartbeats", metrics.Score)
	}
}

func TestRaiseAlertsOnStuckAgents(t *testing.T) {
	m := newTestMonitor(t)
	snap := snapshot.Snapshot{Computed: snapshot.Computed{StaleHeartbeatCount: 5}}
	result := IterationResult{Status: "success"}

	if err := m.Sample(snap, result, time.Now()); err != nil {
		t.Fatalf("Sample: %v", err)
	}
	alerts, err := m.store.ReadAlerts()
	if err != nil {
		t.Fatalf("ReadAlerts: %v", err)
	}
	if len(alerts.Entries) == 0 {
		t.Fatal("expected at least one alert for stuck agents")
	}
	if alerts.Entries[0].Kind != store.AlertStuckWorker {
		t.Errorf("alert kind = %v, want %v", alerts.Entries[0].Kind, store.AlertStuckWorker)
	}
}
