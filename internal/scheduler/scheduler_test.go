package scheduler

import (
	"testing"
	"time"

	"github.com/rjwalters/loom/internal/config"
	"github.com/rjwalters/loom/internal/store"
)

func TestIdleSlotIDsSkipsWorking(t *testing.T) {
	state := store.DaemonState{
		Shepherds: map[string]store.ShepherdSlot{
			"shepherd-1": {SlotID: "shepherd-1", Status: store.ShepherdWorking},
			"shepherd-2": {SlotID: "shepherd-2", Status: store.ShepherdIdle},
		},
	}
	got := idleSlotIDs(state, 3)
	want := []string{"shepherd-2", "shepherd-3"}
	if len(got) != len(want) {
		t.Fatalf("idleSlotIDs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("idleSlotIDs[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRollingAvgFirstSampleIsExact(t *testing.T) {
	got := rollingAvg(0, 5*time.Second, 1)
	if got != 5*time.Second {
		t.Errorf("rollingAvg(first) = %v, want 5s", got)
	}
}

func TestApplyBackoffEscalatesAtThreshold(t *testing.T) {
	s := &Scheduler{cfg: config.Config{PollInterval: 10 * time.Second, BackoffMultiplier: 2, BackoffThreshold: 3, MaxBackoff: 100 * time.Second}}
	s.currentBackoff = s.cfg.PollInterval

	s.applyBackoff(errSentinel)
	s.applyBackoff(errSentinel)
	if s.currentBackoff != 10*time.Second {
		t.Errorf("backoff escalated before threshold: %v", s.currentBackoff)
	}
	s.applyBackoff(errSentinel)
	if s.currentBackoff != 20*time.Second {
		t.Errorf("backoff = %v, want 20s after 3 consecutive failures", s.currentBackoff)
	}
}

func TestApplyBackoffResetsOnSuccess(t *testing.T) {
	s := &Scheduler{cfg: config.Config{PollInterval: 10 * time.Second, BackoffMultiplier: 2, BackoffThreshold: 1, MaxBackoff: 100 * time.Second}}
	s.currentBackoff = 40 * time.Second
	s.consecutiveFailures = 2

	s.applyBackoff(nil)
	if s.currentBackoff != 10*time.Second || s.consecutiveFailures != 0 {
		t.Errorf("backoff did not reset: backoff=%v failures=%d", s.currentBackoff, s.consecutiveFailures)
	}
}

var errSentinel = &sentinelErr{}

type sentinelErr struct{}

func (e *sentinelErr) Error() string { return "sentinel" }
