package watch

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rjwalters/loom/internal/platform"
	"github.com/rjwalters/loom/internal/store"
)

func newTestModel(t *testing.T) *Model {
	t.Helper()
	paths := platform.NewPaths(filepath.Join(t.TempDir(), ".loom"))
	if err := paths.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	st := store.New(paths)
	if _, err := st.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return NewModel(st)
}

// TestPollConcurrentWithView verifies that View and the poll-driven state
// update can run concurrently without data races (run with -race).
func TestPollConcurrentWithView(t *testing.T) {
	m := newTestModel(t)
	m.mu.Lock()
	m.width = 80
	m.height = 40
	m.mu.Unlock()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			m.mu.Lock()
			m.events = append(m.events, Event{Time: time.Now(), Type: "milestone", Source: "shepherd-1", Message: "tick"})
			m.updateViewContentLocked()
			m.mu.Unlock()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = m.View()
		}
	}()

	wg.Wait()
}

func TestRenderSlotsEmpty(t *testing.T) {
	m := newTestModel(t)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if got := m.renderSlots(); got == "" {
		t.Error("renderSlots returned empty string for no data")
	}
}

func TestMilestoneEventType(t *testing.T) {
	cases := map[string]string{
		"completed": "complete",
		"merged":    "complete",
		"failed":    "fail",
		"started":   "milestone",
	}
	for event, want := range cases {
		if got := milestoneEventType(event); got != want {
			t.Errorf("milestoneEventType(%q) = %q, want %q", event, got, want)
		}
	}
}
