package store

import (
	"path/filepath"
	"testing"

	"github.com/rjwalters/loom/internal/platform"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	paths := platform.NewPaths(t.TempDir())
	if err := paths.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	return New(paths)
}

func TestInitCreatesState(t *testing.T) {
	s := newTestStore(t)

	state, err := s.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if state.DaemonSessionID == "" {
		t.Fatal("expected a non-empty daemon session id")
	}
	if !state.Running {
		t.Fatal("expected Running=true on fresh init")
	}
	if state.Shepherds == nil || state.SupportRoles == nil {
		t.Fatal("expected initialized maps")
	}
}

func TestUpdatePersists(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	updated, err := s.Update(func(d DaemonState) DaemonState {
		d.Iteration++
		d.TotalPRsMerged = 3
		return d
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Iteration != 1 || updated.TotalPRsMerged != 3 {
		t.Fatalf("unexpected state after update: %+v", updated)
	}

	reread, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if reread.Iteration != 1 || reread.TotalPRsMerged != 3 {
		t.Fatalf("read did not reflect persisted update: %+v", reread)
	}
}

func TestValidateOwnership(t *testing.T) {
	s := newTestStore(t)
	state, err := s.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	ok, err := s.ValidateOwnership(state.DaemonSessionID)
	if err != nil {
		t.Fatalf("ValidateOwnership: %v", err)
	}
	if !ok {
		t.Fatal("expected ownership to hold for the session that just initialized state")
	}

	ok, err = s.ValidateOwnership("someone-elses-session")
	if err != nil {
		t.Fatalf("ValidateOwnership: %v", err)
	}
	if ok {
		t.Fatal("expected ownership to fail for a foreign session id")
	}
}

func TestInitRotatesPriorSession(t *testing.T) {
	s := newTestStore(t)
	first, err := s.Init()
	if err != nil {
		t.Fatalf("first Init: %v", err)
	}

	second, err := s.Init()
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if second.DaemonSessionID == first.DaemonSessionID {
		t.Fatal("expected a fresh session id on re-init")
	}

	matches, err := filepath.Glob(filepath.Join(s.paths.Root, "daemon-state-*.json"))
	if err != nil {
		t.Fatalf("globbing archives: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one archived state file, got %d", len(matches))
	}
}
