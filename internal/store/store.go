package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/rjwalters/loom/internal/platform"
	"github.com/rjwalters/loom/internal/util"
)

// maxArchives is how many rotated daemon-state snapshots are kept (spec
// §6.1: "rotated, keep 10").
const maxArchives = 10

// Store owns daemon-state.json and its satellite documents. A single
// process-local mutex serializes Update calls from this process; a
// file lock additionally guards daemon-state.json itself against a second
// loom process racing to write it (e.g. a `loom shepherd` CLI invocation
// running alongside the daemon).
type Store struct {
	paths platform.Paths
	mu    sync.Mutex
	lock  *flock.Flock
}

// New returns a Store rooted at paths. Call Init once per process before
// the first Update.
func New(paths platform.Paths) *Store {
	return &Store{
		paths: paths,
		lock:  flock.New(filepath.Join(paths.Root, "daemon-state.lock")),
	}
}

// Init creates or rotates daemon-state.json for a new daemon session. If an
// existing file belongs to a different daemon_session_id, it is archived
// (oldest-first pruning to maxArchives) before a fresh state is written.
func (s *Store) Init() (DaemonState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return DaemonState{}, fmt.Errorf("locking state store: %w", err)
	}
	defer s.lock.Unlock()

	sessionID := newSessionID()

	var existing DaemonState
	found, err := readJSON(s.paths.DaemonState(), &existing)
	if err != nil {
		return DaemonState{}, err
	}
	if found && existing.DaemonSessionID != "" && existing.DaemonSessionID != sessionID {
		if err := s.archiveLocked(); err != nil {
			return DaemonState{}, err
		}
	}

	state := DaemonState{
		DaemonSessionID: sessionID,
		StartedAt:       time.Now(),
		Running:         true,
		Shepherds:       map[string]ShepherdSlot{},
		SupportRoles:    map[RoleID]SupportRole{},
	}
	if err := s.writeLocked(state); err != nil {
		return DaemonState{}, err
	}
	return state, nil
}

func newSessionID() string {
	return fmt.Sprintf("%d-%s", time.Now().Unix(), uuid.New().String()[:8])
}

// Read returns a point-in-time snapshot of daemon-state.json.
func (s *Store) Read() (DaemonState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state DaemonState
	found, err := readJSON(s.paths.DaemonState(), &state)
	if err != nil {
		return DaemonState{}, err
	}
	if !found {
		return DaemonState{}, fmt.Errorf("daemon state not initialized at %s", s.paths.DaemonState())
	}
	return state, nil
}

// Update runs fn against the current state under the single-writer lock and
// persists the result atomically. fn's return value becomes the new state
// unconditionally — callers needing partial updates read-modify-return the
// full struct.
func (s *Store) Update(fn func(DaemonState) DaemonState) (DaemonState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return DaemonState{}, fmt.Errorf("locking state store: %w", err)
	}
	defer s.lock.Unlock()

	var state DaemonState
	found, err := readJSON(s.paths.DaemonState(), &state)
	if err != nil {
		return DaemonState{}, err
	}
	if !found {
		return DaemonState{}, fmt.Errorf("daemon state not initialized at %s", s.paths.DaemonState())
	}

	next := fn(state)
	if err := s.writeLocked(next); err != nil {
		return DaemonState{}, err
	}
	return next, nil
}

// ValidateOwnership reports whether mySessionID still matches the session
// id recorded in daemon-state.json (invariant I1). A false result means
// another daemon has taken over the file and this process must exit.
func (s *Store) ValidateOwnership(mySessionID string) (bool, error) {
	state, err := s.Read()
	if err != nil {
		return false, err
	}
	return state.DaemonSessionID == mySessionID, nil
}

func (s *Store) writeLocked(state DaemonState) error {
	return util.EnsureDirAndWriteJSON(s.paths.DaemonState(), state)
}

// archiveLocked rotates the current daemon-state.json to a timestamped
// archive file, then prunes the archives down to the newest maxArchives.
func (s *Store) archiveLocked() error {
	archive := s.paths.DaemonMetricsArchive(time.Now())
	archive = filepath.Join(filepath.Dir(archive), "daemon-state-"+filepath.Base(archive)[len("daemon-metrics-"):])

	data, err := os.ReadFile(s.paths.DaemonState())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := util.AtomicWriteFile(archive, data, 0644); err != nil {
		return fmt.Errorf("archiving daemon state: %w", err)
	}
	return pruneArchives(s.paths.Root, "daemon-state-*.json", maxArchives)
}

// pruneArchives keeps only the newest keep archives matching glob under dir.
func pruneArchives(dir, glob string, keep int) error {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}
	sort.Strings(matches) // timestamped names sort chronologically
	toRemove := matches[:len(matches)-keep]
	for _, path := range toRemove {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// WriteProgress atomically writes a shepherd's progress document.
func (s *Store) WriteProgress(taskID string, progress ProgressFile) error {
	return util.EnsureDirAndWriteJSON(s.paths.ProgressFile(taskID), progress)
}

// ReadProgress reads a shepherd's progress document. ok is false if no
// progress file exists for taskID yet.
func (s *Store) ReadProgress(taskID string) (progress ProgressFile, ok bool, err error) {
	ok, err = readJSON(s.paths.ProgressFile(taskID), &progress)
	return progress, ok, err
}

// readJSON reads and unmarshals path into v, returning found=false (no
// error) when the file does not exist.
func readJSON(path string, v interface{}) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	return true, nil
}
