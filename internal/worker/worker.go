// Package worker supervises a single tmux-backed agent session from spawn
// through completion, termination, or a stuck intervention (spec §4.4).
package worker

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rjwalters/loom/internal/config"
	"github.com/rjwalters/loom/internal/platform"
	"github.com/rjwalters/loom/internal/signalbus"
)

// SpawnOptions parameterizes Spawn.
type SpawnOptions struct {
	Role      string // role name, used to look up .loom/roles/<role>.md
	Args      string // arguments appended to the role's initial prompt
	WorkDir   string // worktree path, or the repo root for non-issue roles
	TaskID    string
	OnDemand  bool
}

// SpawnResult is returned by a successful Spawn.
type SpawnResult struct {
	Session string
	LogPath string
}

// Supervisor manages worker sessions named loom-<name>.
type Supervisor struct {
	platform *platform.Platform
	bus      *signalbus.Bus
	cfg      config.Config

	// lastPaneHash and lastPaneChange track, per session name, the hash of
	// pane content observed at the previous poll and when it last changed.
	// Used to compute the idle-by-unchanged-output signal for stuck
	// detection without re-running a diff each tick. A single Supervisor is
	// shared by every concurrent Wait call the scheduler launches, so paneMu
	// guards both maps.
	paneMu         sync.Mutex
	lastPaneHash   map[string]string
	lastPaneChange map[string]time.Time
}

// NewSupervisor returns a Supervisor operating against plat, signaled by bus.
func NewSupervisor(plat *platform.Platform, bus *signalbus.Bus, cfg config.Config) *Supervisor {
	return &Supervisor{
		platform:       plat,
		bus:            bus,
		cfg:            cfg,
		lastPaneHash:   make(map[string]string),
		lastPaneChange: make(map[string]time.Time),
	}
}

func sessionName(name string) string { return "loom-" + name }

// Spawn starts (or reuses, or respawns) a worker session for name.
func (s *Supervisor) Spawn(ctx context.Context, name string, opts SpawnOptions) (SpawnResult, error) {
	if s.bus.HasAgent(signalbus.StopAgent, name) {
		return SpawnResult{}, fmt.Errorf("stop signal present for %s, refusing spawn", name)
	}

	rolePath := s.platform.Paths.RoleFile(opts.Role)
	if _, err := os.Stat(rolePath); err != nil {
		return SpawnResult{}, fmt.Errorf("role file %s: %w", rolePath, err)
	}

	sess := sessionName(name)
	exists, err := s.platform.Mux.HasSession(sess)
	if err != nil {
		return SpawnResult{}, err
	}
	if exists {
		healthy, _ := s.isHealthy(sess)
		if healthy {
			return SpawnResult{Session: sess, LogPath: s.platform.Paths.WorkerLog(name)}, nil
		}
		if err := s.Destroy(name, true); err != nil {
			return SpawnResult{}, fmt.Errorf("destroying stale session %s: %w", sess, err)
		}
	}

	logPath := s.platform.Paths.WorkerLog(name)
	s.rotateLog(name, logPath)

	command := buildStartupCommand(rolePath, opts.Args)
	env := map[string]string{
		"TERMINAL_ID": name,
		"WORKSPACE":   opts.WorkDir,
		"ROLE":        opts.Role,
	}

	if err := s.platform.Mux.NewDetached(sess, opts.WorkDir, command, env); err != nil {
		return SpawnResult{}, fmt.Errorf("creating session %s: %w", sess, err)
	}
	if err := s.platform.Mux.PipePaneToFile(sess, logPath); err != nil {
		return SpawnResult{}, fmt.Errorf("piping pane to %s: %w", logPath, err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.cfg.SpawnVerifyTimeout)
	defer cancel()
	if err := s.verifySpawned(verifyCtx, sess); err != nil {
		return SpawnResult{}, fmt.Errorf("%w: session %s left in place for diagnostics", errSpawnFailed, sess)
	}

	return SpawnResult{Session: sess, LogPath: logPath}, nil
}

// buildStartupCommand builds the shell command that starts the agent with
// the role prompt as a CLI argument. Passing it as an argument (rather than
// creating the session and then send-keys'ing the prompt) avoids a race
// where keystrokes land before the agent's input loop is ready.
func buildStartupCommand(rolePath, args string) string {
	prompt := fmt.Sprintf("$(cat %s) %s", rolePath, args)
	return fmt.Sprintf("claude --dangerously-skip-permissions %q", prompt)
}

func (s *Supervisor) rotateLog(name, logPath string) {
	if _, err := os.Stat(logPath); err == nil {
		archive := s.platform.Paths.WorkerLogArchive(name, time.Now())
		_ = os.Rename(logPath, archive)
	}
}

func (s *Supervisor) verifySpawned(ctx context.Context, sess string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			panes, err := s.platform.Mux.ListPanes(sess)
			if err != nil || len(panes) == 0 {
				continue
			}
			procs, err := platform.ListProcesses()
			if err != nil {
				continue
			}
			for _, p := range platform.ListDescendants(procs, panes[0].PID) {
				if strings.Contains(p.Cmd, "claude") {
					return nil
				}
			}
		}
	}
}

func (s *Supervisor) isHealthy(sess string) (bool, error) {
	panes, err := s.platform.Mux.ListPanes(sess)
	if err != nil || len(panes) == 0 {
		return false, err
	}
	return platform.Alive(panes[0].PID), nil
}

var errSpawnFailed = fmt.Errorf("spawn failed")

// Destroy kills the session's process tree and the mux session itself.
// force skips the SIGTERM grace period and kills immediately.
func (s *Supervisor) Destroy(name string, force bool) error {
	sess := sessionName(name)
	panes, err := s.platform.Mux.ListPanes(sess)
	if err == nil && len(panes) > 0 {
		procs, _ := platform.ListProcesses()
		descendants := platform.ListDescendants(procs, panes[0].PID)
		for i := len(descendants) - 1; i >= 0; i-- {
			_ = platform.Kill(descendants[i].PID, force)
		}
		if !force {
			time.Sleep(1 * time.Second)
			for _, d := range descendants {
				if platform.Alive(d.PID) {
					_ = platform.Kill(d.PID, true)
				}
			}
		}
	}
	if err := s.platform.Mux.KillSession(sess); err != nil {
		// session may already be gone; that is the desired end state.
		_ = err
	}

	allProcs, err := platform.ListProcesses()
	if err == nil {
		for _, orphan := range platform.SweepOrphansMatching(allProcs, "claude") {
			_ = platform.Kill(orphan.PID, true)
		}
	}
	return nil
}

func paneHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum)
}

// observePane records the pane hash seen for name at this poll and reports
// how long its content has been unchanged. Safe for concurrent callers.
func (s *Supervisor) observePane(name, pane string) time.Duration {
	hash := paneHash(pane)

	s.paneMu.Lock()
	defer s.paneMu.Unlock()
	if s.lastPaneHash[name] != hash {
		s.lastPaneHash[name] = hash
		s.lastPaneChange[name] = time.Now()
	}
	return time.Since(s.lastPaneChange[name])
}
