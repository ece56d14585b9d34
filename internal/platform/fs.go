package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Paths resolves every well-known location under a .loom directory (spec
// §6.1). Nothing here touches disk beyond MkdirAll in EnsureLayout; the
// rest are pure path joins so callers can reason about layout without a
// filesystem round-trip.
type Paths struct {
	Root string // absolute path to .loom
}

// NewPaths roots a Paths at loomDir (typically <repo>/.loom).
func NewPaths(loomDir string) Paths {
	return Paths{Root: loomDir}
}

func (p Paths) DaemonState() string       { return filepath.Join(p.Root, "daemon-state.json") }
func (p Paths) DaemonMetrics() string     { return filepath.Join(p.Root, "daemon-metrics.json") }
func (p Paths) DaemonLog() string         { return filepath.Join(p.Root, "daemon.log") }
func (p Paths) DaemonPID() string         { return filepath.Join(p.Root, "daemon-loop.pid") }
func (p Paths) DaemonLock() string        { return filepath.Join(p.Root, "daemon.lock") }
func (p Paths) StopDaemon() string        { return filepath.Join(p.Root, "stop-daemon") }
func (p Paths) StopShepherds() string     { return filepath.Join(p.Root, "stop-shepherds") }
func (p Paths) Alerts() string            { return filepath.Join(p.Root, "alerts.json") }
func (p Paths) HealthMetrics() string     { return filepath.Join(p.Root, "health-metrics.json") }
func (p Paths) StuckHistory() string      { return filepath.Join(p.Root, "stuck-history.json") }
func (p Paths) StuckConfig() string       { return filepath.Join(p.Root, "stuck-config.json") }
func (p Paths) ConfigTOML() string        { return filepath.Join(p.Root, "config.toml") }

// DaemonMetricsArchive returns the path of a rotated metrics snapshot for ts.
func (p Paths) DaemonMetricsArchive(ts time.Time) string {
	return filepath.Join(p.Root, fmt.Sprintf("daemon-metrics-%s.json", ts.Format("20060102-150405")))
}

func (p Paths) SignalsDir() string  { return filepath.Join(p.Root, "signals") }
func (p Paths) StopSignal(name string) string  { return filepath.Join(p.SignalsDir(), "stop-"+name) }
func (p Paths) PauseSignal(name string) string { return filepath.Join(p.SignalsDir(), "pause-"+name) }

func (p Paths) ProgressDir() string { return filepath.Join(p.Root, "progress") }
func (p Paths) ProgressFile(taskID string) string {
	return filepath.Join(p.ProgressDir(), fmt.Sprintf("shepherd-%s.json", taskID))
}

func (p Paths) InterventionsDir() string { return filepath.Join(p.Root, "interventions") }
func (p Paths) InterventionFile(agent string, ts time.Time) string {
	return filepath.Join(p.InterventionsDir(), fmt.Sprintf("%s-%s.json", agent, ts.Format("20060102-150405")))
}
func (p Paths) InterventionLatest(agent string) string {
	return filepath.Join(p.InterventionsDir(), agent+"-latest.txt")
}

func (p Paths) DiagnosticsDir() string { return filepath.Join(p.Root, "diagnostics") }
func (p Paths) DiagnosticFile(name string, ts time.Time) string {
	return filepath.Join(p.DiagnosticsDir(), fmt.Sprintf("stuck-%s-%s.txt", name, ts.Format("20060102-150405")))
}

func (p Paths) LogsDir() string { return filepath.Join(p.Root, "logs") }
func (p Paths) WorkerLog(name string) string {
	return filepath.Join(p.LogsDir(), fmt.Sprintf("loom-%s.log", name))
}
func (p Paths) WorkerLogArchive(name string, ts time.Time) string {
	return filepath.Join(p.LogsDir(), fmt.Sprintf("loom-%s.%s.log", name, ts.Format("20060102-150405")))
}

func (p Paths) WorktreesDir() string { return filepath.Join(p.Root, "worktrees") }
func (p Paths) Worktree(issue int) string {
	return filepath.Join(p.WorktreesDir(), fmt.Sprintf("issue-%d", issue))
}
func (p Paths) WorktreeMarker(issue int) string {
	return filepath.Join(p.Worktree(issue), ".loom-in-use")
}

func (p Paths) RolesDir() string { return filepath.Join(p.Root, "roles") }
func (p Paths) RoleFile(role string) string {
	return filepath.Join(p.RolesDir(), role+".md")
}

func (p Paths) LocksDir() string { return filepath.Join(p.Root, "locks") }
func (p Paths) IssueLock(issue int) string {
	return filepath.Join(p.LocksDir(), fmt.Sprintf("issue-%d.lock", issue))
}

// EnsureLayout creates every directory a fresh .loom tree needs. It is safe
// to call repeatedly.
func (p Paths) EnsureLayout() error {
	dirs := []string{
		p.Root,
		p.SignalsDir(),
		p.ProgressDir(),
		p.InterventionsDir(),
		p.DiagnosticsDir(),
		p.LogsDir(),
		p.WorktreesDir(),
		p.RolesDir(),
		p.LocksDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

// TouchSignal creates an empty signal file, the create-to-signal convention
// used for stop-daemon/stop-shepherds/signals/*.
func TouchSignal(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	return f.Close()
}

// ConsumeSignal reports whether a signal file is present and, if so, removes
// it — level-triggered, consumed-by-removal semantics.
func ConsumeSignal(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return true, err
	}
	return true, nil
}

// SignalPresent reports whether a signal file exists without consuming it.
func SignalPresent(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
