package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rjwalters/loom/internal/platform"
)

// staleAfter bounds how long a runtime artifact (lock, signal, worktree
// marker) may sit on disk before doctor flags it as abandoned.
const staleAfter = 2 * time.Hour

// GitRepoCheck verifies the repo Platform.Git operates on is a usable git
// checkout, the precondition for every worktree operation the builder and
// doctor phases perform.
type GitRepoCheck struct {
	BaseCheck
}

func NewGitRepoCheck() *GitRepoCheck {
	return &GitRepoCheck{BaseCheck{
		CheckName:        "git-repo",
		CheckDescription: "Verify the target repo is a valid git checkout",
		CheckCategory:    CategoryConfig,
	}}
}

func (c *GitRepoCheck) Run(ctx *CheckContext) *CheckResult {
	branch := ctx.Platform.Git.DefaultBranch()
	if ok, err := ctx.Platform.Git.BranchExists(branch); err != nil || !ok {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: fmt.Sprintf("default branch %q not found in the repo", branch),
			FixHint: "confirm the repo has a remote named origin with HEAD set",
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("repo checkout valid, default branch %q", branch),
	}
}

// TmuxAvailableCheck verifies the tmux binary is on PATH, required for
// every worker session the supervisor spawns.
type TmuxAvailableCheck struct {
	BaseCheck
}

func NewTmuxAvailableCheck() *TmuxAvailableCheck {
	return &TmuxAvailableCheck{BaseCheck{
		CheckName:        "tmux-available",
		CheckDescription: "Verify tmux is installed and on PATH",
		CheckCategory:    CategoryProcess,
	}}
}

func (c *TmuxAvailableCheck) Run(ctx *CheckContext) *CheckResult {
	out, err := exec.Command("tmux", "-V").Output()
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "tmux not found on PATH",
			FixHint: "install tmux; worker spawning requires it",
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: strings.TrimSpace(string(out)),
	}
}

// GitHubTokenCheck verifies a GitHub token is configured and accepted by
// the API, the precondition for every label/PR operation the daemon does.
type GitHubTokenCheck struct {
	BaseCheck
}

func NewGitHubTokenCheck() *GitHubTokenCheck {
	return &GitHubTokenCheck{BaseCheck{
		CheckName:        "github-token",
		CheckDescription: "Verify a GitHub token is configured and usable",
		CheckCategory:    CategoryConfig,
	}}
}

func (c *GitHubTokenCheck) Run(ctx *CheckContext) *CheckResult {
	report, err := ctx.Platform.Usage.Check(ctx.Ctx)
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "GitHub API call failed",
			Details: []string{err.Error()},
			FixHint: "set GITHUB_TOKEN (or GH_TOKEN) to a valid personal access token",
		}
	}
	if report.SessionPercent >= 90 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: fmt.Sprintf("GitHub rate limit usage at %.1f%%", report.SessionPercent),
		}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: fmt.Sprintf("GitHub token valid, %d requests remaining", report.Remaining),
	}
}

// DaemonStateValidCheck verifies daemon-state.json is present and parses as
// a JSON object. The recorded session id is not inspected.
type DaemonStateValidCheck struct {
	BaseCheck
}

func NewDaemonStateValidCheck() *DaemonStateValidCheck {
	return &DaemonStateValidCheck{BaseCheck{
		CheckName:        "daemon-state-valid",
		CheckDescription: "Verify daemon-state.json is present and well-formed",
		CheckCategory:    CategoryState,
	}}
}

func (c *DaemonStateValidCheck) Run(ctx *CheckContext) *CheckResult {
	path := ctx.Platform.Paths.DaemonState()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "no daemon-state.json yet",
			FixHint: fmt.Sprintf("run '%s daemon start' to initialize it", cliNameOrDefault()),
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &CheckResult{Name: c.Name(), Status: StatusError, Message: err.Error()}
	}
	if !looksLikeJSONObject(data) {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "daemon-state.json does not look like valid JSON",
			FixHint: "restore from the most recent daemon-state-<ts>.json archive",
		}
	}
	return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "daemon-state.json present and well-formed"}
}

func looksLikeJSONObject(data []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(data, &obj) == nil
}

// OrphanedWorktreesCheck finds worktrees still carrying a `.loom-in-use`
// marker whose owning process is no longer alive — the on-disk half of the
// orphan condition the daemon-level stuck sweep (§4.9) also detects from
// the label side.
type OrphanedWorktreesCheck struct {
	FixableCheck
	orphaned []string
}

func NewOrphanedWorktreesCheck() *OrphanedWorktreesCheck {
	return &OrphanedWorktreesCheck{FixableCheck: FixableCheck{BaseCheck{
		CheckName:        "orphaned-worktrees",
		CheckDescription: "Find worktrees whose owning process has died",
		CheckCategory:    CategoryWorktree,
	}}}
}

type worktreeMarker struct {
	TaskID    string    `json:"task_id"`
	Issue     int       `json:"issue"`
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *OrphanedWorktreesCheck) Run(ctx *CheckContext) *CheckResult {
	c.orphaned = nil
	entries, err := os.ReadDir(ctx.Platform.Paths.WorktreesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "no worktrees/ directory"}
		}
		return &CheckResult{Name: c.Name(), Status: StatusError, Message: err.Error()}
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		wt := filepath.Join(ctx.Platform.Paths.WorktreesDir(), entry.Name())
		marker := filepath.Join(wt, ".loom-in-use")
		data, err := os.ReadFile(marker)
		if err != nil {
			continue
		}
		pid := extractPID(data)
		if pid > 0 && !platform.Alive(pid) {
			c.orphaned = append(c.orphaned, wt)
		}
	}

	if len(c.orphaned) == 0 {
		return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "no orphaned worktrees"}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusWarning,
		Message: fmt.Sprintf("%d worktree(s) marked in-use by a dead process", len(c.orphaned)),
		Details: c.orphaned,
		FixHint: "run with --fix to remove the stale .loom-in-use markers",
	}
}

// Fix removes the stale markers found by Run, leaving the worktrees
// themselves for the next shepherd claim to reuse or the git worktree
// cleanup policy to prune.
func (c *OrphanedWorktreesCheck) Fix(ctx *CheckContext) error {
	for _, wt := range c.orphaned {
		if err := os.Remove(filepath.Join(wt, ".loom-in-use")); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing marker in %s: %w", wt, err)
		}
	}
	return nil
}

func extractPID(markerJSON []byte) int {
	const key = `"pid"`
	idx := strings.Index(string(markerJSON), key)
	if idx < 0 {
		return 0
	}
	rest := string(markerJSON)[idx+len(key):]
	rest = strings.TrimLeft(rest, ": ")
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(rest[:end]))
	return n
}

// StaleLocksCheck finds per-issue lock files under locks/ older than
// staleAfter, which means their holder crashed without releasing (flock
// releases automatically on process exit, so a stale file here is just
// clutter, not an active lock).
type StaleLocksCheck struct {
	FixableCheck
	stale []string
}

func NewStaleLocksCheck() *StaleLocksCheck {
	return &StaleLocksCheck{FixableCheck: FixableCheck{BaseCheck{
		CheckName:        "stale-locks",
		CheckDescription: "Find abandoned per-issue lock files",
		CheckCategory:    CategoryState,
	}}}
}

func (c *StaleLocksCheck) Run(ctx *CheckContext) *CheckResult {
	c.stale = staleFilesIn(ctx.Platform.Paths.LocksDir())
	if len(c.stale) == 0 {
		return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "no stale lock files"}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusWarning,
		Message: fmt.Sprintf("%d lock file(s) older than %s", len(c.stale), staleAfter),
		Details: c.stale,
		FixHint: "run with --fix to delete them (flock itself is already released)",
	}
}

func (c *StaleLocksCheck) Fix(ctx *CheckContext) error {
	return removeAll(c.stale)
}

// StaleSignalsCheck finds per-agent stop/pause signal files the daemon
// never consumed, which usually means the daemon was killed between the
// signal being raised and its next poll.
type StaleSignalsCheck struct {
	FixableCheck
	stale []string
}

func NewStaleSignalsCheck() *StaleSignalsCheck {
	return &StaleSignalsCheck{FixableCheck: FixableCheck{BaseCheck{
		CheckName:        "stale-signals",
		CheckDescription: "Find unconsumed per-agent signal files",
		CheckCategory:    CategoryState,
	}}}
}

func (c *StaleSignalsCheck) Run(ctx *CheckContext) *CheckResult {
	c.stale = staleFilesIn(ctx.Platform.Paths.SignalsDir())
	if len(c.stale) == 0 {
		return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "no stale signal files"}
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusWarning,
		Message: fmt.Sprintf("%d signal file(s) never consumed", len(c.stale)),
		Details: c.stale,
		FixHint: "run with --fix to delete them once you've confirmed the daemon is stopped",
	}
}

func (c *StaleSignalsCheck) Fix(ctx *CheckContext) error {
	return removeAll(c.stale)
}

func staleFilesIn(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var stale []string
	cutoff := time.Now().Add(-staleAfter)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, filepath.Join(dir, entry.Name()))
		}
	}
	return stale
}

func removeAll(paths []string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

func cliNameOrDefault() string {
	if v := os.Getenv("LOOM_COMMAND"); v != "" {
		return v
	}
	return "loom"
}
