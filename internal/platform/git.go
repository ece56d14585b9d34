package platform

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// GitError carries the raw stdout/stderr of a failed git invocation so a
// worker agent can observe exactly what git said, rather than a
// pre-interpreted message. Callers decide what the output means.
type GitError struct {
	Command string
	Args    []string
	Stdout  string
	Stderr  string
	Err     error
}

func (e *GitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %s", e.Command, e.Stderr)
	}
	return fmt.Sprintf("git %s: %v", e.Command, e.Err)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// Git wraps the subset of git plumbing the daemon needs to manage per-issue
// worktrees: creating and removing them, inspecting status, and pushing the
// branch a builder produced.
type Git struct {
	repoDir string
}

// NewGit returns a Git wrapper rooted at repoDir, the primary checkout (not
// a worktree) that owns the .git directory worktrees are created from.
func NewGit(repoDir string) *Git {
	return &Git{repoDir: repoDir}
}

func (g *Git) run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", wrapGitError(err, stdout.String(), stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func wrapGitError(err error, stdout, stderr string, args []string) error {
	command := ""
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			command = a
			break
		}
	}
	return &GitError{
		Command: command,
		Args:    args,
		Stdout:  strings.TrimSpace(stdout),
		Stderr:  strings.TrimSpace(stderr),
		Err:     err,
	}
}

// EnsureWorktree creates a worktree at path on a new branch cut from
// startPoint (e.g. "origin/main") if one does not already exist there. It is
// idempotent: calling it again for a path git already lists as a worktree is
// a no-op.
func (g *Git) EnsureWorktree(path, branch, startPoint string) error {
	existing, err := g.WorktreeList()
	if err != nil {
		return err
	}
	for _, w := range existing {
		if w.Path == path {
			return nil
		}
	}
	_, err = g.run(g.repoDir, "worktree", "add", "-b", branch, path, startPoint)
	return err
}

// RemoveWorktree removes the worktree at path. force discards uncommitted
// changes left behind by a killed worker.
func (g *Git) RemoveWorktree(path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	_, err := g.run(g.repoDir, args...)
	return err
}

// PruneWorktrees removes administrative entries for worktrees whose
// directories are gone from disk.
func (g *Git) PruneWorktrees() error {
	_, err := g.run(g.repoDir, "worktree", "prune")
	return err
}

// Worktree describes one entry of `git worktree list --porcelain`.
type Worktree struct {
	Path   string
	Branch string
	Commit string
}

// WorktreeList returns every worktree registered against the primary repo.
func (g *Git) WorktreeList() ([]Worktree, error) {
	out, err := g.run(g.repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var worktrees []Worktree
	var current Worktree
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = Worktree{}
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees, nil
}

// Status represents the porcelain status of a worktree.
type Status struct {
	Clean     bool
	Modified  []string
	Added     []string
	Deleted   []string
	Untracked []string
}

// Status returns the working-tree status of the given worktree path.
func (g *Git) Status(worktreePath string) (*Status, error) {
	out, err := g.run(worktreePath, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	status := &Status{Clean: true}
	if out == "" {
		return status, nil
	}
	status.Clean = false
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		code := line[:2]
		file := line[3:]
		switch {
		case strings.Contains(code, "M"):
			status.Modified = append(status.Modified, file)
		case strings.Contains(code, "A"):
			status.Added = append(status.Added, file)
		case strings.Contains(code, "D"):
			status.Deleted = append(status.Deleted, file)
		case strings.Contains(code, "?"):
			status.Untracked = append(status.Untracked, file)
		}
	}
	return status, nil
}

// CommitAll stages every change in worktreePath and commits it.
func (g *Git) CommitAll(worktreePath, message string) error {
	if _, err := g.run(worktreePath, "add", "-A"); err != nil {
		return err
	}
	_, err := g.run(worktreePath, "commit", "-m", message)
	return err
}

// Push pushes branch from worktreePath to remote, force-pushing if the
// builder rewrote history (e.g. after a rebase onto a moved base).
func (g *Git) Push(worktreePath, remote, branch string, force bool) error {
	args := []string{"push", remote, branch}
	if force {
		args = append(args, "--force-with-lease")
	}
	_, err := g.run(worktreePath, args...)
	return err
}

// DeleteBranch deletes a local branch from the primary repo, used after a
// merge or an abandonment to reclaim the branch name.
func (g *Git) DeleteBranch(branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run(g.repoDir, "branch", flag, branch)
	return err
}

// BranchExists reports whether the named local branch exists.
func (g *Git) BranchExists(branch string) (bool, error) {
	_, err := g.run(g.repoDir, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		var gerr *GitError
		if asGitError(err, &gerr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func asGitError(err error, target **GitError) bool {
	ge, ok := err.(*GitError)
	if ok {
		*target = ge
	}
	return ok
}

// DefaultBranch returns the branch origin/HEAD points to, falling back to
// "main" when it cannot be determined (fresh clones without a fetched
// origin/HEAD symref).
func (g *Git) DefaultBranch() string {
	branch, err := g.run(g.repoDir, "symbolic-ref", "--short", "refs/remotes/origin/HEAD")
	if err == nil && branch != "" {
		return strings.TrimPrefix(branch, "origin/")
	}
	return "main"
}

// CurrentBranch returns the checked-out branch name for worktreePath.
func (g *Git) CurrentBranch(worktreePath string) (string, error) {
	return g.run(worktreePath, "rev-parse", "--abbrev-ref", "HEAD")
}

// Fetch updates the primary repo's view of remote, used before cutting a new
// worktree so EnsureWorktree starts from a current origin/main.
func (g *Git) Fetch(remote string) error {
	_, err := g.run(g.repoDir, "fetch", remote)
	return err
}
