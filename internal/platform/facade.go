// Package platform is the daemon's sole boundary to the outside world:
// processes, tmux, git, GitHub, the filesystem, and the clock. Every other
// package depends on Platform instead of shelling out or importing
// os/exec/github directly, so tests can substitute fakes at this one seam.
package platform

import "context"

// Platform aggregates every external-world facade the daemon uses. Higher
// layers (worker, shepherd, scheduler) take a *Platform rather than its
// individual members so call sites read as "ask the platform", matching
// spec §4.1's single enumerated facade.
type Platform struct {
	Paths  Paths
	Git    *Git
	Mux    *Mux
	GitHub *GitHub
	Usage  *Usage
	Clock  Clock
}

// New assembles a production Platform rooted at loomDir, operating on
// repoDir's git checkout, talking to owner/repo on GitHub with token.
func New(ctx context.Context, loomDir, repoDir, owner, repo, token string) *Platform {
	gh := NewGitHub(ctx, owner, repo, token)
	return &Platform{
		Paths:  NewPaths(loomDir),
		Git:    NewGit(repoDir),
		Mux:    NewMux(),
		GitHub: gh,
		Usage:  NewUsage(gh.Client()),
		Clock:  SystemClock{},
	}
}
