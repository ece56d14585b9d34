package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rjwalters/loom/internal/cli"
	"github.com/rjwalters/loom/internal/config"
	"github.com/rjwalters/loom/internal/platform"
	"github.com/rjwalters/loom/internal/signalbus"
	"github.com/rjwalters/loom/internal/store"
)

var (
	flagRepoDir string
	flagOwner   string
	flagRepo    string
	flagToken   string
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Autonomous software-development orchestrator",
	Long: "loom polls GitHub issues and PRs, classifies them by workflow label,\n" +
		"and spawns short-lived LLM-agent workers to carry each issue through\n" +
		"curation, building, judging, and merge.",
	SilenceUsage: true,
}

func init() {
	cmdName := cli.Name()
	rootCmd.Use = cmdName

	rootCmd.PersistentFlags().StringVar(&flagRepoDir, "dir", ".", "repository root (the .loom state directory lives under it)")
	rootCmd.PersistentFlags().StringVar(&flagOwner, "owner", os.Getenv("LOOM_GITHUB_OWNER"), "GitHub repository owner")
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", os.Getenv("LOOM_GITHUB_REPO"), "GitHub repository name")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "GitHub token (default: GITHUB_TOKEN or GH_TOKEN env)")

	rootCmd.AddCommand(daemonCmd, shepherdCmd, watchCmd, recoverCmd)
}

// Execute runs the root command and returns a process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := asExitCode(err); ok {
			return code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// exitCodeErr lets a subcommand RunE propagate a specific process exit
// code (spec §6.5) instead of cobra's default 1.
type exitCodeErr struct {
	code int
	msg  string
}

func (e *exitCodeErr) Error() string { return e.msg }

func asExitCode(err error) (int, bool) {
	if e, ok := err.(*exitCodeErr); ok {
		return e.code, true
	}
	return 0, false
}

func githubToken() string {
	if flagToken != "" {
		return flagToken
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		return v
	}
	return os.Getenv("GH_TOKEN")
}

// resolveOwnerRepo fills in owner/repo from `git remote get-url origin`
// when the flags/env vars were left unset.
func resolveOwnerRepo(repoDir string) (owner, repo string, err error) {
	owner, repo = flagOwner, flagRepo
	if owner != "" && repo != "" {
		return owner, repo, nil
	}

	out, err := exec.Command("git", "-C", repoDir, "remote", "get-url", "origin").Output()
	if err != nil {
		return "", "", fmt.Errorf("no --owner/--repo given and origin remote could not be read: %w", err)
	}
	parsedOwner, parsedRepo, ok := parseGitHubRemote(strings.TrimSpace(string(out)))
	if !ok {
		return "", "", fmt.Errorf("could not parse GitHub owner/repo from origin remote %q", strings.TrimSpace(string(out)))
	}
	if owner == "" {
		owner = parsedOwner
	}
	if repo == "" {
		repo = parsedRepo
	}
	return owner, repo, nil
}

// parseGitHubRemote extracts owner/repo from an https or ssh GitHub remote
// URL, e.g. "git@github.com:owner/repo.git" or "https://github.com/owner/repo".
func parseGitHubRemote(url string) (owner, repo string, ok bool) {
	url = strings.TrimSuffix(url, ".git")
	switch {
	case strings.HasPrefix(url, "git@github.com:"):
		url = strings.TrimPrefix(url, "git@github.com:")
	case strings.Contains(url, "github.com/"):
		idx := strings.Index(url, "github.com/")
		url = url[idx+len("github.com/"):]
	default:
		return "", "", false
	}
	parts := strings.SplitN(url, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// daemonContext bundles the assembled platform/store/bus/config collaborators
// every daemon-facing subcommand needs.
type daemonContext struct {
	platform *platform.Platform
	store    *store.Store
	bus      *signalbus.Bus
	cfg      config.Config
	loomDir  string
}

func buildDaemonContext(ctx context.Context) (*daemonContext, error) {
	repoDir, err := filepath.Abs(flagRepoDir)
	if err != nil {
		return nil, err
	}
	owner, repo, err := resolveOwnerRepo(repoDir)
	if err != nil {
		return nil, err
	}

	loomDir := filepath.Join(repoDir, ".loom")
	paths := platform.NewPaths(loomDir)
	if err := paths.EnsureLayout(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(loomDir)
	if err != nil {
		return nil, err
	}

	plat := platform.New(ctx, loomDir, repoDir, owner, repo, githubToken())
	st := store.New(paths)
	bus := signalbus.New(paths)

	return &daemonContext{platform: plat, store: st, bus: bus, cfg: cfg, loomDir: loomDir}, nil
}
