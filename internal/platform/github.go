package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Issue is the daemon's view of a GitHub issue, trimmed to the fields the
// pipeline state machine needs (spec §3.1).
type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string
	Labels    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PullRequest is the daemon's view of a GitHub pull request.
type PullRequest struct {
	Number     int
	HeadBranch string
	Body       string
	State      string
	Labels     []string
}

// Target identifies an issue or a PR for label/comment operations; GitHub
// treats both as "issues" at the API layer, but the facade keeps them
// distinct typed numbers so callers cannot mix up an issue and a PR number.
type Target struct {
	Number int
}

// GitHub is a narrow, typed facade over the subset of the GitHub REST API
// the daemon needs. It deliberately does not expose the underlying client:
// every operation the daemon performs is named for what it does to the
// pipeline state machine, not for the HTTP shape.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGitHub builds a facade for owner/repo authenticated with token.
func NewGitHub(ctx context.Context, owner, repo, token string) *GitHub {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &GitHub{
		client: github.NewClient(tc),
		owner:  owner,
		repo:   repo,
	}
}

// Client exposes the underlying client for components (Usage) that need
// lower-level access the narrow facade does not cover.
func (g *GitHub) Client() *github.Client { return g.client }

func toIssue(gi *github.Issue) Issue {
	labels := make([]string, 0, len(gi.Labels))
	for _, l := range gi.Labels {
		labels = append(labels, l.GetName())
	}
	return Issue{
		Number:    gi.GetNumber(),
		Title:     gi.GetTitle(),
		Body:      gi.GetBody(),
		State:     gi.GetState(),
		Labels:    labels,
		CreatedAt: gi.GetCreatedAt().Time,
		UpdatedAt: gi.GetUpdatedAt().Time,
	}
}

// ListIssuesByLabel returns open issues (excluding pull requests) carrying
// label, paging until exhausted.
func (g *GitHub) ListIssuesByLabel(ctx context.Context, label string) ([]Issue, error) {
	opts := &github.IssueListByRepoOptions{
		Labels: []string{label},
		State:  "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var issues []Issue
	for {
		page, resp, err := g.client.Issues.ListByRepo(ctx, g.owner, g.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing issues labeled %s: %w", label, err)
		}
		for _, gi := range page {
			if gi.IsPullRequest() {
				continue
			}
			issues = append(issues, toIssue(gi))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return issues, nil
}

// ListPRsByLabel returns open pull requests carrying label. go-github has no
// direct "PRs by label" search, so this lists issues with IsPullRequest set
// and resolves each one to its PR view.
func (g *GitHub) ListPRsByLabel(ctx context.Context, label string) ([]PullRequest, error) {
	opts := &github.IssueListByRepoOptions{
		Labels: []string{label},
		State:  "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var prs []PullRequest
	for {
		page, resp, err := g.client.Issues.ListByRepo(ctx, g.owner, g.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing PRs labeled %s: %w", label, err)
		}
		for _, gi := range page {
			if !gi.IsPullRequest() {
				continue
			}
			pr, err := g.ViewPR(ctx, gi.GetNumber())
			if err != nil {
				return nil, err
			}
			prs = append(prs, pr)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return prs, nil
}

// ViewIssue fetches a single issue by number.
func (g *GitHub) ViewIssue(ctx context.Context, number int) (Issue, error) {
	gi, _, err := g.client.Issues.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		return Issue{}, fmt.Errorf("viewing issue #%d: %w", number, err)
	}
	return toIssue(gi), nil
}

// ViewPR fetches a single pull request by number.
func (g *GitHub) ViewPR(ctx context.Context, number int) (PullRequest, error) {
	pr, _, err := g.client.PullRequests.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		return PullRequest{}, fmt.Errorf("viewing PR #%d: %w", number, err)
	}
	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}
	return PullRequest{
		Number:     pr.GetNumber(),
		HeadBranch: pr.GetHead().GetRef(),
		Body:       pr.GetBody(),
		State:      pr.GetState(),
		Labels:     labels,
	}, nil
}

// EditLabels atomically swaps labels on an issue or PR: the remove set is
// applied, then the add set, within a single conceptual operation so no
// intermediate state (e.g. both loom:issue and loom:building present at
// once) is ever observable by a racing reader. GitHub's REST API has no
// true multi-label transaction, so this issues a Get+Replace pair; callers
// rely on the per-issue lock (spec §4.6) to prevent concurrent editors.
func (g *GitHub) EditLabels(ctx context.Context, target Target, add, remove []string) error {
	current, _, err := g.client.Issues.Get(ctx, g.owner, g.repo, target.Number)
	if err != nil {
		return fmt.Errorf("reading labels for #%d: %w", target.Number, err)
	}

	removeSet := make(map[string]bool, len(remove))
	for _, r := range remove {
		removeSet[r] = true
	}

	next := make(map[string]bool)
	for _, l := range current.Labels {
		name := l.GetName()
		if !removeSet[name] {
			next[name] = true
		}
	}
	for _, a := range add {
		next[a] = true
	}

	names := make([]string, 0, len(next))
	for name := range next {
		names = append(names, name)
	}

	_, _, err = g.client.Issues.Edit(ctx, g.owner, g.repo, target.Number, &github.IssueRequest{
		Labels: &names,
	})
	if err != nil {
		return fmt.Errorf("updating labels on #%d: %w", target.Number, err)
	}
	return nil
}

// CreatePR opens a pull request from branch against the repository's
// default branch and applies labels.
func (g *GitHub) CreatePR(ctx context.Context, branch, title, body string, labels []string) (PullRequest, error) {
	repo, _, err := g.client.Repositories.Get(ctx, g.owner, g.repo)
	if err != nil {
		return PullRequest{}, fmt.Errorf("resolving default branch: %w", err)
	}
	base := repo.GetDefaultBranch()

	pr, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: &title,
		Head:  &branch,
		Base:  &base,
		Body:  &body,
	})
	if err != nil {
		return PullRequest{}, fmt.Errorf("creating PR from %s: %w", branch, err)
	}

	if len(labels) > 0 {
		if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, pr.GetNumber(), labels); err != nil {
			return PullRequest{}, fmt.Errorf("labeling PR #%d: %w", pr.GetNumber(), err)
		}
	}

	return g.ViewPR(ctx, pr.GetNumber())
}

// MergePR merges a pull request, optionally squashing and deleting the head
// branch afterward.
func (g *GitHub) MergePR(ctx context.Context, number int, squash, deleteBranch bool) error {
	method := "merge"
	if squash {
		method = "squash"
	}
	result, _, err := g.client.PullRequests.Merge(ctx, g.owner, g.repo, number, "", &github.PullRequestOptions{
		MergeMethod: method,
	})
	if err != nil {
		return fmt.Errorf("merging PR #%d: %w", number, err)
	}
	if !result.GetMerged() {
		return fmt.Errorf("merging PR #%d: %s", number, result.GetMessage())
	}

	if deleteBranch {
		pr, _, err := g.client.PullRequests.Get(ctx, g.owner, g.repo, number)
		if err != nil {
			return fmt.Errorf("resolving head branch for #%d: %w", number, err)
		}
		ref := "heads/" + pr.GetHead().GetRef()
		if _, err := g.client.Git.DeleteRef(ctx, g.owner, g.repo, ref); err != nil {
			return fmt.Errorf("deleting branch %s: %w", pr.GetHead().GetRef(), err)
		}
	}
	return nil
}

// Comment posts a comment on an issue or PR (GitHub treats both as issues
// for the comments endpoint).
func (g *GitHub) Comment(ctx context.Context, target Target, body string) error {
	_, _, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, target.Number, &github.IssueComment{
		Body: &body,
	})
	if err != nil {
		return fmt.Errorf("commenting on #%d: %w", target.Number, err)
	}
	return nil
}

// UpdatePRBody replaces a pull request's body, e.g. to append a Closes
// reference a recovery step has computed locally.
func (g *GitHub) UpdatePRBody(ctx context.Context, number int, body string) error {
	_, _, err := g.client.PullRequests.Edit(ctx, g.owner, g.repo, number, &github.PullRequest{
		Body: &body,
	})
	if err != nil {
		return fmt.Errorf("updating body for PR #%d: %w", number, err)
	}
	return nil
}

// BranchName returns the conventional feature branch name for an issue,
// used both to open PRs and to search for an existing one by head ref.
func BranchName(issue int) string {
	return fmt.Sprintf("feature/issue-%d", issue)
}

// ReferencesIssue reports whether body closes/fixes/resolves issue number,
// the keyword-fallback half of the branch-first-then-keyword PR search
// resolved in spec §9.
func ReferencesIssue(body string, issue int) bool {
	body = strings.ToLower(body)
	for _, verb := range []string{"closes", "fixes", "resolves"} {
		if strings.Contains(body, fmt.Sprintf("%s #%d", verb, issue)) {
			return true
		}
	}
	return false
}
