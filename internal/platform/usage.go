package platform

import (
	"context"

	"github.com/google/go-github/v57/github"
)

// UsageReport is the result of a Check: how much of the GitHub REST rate
// limit budget has been consumed, expressed the same way the rest of the
// daemon expresses thresholds (a percent used, not a percent remaining).
type UsageReport struct {
	SessionPercent float64
	Limit          int
	Remaining      int
}

// Usage checks GitHub API rate-limit consumption. Per the design decision
// in spec §9, usage/rate-limit is advisory: a Check failure should never
// block an iteration, only skip the throttle it would otherwise apply.
type Usage struct {
	client *github.Client
}

// NewUsage wraps an existing go-github client for rate-limit inspection.
func NewUsage(client *github.Client) *Usage {
	return &Usage{client: client}
}

// Check queries the current rate-limit status. Callers treat an error as
// "unknown, proceed" rather than a hard failure.
func (u *Usage) Check(ctx context.Context) (UsageReport, error) {
	limits, _, err := u.client.RateLimit.Get(ctx)
	if err != nil {
		return UsageReport{}, err
	}
	core := limits.GetCore()
	if core == nil || core.Limit == 0 {
		return UsageReport{}, nil
	}
	used := core.Limit - core.Remaining
	return UsageReport{
		SessionPercent: 100 * float64(used) / float64(core.Limit),
		Limit:          core.Limit,
		Remaining:      core.Remaining,
	}, nil
}
