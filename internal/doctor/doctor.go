// Package doctor implements the read-only (and optionally self-healing)
// diagnostic checks behind `loom daemon doctor` and `loom daemon health`
// (spec §6.3): a fixed set of Check implementations, each inspecting one
// piece of daemon state or its surrounding environment and reporting OK,
// Warning, or Error.
package doctor

import (
	"context"

	"github.com/rjwalters/loom/internal/platform"
)

// Status is the outcome of a single check.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Category groups related checks for display purposes.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryState     Category = "state"
	CategoryWorktree  Category = "worktree"
	CategoryProcess   Category = "process"
)

// CheckResult is what a Check reports for one Run.
type CheckResult struct {
	Name     string
	Status   Status
	Message  string
	Details  []string
	FixHint  string
	Category Category
}

// CheckContext is the read-only view a Check needs of the daemon's world.
// It deliberately carries the *platform.Platform facade rather than raw
// paths, so checks exercise the same seam as the daemon itself.
type CheckContext struct {
	Ctx      context.Context
	Platform *platform.Platform
	Fix      bool // true when running under `doctor --fix`
}

// Check is one diagnostic probe.
type Check interface {
	Name() string
	Description() string
	Category() Category
	Run(ctx *CheckContext) *CheckResult
}

// Fixable is implemented by checks that know how to repair what they find.
type Fixable interface {
	Check
	Fix(ctx *CheckContext) error
}

// BaseCheck supplies the identity fields every Check embeds.
type BaseCheck struct {
	CheckName        string
	CheckDescription string
	CheckCategory    Category
}

func (c BaseCheck) Name() string            { return c.CheckName }
func (c BaseCheck) Description() string     { return c.CheckDescription }
func (c BaseCheck) Category() Category      { return c.CheckCategory }

// FixableCheck is embedded by checks that also implement Fix, so the
// identity plumbing stays in one place.
type FixableCheck struct {
	BaseCheck
}

// All returns the full set of checks `loom daemon doctor` runs.
func All() []Check {
	return []Check{
		NewGitRepoCheck(),
		NewTmuxAvailableCheck(),
		NewGitHubTokenCheck(),
		NewDaemonStateValidCheck(),
		NewOrphanedWorktreesCheck(),
		NewStaleLocksCheck(),
		NewStaleSignalsCheck(),
	}
}

// Run executes every check in checks against ctx, in order.
func Run(checks []Check, ctx *CheckContext) []*CheckResult {
	results := make([]*CheckResult, 0, len(checks))
	for _, c := range checks {
		result := c.Run(ctx)
		if result.Category == "" {
			result.Category = c.Category()
		}
		results = append(results, result)
	}
	return results
}

// Worst returns the most severe status across results, OK if results is
// empty. Error outranks Warning outranks OK.
func Worst(results []*CheckResult) Status {
	worst := StatusOK
	for _, r := range results {
		switch r.Status {
		case StatusError:
			return StatusError
		case StatusWarning:
			worst = StatusWarning
		}
	}
	return worst
}

// ExitCode maps a Status to the daemon health/doctor exit code convention
// (spec §6.3): 0 healthy, 1 warnings, 2 critical.
func ExitCode(s Status) int {
	switch s {
	case StatusError:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}
