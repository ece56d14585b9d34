// Package store owns the daemon's authoritative on-disk documents:
// daemon-state.json, per-shepherd progress files, alerts, and health
// metrics. Every mutation goes through Update, which serializes writers and
// persists atomically (write-to-temp, rename).
package store

import "time"

// ShepherdStatus is the lifecycle state of a shepherd slot.
type ShepherdStatus string

const (
	ShepherdIdle    ShepherdStatus = "idle"
	ShepherdWorking ShepherdStatus = "working"
	ShepherdErrored ShepherdStatus = "errored"
	ShepherdPaused  ShepherdStatus = "paused"
)

// Phase names a shepherd's current pipeline stage.
type Phase string

const (
	PhaseCurator Phase = "curator"
	PhaseBuilder Phase = "builder"
	PhaseJudge   Phase = "judge"
	PhaseDoctor  Phase = "doctor"
	PhaseMerge   Phase = "merge"
)

// ShepherdSlot is one of shepherd-1..shepherd-N (spec §3.1).
type ShepherdSlot struct {
	SlotID     string         `json:"slot_id"`
	Status     ShepherdStatus `json:"status"`
	Issue      *int           `json:"issue,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	Phase      Phase          `json:"phase,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	PRNumber   *int           `json:"pr_number,omitempty"`
	IdleSince  *time.Time     `json:"idle_since,omitempty"`
	IdleReason string         `json:"idle_reason,omitempty"`
}

// SupportRoleStatus is the lifecycle state of a support role.
type SupportRoleStatus string

const (
	RoleIdle    SupportRoleStatus = "idle"
	RoleRunning SupportRoleStatus = "running"
	RoleErrored SupportRoleStatus = "errored"
)

// RoleID enumerates the support roles (spec §3.1).
type RoleID string

const (
	RoleGuide     RoleID = "guide"
	RoleJudge     RoleID = "judge"
	RoleChampion  RoleID = "champion"
	RoleDoctor    RoleID = "doctor"
	RoleAuditor   RoleID = "auditor"
	RoleArchitect RoleID = "architect"
	RoleHermit    RoleID = "hermit"
)

// SupportRole tracks the single concurrent instance allowed per role.
type SupportRole struct {
	RoleID        RoleID            `json:"role_id"`
	Status        SupportRoleStatus `json:"status"`
	TaskID        string            `json:"task_id,omitempty"`
	LastCompleted *time.Time        `json:"last_completed,omitempty"`
	LastResult    string            `json:"last_result,omitempty"`
}

// WarningSeverity classifies a daemon-state warning entry.
type WarningSeverity string

const (
	SeverityInfo     WarningSeverity = "info"
	SeverityWarning  WarningSeverity = "warning"
	SeverityCritical WarningSeverity = "critical"
)

// Warning is one entry of DaemonState.Warnings.
type Warning struct {
	Severity     WarningSeverity `json:"severity"`
	Message      string          `json:"message"`
	Time         time.Time       `json:"time"`
	Acknowledged bool            `json:"acknowledged"`
}

// PipelineState summarizes the issue pipeline as of the last snapshot.
type PipelineState struct {
	Ready       []int     `json:"ready"`
	Building    []int     `json:"building"`
	Blocked     []int     `json:"blocked"`
	LastUpdated time.Time `json:"last_updated"`
}

// IterationTiming tracks iteration duration statistics.
type IterationTiming struct {
	Last time.Duration `json:"last"`
	Avg  time.Duration `json:"avg"`
	Max  time.Duration `json:"max"`
}

// DaemonState is the single authoritative process-wide document (spec
// §3.1). Every field is exported so it round-trips through JSON verbatim.
type DaemonState struct {
	DaemonSessionID string `json:"daemon_session_id"`
	StartedAt       time.Time  `json:"started_at"`
	Running         bool       `json:"running"`
	Iteration       int        `json:"iteration"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
	ForceMode       bool       `json:"force_mode"`

	Shepherds    map[string]ShepherdSlot  `json:"shepherds"`
	SupportRoles map[RoleID]SupportRole   `json:"support_roles"`

	LastArchitectTrigger *time.Time `json:"last_architect_trigger,omitempty"`
	LastHermitTrigger    *time.Time `json:"last_hermit_trigger,omitempty"`

	PipelineState PipelineState `json:"pipeline_state"`
	Warnings      []Warning     `json:"warnings"`

	CompletedIssues []int `json:"completed_issues"`
	TotalPRsMerged  int   `json:"total_prs_merged"`

	IterationTiming IterationTiming `json:"iteration_timing"`
}

// Milestone is one entry of a ProgressFile's milestone log.
type Milestone struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// ProgressStatus is the terminal-or-not state of a shepherd's progress.
type ProgressStatus string

const (
	ProgressWorking   ProgressStatus = "working"
	ProgressCompleted ProgressStatus = "completed"
	ProgressError     ProgressStatus = "error"
)

// ProgressFile is the per-shepherd document keyed by task_id (spec §3.1).
type ProgressFile struct {
	TaskID       string         `json:"task_id"`
	Issue        int            `json:"issue"`
	CurrentPhase Phase          `json:"current_phase"`
	Milestones   []Milestone    `json:"milestones"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	Status       ProgressStatus `json:"status"`
}
