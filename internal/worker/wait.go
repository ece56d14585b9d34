package worker

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rjwalters/loom/internal/phase"
	"github.com/rjwalters/loom/internal/signalbus"
	"github.com/rjwalters/loom/internal/store"
)

// WaitResultKind enumerates the sum type a Wait call can resolve to.
type WaitResultKind string

const (
	Completed      WaitResultKind = "completed"
	TimedOut       WaitResultKind = "timeout"
	NotFound       WaitResultKind = "not_found"
	SignalReceived WaitResultKind = "signal_received"
	StuckResult    WaitResultKind = "stuck"
)

// StuckAction is the recovery action taken (or recommended) on a stuck wait.
type StuckAction string

const (
	StuckNone    StuckAction = ""
	StuckPause   StuckAction = "pause"
	StuckRestart StuckAction = "restart"
	StuckRetry   StuckAction = "retry"
)

// WaitResult is the outcome of a Wait call.
type WaitResult struct {
	Kind   WaitResultKind
	Reason string
	Action StuckAction
}

// WaitOptions parameterizes Wait with the context needed to validate a
// phase contract and to emit heartbeats.
type WaitOptions struct {
	Issue     *int
	Phase     store.Phase
	WorktreePath string
	PR        *int
	TaskID    string
	Validator phase.Validator
	Progress  func(store.ProgressFile) // optional, called to refresh heartbeat
}

var completionPatterns = map[store.Phase]*regexp.Regexp{
	store.PhaseBuilder: regexp.MustCompile(`https://github\.com/[^/\s]+/[^/\s]+/pull/\d+`),
	store.PhaseJudge:    regexp.MustCompile(`loom:pr|loom:changes-requested`),
	store.PhaseDoctor:   regexp.MustCompile(`loom:review-requested`),
	store.PhaseCurator:  regexp.MustCompile(`loom:curated`),
}

var exitPattern = regexp.MustCompile(`/exit\b`)
var planApprovalPattern = regexp.MustCompile(`Would you like to proceed`)

// Wait blocks (cooperatively, via ctx) until the worker session completes,
// times out, is signaled, or is declared stuck. Three completion mechanisms
// race each poll cycle: proactive and idle-triggered phase-contract checks,
// and a log-pattern scan; the first to fire wins.
func (s *Supervisor) Wait(ctx context.Context, name string, timeout time.Duration, opts WaitOptions) (WaitResult, error) {
	sess := sessionName(name)
	deadline := time.Now().Add(timeout)

	var lastContractCheck time.Time
	var approvalSent bool
	var stuckWarnedAt time.Time
	var promptStuckSince time.Time
	var promptRecoveryTried bool

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	lastHeartbeat := time.Now()

	for {
		select {
		case <-ctx.Done():
			return WaitResult{Kind: SignalReceived, Reason: "context canceled"}, nil
		case <-ticker.C:
		}

		exists, err := s.platform.Mux.HasSession(sess)
		if err != nil {
			return WaitResult{}, err
		}
		if !exists {
			return WaitResult{Kind: NotFound, Reason: "session no longer exists"}, nil
		}

		if s.bus.HasAgent(signalbus.StopAgent, name) {
			return WaitResult{Kind: SignalReceived, Reason: "stop signal"}, nil
		}

		if opts.TaskID != "" && opts.Progress != nil && time.Since(lastHeartbeat) >= 60*time.Second {
			lastHeartbeat = time.Now()
			opts.Progress(store.ProgressFile{
				TaskID:        opts.TaskID,
				LastHeartbeat: lastHeartbeat,
				Status:        store.ProgressWorking,
			})
		}

		pane, err := s.platform.Mux.CapturePane(sess)
		if err != nil {
			return WaitResult{}, err
		}

		if !approvalSent && planApprovalPattern.MatchString(pane) {
			_ = s.platform.Mux.SendKeys(sess, "1")
			approvalSent = true
		}

		idleFor := s.observePane(name, pane)
		if age := time.Since(lastHeartbeat); age > idleFor {
			idleFor = age
		}
		if age := outputFileIdleAge(s.platform.Paths.WorkerLog(name)); age > idleFor {
			idleFor = age
		}

		// Mechanism 1: proactive phase-contract check every contract_interval.
		if time.Since(lastContractCheck) >= s.cfg.ContractInterval {
			lastContractCheck = time.Now()
			if opts.Validator != nil {
				res, err := opts.Validator.Check(ctx, phase.Target{Issue: opts.Issue, PR: opts.PR})
				if err == nil && (res == phase.Satisfied || res == phase.Recovered) {
					return WaitResult{Kind: Completed, Reason: "phase_contract_satisfied"}, nil
				}
			}
		}

		// Mechanism 2: idle-triggered phase-contract check.
		if idleFor >= s.cfg.IdleTimeout && opts.Validator != nil {
			res, err := opts.Validator.Check(ctx, phase.Target{Issue: opts.Issue, PR: opts.PR})
			if err == nil && (res == phase.Satisfied || res == phase.Recovered) {
				return WaitResult{Kind: Completed, Reason: "phase_contract_satisfied"}, nil
			}
		}

		// Mechanism 3: log-pattern scan over the tail of the pane.
		if matched := matchCompletionPattern(opts.Phase, pane); matched {
			time.Sleep(3 * time.Second)
			if opts.Validator != nil {
				res, err := opts.Validator.Check(ctx, phase.Target{Issue: opts.Issue, PR: opts.PR})
				if err == nil && (res == phase.Satisfied || res == phase.Recovered) {
					return WaitResult{Kind: Completed, Reason: "log_pattern_then_contract"}, nil
				}
			} else {
				return WaitResult{Kind: Completed, Reason: "log_pattern"}, nil
			}
		}

		// Fast stuck-at-prompt detector.
		if looksLikePromptIdle(pane) {
			if promptStuckSince.IsZero() {
				promptStuckSince = time.Now()
			} else if time.Since(promptStuckSince) >= s.cfg.PromptStuckThreshold && !promptRecoveryTried {
				promptRecoveryTried = true
				_ = s.platform.Mux.SendKeys(sess, "")
				time.Sleep(2 * time.Second)
				pane2, _ := s.platform.Mux.CapturePane(sess)
				if looksLikePromptIdle(pane2) {
					_ = s.platform.Mux.SendKeys(sess, "/"+string(opts.Phase)+promptArg(opts))
				} else {
					promptStuckSince = time.Time{}
					promptRecoveryTried = false
				}
			}
		} else {
			promptStuckSince = time.Time{}
			promptRecoveryTried = false
		}

		// Stuck-by-idle-duration detection.
		if idleFor >= s.cfg.StuckCritical {
			switch action := s.stuckActionFor(); action {
			case StuckPause, StuckRestart, StuckRetry:
				s.captureDiagnostics(name, sess, pane)
				if action == StuckPause {
					_ = s.bus.RaisePauseAgent(name)
				} else {
					_ = s.Destroy(name, true)
				}
				return WaitResult{Kind: StuckResult, Reason: "critical_idle", Action: action}, nil
			}
		} else if idleFor >= s.cfg.StuckWarning && stuckWarnedAt.IsZero() {
			stuckWarnedAt = time.Now()
		}

		if time.Now().After(deadline) {
			return WaitResult{Kind: TimedOut, Reason: "wait timeout exceeded"}, nil
		}
	}
}

// promptArg formats the argument the phase slash-command expects: the issue
// number for issue-scoped phases, the PR number for PR-scoped ones.
func promptArg(opts WaitOptions) string {
	switch {
	case opts.Issue != nil:
		return fmt.Sprintf(" %d", *opts.Issue)
	case opts.PR != nil:
		return fmt.Sprintf(" %d", *opts.PR)
	default:
		return ""
	}
}

func (s *Supervisor) stuckActionFor() StuckAction {
	switch s.cfg.StuckAction {
	case "pause":
		return StuckPause
	case "restart":
		return StuckRestart
	case "retry":
		return StuckRetry
	default:
		return StuckNone
	}
}

func (s *Supervisor) captureDiagnostics(name, sess, pane string) {
	history, _ := s.platform.Mux.CapturePaneHistory(sess, 200)
	logTail := ""
	if data, err := readTail(s.platform.Paths.WorkerLog(name), 4096); err == nil {
		logTail = data
	}
	content := fmt.Sprintf("=== pane tail ===\n%s\n=== history ===\n%s\n=== log tail ===\n%s\n", pane, history, logTail)
	path := s.platform.Paths.DiagnosticFile(name, time.Now())
	_ = writeDiagnostic(path, content)
}

// outputFileIdleAge returns how long a worker's log file has gone without a
// write, or zero if it cannot be stat'd (e.g. not yet created).
func outputFileIdleAge(path string) time.Duration {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return time.Since(info.ModTime())
}

func matchCompletionPattern(p store.Phase, pane string) bool {
	if re, ok := completionPatterns[p]; ok && re.MatchString(pane) {
		return true
	}
	return exitPattern.MatchString(pane)
}

func looksLikePromptIdle(pane string) bool {
	trimmed := strings.TrimRight(pane, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 {
		return false
	}
	last := lines[len(lines)-1]
	if strings.Contains(last, "⠋") || strings.Contains(last, "⠙") || strings.Contains(last, "...") {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(last), "/")
}
