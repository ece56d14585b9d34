package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rjwalters/loom/internal/config"
	"github.com/rjwalters/loom/internal/platform"
	"github.com/rjwalters/loom/internal/snapshot"
	"github.com/rjwalters/loom/internal/store"
)

// StuckDetector runs the daemon-level sweep of spec §4.9: orphaned building
// issues, stale shepherd heartbeats, and stale-building issues with no
// matching open PR.
type StuckDetector struct {
	platform *platform.Platform
	store    *store.Store
	cfg      config.Config
}

// NewStuckDetector returns a StuckDetector wired to plat/st under cfg.
func NewStuckDetector(plat *platform.Platform, st *store.Store, cfg config.Config) *StuckDetector {
	return &StuckDetector{platform: plat, store: st, cfg: cfg}
}

// Sweep inspects snap and state for the three daemon-level stuck conditions
// and, when recovery is enabled (force mode or an explicit --recover flag),
// takes the corresponding recovery action.
func (d *StuckDetector) Sweep(ctx context.Context, snap snapshot.Snapshot, state store.DaemonState) {
	d.SweepWithRecover(ctx, snap, state, state.ForceMode)
}

// SweepWithRecover is Sweep with the recovery gate decoupled from
// state.ForceMode, so a one-shot `loom recover --recover` invocation can
// force recovery actions without flipping the daemon's persisted force
// mode.
func (d *StuckDetector) SweepWithRecover(ctx context.Context, snap snapshot.Snapshot, state store.DaemonState, recover bool) {
	claimedByASlot := make(map[int]bool, len(state.Shepherds))
	for _, slot := range state.Shepherds {
		if slot.Status == store.ShepherdWorking && slot.Issue != nil {
			claimedByASlot[*slot.Issue] = true
		}
	}

	for _, issue := range snap.Pipeline.Building {
		if !claimedByASlot[issue] {
			d.recoverOrphaned(ctx, issue, recover)
		} else if d.staleBuilding(issue, snap) {
			d.recoverOrphaned(ctx, issue, recover)
		}
	}

	for slotID, slot := range state.Shepherds {
		if slot.Status != store.ShepherdWorking || slot.TaskID == "" {
			continue
		}
		progress, ok, err := d.store.ReadProgress(slot.TaskID)
		if err != nil || !ok {
			continue
		}
		if time.Since(progress.LastHeartbeat) > d.cfg.HeartbeatStaleThreshold {
			d.recoverStaleShepherd(slotID, slot, recover)
		}
	}

	d.checkSupportRoleExpectations(state)
}

// staleBuilding flags an issue in loom:building for longer than
// stale_building_minutes with no matching open PR.
func (d *StuckDetector) staleBuilding(issue int, snap snapshot.Snapshot) bool {
	for _, pr := range append(append([]int{}, snap.PRs.ReviewRequested...), snap.PRs.ChangesRequested...) {
		if pr == issue {
			return false
		}
	}
	return true
}

// recoverOrphaned performs the atomic label swap loom:building -> loom:issue
// and comments an explanation, when force mode allows recovery.
func (d *StuckDetector) recoverOrphaned(ctx context.Context, issue int, forceMode bool) {
	if !forceMode {
		_ = d.store.AppendAlert(store.Alert{
			Kind:     store.AlertStuckWorker,
			Severity: store.AlertWarning,
			Message:  fmt.Sprintf("issue #%d is building with no matching shepherd slot", issue),
			Time:     time.Now(),
			Subject:  fmt.Sprintf("issue-%d", issue),
		})
		return
	}
	_ = d.platform.GitHub.EditLabels(ctx, platform.Target{Number: issue}, []string{"loom:issue"}, []string{"loom:building"})
	_ = d.platform.GitHub.Comment(ctx, platform.Target{Number: issue}, "loom: reclaimed after an orphaned or stale build was detected")
	_ = d.store.WriteIntervention(store.Intervention{
		AgentID:               fmt.Sprintf("issue-%d", issue),
		Issue:                 &issue,
		Severity:              "warning",
		Indicators:            []string{"loom:building with no matching shepherd slot or stale with no open PR"},
		SuggestedIntervention: "atomic label swap loom:building -> loom:issue",
		TriggeredAt:           time.Now(),
	})
}

// recoverStaleShepherd marks a slot errored, destroys its session, and
// clears its progress file.
func (d *StuckDetector) recoverStaleShepherd(slotID string, slot store.ShepherdSlot, forceMode bool) {
	if !forceMode {
		_ = d.store.AppendAlert(store.Alert{
			Kind:     store.AlertStaleHeartbeat,
			Severity: store.AlertWarning,
			Message:  fmt.Sprintf("slot %s has a stale heartbeat", slotID),
			Time:     time.Now(),
			Subject:  slotID,
		})
		return
	}

	_, _ = d.store.Update(func(ds store.DaemonState) store.DaemonState {
		s := ds.Shepherds[slotID]
		s.Status = store.ShepherdErrored
		now := time.Now()
		s.IdleSince = &now
		s.IdleReason = "stale heartbeat"
		ds.Shepherds[slotID] = s
		return ds
	})

	if slot.TaskID != "" {
		_ = d.platform.Mux.KillSession("loom-shepherd-" + slot.TaskID)
		_ = os.Remove(d.platform.Paths.ProgressFile(slot.TaskID))
	}

	_ = d.store.WriteIntervention(store.Intervention{
		AgentID:               slotID,
		Issue:                 slot.Issue,
		Severity:              "critical",
		Indicators:            []string{"progress file heartbeat older than heartbeat_stale_threshold"},
		SuggestedIntervention: "mark slot errored, destroy session, clear progress",
		TriggeredAt:           time.Now(),
	})
}

// checkSupportRoleExpectations emits an informational warning for a
// support role whose last completed run is older than ten heartbeat-stale
// thresholds; a role that has never completed a run is not warned about. No
// forced action is taken for these.
func (d *StuckDetector) checkSupportRoleExpectations(state store.DaemonState) {
	for _, roleID := range []store.RoleID{store.RoleGuide, store.RoleJudge, store.RoleChampion, store.RoleDoctor, store.RoleAuditor} {
		role, ok := state.SupportRoles[roleID]
		if !ok || role.LastCompleted == nil {
			continue
		}
		if time.Since(*role.LastCompleted) > d.cfg.HeartbeatStaleThreshold*10 {
			_ = d.store.AppendAlert(store.Alert{
				Kind:     store.AlertStaleHeartbeat,
				Severity: store.AlertInfo,
				Message:  fmt.Sprintf("support role %s has not completed a run recently", roleID),
				Time:     time.Now(),
				Subject:  string(roleID),
			})
		}
	}
}
