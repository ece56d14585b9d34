// Package scheduler implements the daemon's main iteration loop (spec
// §4.8): build a Snapshot, consume its recommended actions under resource
// caps, collect completed shepherd tasks, update timing/health, and sleep
// an interruptible, backed-off interval before repeating.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rjwalters/loom/internal/config"
	"github.com/rjwalters/loom/internal/health"
	"github.com/rjwalters/loom/internal/platform"
	"github.com/rjwalters/loom/internal/shepherd"
	"github.com/rjwalters/loom/internal/signalbus"
	"github.com/rjwalters/loom/internal/snapshot"
	"github.com/rjwalters/loom/internal/store"
	"github.com/rjwalters/loom/internal/worker"
)

// Scheduler owns the daemon's main loop.
type Scheduler struct {
	platform   *platform.Platform
	store      *store.Store
	bus        *signalbus.Bus
	cfg        config.Config
	health     *health.Monitor
	supervisor *worker.Supervisor
	executor   *worker.Executor
	orch       *shepherd.Orchestrator

	sessionID string

	tasksMu sync.Mutex
	tasks   map[string]*shepherdTask // keyed by task_id

	currentBackoff      time.Duration
	consecutiveFailures int
}

// shepherdTask tracks one in-flight shepherd orchestrator run.
type shepherdTask struct {
	taskID string
	issue  int
	slotID string
	done   chan shepherd.Result
}

// New assembles a Scheduler from its collaborators. sessionID is the
// daemon's own daemon_session_id, checked against the state file every
// iteration to enforce single ownership (I1).
func New(plat *platform.Platform, st *store.Store, bus *signalbus.Bus, cfg config.Config, sessionID string) *Scheduler {
	supervisor := worker.NewSupervisor(plat, bus, cfg)
	executor := worker.NewExecutor(supervisor, st, cfg.StuckMaxRetries)
	orch := shepherd.New(plat, st, bus, cfg, executor)

	return &Scheduler{
		platform:       plat,
		store:          st,
		bus:            bus,
		cfg:            cfg,
		health:         health.NewMonitor(st, health.DefaultThresholds()),
		supervisor:     supervisor,
		executor:       executor,
		orch:           orch,
		sessionID:      sessionID,
		tasks:          make(map[string]*shepherdTask),
		currentBackoff: cfg.PollInterval,
	}
}

// Run executes the daemon loop until a graceful shutdown signal is observed
// or ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if s.bus.Has(signalbus.GracefulShutdown) {
			return s.shutdown()
		}

		ok, err := s.store.ValidateOwnership(s.sessionID)
		if err != nil {
			return fmt.Errorf("validating ownership: %w", err)
		}
		if !ok {
			return fmt.Errorf("lost daemon ownership: another session holds daemon_session_id")
		}

		iterErr := s.iterate(ctx)
		s.applyBackoff(iterErr)

		if err := s.sleepInterruptible(ctx, s.currentBackoff); err != nil {
			return err
		}
	}
}

// sleepInterruptible waits d, waking early (and returning nil so the loop
// re-checks the signal bus immediately) if a shutdown or stop signal is
// raised during the wait, per spec §5's cancellable-sleep requirement.
func (s *Scheduler) sleepInterruptible(ctx context.Context, d time.Duration) error {
	const pollInterval = 1 * time.Second
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.bus.Has(signalbus.GracefulShutdown) || s.bus.Has(signalbus.StopAllShepherds) {
				return nil
			}
		}
	}
}

func (s *Scheduler) shutdown() error {
	_, err := s.store.Update(func(d store.DaemonState) store.DaemonState {
		now := time.Now()
		d.Running = false
		d.StoppedAt = &now
		return d
	})
	return err
}

// iterate runs exactly one scheduler tick (spec §4.8 steps 3-6).
func (s *Scheduler) iterate(ctx context.Context) error {
	start := time.Now()
	iterCtx, cancel := context.WithTimeout(ctx, s.cfg.IterationTimeout)
	defer cancel()

	state, err := s.store.Read()
	if err != nil {
		return err
	}

	snap, err := snapshot.Build(iterCtx, s.platform.GitHub, s.platform.Usage, state, s.cfg)
	if err != nil {
		return err
	}

	if err := s.consumeActions(iterCtx, snap, state); err != nil {
		return err
	}

	completed := s.collectCompleted()

	_, err = s.store.Update(func(d store.DaemonState) store.DaemonState {
		d.Iteration++
		d.PipelineState = store.PipelineState{
			Ready:       snap.Pipeline.Ready,
			Building:    snap.Pipeline.Building,
			Blocked:     snap.Pipeline.Blocked,
			LastUpdated: snap.Timestamp,
		}
		for _, c := range completed {
			delete(d.Shepherds, c.slotID)
			d.Shepherds[c.slotID] = store.ShepherdSlot{SlotID: c.slotID, Status: store.ShepherdIdle}
			if c.result.Success {
				d.CompletedIssues = append(d.CompletedIssues, c.issue)
				if c.result.PRNumber != nil {
					d.TotalPRsMerged++
				}
			}
		}
		elapsed := time.Since(start)
		d.IterationTiming.Last = elapsed
		d.IterationTiming.Avg = rollingAvg(d.IterationTiming.Avg, elapsed, d.Iteration)
		if elapsed > d.IterationTiming.Max {
			d.IterationTiming.Max = elapsed
		}
		return d
	})
	if err != nil {
		return err
	}

	result := health.IterationResult{
		Status:          "success",
		DurationSeconds: time.Since(start).Seconds(),
	}
	return s.health.Sample(snap, result, time.Now())
}

type completedTask struct {
	slotID string
	issue  int
	result shepherd.Result
}

// consumeActions executes snap.Computed.RecommendedActions in order,
// subject to resource caps (spec §4.8 step 4).
func (s *Scheduler) consumeActions(ctx context.Context, snap snapshot.Snapshot, state store.DaemonState) error {
	for _, action := range snap.Computed.RecommendedActions {
		switch action {
		case snapshot.ActionPromoteProposals:
			if err := s.promoteProposals(ctx, snap, state); err != nil {
				return err
			}
		case snapshot.ActionSpawnShepherds:
			if err := s.spawnShepherds(ctx, snap, state); err != nil {
				return err
			}
		case snapshot.ActionTriggerArchitect:
			s.triggerSupportRole(ctx, store.RoleArchitect, "architect")
		case snapshot.ActionTriggerHermit:
			s.triggerSupportRole(ctx, store.RoleHermit, "hermit")
		case snapshot.ActionCheckStuck:
			s.checkStuck(ctx, snap, state)
		case snapshot.ActionWait:
			// no-op
		}
	}
	return nil
}

// promoteProposals bulk-edits architect/hermit proposal labels to curated
// under force mode.
func (s *Scheduler) promoteProposals(ctx context.Context, snap snapshot.Snapshot, state store.DaemonState) error {
	if !state.ForceMode {
		return nil
	}
	for _, issue := range append(append([]int{}, snap.Proposals.Architect...), snap.Proposals.Hermit...) {
		if err := s.platform.GitHub.EditLabels(ctx, platform.Target{Number: issue}, []string{"loom:curated"}, []string{"loom:architect", "loom:hermit"}); err != nil {
			return err
		}
	}
	return nil
}

// spawnShepherds reserves an idle slot for each of up to available_slots
// ready issues and launches a concurrent shepherd orchestrator run for each.
// It does not claim the issue or create a worktree itself; the orchestrator
// run does both, and no rollback is performed here.
func (s *Scheduler) spawnShepherds(ctx context.Context, snap snapshot.Snapshot, state store.DaemonState) error {
	available := snap.Computed.AvailableSlots
	if available <= 0 {
		return nil
	}

	idleSlots := idleSlotIDs(state, s.cfg.MaxShepherds)
	n := 0
	for _, issue := range snap.Pipeline.Ready {
		if n >= available || n >= len(idleSlots) {
			break
		}
		slotID := idleSlots[n]
		taskID, err := newTaskID()
		if err != nil {
			return err
		}

		if _, err := s.store.Update(func(d store.DaemonState) store.DaemonState {
			now := time.Now()
			d.Shepherds[slotID] = store.ShepherdSlot{
				SlotID: slotID, Status: store.ShepherdWorking,
				Issue: intPtr(issue), TaskID: taskID, Phase: store.PhaseCurator,
				StartedAt: &now,
			}
			return d
		}); err != nil {
			return err
		}

		s.launch(slotID, taskID, issue)
		n++
	}
	return nil
}

// launch runs the shepherd orchestrator for one issue as a background task,
// recording it so a later iteration's collectCompleted can reap it.
func (s *Scheduler) launch(slotID, taskID string, issue int) {
	done := make(chan shepherd.Result, 1)
	task := &shepherdTask{taskID: taskID, issue: issue, slotID: slotID, done: done}

	s.tasksMu.Lock()
	s.tasks[taskID] = task
	s.tasksMu.Unlock()

	go func() {
		result, err := s.orch.Run(context.Background(), issue, shepherd.ModeWait, taskID)
		if err != nil && !result.Success {
			result.Reason = shepherd.ReasonError
		}
		done <- result
	}()
}

// collectCompleted drains every shepherd task whose run has finished,
// without blocking on tasks still in flight.
func (s *Scheduler) collectCompleted() []completedTask {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	var completed []completedTask
	for taskID, task := range s.tasks {
		select {
		case result := <-task.done:
			completed = append(completed, completedTask{slotID: task.slotID, issue: task.issue, result: result})
			delete(s.tasks, taskID)
		default:
		}
	}
	return completed
}

// triggerSupportRole spawns a one-shot support role worker if idle and
// cooldown-eligible, updating its trigger timestamp on spawn.
func (s *Scheduler) triggerSupportRole(ctx context.Context, roleID store.RoleID, roleName string) {
	spawn := false
	_, _ = s.store.Update(func(d store.DaemonState) store.DaemonState {
		role := d.SupportRoles[roleID]
		if role.Status == store.RoleRunning {
			return d
		}
		spawn = true
		role.Status = store.RoleRunning
		role.RoleID = roleID
		d.SupportRoles[roleID] = role

		now := time.Now()
		switch roleID {
		case store.RoleArchitect:
			d.LastArchitectTrigger = &now
		case store.RoleHermit:
			d.LastHermitTrigger = &now
		}
		return d
	})
	if !spawn {
		return
	}

	go func() {
		_, _ = s.supervisor.Spawn(ctx, roleName, worker.SpawnOptions{Role: roleName, WorkDir: s.platform.Paths.Root})
	}()
}

// checkStuck runs the daemon-level stuck sweep (spec §4.9) for every
// building issue and working slot in this snapshot.
func (s *Scheduler) checkStuck(ctx context.Context, snap snapshot.Snapshot, state store.DaemonState) {
	detector := NewStuckDetector(s.platform, s.store, s.cfg)
	detector.Sweep(ctx, snap, state)
}

func (s *Scheduler) applyBackoff(iterErr error) {
	if iterErr == nil {
		s.consecutiveFailures = 0
		s.currentBackoff = s.cfg.PollInterval
		return
	}
	s.consecutiveFailures++
	if s.consecutiveFailures >= s.cfg.BackoffThreshold {
		next := time.Duration(float64(s.currentBackoff) * s.cfg.BackoffMultiplier)
		if next > s.cfg.MaxBackoff {
			next = s.cfg.MaxBackoff
		}
		s.currentBackoff = next
	}
}

func idleSlotIDs(state store.DaemonState, maxShepherds int) []string {
	used := make(map[string]bool, len(state.Shepherds))
	for id, slot := range state.Shepherds {
		if slot.Status == store.ShepherdWorking {
			used[id] = true
		}
	}
	var idle []string
	for i := 1; i <= maxShepherds; i++ {
		id := fmt.Sprintf("shepherd-%d", i)
		if !used[id] {
			idle = append(idle, id)
		}
	}
	return idle
}

func rollingAvg(prevAvg, sample time.Duration, n int) time.Duration {
	if n <= 1 {
		return sample
	}
	return prevAvg + (sample-prevAvg)/time.Duration(n)
}

func intPtr(n int) *int { return &n }

// newTaskID generates a random 7-hex-character task ID (spec §3.1).
func newTaskID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:7], nil
}
