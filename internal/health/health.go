// Package health turns raw per-iteration measurements into the composite
// health score and alert stream described in spec §4.10: a rolling sample
// window, a [0,100] score with five deducted factors, and threshold-crossing
// alerts.
package health

import (
	"fmt"
	"time"

	"github.com/rjwalters/loom/internal/snapshot"
	"github.com/rjwalters/loom/internal/store"
)

// retentionWindow bounds how long raw samples are kept.
const retentionWindow = 24 * time.Hour

// Thresholds configures the point deductions and alert crossings. Callers
// pass the values to NewMonitor; nothing in this package reads them from the
// environment.
type Thresholds struct {
	ErrorRateCritical     float64 // errors per sample above which score hits zero for that factor
	StuckAgentsCritical   int
	QueueGrowthCritical   int
	ResourceUsageCritical float64 // usage_percent
	ThroughputFloor       float64 // issues+PRs per hour below which throughput factor zeroes
}

// DefaultThresholds returns spec-reasonable defaults for the five factors.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRateCritical:     0.5,
		StuckAgentsCritical:   3,
		QueueGrowthCritical:   10,
		ResourceUsageCritical: 95,
		ThroughputFloor:       0.1,
	}
}

// Monitor computes and persists health samples, score, and alerts.
type Monitor struct {
	store      *store.Store
	thresholds Thresholds
}

// NewMonitor returns a Monitor backed by st, using the given thresholds.
func NewMonitor(st *store.Store, thresholds Thresholds) *Monitor {
	return &Monitor{store: st, thresholds: thresholds}
}

// IterationResult is what the scheduler reports after each iteration.
type IterationResult struct {
	Status         string // success|failure|timeout
	DurationSeconds float64
	Summary        string
	ConsecutiveErr int
	SessionDeaths  int
	QueueDepth     int
	IssuesPerHour  float64
	PRsPerHour     float64
}

// Sample records one iteration's measurements into the rolling window,
// recomputes the composite score, prunes stale samples, and appends an alert
// for each threshold currently at or over its limit. An alert is appended
// again on every sample while its condition holds, not only when it is
// first crossed.
func (m *Monitor) Sample(snap snapshot.Snapshot, result IterationResult, now time.Time) error {
	metrics, err := m.store.ReadHealthMetrics()
	if err != nil {
		return err
	}

	sample := store.HealthSample{
		Time:            now,
		ActiveShepherds: snap.Computed.ActiveShepherds,
		StaleHeartbeats: snap.Computed.StaleHeartbeatCount,
		SessionDeaths:   result.SessionDeaths,
		UsagePercent:    snap.Usage.SessionPercent,
	}
	metrics.Samples = append(metrics.Samples, sample)
	metrics.Samples = pruneOld(metrics.Samples, now)

	errorRate := errorRateOf(metrics.Samples)
	score := m.score(snap, result, errorRate)
	metrics.Score = score
	metrics.Updated = now

	if err := m.store.WriteHealthMetrics(metrics); err != nil {
		return err
	}

	return m.raiseAlerts(snap, result, errorRate, now)
}

// score deducts points across five factors (spec §4.10), floored at 0.
func (m *Monitor) score(snap snapshot.Snapshot, result IterationResult, errorRate float64) int {
	points := 100.0

	points -= scaledDeduction(errorRate, m.thresholds.ErrorRateCritical, 30)
	points -= scaledDeduction(float64(snap.Computed.StaleHeartbeatCount), float64(m.thresholds.StuckAgentsCritical), 25)
	points -= scaledDeduction(float64(result.QueueDepth), float64(m.thresholds.QueueGrowthCritical), 20)
	points -= scaledDeduction(snap.Usage.SessionPercent, m.thresholds.ResourceUsageCritical, 15)

	throughput := result.IssuesPerHour + result.PRsPerHour
	if throughput < m.thresholds.ThroughputFloor {
		points -= 10
	}

	if points < 0 {
		points = 0
	}
	return int(points)
}

// scaledDeduction returns a deduction proportional to how far value is past
// critical, capped at max.
func scaledDeduction(value, critical, max float64) float64 {
	if critical <= 0 {
		return 0
	}
	ratio := value / critical
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio * max
}

func errorRateOf(samples []store.HealthSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var deaths int
	for _, s := range samples {
		deaths += s.SessionDeaths
	}
	return float64(deaths) / float64(len(samples))
}

func pruneOld(samples []store.HealthSample, now time.Time) []store.HealthSample {
	kept := samples[:0]
	for _, s := range samples {
		if now.Sub(s.Time) <= retentionWindow {
			kept = append(kept, s)
		}
	}
	return kept
}

// raiseAlerts appends alerts for any threshold crossing observed this
// sample.
func (m *Monitor) raiseAlerts(snap snapshot.Snapshot, result IterationResult, errorRate float64, now time.Time) error {
	if snap.Computed.StaleHeartbeatCount >= m.thresholds.StuckAgentsCritical {
		if err := m.store.AppendAlert(store.Alert{
			Kind:     store.AlertStuckWorker,
			Severity: store.AlertCritical,
			Message:  fmt.Sprintf("%d shepherd(s) have stale heartbeats", snap.Computed.StaleHeartbeatCount),
			Time:     now,
		}); err != nil {
			return err
		}
	}

	if errorRate >= m.thresholds.ErrorRateCritical {
		if err := m.store.AppendAlert(store.Alert{
			Kind:     store.AlertMassDeath,
			Severity: store.AlertWarning,
			Message:  fmt.Sprintf("session death rate %.2f exceeds threshold %.2f", errorRate, m.thresholds.ErrorRateCritical),
			Time:     now,
		}); err != nil {
			return err
		}
	}

	if snap.Usage.SessionPercent >= m.thresholds.ResourceUsageCritical {
		if err := m.store.AppendAlert(store.Alert{
			Kind:     store.AlertRateLimited,
			Severity: store.AlertCritical,
			Message:  fmt.Sprintf("GitHub usage at %.1f%%", snap.Usage.SessionPercent),
			Time:     now,
		}); err != nil {
			return err
		}
	}

	return nil
}
