package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/rjwalters/loom/internal/util"
)

// AlertSeverity classifies a health alert.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// AlertKind enumerates the health conditions the daemon watches for.
type AlertKind string

const (
	AlertStaleHeartbeat AlertKind = "stale_heartbeat"
	AlertMassDeath      AlertKind = "mass_death"
	AlertRateLimited    AlertKind = "rate_limited"
	AlertStuckWorker    AlertKind = "stuck_worker"
	AlertOwnershipLost  AlertKind = "ownership_lost"
)

// Alert is one append-only entry of alerts.json.
type Alert struct {
	Kind      AlertKind     `json:"kind"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	Time      time.Time     `json:"time"`
	Subject   string        `json:"subject,omitempty"`
}

// Alerts is the on-disk alerts.json document: append-only, pruned to the
// newest maxAlertEntries entries by count rather than by age.
type Alerts struct {
	Entries []Alert `json:"entries"`
}

// HealthSample is one rolling-window measurement feeding the health score.
type HealthSample struct {
	Time              time.Time `json:"time"`
	ActiveShepherds   int       `json:"active_shepherds"`
	StaleHeartbeats   int       `json:"stale_heartbeats"`
	SessionDeaths     int       `json:"session_deaths"`
	UsagePercent      float64   `json:"usage_percent"`
}

// HealthMetrics is the on-disk health-metrics.json document: a rolling
// window of samples plus the most recently computed composite score.
type HealthMetrics struct {
	Samples []HealthSample `json:"samples"`
	Score   int            `json:"score"`
	Updated time.Time      `json:"updated"`
}

// StuckEvent is one append-only entry of stuck-history.json.
type StuckEvent struct {
	Name       string    `json:"name"`
	Issue      *int      `json:"issue,omitempty"`
	Severity   string    `json:"severity"`
	Action     string    `json:"action"`
	Time       time.Time `json:"time"`
}

// StuckHistory is the on-disk stuck-history.json document.
type StuckHistory struct {
	Events []StuckEvent `json:"events"`
}

// Intervention is the record written whenever a stuck-detection recovery
// action fires (spec §4.9): one JSON file under interventions/, plus a
// human-readable "latest" pointer per agent.
type Intervention struct {
	AgentID               string    `json:"agent_id"`
	Issue                 *int      `json:"issue,omitempty"`
	Severity              string    `json:"severity"`
	Indicators            []string  `json:"indicators"`
	SuggestedIntervention string    `json:"suggested_intervention"`
	TriggeredAt           time.Time `json:"triggered_at"`
}

// WriteIntervention records iv under interventions/<agent>-<ts>.json and
// refreshes interventions/<agent>-latest.txt with a human-readable summary.
func (s *Store) WriteIntervention(iv Intervention) error {
	if err := util.EnsureDirAndWriteJSON(s.paths.InterventionFile(iv.AgentID, iv.TriggeredAt), iv); err != nil {
		return err
	}
	summary := fmt.Sprintf("%s: %s (severity=%s, %s)\n", iv.TriggeredAt.Format(time.RFC3339), iv.SuggestedIntervention, iv.Severity, strings.Join(iv.Indicators, "; "))
	return util.AtomicWriteFile(s.paths.InterventionLatest(iv.AgentID), []byte(summary), 0644)
}

// ReadAlerts reads alerts.json, returning an empty document if absent.
func (s *Store) ReadAlerts() (Alerts, error) {
	var a Alerts
	if _, err := readJSON(s.paths.Alerts(), &a); err != nil {
		return Alerts{}, err
	}
	return a, nil
}

// AppendAlert appends an alert to alerts.json, pruning to maxAlertEntries.
func (s *Store) AppendAlert(alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var a Alerts
	if _, err := readJSON(s.paths.Alerts(), &a); err != nil {
		return err
	}
	a.Entries = append(a.Entries, alert)
	if len(a.Entries) > maxAlertEntries {
		a.Entries = a.Entries[len(a.Entries)-maxAlertEntries:]
	}
	return util.EnsureDirAndWriteJSON(s.paths.Alerts(), a)
}

// ReadHealthMetrics reads health-metrics.json, returning the zero value if
// absent.
func (s *Store) ReadHealthMetrics() (HealthMetrics, error) {
	var h HealthMetrics
	if _, err := readJSON(s.paths.HealthMetrics(), &h); err != nil {
		return HealthMetrics{}, err
	}
	return h, nil
}

// WriteHealthMetrics atomically replaces health-metrics.json.
func (s *Store) WriteHealthMetrics(h HealthMetrics) error {
	return util.EnsureDirAndWriteJSON(s.paths.HealthMetrics(), h)
}

// AppendStuckEvent appends an event to stuck-history.json.
func (s *Store) AppendStuckEvent(ev StuckEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var h StuckHistory
	if _, err := readJSON(s.paths.StuckHistory(), &h); err != nil {
		return err
	}
	h.Events = append(h.Events, ev)
	if len(h.Events) > maxStuckEvents {
		h.Events = h.Events[len(h.Events)-maxStuckEvents:]
	}
	return util.EnsureDirAndWriteJSON(s.paths.StuckHistory(), h)
}

const (
	maxAlertEntries = 500
	maxStuckEvents  = 500
)
