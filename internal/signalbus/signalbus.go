// Package signalbus reifies the daemon's filesystem-based signal
// conventions (spec §4.3) as typed events. Signals exist as plain files
// because the daemon must be interoperable with external shell helpers that
// have no Go API to call into; presence of a file is the signal
// (level-triggered), and consuming it means removing it (edge transition).
package signalbus

import (
	"path/filepath"
	"strings"

	"github.com/rjwalters/loom/internal/platform"
)

// Kind enumerates the signal events the bus can report.
type Kind string

const (
	GracefulShutdown Kind = "graceful_shutdown"
	StopAllShepherds Kind = "stop_all_shepherds"
	StopAgent        Kind = "stop_agent"
	PauseAgent       Kind = "pause_agent"
)

// Event is one observed signal, with Target carrying the worker name for
// per-agent signals and empty for daemon-wide ones.
type Event struct {
	Kind   Kind
	Target string
}

// Bus polls the filesystem signal files under a .loom directory.
type Bus struct {
	paths platform.Paths
}

// New returns a Bus rooted at paths.
func New(paths platform.Paths) *Bus {
	return &Bus{paths: paths}
}

// Has reports whether the daemon-wide signal for kind is currently present,
// without consuming it. Only GracefulShutdown and StopAllShepherds are
// meaningful here; per-agent kinds require Target and should use HasAgent.
func (b *Bus) Has(kind Kind) bool {
	switch kind {
	case GracefulShutdown:
		return platform.SignalPresent(b.paths.StopDaemon())
	case StopAllShepherds:
		return platform.SignalPresent(b.paths.StopShepherds())
	default:
		return false
	}
}

// HasAgent reports whether a per-agent signal is present for name.
func (b *Bus) HasAgent(kind Kind, name string) bool {
	switch kind {
	case StopAgent:
		return platform.SignalPresent(b.paths.StopSignal(name))
	case PauseAgent:
		return platform.SignalPresent(b.paths.PauseSignal(name))
	default:
		return false
	}
}

// ConsumeAll returns every currently-present signal of kind and removes the
// backing files. For daemon-wide kinds this is at most one Event; for
// per-agent kinds it scans the signals directory for every matching file.
func (b *Bus) ConsumeAll(kind Kind) ([]Event, error) {
	switch kind {
	case GracefulShutdown:
		consumed, err := platform.ConsumeSignal(b.paths.StopDaemon())
		if err != nil || !consumed {
			return nil, err
		}
		return []Event{{Kind: kind}}, nil

	case StopAllShepherds:
		consumed, err := platform.ConsumeSignal(b.paths.StopShepherds())
		if err != nil || !consumed {
			return nil, err
		}
		return []Event{{Kind: kind}}, nil

	case StopAgent:
		return b.consumeAgentSignals("stop-", kind)

	case PauseAgent:
		return b.consumeAgentSignals("pause-", kind)
	}
	return nil, nil
}

func (b *Bus) consumeAgentSignals(prefix string, kind Kind) ([]Event, error) {
	matches, err := filepath.Glob(filepath.Join(b.paths.SignalsDir(), prefix+"*"))
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, path := range matches {
		name := strings.TrimPrefix(filepath.Base(path), prefix)
		consumed, err := platform.ConsumeSignal(path)
		if err != nil {
			return events, err
		}
		if consumed {
			events = append(events, Event{Kind: kind, Target: name})
		}
	}
	return events, nil
}

// RaiseStopDaemon signals the daemon to exit after its current iteration.
func (b *Bus) RaiseStopDaemon() error {
	return platform.TouchSignal(b.paths.StopDaemon())
}

// RaiseStopShepherds signals all shepherds to break out of their current
// waits and refuses new spawns until consumed.
func (b *Bus) RaiseStopShepherds() error {
	return platform.TouchSignal(b.paths.StopShepherds())
}

// RaiseStopAgent signals a specific worker to stop.
func (b *Bus) RaiseStopAgent(name string) error {
	return platform.TouchSignal(b.paths.StopSignal(name))
}

// RaisePauseAgent advisorially asks a worker to finish its current phase
// then stop.
func (b *Bus) RaisePauseAgent(name string) error {
	return platform.TouchSignal(b.paths.PauseSignal(name))
}
