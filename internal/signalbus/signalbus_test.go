package signalbus

import (
	"testing"

	"github.com/rjwalters/loom/internal/platform"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	paths := platform.NewPaths(t.TempDir())
	if err := paths.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	return New(paths)
}

func TestStopDaemonSignalRoundTrip(t *testing.T) {
	b := newTestBus(t)

	if b.Has(GracefulShutdown) {
		t.Fatal("expected no stop-daemon signal initially")
	}
	if err := b.RaiseStopDaemon(); err != nil {
		t.Fatalf("RaiseStopDaemon: %v", err)
	}
	if !b.Has(GracefulShutdown) {
		t.Fatal("expected stop-daemon signal to be present after raising it")
	}

	events, err := b.ConsumeAll(GracefulShutdown)
	if err != nil {
		t.Fatalf("ConsumeAll: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if b.Has(GracefulShutdown) {
		t.Fatal("expected signal to be consumed (removed)")
	}
}

func TestPerAgentSignals(t *testing.T) {
	b := newTestBus(t)

	if err := b.RaiseStopAgent("loom-shepherd-1"); err != nil {
		t.Fatalf("RaiseStopAgent: %v", err)
	}
	if err := b.RaiseStopAgent("loom-shepherd-2"); err != nil {
		t.Fatalf("RaiseStopAgent: %v", err)
	}
	if err := b.RaisePauseAgent("loom-shepherd-3"); err != nil {
		t.Fatalf("RaisePauseAgent: %v", err)
	}

	if !b.HasAgent(StopAgent, "loom-shepherd-1") {
		t.Fatal("expected stop signal for loom-shepherd-1")
	}

	stopEvents, err := b.ConsumeAll(StopAgent)
	if err != nil {
		t.Fatalf("ConsumeAll(StopAgent): %v", err)
	}
	if len(stopEvents) != 2 {
		t.Fatalf("expected 2 stop events, got %d", len(stopEvents))
	}

	pauseEvents, err := b.ConsumeAll(PauseAgent)
	if err != nil {
		t.Fatalf("ConsumeAll(PauseAgent): %v", err)
	}
	if len(pauseEvents) != 1 || pauseEvents[0].Target != "loom-shepherd-3" {
		t.Fatalf("unexpected pause events: %+v", pauseEvents)
	}
}
