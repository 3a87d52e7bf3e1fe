package heartbeat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestSweepReportsTransitions(t *testing.T) {
	registry := NewRegistry()
	registry.Beat("relay", "")

	var transitions []Transition
	monitor := NewMonitor(registry, MonitorConfig{
		OnTransition: func(_ context.Context, transition Transition) {
			transitions = append(transitions, transition)
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	previous := map[string]string{}
	monitor.sweep(context.Background(), previous)
	if len(transitions) != 0 {
		t.Fatalf("first sweep must not report, got %v", transitions)
	}

	registry.Degrade("relay", "", errors.New("backend down"))
	monitor.sweep(context.Background(), previous)
	if len(transitions) != 1 {
		t.Fatalf("expected one transition, got %v", transitions)
	}
	if transitions[0].From != StateHealthy || transitions[0].To != StateDegraded {
		t.Fatalf("unexpected transition: %+v", transitions[0])
	}

	monitor.sweep(context.Background(), previous)
	if len(transitions) != 1 {
		t.Fatalf("unchanged state must not re-report, got %v", transitions)
	}
}
