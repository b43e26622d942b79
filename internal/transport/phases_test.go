package transport

import (
	"errors"
	"testing"
)

func TestPhaseOrderEnforced(t *testing.T) {
	var tracker PhaseTracker
	if err := tracker.RequireWork(); !errors.Is(err, ErrPhaseOrder) {
		t.Fatalf("got %v, want ErrPhaseOrder before work", err)
	}
	if err := tracker.BeginWork(); err != nil {
		t.Fatal(err)
	}
	// Work started but not completed: later phases still gated.
	if err := tracker.RequireWork(); !errors.Is(err, ErrPhaseOrder) {
		t.Fatalf("got %v, want ErrPhaseOrder before work completes", err)
	}
	tracker.CompleteWork()
	if err := tracker.RequireWork(); err != nil {
		t.Fatalf("got %v after work completed", err)
	}
}

func TestClosedSessionRejectsPhases(t *testing.T) {
	var tracker PhaseTracker
	tracker.CompleteWork()
	tracker.Close()
	if err := tracker.BeginWork(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("got %v, want ErrSessionClosed", err)
	}
	if err := tracker.RequireWork(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("got %v, want ErrSessionClosed", err)
	}
}
