package runstate

import (
	"errors"
	"testing"
)

func TestStacksAreLIFO(t *testing.T) {
	s := New("run-1", "release", "plan")

	s.PushInterruption(InterruptionFrame{Reason: "a", ReturnNode: "n1"})
	s.PushInterruption(InterruptionFrame{Reason: "b", ReturnNode: "n2"})
	s.PushResume(ResumeFrame{Node: "n1"})
	s.PushResume(ResumeFrame{Node: "n2"})

	frame, err := s.PopInterruption()
	if err != nil || frame.Reason != "b" {
		t.Fatalf("pop = %+v, %v; want reason b", frame, err)
	}
	resume, err := s.PopResume()
	if err != nil || resume.Node != "n2" {
		t.Fatalf("pop resume = %+v, %v; want n2", resume, err)
	}
	if s.InterruptionDepth() != 1 || s.ResumeDepth() != 1 {
		t.Fatalf("depths = %d/%d, want 1/1", s.InterruptionDepth(), s.ResumeDepth())
	}
}

func TestPopEmptyStack(t *testing.T) {
	s := New("run-1", "release", "plan")
	if _, err := s.PopInterruption(); !errors.Is(err, ErrStackEmpty) {
		t.Fatalf("got %v, want ErrStackEmpty", err)
	}
	if _, err := s.PopResume(); !errors.Is(err, ErrStackEmpty) {
		t.Fatalf("got %v, want ErrStackEmpty", err)
	}
}

func TestAtRoot(t *testing.T) {
	s := New("run-1", "release", "plan")
	if !s.AtRoot() {
		t.Fatal("fresh state should be at root")
	}
	s.PushInterruption(InterruptionFrame{Reason: "detour"})
	if s.AtRoot() {
		t.Fatal("state with an interruption frame is not at root")
	}
	s.PopInterruption()
	if !s.AtRoot() {
		t.Fatal("popping the last frame returns to root")
	}
}

func TestInjectNodeDeduplicates(t *testing.T) {
	s := New("run-1", "release", "plan")
	if !s.InjectNode("clarifier") {
		t.Fatal("first injection should report true")
	}
	if s.InjectNode("clarifier") {
		t.Fatal("duplicate injection should report false")
	}
	if got := s.InjectedNodes(); len(got) != 1 {
		t.Fatalf("injected = %v, want single entry", got)
	}
	if !s.IsInjected("clarifier") || s.IsInjected("other") {
		t.Fatal("IsInjected answers wrong")
	}
}

func TestIterationCounts(t *testing.T) {
	s := New("run-1", "release", "plan")
	if got := s.BumpIteration("plan"); got != 1 {
		t.Fatalf("first bump = %d, want 1", got)
	}
	if got := s.BumpIteration("plan"); got != 2 {
		t.Fatalf("second bump = %d, want 2", got)
	}
	if got := s.Iteration("build"); got != 0 {
		t.Fatalf("unvisited node iteration = %d, want 0", got)
	}
}

func TestCurrentPointer(t *testing.T) {
	s := New("run-1", "release", "plan")
	if s.Current() != "plan" {
		t.Fatalf("current = %q, want entry node", s.Current())
	}
	s.SetCurrent("build")
	if s.Current() != "build" {
		t.Fatalf("current = %q after SetCurrent", s.Current())
	}
}
