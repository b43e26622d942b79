// Package runstate holds a run's mutable position in its flow: the
// current node, nodes injected at runtime, and the paired interruption
// and resume stacks that give sidequests deterministic return
// semantics.
package runstate

import (
	"errors"
	"sync"
)

// ErrStackEmpty is returned when popping an empty stack.
var ErrStackEmpty = errors.New("stack is empty")

// InterruptionFrame records why a run was detoured and where it should
// come back to. Frames are typed: no untyped map snapshots.
type InterruptionFrame struct {
	// Reason describes why the interruption happened.
	Reason string

	// ReturnNode is the node to resume at when the detour completes.
	ReturnNode string

	// SidequestID names the sidequest that caused the detour, when one
	// did.
	SidequestID string

	// Extra carries sidequest-specific string fields.
	Extra map[string]string
}

// ResumeFrame preserves the interrupted node and its saved context.
type ResumeFrame struct {
	// Node is the node that was interrupted.
	Node string

	// SavedContext is the context snapshot taken at interruption time.
	SavedContext map[string]string
}

// ActiveDetour tracks progress through a sidequest's normalized steps.
type ActiveDetour struct {
	// SidequestID names the running sidequest.
	SidequestID string

	// Steps are the remaining step node IDs, in order.
	Steps []string

	// Index is the position of the step currently executing.
	Index int
}

// RunState is the per-run mutable navigation state. All methods are
// safe for concurrent use, though a run is normally driven by a single
// background task.
//
// Invariant: every PushInterruption is paired with exactly one later
// pop (resume or terminate). The two stacks are never empty
// simultaneously unless the run is at its root.
type RunState struct {
	mu sync.Mutex

	runID   string
	flowKey string
	current string

	iterations    map[string]int
	injectedNodes []string
	interruptions []InterruptionFrame
	resumes       []ResumeFrame
	detour        *ActiveDetour
}

// New creates run state positioned at the flow's entry node.
func New(runID, flowKey, entry string) *RunState {
	return &RunState{
		runID:      runID,
		flowKey:    flowKey,
		current:    entry,
		iterations: make(map[string]int),
	}
}

// RunID returns the run identifier.
func (s *RunState) RunID() string { return s.runID }

// FlowKey returns the flow identifier.
func (s *RunState) FlowKey() string { return s.flowKey }

// Current returns the node pointer.
func (s *RunState) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrent moves the node pointer.
func (s *RunState) SetCurrent(node string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = node
}

// BumpIteration increments and returns the visit count for a node.
func (s *RunState) BumpIteration(node string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations[node]++
	return s.iterations[node]
}

// Iteration returns the visit count for a node.
func (s *RunState) Iteration(node string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iterations[node]
}

// InjectNode appends a runtime-injected node. Duplicate injections
// collapse: the first injection's semantics win and later requests for
// the same node id are ignored.
func (s *RunState) InjectNode(node string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.injectedNodes {
		if n == node {
			return false
		}
	}
	s.injectedNodes = append(s.injectedNodes, node)
	return true
}

// InjectedNodes returns the runtime-injected node list, in injection
// order.
func (s *RunState) InjectedNodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.injectedNodes))
	copy(out, s.injectedNodes)
	return out
}

// IsInjected reports whether the node was injected at runtime.
func (s *RunState) IsInjected(node string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.injectedNodes {
		if n == node {
			return true
		}
	}
	return false
}

// PushInterruption pushes an interruption frame.
func (s *RunState) PushInterruption(frame InterruptionFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptions = append(s.interruptions, frame)
}

// PopInterruption pops the top interruption frame.
func (s *RunState) PopInterruption() (InterruptionFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.interruptions) == 0 {
		return InterruptionFrame{}, ErrStackEmpty
	}
	frame := s.interruptions[len(s.interruptions)-1]
	s.interruptions = s.interruptions[:len(s.interruptions)-1]
	return frame, nil
}

// PeekInterruption returns the top interruption frame without popping.
func (s *RunState) PeekInterruption() (InterruptionFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.interruptions) == 0 {
		return InterruptionFrame{}, false
	}
	return s.interruptions[len(s.interruptions)-1], true
}

// InterruptionDepth returns the interruption stack depth.
func (s *RunState) InterruptionDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.interruptions)
}

// PushResume pushes a resume frame.
func (s *RunState) PushResume(frame ResumeFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumes = append(s.resumes, frame)
}

// PopResume pops the top resume frame.
func (s *RunState) PopResume() (ResumeFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.resumes) == 0 {
		return ResumeFrame{}, ErrStackEmpty
	}
	frame := s.resumes[len(s.resumes)-1]
	s.resumes = s.resumes[:len(s.resumes)-1]
	return frame, nil
}

// ResumeDepth returns the resume stack depth.
func (s *RunState) ResumeDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resumes)
}

// AtRoot reports whether the run is outside any detour: both stacks
// empty.
func (s *RunState) AtRoot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.interruptions) == 0 && len(s.resumes) == 0
}

// SetDetour records the active sidequest progress.
func (s *RunState) SetDetour(d *ActiveDetour) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detour = d
}

// Detour returns the active sidequest progress, nil when none.
func (s *RunState) Detour() *ActiveDetour {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detour
}
