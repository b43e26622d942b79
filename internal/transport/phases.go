package transport

import "sync"

// PhaseTracker enforces the Work -> Finalize/Route ordering contract.
// Engines embed one per session instead of re-implementing the check.
type PhaseTracker struct {
	mu       sync.Mutex
	workDone bool
	closed   bool
}

// BeginWork marks the work phase as started. It returns ErrSessionClosed
// when the session already produced its result.
func (t *PhaseTracker) BeginWork() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrSessionClosed
	}
	return nil
}

// CompleteWork records that the work phase finished.
func (t *PhaseTracker) CompleteWork() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workDone = true
}

// RequireWork gates Finalize and Route behind a completed work phase.
func (t *PhaseTracker) RequireWork() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrSessionClosed
	}
	if !t.workDone {
		return ErrPhaseOrder
	}
	return nil
}

// Close marks the session as finished.
func (t *PhaseTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}
