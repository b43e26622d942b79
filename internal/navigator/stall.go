package navigator

import "sync"

// StallDetector accumulates verification verdicts and reports when the
// last N are identical, the signal that a loop is not converging.
type StallDetector struct {
	mu       sync.Mutex
	window   int
	verdicts []string
}

// NewStallDetector creates a detector; window is the number of
// identical consecutive verdicts that count as a stall.
func NewStallDetector(window int) *StallDetector {
	if window <= 0 {
		window = DefaultConfig().StallWindow
	}
	return &StallDetector{window: window}
}

// Observe records a verdict and reports whether the run is stalled.
// Empty verdicts never stall.
func (d *StallDetector) Observe(verdict string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verdicts = append(d.verdicts, verdict)
	if verdict == "" || len(d.verdicts) < d.window {
		return false
	}
	tail := d.verdicts[len(d.verdicts)-d.window:]
	for _, v := range tail {
		if v != verdict {
			return false
		}
	}
	return true
}

// Reset clears accumulated verdicts, used when the run moves to a new
// node.
func (d *StallDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verdicts = d.verdicts[:0]
}
