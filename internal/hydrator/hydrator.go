// Package hydrator assembles bounded execution context for a step from
// prior-step history. Budgets are hard character limits: the combined
// pack never exceeds the global budget, the most recent step gets a
// larger sub-budget than older steps, and every cut is recorded so
// receipts can report what was trimmed.
package hydrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/haasonsaas/flowline/pkg/models"
)

// Default budgets, in characters (a cheap proxy for tokens).
const (
	DefaultTotalChars  = 24000
	DefaultRecentChars = 8000
	DefaultOlderChars  = 2000
)

// Budget configures the hydrator's character limits.
type Budget struct {
	// TotalChars caps all prior-step history combined.
	TotalChars int

	// RecentChars is the sub-budget for the most recent step.
	RecentChars int

	// OlderChars is the per-step sub-budget for everything older.
	OlderChars int
}

// DefaultBudget returns the default history budget.
func DefaultBudget() Budget {
	return Budget{
		TotalChars:  DefaultTotalChars,
		RecentChars: DefaultRecentChars,
		OlderChars:  DefaultOlderChars,
	}
}

func (b Budget) validate() error {
	if b.TotalChars <= 0 || b.RecentChars <= 0 || b.OlderChars <= 0 {
		return fmt.Errorf("history budget must be positive: %+v", b)
	}
	if b.RecentChars > b.TotalChars {
		return fmt.Errorf("recent sub-budget %d exceeds total %d", b.RecentChars, b.TotalChars)
	}
	return nil
}

// Hydrator builds context packs under a history budget.
type Hydrator struct {
	budget Budget
	logger *slog.Logger
}

// New creates a hydrator. A zero-value budget falls back to defaults.
func New(budget Budget, logger *slog.Logger) *Hydrator {
	if budget == (Budget{}) {
		budget = DefaultBudget()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hydrator{budget: budget, logger: logger}
}

// Hydrate builds a context pack for the step when one is absent. The
// pack combines each prior step's handoff envelope and artifact text,
// newest last, truncated to the budgets. Errors here are recoverable:
// the caller falls back to RawPack and logs a warning.
func (h *Hydrator) Hydrate(stepCtx *models.StepContext) (*models.ContextPack, error) {
	if stepCtx == nil {
		return nil, fmt.Errorf("nil step context")
	}
	if stepCtx.Pack != nil {
		return stepCtx.Pack, nil
	}
	if err := h.budget.validate(); err != nil {
		return nil, err
	}

	history := stepCtx.History
	if len(history) == 0 {
		return &models.ContextPack{}, nil
	}

	info := &models.TruncationInfo{}
	sections := make([]models.PackSection, 0, len(history))
	remaining := h.budget.TotalChars

	// Walk newest first so recency wins when the global budget runs
	// out, then reverse into oldest-first order.
	for i := len(history) - 1; i >= 0; i-- {
		entry := history[i]
		content := renderEntry(entry)
		original := len(content)
		info.TotalOriginalChars += original

		sub := h.budget.OlderChars
		if i == len(history)-1 {
			sub = h.budget.RecentChars
		}
		if sub > remaining {
			sub = remaining
		}
		if sub <= 0 {
			info.Steps = append(info.Steps, models.StepTruncation{
				StepID:        entry.StepID,
				OriginalChars: original,
				RetainedChars: 0,
			})
			continue
		}

		truncated := false
		if original > sub {
			content = truncate(content, sub)
			truncated = true
			info.Steps = append(info.Steps, models.StepTruncation{
				StepID:        entry.StepID,
				OriginalChars: original,
				RetainedChars: len(content),
			})
		}
		remaining -= len(content)
		info.TotalRetainedChars += len(content)

		sections = append(sections, models.PackSection{
			StepID:    entry.StepID,
			Content:   content,
			Truncated: truncated,
		})
	}

	// Reverse into chronological order.
	for i, j := 0, len(sections)-1; i < j; i, j = i+1, j-1 {
		sections[i], sections[j] = sections[j], sections[i]
	}

	pack := &models.ContextPack{Sections: sections}
	if len(info.Steps) > 0 {
		pack.Truncation = info
	}
	return pack, nil
}

// RawPack is the degradation path when hydration fails: the history is
// passed through untruncated, one section per step.
func RawPack(stepCtx *models.StepContext) *models.ContextPack {
	if stepCtx == nil || len(stepCtx.History) == 0 {
		return &models.ContextPack{}
	}
	sections := make([]models.PackSection, 0, len(stepCtx.History))
	for _, entry := range stepCtx.History {
		sections = append(sections, models.PackSection{
			StepID:  entry.StepID,
			Content: renderEntry(entry),
		})
	}
	return &models.ContextPack{Sections: sections}
}

// renderEntry flattens a history entry into section text: envelope
// summary first, then the step's artifact content.
func renderEntry(entry models.StepHistoryEntry) string {
	out := ""
	if entry.Envelope != nil {
		if b, err := json.Marshal(entry.Envelope); err == nil {
			out = "handoff: " + string(b)
		}
	}
	if entry.Content != "" {
		if out != "" {
			out += "\n"
		}
		out += entry.Content
	}
	return out
}

// truncate cuts content to at most max chars, ending with a marker
// that notes how much was dropped. The marker counts against max, so
// the dropped count and the marker text depend on each other; iterate
// until they agree. Cuts land on rune boundaries.
func truncate(content string, max int) string {
	if len(content) <= max {
		return content
	}
	keep := max
	for {
		marker := fmt.Sprintf("\n[truncated %d chars]", len(content)-keep)
		want := max - len(marker)
		if want < 0 {
			want = 0
		}
		for want > 0 && !utf8.RuneStart(content[want]) {
			want--
		}
		if want == keep {
			if keep == 0 && len(marker) > max {
				return marker[:max]
			}
			return content[:keep] + marker
		}
		keep = want
	}
}
