package hydrator

import (
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/haasonsaas/flowline/pkg/models"
)

func entry(stepID, content string) models.StepHistoryEntry {
	return models.StepHistoryEntry{StepID: stepID, Content: content}
}

func TestHydrateEmptyHistory(t *testing.T) {
	h := New(DefaultBudget(), nil)
	pack, err := h.Hydrate(&models.StepContext{StepID: "build"})
	if err != nil {
		t.Fatal(err)
	}
	if len(pack.Sections) != 0 || pack.Truncation != nil {
		t.Fatalf("empty history should produce an empty pack: %+v", pack)
	}
}

func TestHydrateUnderBudgetKeepsEverything(t *testing.T) {
	h := New(Budget{TotalChars: 1000, RecentChars: 500, OlderChars: 200}, nil)
	stepCtx := &models.StepContext{
		History: []models.StepHistoryEntry{entry("plan", "short plan"), entry("build", "short build")},
	}
	pack, err := h.Hydrate(stepCtx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pack.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(pack.Sections))
	}
	if pack.Sections[0].StepID != "plan" || pack.Sections[1].StepID != "build" {
		t.Fatalf("sections out of chronological order: %+v", pack.Sections)
	}
	if pack.Truncation != nil {
		t.Fatal("no cuts expected under budget")
	}
}

func TestHydrateTruncatesOversizedRecentStep(t *testing.T) {
	h := New(Budget{TotalChars: 400, RecentChars: 100, OlderChars: 50}, nil)
	stepCtx := &models.StepContext{
		History: []models.StepHistoryEntry{entry("build", strings.Repeat("x", 500))},
	}
	pack, err := h.Hydrate(stepCtx)
	if err != nil {
		t.Fatal(err)
	}
	section := pack.Sections[0]
	if !section.Truncated {
		t.Fatal("oversized section should be marked truncated")
	}
	if len(section.Content) > 100 {
		t.Fatalf("section length %d exceeds recent budget 100", len(section.Content))
	}
	if !strings.Contains(section.Content, "[truncated") {
		t.Fatal("truncated section should carry the marker")
	}
	if pack.Truncation == nil || len(pack.Truncation.Steps) != 1 {
		t.Fatalf("truncation info missing: %+v", pack.Truncation)
	}
	cut := pack.Truncation.Steps[0]
	if cut.OriginalChars != 500 || cut.RetainedChars >= cut.OriginalChars {
		t.Fatalf("unexpected cut record: %+v", cut)
	}
}

func TestHydrateRecencyWinsWhenTotalExhausted(t *testing.T) {
	h := New(Budget{TotalChars: 120, RecentChars: 100, OlderChars: 80}, nil)
	stepCtx := &models.StepContext{
		History: []models.StepHistoryEntry{
			entry("old", strings.Repeat("a", 200)),
			entry("recent", strings.Repeat("b", 90)),
		},
	}
	pack, err := h.Hydrate(stepCtx)
	if err != nil {
		t.Fatal(err)
	}
	var recent, old *models.PackSection
	for i := range pack.Sections {
		switch pack.Sections[i].StepID {
		case "recent":
			recent = &pack.Sections[i]
		case "old":
			old = &pack.Sections[i]
		}
	}
	if recent == nil || recent.Truncated {
		t.Fatalf("recent step must be retained whole: %+v", recent)
	}
	if old != nil && len(old.Content) > 120-90 {
		t.Fatalf("older step exceeds what the total budget leaves: %d chars", len(old.Content))
	}
	total := 0
	for _, s := range pack.Sections {
		total += len(s.Content)
	}
	if total > 120 {
		t.Fatalf("combined pack %d chars exceeds total budget 120", total)
	}
}

func TestHydrateTotalNeverExceeded(t *testing.T) {
	h := New(Budget{TotalChars: 300, RecentChars: 150, OlderChars: 100}, nil)
	var history []models.StepHistoryEntry
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		history = append(history, entry(id, strings.Repeat("z", 400)))
	}
	pack, err := h.Hydrate(&models.StepContext{History: history})
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, s := range pack.Sections {
		total += len(s.Content)
	}
	if total > 300 {
		t.Fatalf("combined pack %d chars exceeds total budget 300", total)
	}
}

func TestTruncateMarkerReportsActualDrop(t *testing.T) {
	content := strings.Repeat("a", 150)
	out := truncate(content, 100)
	if len(out) > 100 {
		t.Fatalf("truncated to %d chars, budget 100", len(out))
	}

	// The marker's count must equal what was actually cut, marker
	// included.
	idx := strings.Index(out, "[truncated ")
	if idx < 0 {
		t.Fatalf("marker missing: %q", out)
	}
	rest := out[idx+len("[truncated "):]
	end := strings.Index(rest, " chars]")
	if end < 0 {
		t.Fatalf("malformed marker: %q", out)
	}
	dropped, err := strconv.Atoi(rest[:end])
	if err != nil {
		t.Fatal(err)
	}
	retained := idx - 1 // content kept before "\n[truncated"
	if dropped != len(content)-retained {
		t.Fatalf("marker claims %d dropped, actual drop is %d", dropped, len(content)-retained)
	}
}

func TestTruncateCutsOnRuneBoundary(t *testing.T) {
	content := strings.Repeat("é", 60)
	out := truncate(content, 100)
	if len(out) > 100 {
		t.Fatalf("truncated to %d chars, budget 100", len(out))
	}
	if !utf8.ValidString(out) {
		t.Fatalf("truncation split a rune: %q", out)
	}
}

func TestTruncateTinyBudget(t *testing.T) {
	out := truncate(strings.Repeat("x", 500), 10)
	if len(out) > 10 {
		t.Fatalf("truncated to %d chars, budget 10", len(out))
	}
}

func TestHydrateReturnsExistingPack(t *testing.T) {
	h := New(DefaultBudget(), nil)
	existing := &models.ContextPack{Sections: []models.PackSection{{StepID: "pre", Content: "x"}}}
	pack, err := h.Hydrate(&models.StepContext{Pack: existing})
	if err != nil {
		t.Fatal(err)
	}
	if pack != existing {
		t.Fatal("pre-built pack must be returned untouched")
	}
}

func TestHydrateInvalidBudget(t *testing.T) {
	h := New(Budget{TotalChars: 10, RecentChars: 100, OlderChars: 5}, nil)
	_, err := h.Hydrate(&models.StepContext{History: []models.StepHistoryEntry{entry("a", "b")}})
	if err == nil {
		t.Fatal("recent budget above total must error")
	}
}

func TestRawPackPassesHistoryThrough(t *testing.T) {
	stepCtx := &models.StepContext{
		History: []models.StepHistoryEntry{entry("plan", strings.Repeat("y", 99999))},
	}
	pack := RawPack(stepCtx)
	if len(pack.Sections) != 1 || len(pack.Sections[0].Content) != 99999 {
		t.Fatalf("raw pack must not truncate: %+v", pack.Sections)
	}
}

func TestRenderEntryIncludesEnvelope(t *testing.T) {
	e := models.StepHistoryEntry{
		StepID:   "plan",
		Content:  "did planning",
		Envelope: &models.HandoffEnvelope{Status: models.HandoffComplete, Summary: "planned"},
	}
	out := renderEntry(e)
	if !strings.HasPrefix(out, "handoff: ") || !strings.Contains(out, "did planning") {
		t.Fatalf("rendered entry = %q", out)
	}
}
