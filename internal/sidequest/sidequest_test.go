package sidequest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/flowline/internal/runstate"
)

func TestToStepsNormalizesSingleStation(t *testing.T) {
	def := &Definition{ID: "lint-pass", Station: "linter", Prompt: "lint it"}
	steps := def.ToSteps()
	if len(steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(steps))
	}
	if steps[0].ID != "lint-pass" || steps[0].Station != "linter" {
		t.Fatalf("unexpected step: %+v", steps[0])
	}
}

func TestEnterPushesPairedFrames(t *testing.T) {
	state := runstate.New("run-1", "release", "build")
	def := &Definition{ID: "lint-pass", Station: "linter", Return: ReturnBehavior{Mode: ReturnResume}}

	first, err := Enter(state, def, "build", "sidequest:lint-pass", map[string]string{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != "lint-pass" {
		t.Fatalf("first step = %q", first.ID)
	}
	if state.InterruptionDepth() != 1 || state.ResumeDepth() != 1 {
		t.Fatalf("depths = %d/%d, want 1/1", state.InterruptionDepth(), state.ResumeDepth())
	}
	if state.Detour() == nil || state.Detour().SidequestID != "lint-pass" {
		t.Fatalf("detour = %+v", state.Detour())
	}
}

func TestCompleteDetourResume(t *testing.T) {
	state := runstate.New("run-1", "release", "build")
	def := &Definition{ID: "lint-pass", Station: "linter", Return: ReturnBehavior{Mode: ReturnResume}}
	catalog := NewCatalog(def)

	if _, err := Enter(state, def, "build", "r", nil); err != nil {
		t.Fatal(err)
	}
	next, err := CompleteDetour(state, catalog)
	if err != nil {
		t.Fatal(err)
	}
	if next != "build" {
		t.Fatalf("resume next = %q, want build", next)
	}
	if !state.AtRoot() {
		t.Fatal("completion must pop both frames")
	}
	if state.Detour() != nil {
		t.Fatal("completion must clear the detour")
	}
}

func TestCompleteDetourBounceTo(t *testing.T) {
	state := runstate.New("run-1", "release", "build")
	def := &Definition{
		ID: "security-scan", Station: "scanner",
		Return: ReturnBehavior{Mode: ReturnBounceTo, TargetNode: "gate-step"},
	}
	catalog := NewCatalog(def)

	if _, err := Enter(state, def, "build", "r", nil); err != nil {
		t.Fatal(err)
	}
	next, err := CompleteDetour(state, catalog)
	if err != nil {
		t.Fatal(err)
	}
	if next != "gate-step" {
		t.Fatalf("bounce_to next = %q, want gate-step", next)
	}
}

func TestCompleteDetourHalt(t *testing.T) {
	state := runstate.New("run-1", "release", "build")
	def := &Definition{ID: "abort-check", Station: "checker", Return: ReturnBehavior{Mode: ReturnHalt}}
	catalog := NewCatalog(def)

	if _, err := Enter(state, def, "build", "r", nil); err != nil {
		t.Fatal(err)
	}
	next, err := CompleteDetour(state, catalog)
	if err != nil {
		t.Fatal(err)
	}
	if next != "" {
		t.Fatalf("halt next = %q, want empty", next)
	}
}

func TestCompleteDetourWithoutFrames(t *testing.T) {
	state := runstate.New("run-1", "release", "build")
	if _, err := CompleteDetour(state, NewCatalog()); !errors.Is(err, ErrNoDetour) {
		t.Fatalf("got %v, want ErrNoDetour", err)
	}
}

func TestAdvanceMultiStep(t *testing.T) {
	state := runstate.New("run-1", "release", "build")
	def := &Definition{
		ID: "hardening",
		Steps: []Step{
			{ID: "audit", Station: "auditor"},
			{ID: "patch", Station: "fixer"},
		},
		Return: ReturnBehavior{Mode: ReturnResume},
	}
	first, err := Enter(state, def, "build", "r", nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != "audit" {
		t.Fatalf("first = %q, want audit", first.ID)
	}
	next, ok := Advance(state)
	if !ok || next != "patch" {
		t.Fatalf("advance = %q/%v, want patch/true", next, ok)
	}
	if _, ok := Advance(state); ok {
		t.Fatal("exhausted detour must not advance")
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sidequests.yaml")
	doc := `sidequests:
  - id: lint-pass
    station: linter
    return:
      mode: resume
  - id: security-scan
    steps:
      - id: scan
        station: scanner
      - id: report
        station: reporter
    return:
      mode: bounce_to
      target_node: gate-step
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	if !catalog.Has("lint-pass") || !catalog.Has("security-scan") {
		t.Fatal("catalog missing loaded sidequests")
	}
	def, _ := catalog.Get("security-scan")
	if len(def.ToSteps()) != 2 {
		t.Fatalf("steps = %d, want 2", len(def.ToSteps()))
	}
}

func TestLoadCatalogRejectsBounceWithoutTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sidequests.yaml")
	doc := `sidequests:
  - id: broken
    station: x
    return:
      mode: bounce_to
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCatalog(path); err == nil {
		t.Fatal("bounce_to without target_node must fail to load")
	}
}
