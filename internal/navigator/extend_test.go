package navigator

import (
	"testing"

	"github.com/haasonsaas/flowline/internal/flows"
	"github.com/haasonsaas/flowline/internal/runstate"
)

func TestExtendAcceptedWhenStationInLibrary(t *testing.T) {
	stations := flows.NewStationLibrary(
		flows.Station{Key: "clarifier"},
		flows.Station{Key: "fixer"},
	)
	state := runstate.New("run-1", "release", "plan")
	edge := &ProposedEdge{From: "build", To: "clarifier", IsReturn: true}

	id, patch, ok := ApplyExtendGraphRequest(state, edge, stations, nil)
	if !ok {
		t.Fatal("proposal targeting a library station should be accepted")
	}
	if id != "clarifier" {
		t.Fatalf("injected id = %q, want clarifier", id)
	}
	if got := state.InjectedNodes(); len(got) != 1 || got[0] != "clarifier" {
		t.Fatalf("injected nodes = %v, want [clarifier]", got)
	}
	if state.InterruptionDepth() != 1 {
		t.Fatalf("interruption depth = %d, want 1", state.InterruptionDepth())
	}
	frame, _ := state.PeekInterruption()
	if frame.ReturnNode != "build" || frame.Reason != "graph_extension" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if len(patch.Entries) != 2 {
		t.Fatalf("patch entries = %d, want 2", len(patch.Entries))
	}
	if patch.Entries[0].Op != "node-add" || patch.Entries[0].Node.ID != "clarifier" {
		t.Fatalf("unexpected node-add entry: %+v", patch.Entries[0])
	}
	if patch.Entries[1].Op != "edge-add" || patch.Entries[1].Edge.To != "clarifier" {
		t.Fatalf("unexpected edge-add entry: %+v", patch.Entries[1])
	}
}

func TestExtendRejectedWhenStationMissing(t *testing.T) {
	stations := flows.NewStationLibrary(flows.Station{Key: "fixer"})
	state := runstate.New("run-1", "release", "plan")
	edge := &ProposedEdge{From: "build", To: "clarifier", IsReturn: true}

	_, patch, ok := ApplyExtendGraphRequest(state, edge, stations, nil)
	if ok {
		t.Fatal("proposal outside the station library must be rejected")
	}
	if patch != nil {
		t.Fatal("rejection must not produce a patch")
	}
	if len(state.InjectedNodes()) != 0 {
		t.Fatal("rejection must not inject nodes")
	}
	if state.InterruptionDepth() != 0 {
		t.Fatal("rejection must not push interruption frames")
	}
}

func TestExtendDuplicateInjectionCollapses(t *testing.T) {
	stations := flows.NewStationLibrary(flows.Station{Key: "clarifier"})
	state := runstate.New("run-1", "release", "plan")
	edge := &ProposedEdge{From: "build", To: "clarifier", IsReturn: true}

	if _, _, ok := ApplyExtendGraphRequest(state, edge, stations, nil); !ok {
		t.Fatal("first injection should be accepted")
	}
	again := &ProposedEdge{From: "review", To: "clarifier", IsReturn: true}
	if _, _, ok := ApplyExtendGraphRequest(state, again, stations, nil); !ok {
		t.Fatal("duplicate injection should still report acceptance")
	}
	if got := len(state.InjectedNodes()); got != 1 {
		t.Fatalf("injected nodes = %d, want 1", got)
	}
	if state.InterruptionDepth() != 1 {
		t.Fatal("duplicate injection must not push a second frame")
	}
	frame, _ := state.PeekInterruption()
	if frame.ReturnNode != "build" {
		t.Fatalf("first injection's return node must win, got %q", frame.ReturnNode)
	}
}

func TestExtendWithoutReturnPushesNoFrame(t *testing.T) {
	stations := flows.NewStationLibrary(flows.Station{Key: "clarifier"})
	state := runstate.New("run-1", "release", "plan")
	edge := &ProposedEdge{From: "build", To: "clarifier", IsReturn: false}

	if _, _, ok := ApplyExtendGraphRequest(state, edge, stations, nil); !ok {
		t.Fatal("proposal should be accepted")
	}
	if state.InterruptionDepth() != 0 {
		t.Fatal("no-return extension must not push an interruption frame")
	}
}

func TestExtendResolvesTemplates(t *testing.T) {
	stations := flows.NewStationLibrary(flows.Station{Key: "debugger"})
	templates := flows.NewTemplateLibrary(flows.NodeTemplate{Key: "triage", Station: "debugger"})
	state := runstate.New("run-1", "release", "plan")
	edge := &ProposedEdge{
		From: "build", To: "triage", IsReturn: true,
		Node: &ProposedNode{Template: "triage"},
	}

	id, _, ok := ApplyExtendGraphRequest(state, edge, stations, templates)
	if !ok || id != "triage" {
		t.Fatalf("template proposal: ok=%v id=%q, want true/triage", ok, id)
	}
}

func TestExtendUnknownTemplateRejected(t *testing.T) {
	stations := flows.NewStationLibrary(flows.Station{Key: "debugger"})
	state := runstate.New("run-1", "release", "plan")
	edge := &ProposedEdge{
		From: "build", To: "triage", IsReturn: true,
		Node: &ProposedNode{Template: "missing"},
	}
	if _, _, ok := ApplyExtendGraphRequest(state, edge, stations, nil); ok {
		t.Fatal("unknown template must be rejected")
	}
}
