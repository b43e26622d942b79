package navigator

import (
	"testing"

	"github.com/haasonsaas/flowline/internal/flows"
	"github.com/haasonsaas/flowline/pkg/models"
)

func testGraph() *flows.Graph {
	return &flows.Graph{
		Key:   "release",
		Entry: "plan",
		Nodes: []flows.Node{
			{ID: "plan", Station: "planner"},
			{ID: "build", Station: "builder"},
			{ID: "review", Station: "reviewer", Terminal: true},
		},
		Edges: []flows.Edge{
			{From: "plan", To: "build"},
			{From: "build", To: "review"},
			{From: "build", To: "plan", Label: "rework"},
		},
	}
}

func TestDecideNilSignalFollowsDefaultEdge(t *testing.T) {
	nav := New(DefaultConfig(), nil)
	out := nav.Decide(Input{Graph: testGraph(), Node: "plan", Iteration: 1})
	if out.Intent != IntentAdvance || out.Target != "build" {
		t.Fatalf("got %s/%s, want ADVANCE/build", out.Intent, out.Target)
	}
}

func TestDecideTerminalNodeWithOutgoingEdgeTerminates(t *testing.T) {
	g := testGraph()
	// A declared endpoint that still has a default edge must not
	// advance along it.
	g.Nodes = append(g.Nodes, flows.Node{ID: "after", Station: "builder"})
	g.Edges = append(g.Edges, flows.Edge{From: "review", To: "after"})

	nav := New(DefaultConfig(), nil)
	out := nav.Decide(Input{Graph: g, Node: "review", Terminal: true, Iteration: 1})
	if out.Intent != IntentTerminate {
		t.Fatalf("got %s, want TERMINATE", out.Intent)
	}

	// Terminal wins even over an explicit signal.
	out = nav.Decide(Input{
		Graph: g, Node: "review", Terminal: true, Iteration: 1,
		Signal: &models.RoutingSignal{Decision: models.RouteNext},
	})
	if out.Intent != IntentTerminate {
		t.Fatalf("with signal: got %s, want TERMINATE", out.Intent)
	}
}

func TestDecideNilSignalNoEdgeTerminates(t *testing.T) {
	nav := New(DefaultConfig(), nil)
	out := nav.Decide(Input{Graph: testGraph(), Node: "review", Iteration: 1})
	if out.Intent != IntentTerminate {
		t.Fatalf("got %s, want TERMINATE", out.Intent)
	}
}

func TestDecideDone(t *testing.T) {
	nav := New(DefaultConfig(), nil)
	out := nav.Decide(Input{
		Graph: testGraph(), Node: "build", Iteration: 1,
		Signal: &models.RoutingSignal{Decision: models.RouteDone},
	})
	if out.Intent != IntentTerminate {
		t.Fatalf("got %s, want TERMINATE", out.Intent)
	}
}

func TestDecideLoop(t *testing.T) {
	nav := New(Config{MaxIterations: 3, StallWindow: 3}, nil)
	sig := &models.RoutingSignal{Decision: models.RouteLoop}

	out := nav.Decide(Input{Graph: testGraph(), Node: "build", Iteration: 1, Signal: sig})
	if out.Intent != IntentLoop || out.Target != "build" {
		t.Fatalf("got %s/%s, want LOOP/build", out.Intent, out.Target)
	}

	out = nav.Decide(Input{Graph: testGraph(), Node: "build", Iteration: 3, Signal: sig})
	if out.Intent != IntentTerminate {
		t.Fatalf("iteration cap: got %s, want TERMINATE", out.Intent)
	}

	out = nav.Decide(Input{Graph: testGraph(), Node: "build", Iteration: 1, Signal: sig, Stalled: true})
	if out.Intent != IntentTerminate {
		t.Fatalf("stalled: got %s, want TERMINATE", out.Intent)
	}
}

func TestDecideNext(t *testing.T) {
	nav := New(DefaultConfig(), nil)
	out := nav.Decide(Input{
		Graph: testGraph(), Node: "plan", Iteration: 1,
		Signal: &models.RoutingSignal{Decision: models.RouteNext},
	})
	if out.Intent != IntentAdvance || out.Target != "build" {
		t.Fatalf("got %s/%s, want ADVANCE/build", out.Intent, out.Target)
	}
}

func TestDecideBranchByLabel(t *testing.T) {
	nav := New(DefaultConfig(), nil)
	out := nav.Decide(Input{
		Graph: testGraph(), Node: "build", Iteration: 1,
		Signal: &models.RoutingSignal{Decision: models.RouteBranch, Target: "rework"},
	})
	if out.Intent != IntentBranch || out.Target != "plan" {
		t.Fatalf("got %s/%s, want BRANCH/plan", out.Intent, out.Target)
	}
}

func TestDecideBranchToGraphNode(t *testing.T) {
	nav := New(DefaultConfig(), nil)
	out := nav.Decide(Input{
		Graph: testGraph(), Node: "build", Iteration: 1,
		Signal: &models.RoutingSignal{Decision: models.RouteBranch, Target: "review"},
	})
	if out.Intent != IntentBranch || out.Target != "review" {
		t.Fatalf("got %s/%s, want BRANCH/review", out.Intent, out.Target)
	}
}

func TestDecideBranchOffGraphProposesExtension(t *testing.T) {
	nav := New(DefaultConfig(), nil)
	out := nav.Decide(Input{
		Graph: testGraph(), Node: "build", Iteration: 1,
		Signal: &models.RoutingSignal{Decision: models.RouteBranch, Target: "clarifier", Reason: "spec unclear"},
	})
	if out.Intent != IntentExtendGraph {
		t.Fatalf("got %s, want EXTEND_GRAPH", out.Intent)
	}
	if out.Edge == nil || out.Edge.From != "build" || out.Edge.To != "clarifier" {
		t.Fatalf("unexpected edge: %+v", out.Edge)
	}
	if !out.Edge.IsReturn {
		t.Fatal("signal-originated extension should request return semantics")
	}
}

func TestDecideExtendToGraphNodeIsBranch(t *testing.T) {
	nav := New(DefaultConfig(), nil)
	out := nav.Decide(Input{
		Graph: testGraph(), Node: "plan", Iteration: 1,
		Signal: &models.RoutingSignal{Decision: models.RouteExtend, Target: "review"},
	})
	if out.Intent != IntentBranch || out.Target != "review" {
		t.Fatalf("got %s/%s, want BRANCH/review", out.Intent, out.Target)
	}
}

func TestStallDetector(t *testing.T) {
	d := NewStallDetector(3)
	if d.Observe("failed") || d.Observe("failed") {
		t.Fatal("stalled before window filled")
	}
	if !d.Observe("failed") {
		t.Fatal("three identical verdicts should stall")
	}
	d.Reset()
	if d.Observe("failed") {
		t.Fatal("reset should clear accumulated verdicts")
	}
}

func TestStallDetectorMixedVerdicts(t *testing.T) {
	d := NewStallDetector(3)
	d.Observe("failed")
	d.Observe("partial")
	if d.Observe("failed") {
		t.Fatal("mixed verdicts must not stall")
	}
}

func TestStallDetectorEmptyVerdictNeverStalls(t *testing.T) {
	d := NewStallDetector(2)
	d.Observe("")
	if d.Observe("") {
		t.Fatal("empty verdicts must not stall")
	}
}
