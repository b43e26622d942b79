package flows

import "testing"

func validGraph() *Graph {
	return &Graph{
		Key:   "release",
		Entry: "plan",
		Nodes: []Node{
			{ID: "plan", Station: "planner"},
			{ID: "build", Station: "builder"},
			{ID: "review", Station: "reviewer", Terminal: true},
		},
		Edges: []Edge{
			{From: "plan", To: "build"},
			{From: "build", To: "review"},
			{From: "build", To: "plan", Label: "rework"},
		},
	}
}

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	if err := validGraph().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Graph)
	}{
		{"missing key", func(g *Graph) { g.Key = "" }},
		{"unknown entry", func(g *Graph) { g.Entry = "ghost" }},
		{"duplicate node", func(g *Graph) { g.Nodes = append(g.Nodes, Node{ID: "plan"}) }},
		{"empty node id", func(g *Graph) { g.Nodes = append(g.Nodes, Node{}) }},
		{"edge from unknown", func(g *Graph) { g.Edges = append(g.Edges, Edge{From: "ghost", To: "plan"}) }},
		{"edge to unknown", func(g *Graph) { g.Edges = append(g.Edges, Edge{From: "plan", To: "ghost"}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := validGraph()
			tt.mutate(g)
			if err := g.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEdgeLookups(t *testing.T) {
	g := validGraph()
	if got := g.NextDefault("plan"); got != "build" {
		t.Fatalf("NextDefault(plan) = %q, want build", got)
	}
	if got := g.NextDefault("review"); got != "" {
		t.Fatalf("NextDefault(review) = %q, want empty", got)
	}
	if got := g.NextLabeled("build", "rework"); got != "plan" {
		t.Fatalf("NextLabeled(build, rework) = %q, want plan", got)
	}
	if got := g.NextLabeled("build", "nope"); got != "" {
		t.Fatalf("NextLabeled(build, nope) = %q, want empty", got)
	}
	if out := g.Outgoing("build"); len(out) != 2 {
		t.Fatalf("Outgoing(build) = %d edges, want 2", len(out))
	}
	if !g.HasNode("review") || g.HasNode("ghost") {
		t.Fatal("HasNode answers wrong")
	}
}

func TestStationLibrary(t *testing.T) {
	lib := NewStationLibrary(Station{Key: "planner", SystemPrompt: "you plan"})
	if !lib.Has("planner") || lib.Has("ghost") {
		t.Fatal("Has answers wrong")
	}
	s, ok := lib.Get("planner")
	if !ok || s.SystemPrompt != "you plan" {
		t.Fatalf("Get = %+v, %v", s, ok)
	}
	var nilLib *StationLibrary
	if nilLib.Has("planner") {
		t.Fatal("nil library must contain nothing")
	}
}

func TestParseBundle(t *testing.T) {
	doc := `stations:
  - key: planner
    system_prompt: you plan
  - key: builder
templates:
  - key: triage
    station: planner
flows:
  - key: release
    entry: plan
    nodes:
      - id: plan
        station: planner
      - id: build
        station: builder
        terminal: true
    edges:
      - from: plan
        to: build
`
	bundle, err := ParseBundle([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	graphs := bundle.Graphs()
	if _, ok := graphs["release"]; !ok {
		t.Fatal("bundle missing release flow")
	}
	if !bundle.StationLibrary().Has("planner") {
		t.Fatal("bundle missing planner station")
	}
	if _, ok := bundle.TemplateLibrary().Get("triage"); !ok {
		t.Fatal("bundle missing triage template")
	}
}

func TestParseBundleRejectsUnknownStation(t *testing.T) {
	doc := `stations:
  - key: planner
flows:
  - key: release
    entry: plan
    nodes:
      - id: plan
        station: ghost
`
	if _, err := ParseBundle([]byte(doc)); err == nil {
		t.Fatal("node referencing unknown station must be rejected")
	}
}

func TestParseBundleRejectsDuplicateFlowKey(t *testing.T) {
	doc := `stations:
  - key: planner
flows:
  - key: release
    entry: plan
    nodes:
      - id: plan
        station: planner
  - key: release
    entry: plan
    nodes:
      - id: plan
        station: planner
`
	if _, err := ParseBundle([]byte(doc)); err == nil {
		t.Fatal("duplicate flow key must be rejected")
	}
}
