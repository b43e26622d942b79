package navigator

import (
	"github.com/haasonsaas/flowline/internal/flows"
	"github.com/haasonsaas/flowline/internal/runstate"
)

// GraphPatch is the advisory two-entry patch emitted with every
// accepted extension so the static graph definition can later be
// reconciled by a human or tool. It never itself mutates the graph.
type GraphPatch struct {
	Entries []PatchEntry `json:"entries"`
}

// PatchEntry is one patch operation.
type PatchEntry struct {
	// Op is "node-add" or "edge-add".
	Op string `json:"op"`

	// Node is set for node-add.
	Node *flows.Node `json:"node,omitempty"`

	// Edge is set for edge-add.
	Edge *flows.Edge `json:"edge,omitempty"`
}

// ApplyExtendGraphRequest validates and applies an EXTEND_GRAPH
// proposal against the run state.
//
// Hard invariant: the resolved target's station must exist in the
// station library. If it does not, the proposal is rejected with no
// mutation to the run state and no patch; the caller degrades the
// decision (to TERMINATE or its own default) and emits nothing.
//
// On acceptance the target joins the run's injected-node list, and
// when the edge requests return semantics an interruption frame is
// pushed with the proposing node as the return address. Duplicate
// injections collapse by node id: the first injection's return
// semantics win and no second frame is pushed.
func ApplyExtendGraphRequest(state *runstate.RunState, edge *ProposedEdge, stations *flows.StationLibrary, templates *flows.TemplateLibrary) (string, *GraphPatch, bool) {
	if edge == nil {
		return "", nil, false
	}

	node := edge.Node
	if node == nil {
		node = &ProposedNode{Station: edge.To}
	}
	id, station, ok := node.Resolve(stations, templates)
	if !ok || !stations.Has(station) {
		return "", nil, false
	}

	if state.InjectNode(id) && edge.IsReturn {
		state.PushInterruption(runstate.InterruptionFrame{
			Reason:     "graph_extension",
			ReturnNode: edge.From,
		})
	}

	patch := &GraphPatch{Entries: []PatchEntry{
		{Op: "node-add", Node: &flows.Node{ID: id, Station: station}},
		{Op: "edge-add", Edge: &flows.Edge{From: edge.From, To: id}},
	}}
	return id, patch, true
}
