// Package flows defines the static flow graph the engine executes:
// nodes, edges, and the station and template libraries that routing
// and graph-extension proposals resolve against.
package flows

import "fmt"

// Node is one step in a flow's static graph.
type Node struct {
	// ID is the node identifier, unique within the graph.
	ID string `json:"id" yaml:"id"`

	// Station names the execution role assigned to the node.
	Station string `json:"station" yaml:"station"`

	// AgentKey optionally overrides the station's default agent.
	AgentKey string `json:"agent_key,omitempty" yaml:"agent_key"`

	// Prompt is the node's work instruction.
	Prompt string `json:"prompt,omitempty" yaml:"prompt"`

	// Terminal marks nodes that end the flow; the route phase is
	// skipped for them and a terminate decision is synthesized.
	Terminal bool `json:"terminal,omitempty" yaml:"terminal"`
}

// Edge is a directed transition in the static graph.
type Edge struct {
	// From and To are node IDs.
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`

	// Label distinguishes branches out of the same node.
	Label string `json:"label,omitempty" yaml:"label"`
}

// Graph is a flow's static node/edge structure. Runtime-injected nodes
// are tracked on the run state and never added here.
type Graph struct {
	// Key identifies the flow.
	Key string `json:"key" yaml:"key"`

	// Entry is the node the flow starts at.
	Entry string `json:"entry" yaml:"entry"`

	// Nodes and Edges define the static structure.
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`

	byID map[string]*Node
}

// Validate checks structural integrity: a known entry node, unique node
// IDs, and edges that reference existing nodes.
func (g *Graph) Validate() error {
	if g.Key == "" {
		return fmt.Errorf("flow graph missing key")
	}
	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("flow %s: node with empty id", g.Key)
		}
		if seen[n.ID] {
			return fmt.Errorf("flow %s: duplicate node id %q", g.Key, n.ID)
		}
		seen[n.ID] = true
	}
	if !seen[g.Entry] {
		return fmt.Errorf("flow %s: entry node %q not defined", g.Key, g.Entry)
	}
	for _, e := range g.Edges {
		if !seen[e.From] {
			return fmt.Errorf("flow %s: edge from unknown node %q", g.Key, e.From)
		}
		if !seen[e.To] {
			return fmt.Errorf("flow %s: edge to unknown node %q", g.Key, e.To)
		}
	}
	return nil
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *Node {
	if g.byID == nil {
		g.byID = make(map[string]*Node, len(g.Nodes))
		for i := range g.Nodes {
			g.byID[g.Nodes[i].ID] = &g.Nodes[i]
		}
	}
	return g.byID[id]
}

// HasNode reports whether the static graph contains the node.
func (g *Graph) HasNode(id string) bool {
	return g.Node(id) != nil
}

// Outgoing returns the edges leaving the given node, in definition order.
func (g *Graph) Outgoing(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// NextDefault returns the first outgoing edge's target, or "" when the
// node has no outgoing edges.
func (g *Graph) NextDefault(id string) string {
	for _, e := range g.Edges {
		if e.From == id {
			return e.To
		}
	}
	return ""
}

// NextLabeled returns the target of the outgoing edge with the given
// label, or "" when no such edge exists.
func (g *Graph) NextLabeled(id, label string) string {
	for _, e := range g.Edges {
		if e.From == id && e.Label == label {
			return e.To
		}
	}
	return ""
}
