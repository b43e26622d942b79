// Package navigator decides where a run goes next. It maps routing
// signals onto the static flow graph, detects non-converging loops,
// and gates runtime graph extension behind the station library: a
// proposal whose target is not in the library is dropped without
// touching run state.
package navigator

import (
	"log/slog"

	"github.com/haasonsaas/flowline/internal/flows"
	"github.com/haasonsaas/flowline/pkg/models"
)

// RouteIntent is the navigator's decision for one routing call.
type RouteIntent string

const (
	IntentAdvance     RouteIntent = "ADVANCE"
	IntentLoop        RouteIntent = "LOOP"
	IntentTerminate   RouteIntent = "TERMINATE"
	IntentBranch      RouteIntent = "BRANCH"
	IntentExtendGraph RouteIntent = "EXTEND_GRAPH"
)

// ProposedNode references the definition a graph-extension target is
// built from: a template or a bare station. Station takes priority
// when both are present.
type ProposedNode struct {
	// Template is a template library key.
	Template string `json:"template,omitempty"`

	// Station is a station library key.
	Station string `json:"station,omitempty"`
}

// Resolve maps the reference to a concrete node id and its station.
// The returned ok is false when the reference is empty or the template
// is unknown.
func (n *ProposedNode) Resolve(stations *flows.StationLibrary, templates *flows.TemplateLibrary) (id, station string, ok bool) {
	if n == nil {
		return "", "", false
	}
	if n.Station != "" {
		return n.Station, n.Station, true
	}
	if n.Template != "" {
		tmpl, found := templates.Get(n.Template)
		if !found {
			return "", "", false
		}
		return tmpl.Key, tmpl.Station, true
	}
	return "", "", false
}

// ProposedEdge carries a graph-extension request: a new edge from the
// current node to a node outside the static graph.
type ProposedEdge struct {
	// From and To are node ids; To is the extension target.
	From string `json:"from"`
	To   string `json:"to"`

	// Why is the backend's stated reason for the extension.
	Why string `json:"why,omitempty"`

	// IsReturn requests an interruption frame so control returns to
	// From after the injected node completes. Without it there is no
	// implicit way back.
	IsReturn bool `json:"is_return"`

	// Node resolves the target; when nil, To is treated as a station
	// reference.
	Node *ProposedNode `json:"proposed_node,omitempty"`
}

// Output is the navigator's answer for one routing call.
type Output struct {
	// Intent is the routing decision.
	Intent RouteIntent

	// Target is the next node for ADVANCE/LOOP/BRANCH, or the
	// extension target for EXTEND_GRAPH.
	Target string

	// Edge is set only when Intent is IntentExtendGraph.
	Edge *ProposedEdge
}

// Config tunes the navigator.
type Config struct {
	// MaxIterations caps visits to a single node before the navigator
	// forces termination.
	MaxIterations int

	// StallWindow is how many identical consecutive verdicts count as
	// a stall.
	StallWindow int
}

// DefaultConfig returns the default navigator limits.
func DefaultConfig() Config {
	return Config{MaxIterations: 5, StallWindow: 3}
}

// Navigator is the routing decision engine.
type Navigator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a navigator.
func New(cfg Config, logger *slog.Logger) *Navigator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.StallWindow <= 0 {
		cfg.StallWindow = DefaultConfig().StallWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Navigator{cfg: cfg, logger: logger}
}

// Input is everything one routing call considers.
type Input struct {
	// Graph is the static flow graph.
	Graph *flows.Graph

	// Node is the node that just executed.
	Node string

	// Terminal marks the node as a declared flow endpoint. Terminal
	// nodes skip the route phase and always terminate, even when the
	// graph carries an outgoing edge.
	Terminal bool

	// Iteration is the node's visit count, including this visit.
	Iteration int

	// Signal is the backend's routing signal; nil when the route phase
	// failed to produce one.
	Signal *models.RoutingSignal

	// Stalled reports accumulated identical verdicts across
	// iterations.
	Stalled bool
}

// Decide maps a routing signal onto a route intent. ADVANCE, BRANCH
// and LOOP stay on the static graph; EXTEND_GRAPH is proposed only
// when the signal targets a node the static graph does not contain.
func (n *Navigator) Decide(in Input) Output {
	if in.Terminal {
		return Output{Intent: IntentTerminate}
	}
	if in.Signal == nil {
		// No usable signal: follow the default edge, else stop.
		if next := in.Graph.NextDefault(in.Node); next != "" {
			return Output{Intent: IntentAdvance, Target: next}
		}
		return Output{Intent: IntentTerminate}
	}

	switch in.Signal.Decision {
	case models.RouteDone:
		return Output{Intent: IntentTerminate}

	case models.RouteLoop:
		if in.Stalled {
			n.logger.Warn("loop stalled, terminating", "node", in.Node)
			return Output{Intent: IntentTerminate}
		}
		if in.Iteration >= n.cfg.MaxIterations {
			n.logger.Warn("iteration cap reached, terminating",
				"node", in.Node, "iterations", in.Iteration)
			return Output{Intent: IntentTerminate}
		}
		return Output{Intent: IntentLoop, Target: in.Node}

	case models.RouteNext:
		if next := in.Graph.NextDefault(in.Node); next != "" {
			return Output{Intent: IntentAdvance, Target: next}
		}
		return Output{Intent: IntentTerminate}

	case models.RouteBranch:
		target := in.Signal.Target
		if target == "" {
			return Output{Intent: IntentTerminate}
		}
		if next := in.Graph.NextLabeled(in.Node, target); next != "" {
			return Output{Intent: IntentBranch, Target: next}
		}
		if in.Graph.HasNode(target) {
			return Output{Intent: IntentBranch, Target: target}
		}
		return n.extend(in, target)

	case models.RouteExtend:
		if in.Signal.Target == "" {
			return Output{Intent: IntentTerminate}
		}
		if in.Graph.HasNode(in.Signal.Target) {
			// Target already in the static graph: this is a branch,
			// not an extension.
			return Output{Intent: IntentBranch, Target: in.Signal.Target}
		}
		return n.extend(in, in.Signal.Target)
	}

	n.logger.Warn("unknown routing decision, terminating",
		"node", in.Node, "decision", string(in.Signal.Decision))
	return Output{Intent: IntentTerminate}
}

// extend builds an EXTEND_GRAPH proposal for a target outside the
// static graph. Signal-originated extensions request a return edge so
// the flow comes back to the proposing node.
func (n *Navigator) extend(in Input, target string) Output {
	return Output{
		Intent: IntentExtendGraph,
		Target: target,
		Edge: &ProposedEdge{
			From:     in.Node,
			To:       target,
			Why:      in.Signal.Reason,
			IsReturn: true,
			Node:     &ProposedNode{Station: target},
		},
	}
}
