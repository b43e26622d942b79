// Package sidequest defines out-of-band detours a run can take: their
// definitions, the catalog they are looked up in, and the single
// authority that decides what happens when a detour completes.
package sidequest

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/flowline/internal/runstate"
)

var (
	// ErrUnknownSidequest means the catalog has no such definition.
	ErrUnknownSidequest = errors.New("unknown sidequest")

	// ErrNoDetour means detour completion was requested with no
	// interruption frame on the stack.
	ErrNoDetour = errors.New("no active detour")
)

// ReturnMode says where control goes after a sidequest completes.
type ReturnMode string

const (
	// ReturnResume pops back to the node recorded at interruption time.
	ReturnResume ReturnMode = "resume"

	// ReturnBounceTo ignores the recorded return node and goes to the
	// behavior's explicit target.
	ReturnBounceTo ReturnMode = "bounce_to"

	// ReturnHalt ends the flow normally.
	ReturnHalt ReturnMode = "halt"
)

// ReturnBehavior is a sidequest's declared return semantics.
type ReturnBehavior struct {
	// Mode selects resume, bounce_to, or halt.
	Mode ReturnMode `json:"mode" yaml:"mode"`

	// TargetNode is the bounce_to destination; ignored otherwise.
	TargetNode string `json:"target_node,omitempty" yaml:"target_node"`
}

// Step is one step of a multi-step sidequest.
type Step struct {
	// ID is the step's node identifier while the detour runs.
	ID string `json:"id" yaml:"id"`

	// Station is the execution role for the step.
	Station string `json:"station" yaml:"station"`

	// Prompt is the step's work instruction.
	Prompt string `json:"prompt,omitempty" yaml:"prompt"`
}

// Definition describes a sidequest: either a single-station detour or
// an ordered multi-step list, plus return behavior.
type Definition struct {
	// ID is the sidequest identifier.
	ID string `json:"id" yaml:"id"`

	// Station is set for single-station detours.
	Station string `json:"station,omitempty" yaml:"station"`

	// Prompt is the single-station work instruction.
	Prompt string `json:"prompt,omitempty" yaml:"prompt"`

	// Steps is set for multi-step detours.
	Steps []Step `json:"steps,omitempty" yaml:"steps"`

	// Return declares what happens when the detour completes.
	Return ReturnBehavior `json:"return" yaml:"return"`
}

// ToSteps normalizes both shapes into an ordered step list so callers
// have one execution path regardless of shape. A single-station detour
// becomes a one-step list whose ID is the sidequest ID.
func (d *Definition) ToSteps() []Step {
	if len(d.Steps) > 0 {
		out := make([]Step, len(d.Steps))
		copy(out, d.Steps)
		return out
	}
	if d.Station == "" {
		return nil
	}
	return []Step{{ID: d.ID, Station: d.Station, Prompt: d.Prompt}}
}

// Catalog holds the sidequests available to a flow.
type Catalog struct {
	defs map[string]*Definition
}

// NewCatalog builds a catalog from definitions.
func NewCatalog(defs ...*Definition) *Catalog {
	c := &Catalog{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		c.defs[d.ID] = d
	}
	return c
}

// Get returns the definition and whether it exists.
func (c *Catalog) Get(id string) (*Definition, bool) {
	if c == nil {
		return nil, false
	}
	d, ok := c.defs[id]
	return d, ok
}

// Has reports whether the catalog contains the sidequest.
func (c *Catalog) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// Enter records sidequest entry on the run state: resume frame first,
// then the interruption frame, then the detour progress tracker. It
// returns the first step to execute.
func Enter(state *runstate.RunState, def *Definition, fromNode, reason string, savedContext map[string]string) (Step, error) {
	steps := def.ToSteps()
	if len(steps) == 0 {
		return Step{}, fmt.Errorf("sidequest %s has no steps", def.ID)
	}

	state.PushResume(runstate.ResumeFrame{Node: fromNode, SavedContext: savedContext})
	state.PushInterruption(runstate.InterruptionFrame{
		Reason:      reason,
		ReturnNode:  fromNode,
		SidequestID: def.ID,
	})

	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	state.SetDetour(&runstate.ActiveDetour{SidequestID: def.ID, Steps: ids, Index: 0})
	return steps[0], nil
}

// Advance moves the active detour to its next step. It returns the
// next step ID and false when the detour's steps are exhausted.
func Advance(state *runstate.RunState) (string, bool) {
	d := state.Detour()
	if d == nil {
		return "", false
	}
	if d.Index+1 >= len(d.Steps) {
		return "", false
	}
	d.Index++
	state.SetDetour(d)
	return d.Steps[d.Index], true
}

// CompleteDetour is the single authority for resolving what happens
// after a detour: no other code path may decide flow continuation
// after a sidequest. It pops the interruption and resume frames pushed
// at entry and returns the next node per the sidequest's declared
// return behavior. An empty next with nil error means the flow halts
// normally (ReturnHalt).
func CompleteDetour(state *runstate.RunState, catalog *Catalog) (string, error) {
	frame, ok := state.PeekInterruption()
	if !ok {
		return "", ErrNoDetour
	}
	def, ok := catalog.Get(frame.SidequestID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSidequest, frame.SidequestID)
	}

	if _, err := state.PopInterruption(); err != nil {
		return "", err
	}
	resume, err := state.PopResume()
	if err != nil {
		return "", fmt.Errorf("interruption frame without matching resume frame: %w", err)
	}
	state.SetDetour(nil)

	switch def.Return.Mode {
	case ReturnResume:
		return resume.Node, nil
	case ReturnBounceTo:
		return def.Return.TargetNode, nil
	case ReturnHalt:
		return "", nil
	default:
		return "", fmt.Errorf("sidequest %s: unknown return mode %q", def.ID, def.Return.Mode)
	}
}
