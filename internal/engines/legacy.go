package engines

import (
	"context"

	"github.com/haasonsaas/flowline/internal/transport"
	"github.com/haasonsaas/flowline/pkg/models"
)

// Legacy single-call helpers for callers not using the session pattern.
// Each opens a session, runs the requested phases, and persists the
// transcript and receipt before returning.

// RunWorker executes only the work phase for a step.
func (c *Chain) RunWorker(ctx context.Context, params transport.SessionParams, prompt string, tools []string) (*models.WorkPhaseResult, error) {
	sess, err := c.OpenSession(ctx, params, "")
	if err != nil {
		return nil, err
	}
	res, werr := sess.Work(ctx, prompt, tools)
	if perr := sess.Persist(); perr != nil {
		return res, perr
	}
	return res, werr
}

// FinalizeStep executes work then finalize and returns the envelope
// result.
func (c *Chain) FinalizeStep(ctx context.Context, params transport.SessionParams, prompt, hint string) (*models.FinalizePhaseResult, error) {
	sess, err := c.OpenSession(ctx, params, "")
	if err != nil {
		return nil, err
	}
	var res *models.FinalizePhaseResult
	_, werr := sess.Work(ctx, prompt, nil)
	if werr == nil {
		res, werr = sess.Finalize(ctx, hint)
	}
	if perr := sess.Persist(); perr != nil {
		return res, perr
	}
	return res, werr
}

// RouteStep executes work then route and returns the routing result.
func (c *Chain) RouteStep(ctx context.Context, params transport.SessionParams, prompt string, cfg *transport.RouteConfig) (*models.RoutePhaseResult, error) {
	sess, err := c.OpenSession(ctx, params, "")
	if err != nil {
		return nil, err
	}
	var res *models.RoutePhaseResult
	_, werr := sess.Work(ctx, prompt, nil)
	if werr == nil {
		res, werr = sess.Route(ctx, cfg)
	}
	if perr := sess.Persist(); perr != nil {
		return res, perr
	}
	return res, werr
}

// RunStep executes all three phases and returns the combined result.
func (c *Chain) RunStep(ctx context.Context, params transport.SessionParams, prompt string, cfg *transport.RouteConfig) (*models.StepResult, error) {
	sess, err := c.OpenSession(ctx, params, "")
	if err != nil {
		return nil, err
	}
	var stepErr error
	if _, stepErr = sess.Work(ctx, prompt, nil); stepErr == nil {
		if _, stepErr = sess.Finalize(ctx, ""); stepErr == nil {
			_, stepErr = sess.Route(ctx, cfg)
		}
	}
	res := sess.Result()
	if perr := sess.Persist(); perr != nil {
		return res, perr
	}
	return res, stepErr
}
