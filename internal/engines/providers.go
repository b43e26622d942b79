// Package engines implements the step engines behind the transport
// contract: a native SDK engine, a CLI subprocess engine, and an
// offline stub, plus the fallback chain that selects between them and
// degrades on failure. Every execution, success or failure, leaves a
// transcript and a receipt in durable storage.
package engines

import (
	"context"
	"net/http"
	"time"
)

// CompletionRequest is a single-turn completion request sent to an LLM
// provider during a session phase.
type CompletionRequest struct {
	// Model is the model identifier; empty uses the provider default.
	Model string

	// System is the station persona prompt.
	System string

	// Prompt is the user-turn content.
	Prompt string

	// MaxTokens caps the response length.
	MaxTokens int
}

// Completion is a provider's response to a CompletionRequest.
type Completion struct {
	// Text is the response content.
	Text string

	// TokensIn and TokensOut are usage counts when the provider
	// reports them.
	TokensIn  int
	TokensOut int

	// StopReason is the provider's stop reason, when known.
	StopReason string

	// Duration is the round-trip time.
	Duration time.Duration
}

// retryableStatus reports whether an HTTP status from a provider API
// is worth retrying. Auth and validation failures are not.
func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// Provider is an LLM SDK client behind the SDK engine. Implementations
// exist for Anthropic and OpenAI; both are selected by configuration,
// never by call-site branching.
type Provider interface {
	// Name returns the provider identifier used in receipts.
	Name() string

	// Available reports whether the provider is configured and usable.
	Available(ctx context.Context) bool

	// Complete performs one blocking completion round trip.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}
