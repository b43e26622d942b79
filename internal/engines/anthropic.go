package engines

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/flowline/internal/retry"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey is required. Format: sk-ant-api03-...
	APIKey string

	// BaseURL overrides the API endpoint (proxies, testing).
	BaseURL string

	// DefaultModel is used when a request leaves Model empty.
	DefaultModel string

	// Retry is the budget for transient API errors.
	Retry retry.Config
}

// AnthropicProvider implements Provider on the official Anthropic SDK.
type AnthropicProvider struct {
	client       anthropic.Client
	apiKey       string
	defaultModel string
	retryCfg     retry.Config
}

// NewAnthropicProvider creates an Anthropic-backed provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = retry.DefaultConfig()
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		apiKey:       config.APIKey,
		defaultModel: config.DefaultModel,
		retryCfg:     config.Retry,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Available reports whether the provider has credentials.
func (p *AnthropicProvider) Available(ctx context.Context) bool {
	return p.apiKey != ""
}

// Complete performs a single non-streaming message round trip.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	msg, res := retry.DoValue(ctx, p.retryCfg, func() (*anthropic.Message, error) {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			var apierr *anthropic.Error
			if errors.As(err, &apierr) && !retryableStatus(apierr.StatusCode) {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		return msg, nil
	})
	if res.Err != nil {
		return nil, res.Err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Completion{
		Text:       text.String(),
		TokensIn:   int(msg.Usage.InputTokens),
		TokensOut:  int(msg.Usage.OutputTokens),
		StopReason: string(msg.StopReason),
		Duration:   time.Since(start),
	}, nil
}
