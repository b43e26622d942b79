package engines

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/flowline/internal/retry"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint (Azure, proxies, local).
	BaseURL string

	// DefaultModel is used when a request leaves Model empty.
	DefaultModel string

	// Retry is the budget for transient API errors.
	Retry retry.Config
}

// OpenAIProvider implements Provider on the go-openai client.
type OpenAIProvider struct {
	client       *openai.Client
	apiKey       string
	defaultModel string
	retryCfg     retry.Config
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultOpenAIModel
	}
	if config.Retry == (retry.Config{}) {
		config.Retry = retry.DefaultConfig()
	}

	var client *openai.Client
	if config.BaseURL != "" {
		cfg := openai.DefaultConfig(config.APIKey)
		cfg.BaseURL = config.BaseURL
		client = openai.NewClientWithConfig(cfg)
	} else {
		client = openai.NewClient(config.APIKey)
	}

	return &OpenAIProvider{
		client:       client,
		apiKey:       config.APIKey,
		defaultModel: config.DefaultModel,
		retryCfg:     config.Retry,
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// Available reports whether the provider has credentials.
func (p *OpenAIProvider) Available(ctx context.Context) bool {
	return p.apiKey != ""
}

// Complete performs a single non-streaming chat completion round trip.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	start := time.Now()
	resp, res := retry.DoValue(ctx, p.retryCfg, func() (openai.ChatCompletionResponse, error) {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			var apierr *openai.APIError
			if errors.As(err, &apierr) && !retryableStatus(apierr.HTTPStatusCode) {
				return resp, retry.Permanent(err)
			}
			return resp, err
		}
		return resp, nil
	})
	if res.Err != nil {
		return nil, res.Err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response contained no choices")
	}

	return &Completion{
		Text:       resp.Choices[0].Message.Content,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: string(resp.Choices[0].FinishReason),
		Duration:   time.Since(start),
	}, nil
}
