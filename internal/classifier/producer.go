package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"tagsync/internal/services"
)

const defaultTimeout = 60 * time.Second

// Producer supplies raw proposal payloads for a piece of text.
type Producer interface {
	Propose(ctx context.Context, text string) (string, error)
}

// OpenAIConfig configures an OpenAIProducer.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// RequestsPerSecond limits calls to the API. Zero or negative disables
	// limiting.
	RequestsPerSecond float64
	Burst             int
	MaxProposals      int
}

// OpenAIProducer asks an OpenAI-compatible chat endpoint for proposals.
type OpenAIProducer struct {
	client  *openai.Client
	cfg     OpenAIConfig
	limiter *rate.Limiter
}

// NewOpenAIProducer constructs a producer. The API key is required.
func NewOpenAIProducer(cfg OpenAIConfig) (*OpenAIProducer, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "classifier", "init", "api key required", nil)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimRight(base, "/")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &OpenAIProducer{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// Propose implements Producer. The returned string is the model's raw JSON.
func (p *OpenAIProducer) Propose(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("classifier: text required")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("classifier rate limit: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(p.cfg.MaxProposals)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", services.Wrap(services.ErrTimeout, "classifier", "chat completion", "", err)
		}
		return "", services.Wrap(services.ErrExternalTool, "classifier", "chat completion", "", err)
	}
	if len(resp.Choices) == 0 {
		return "", services.Wrap(services.ErrExternalTool, "classifier", "chat completion", "no choices returned", nil)
	}
	choice := resp.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", services.Wrap(services.ErrExternalTool, "classifier", "chat completion",
			fmt.Sprintf("empty content (finish_reason=%q, refusal=%q)", choice.FinishReason, choice.Message.Refusal), nil)
	}
	return content, nil
}

// HealthCheck verifies the key and endpoint by listing models.
func (p *OpenAIProducer) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	if _, err := p.client.ListModels(ctx); err != nil {
		return services.Wrap(services.ErrExternalTool, "classifier", "health", "list models", err)
	}
	return nil
}
