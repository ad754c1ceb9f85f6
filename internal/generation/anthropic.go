package generation

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

// AnthropicConfig configures the Anthropic text client.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	BaseURL   string
}

// Anthropic implements TextGenerator using the Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates an Anthropic-backed text generator. The SDK's own
// retries are disabled; callers wrap it in the retrier.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// GenerateText implements TextGenerator.
func (a *Anthropic) GenerateText(ctx context.Context, topic models.Topic, prompt string) (string, error) {
	const op = "anthropic messages"

	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(0.8),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	message, err := a.client.Messages.New(ctx, req)
	if err != nil {
		return "", classifyAnthropicError(op, err)
	}

	if string(message.StopReason) == "refusal" {
		return "", models.NewError(models.ErrorKindSafety, op, errors.New("model refused to draft "+topic.Title))
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", models.NewError(models.ErrorKindMalformed, op, errors.New("no text in response"))
	}

	return text.String(), nil
}

func classifyAnthropicError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.NewError(models.ErrorKindTimeout, op, err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := models.KindForHTTPStatus(apiErr.StatusCode)
		if kind == models.ErrorKindRateLimited && apiErr.Response != nil {
			return models.RateLimited(op, err, models.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After")))
		}
		return models.NewError(kind, op, err)
	}

	return models.NewError(models.ErrorKindNetwork, op, err)
}
