package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

// OpenAIConfig configures the OpenAI text and image clients.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	ImageModel string
	BaseURL    string // empty for the public API
}

// OpenAI implements TextGenerator and ImageGenerator.
type OpenAI struct {
	client     *openai.Client
	model      string
	imageModel string
}

// NewOpenAI creates an OpenAI-backed generator.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = openai.CreateImageModelDallE3
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
	}
}

// GenerateText implements TextGenerator.
func (o *OpenAI) GenerateText(ctx context.Context, topic models.Topic, prompt string) (string, error) {
	const op = "openai chat completion"

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	// Reasoning models reject a custom temperature.
	if !strings.Contains(o.model, "gpt-5") && !strings.HasPrefix(o.model, "o1") && !strings.HasPrefix(o.model, "o3") {
		req.Temperature = 0.8
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(op, err)
	}

	if len(resp.Choices) == 0 {
		return "", models.NewError(models.ErrorKindMalformed, op, errors.New("no choices in response"))
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", models.NewError(models.ErrorKindSafety, op, fmt.Errorf("draft for %q blocked by content filter", topic.Title))
	}

	return choice.Message.Content, nil
}

// GenerateImage implements ImageGenerator.
func (o *OpenAI) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	const op = "openai image generation"

	req := openai.ImageRequest{
		Prompt: prompt,
		Model:  o.imageModel,
		N:      1,
	}
	if strings.HasPrefix(o.imageModel, "dall-e") {
		req.Size = openai.CreateImageSize1792x1024
		req.ResponseFormat = openai.CreateImageResponseFormatB64JSON
	}

	resp, err := o.client.CreateImage(ctx, req)
	if err != nil {
		return Image{}, classifyOpenAIError(op, err)
	}

	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return Image{}, models.NewError(models.ErrorKindMalformed, op, errors.New("no image data in response"))
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return Image{}, models.NewError(models.ErrorKindMalformed, op, fmt.Errorf("decode image: %w", err))
	}

	return Image{Data: data, MIME: http.DetectContentType(data)}, nil
}

// classifyOpenAIError maps go-openai errors onto error kinds.
func classifyOpenAIError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.NewError(models.ErrorKindTimeout, op, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok {
			switch code {
			case "content_policy_violation", "content_filter":
				return models.NewError(models.ErrorKindSafety, op, err)
			case "insufficient_quota", "invalid_api_key":
				return models.NewError(models.ErrorKindUnauthorized, op, err)
			}
		}
		return models.NewError(models.KindForHTTPStatus(apiErr.HTTPStatusCode), op, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return models.NewError(models.KindForHTTPStatus(reqErr.HTTPStatusCode), op, err)
	}

	return models.NewError(models.ErrorKindNetwork, op, err)
}
