package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"assesslab/internal/config"
	"assesslab/internal/domain"
	"assesslab/internal/llm"
	"assesslab/internal/logger"
	"assesslab/internal/port"
)

const providerName = "openai"

// Client implements port.ModelClient on an OpenAI-compatible bearer-token endpoint.
type Client struct {
	api    *openai.Client
	apiKey string
	model  string
	log    *zap.Logger
}

// NewClient creates an OpenAI-compatible client. An empty BaseURL uses the public API.
func NewClient(cfg *config.OpenAIConfig, log *zap.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &Client{
		api:    openai.NewClientWithConfig(apiCfg),
		apiKey: cfg.APIKey,
		model:  model,
		log:    logger.OrNop(log).Named("openai"),
	}
}

// Factory adapts NewClient to llm.ProviderFactory.
func Factory(cfg *config.Config, log *zap.Logger) (port.ModelClient, error) {
	return NewClient(&cfg.OpenAI, log), nil
}

// InvokeText sends a chat completion.
func (c *Client) InvokeText(ctx context.Context, req port.TextRequest) (*port.ModelResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := m.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return c.complete(ctx, msgs, req.MaxTokens, req.Temperature)
}

// InvokeVision sends the prompt and images as a multi-part user message.
func (c *Client) InvokeVision(ctx context.Context, req port.VisionRequest) (*port.ModelResponse, error) {
	parts := make([]openai.ChatMessagePart, 0, len(req.Images)+1)
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: req.Prompt})
	for _, img := range req.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    fmt.Sprintf("data:%s;base64,%s", img.MediaType, img.Data),
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}

	var msgs []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
	return c.complete(ctx, msgs, req.MaxTokens, req.Temperature)
}

func (c *Client) complete(ctx context.Context, msgs []openai.ChatCompletionMessage, maxTokens int, temperature float64) (*port.ModelResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: missing OpenAI API key", domain.ErrConfiguration)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	})
	if err != nil {
		return nil, mapError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in completion", domain.ErrParse)
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		c.log.Warn("model output truncated at max_tokens", zap.String("model", c.model))
	}

	raw, _ := json.Marshal(resp)
	return &port.ModelResponse{Text: resp.Choices[0].Message.Content, Raw: raw, Model: c.model}, nil
}

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		upErr := &llm.UpstreamError{Provider: providerName, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return llm.NewRateLimitError(providerName, upErr, 0)
		}
		return upErr
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &llm.UpstreamError{Provider: providerName, StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("calling openai API: %w", err)
}
