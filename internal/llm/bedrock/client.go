package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"assesslab/internal/config"
	"assesslab/internal/domain"
	"assesslab/internal/llm"
	"assesslab/internal/logger"
	"assesslab/internal/port"
	"assesslab/internal/signer"
)

const (
	providerName     = "bedrock"
	anthropicVersion = "bedrock-2023-05-31"
)

// Client implements port.ModelClient against a SigV4-protected invoke endpoint.
type Client struct {
	baseURL *url.URL
	modelID string
	creds   signer.Credentials
	signer  *signer.Signer
	client  *http.Client
	log     *zap.Logger
}

// NewClient creates a Bedrock runtime client from model config.
func NewClient(cfg *config.ModelConfig, log *zap.Logger) (*Client, error) {
	return NewClientWithSigner(cfg, signer.New(), log)
}

// NewClientWithSigner creates a client with an explicit signer (tests inject a fixed clock).
func NewClientWithSigner(cfg *config.ModelConfig, s *signer.Signer, log *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("parsing model endpoint: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: base,
		modelID: cfg.ModelID,
		creds: signer.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Region:          cfg.Region,
			Service:         cfg.Service,
		},
		signer: s,
		client: &http.Client{Timeout: timeout},
		log:    logger.OrNop(log).Named("bedrock"),
	}, nil
}

// Factory adapts NewClient to llm.ProviderFactory.
func Factory(cfg *config.Config, log *zap.Logger) (port.ModelClient, error) {
	return NewClient(&cfg.Model, log)
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type invokeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
}

// InvokeText sends a chat completion.
func (c *Client) InvokeText(ctx context.Context, req port.TextRequest) (*port.ModelResponse, error) {
	msgs := make([]message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		msgs = append(msgs, message{Role: role, Content: []contentBlock{{Type: "text", Text: m.Content}}})
	}
	return c.invoke(ctx, invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		System:           req.SystemPrompt,
		Messages:         msgs,
	})
}

// InvokeVision sends one text block followed by the image blocks.
func (c *Client) InvokeVision(ctx context.Context, req port.VisionRequest) (*port.ModelResponse, error) {
	return c.invoke(ctx, invokeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		System:           req.SystemPrompt,
		Messages:         []message{{Role: "user", Content: buildVisionContent(req.Prompt, req.Images)}},
	})
}

// buildVisionContent mixes one text block and one base64 image block per image.
func buildVisionContent(prompt string, images []domain.ImageContent) []contentBlock {
	blocks := make([]contentBlock, 0, len(images)+1)
	blocks = append(blocks, contentBlock{Type: "text", Text: prompt})
	for _, img := range images {
		blocks = append(blocks, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      img.Data,
			},
		})
	}
	return blocks
}

func (c *Client) invoke(ctx context.Context, body invokeRequest) (*port.ModelResponse, error) {
	if err := c.creds.Validate(); err != nil {
		return nil, err
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 4096
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	path := c.invokePath()
	headers, err := c.signer.Sign(signer.Request{
		Method:  http.MethodPost,
		Host:    c.baseURL.Host,
		Path:    path,
		Payload: payload,
	}, c.creds)
	if err != nil {
		return nil, err
	}

	target := *c.baseURL
	target.Path = path
	target.RawPath = signer.EscapePath(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling bedrock API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.log.Debug("model invoked",
		zap.String("model", c.modelID),
		zap.Int("status", resp.StatusCode),
		zap.Int("payload_bytes", len(payload)),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		upErr := &llm.UpstreamError{Provider: providerName, StatusCode: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, llm.NewRateLimitError(providerName, upErr, llm.ParseRetryAfterHeader(resp.Header.Get("Retry-After")))
		}
		return nil, upErr
	}

	out, err := llm.DecodeResponse(respBody)
	if err != nil {
		return nil, err
	}
	if out.StopReason == "max_tokens" {
		c.log.Warn("model output truncated at max_tokens", zap.String("model", c.modelID))
	}

	return &port.ModelResponse{Text: out.Text, Raw: respBody, Model: c.modelID}, nil
}

func (c *Client) invokePath() string {
	prefix := strings.TrimRight(c.baseURL.Path, "/")
	return prefix + "/model/" + c.modelID + "/invoke"
}
