package port

import (
	"context"

	"assesslab/internal/domain"
)

// Message is a single chat turn sent to a model.
type Message struct {
	Role    string
	Content string
}

// TextRequest carries a plain text/chat completion call.
type TextRequest struct {
	Messages     []Message
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// VisionRequest carries a prompt plus a batch of images.
type VisionRequest struct {
	Prompt       string
	Images       []domain.ImageContent
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// ModelResponse is the text extracted from a model call plus the raw body for diagnostics.
type ModelResponse struct {
	Text  string
	Raw   []byte
	Model string
}

// ModelClient abstracts a hosted multimodal model.
type ModelClient interface {
	InvokeText(ctx context.Context, req TextRequest) (*ModelResponse, error)
	InvokeVision(ctx context.Context, req VisionRequest) (*ModelResponse, error)
}
