package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"assesslab/internal/domain"
)

// ResponseShape identifies which known envelope a model reply used.
type ResponseShape int

const (
	ShapeUnknown ResponseShape = iota
	// ShapeNestedOutput is {"output": {"content": [{"text": ...}]}}.
	ShapeNestedOutput
	// ShapeTopLevelContent is {"content": [{"type": "text", "text": ...}]}.
	ShapeTopLevelContent
	// ShapeCompletion is {"completion": "..."}.
	ShapeCompletion
	// ShapeMessage is {"message": {"content": "..."}}; content may also be a block list.
	ShapeMessage
)

func (s ResponseShape) String() string {
	switch s {
	case ShapeNestedOutput:
		return "nestedOutput"
	case ShapeTopLevelContent:
		return "topLevelContent"
	case ShapeCompletion:
		return "completion"
	case ShapeMessage:
		return "message"
	default:
		return "unknown"
	}
}

// ModelOutput is a decoded model reply.
type ModelOutput struct {
	Shape      ResponseShape
	Text       string
	StopReason string
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type envelope struct {
	Output *struct {
		Content []contentBlock `json:"content"`
		Message *struct {
			Content []contentBlock `json:"content"`
		} `json:"message"`
	} `json:"output"`
	Content    []contentBlock `json:"content"`
	Completion *string        `json:"completion"`
	Message    *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
	StopReason string `json:"stop_reason"`
}

// DecodeResponse classifies body into one of the known shapes and extracts its text.
// It fails with domain.ErrParse when no shape matches.
func DecodeResponse(body []byte) (ModelOutput, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ModelOutput{}, fmt.Errorf("%w: unmarshaling model response: %v", domain.ErrParse, err)
	}

	shape := classify(&env)
	out := ModelOutput{Shape: shape, StopReason: env.StopReason}

	switch shape {
	case ShapeNestedOutput:
		blocks := env.Output.Content
		if len(blocks) == 0 && env.Output.Message != nil {
			blocks = env.Output.Message.Content
		}
		out.Text = joinBlocks(blocks)
	case ShapeTopLevelContent:
		out.Text = joinBlocks(env.Content)
	case ShapeCompletion:
		out.Text = *env.Completion
	case ShapeMessage:
		out.Text = messageText(env.Message.Content)
	case ShapeUnknown:
		return ModelOutput{}, fmt.Errorf("%w: unrecognized model response shape: %s", domain.ErrParse, truncate(string(body), 300))
	}
	return out, nil
}

func classify(env *envelope) ResponseShape {
	switch {
	case env.Output != nil && (len(env.Output.Content) > 0 || (env.Output.Message != nil && len(env.Output.Message.Content) > 0)):
		return ShapeNestedOutput
	case len(env.Content) > 0:
		return ShapeTopLevelContent
	case env.Completion != nil:
		return ShapeCompletion
	case env.Message != nil && len(env.Message.Content) > 0 && string(env.Message.Content) != "null":
		return ShapeMessage
	default:
		return ShapeUnknown
	}
}

func joinBlocks(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type != "" && b.Type != "text" {
			continue
		}
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func messageText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return joinBlocks(blocks)
	}
	return ""
}
