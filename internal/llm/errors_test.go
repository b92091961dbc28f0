package llm_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"assesslab/internal/llm"
)

func TestRateLimitError_DefaultsRetryAfter(t *testing.T) {
	rlErr := llm.NewRateLimitError("bedrock", fmt.Errorf("slow down"), 0)

	assert.Equal(t, 60*time.Second, rlErr.RetryAfter)
	assert.Contains(t, rlErr.Error(), "bedrock")
}

func TestRateLimitError_ErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("vision batch: %w", llm.NewRateLimitError("openai", fmt.Errorf("429"), 30))

	var target *llm.RateLimitError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, 30*time.Second, target.RetryAfter)
}

func TestUpstreamError_TruncatesBody(t *testing.T) {
	err := &llm.UpstreamError{Provider: "bedrock", StatusCode: 500, Body: strings.Repeat("x", 1000)}

	assert.Contains(t, err.Error(), "status 500")
	assert.Less(t, len(err.Error()), 600)
}

func TestParseRetryAfterHeader(t *testing.T) {
	assert.Equal(t, 0, llm.ParseRetryAfterHeader(""))
	assert.Equal(t, 0, llm.ParseRetryAfterHeader("soon"))
	assert.Equal(t, 12, llm.ParseRetryAfterHeader("12"))
}
