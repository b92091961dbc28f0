package bedrock_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assesslab/internal/config"
	"assesslab/internal/domain"
	"assesslab/internal/llm"
	"assesslab/internal/llm/bedrock"
	"assesslab/internal/port"
	"assesslab/internal/signer"
)

func newTestClient(t *testing.T, serverURL string) *bedrock.Client {
	t.Helper()
	cfg := &config.ModelConfig{
		ModelID:         "test-model",
		Region:          "us-east-1",
		Service:         "bedrock",
		Endpoint:        serverURL,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Timeout:         5 * time.Second,
	}
	fixed := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	c, err := bedrock.NewClientWithSigner(cfg, signer.NewWithClock(func() time.Time { return fixed }), nil)
	require.NoError(t, err)
	return c
}

func TestClient_InvokeText_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/model/test-model/invoke", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240315/us-east-1/bedrock/aws4_request"))
		assert.Equal(t, "20240315T103000Z", r.Header.Get("X-Amz-Date"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var reqBody map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
		assert.Equal(t, "bedrock-2023-05-31", reqBody["anthropic_version"])
		assert.Equal(t, float64(100), reqBody["max_tokens"])
		assert.Equal(t, "be terse", reqBody["system"])

		messages := reqBody["messages"].([]interface{})
		if !assert.Len(t, messages, 1) {
			return
		}
		msg := messages[0].(map[string]interface{})
		assert.Equal(t, "user", msg["role"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Connection OK"}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.InvokeText(context.Background(), port.TextRequest{
		Messages:     []port.Message{{Role: "user", Content: "Test connection"}},
		MaxTokens:    100,
		SystemPrompt: "be terse",
	})

	require.NoError(t, err)
	assert.Equal(t, "Connection OK", resp.Text)
	assert.Equal(t, "test-model", resp.Model)
}

func TestClient_InvokeVision_ContentBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))

		msg := reqBody["messages"].([]interface{})[0].(map[string]interface{})
		content := msg["content"].([]interface{})
		if !assert.Len(t, content, 3) {
			return
		}

		textBlock := content[0].(map[string]interface{})
		assert.Equal(t, "text", textBlock["type"])
		assert.Equal(t, "transcribe", textBlock["text"])

		img := content[1].(map[string]interface{})
		assert.Equal(t, "image", img["type"])
		source := img["source"].(map[string]interface{})
		assert.Equal(t, "base64", source["type"])
		assert.Equal(t, "image/png", source["media_type"])
		assert.Equal(t, "AAAA", source["data"])

		_, _ = w.Write([]byte(`{"output":{"content":[{"text":"page text"}]}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	resp, err := c.InvokeVision(context.Background(), port.VisionRequest{
		Prompt: "transcribe",
		Images: []domain.ImageContent{
			{URL: "a", Data: "AAAA", MediaType: "image/png"},
			{URL: "b", Data: "BBBB", MediaType: "image/jpeg"},
		},
		MaxTokens: 1000,
	})

	require.NoError(t, err)
	assert.Equal(t, "page text", resp.Text)
}

func TestClient_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"not authorized to perform bedrock:InvokeModel"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.InvokeText(context.Background(), port.TextRequest{Messages: []port.Message{{Content: "hi"}}})

	var upErr *llm.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusForbidden, upErr.StatusCode)
	assert.Contains(t, upErr.Body, "InvokeModel")
}

func TestClient_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.InvokeText(context.Background(), port.TextRequest{Messages: []port.Message{{Content: "hi"}}})

	var rlErr *llm.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, 7*time.Second, rlErr.RetryAfter)
}

func TestClient_UnrecognizedBodyIsParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected":true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.InvokeText(context.Background(), port.TextRequest{Messages: []port.Message{{Content: "hi"}}})

	assert.True(t, errors.Is(err, domain.ErrParse))
}

func TestClient_MissingCredentialsFailsBeforeNetwork(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	c, err := bedrock.NewClient(&config.ModelConfig{ModelID: "m", Service: "bedrock", Endpoint: server.URL}, nil)
	require.NoError(t, err)

	_, err = c.InvokeText(context.Background(), port.TextRequest{Messages: []port.Message{{Content: "hi"}}})

	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestClient_EscapesModelIDOnTheWire(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/model/anthropic.claude-v2%3A1/invoke", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"completion":"ok"}`))
	}))
	defer server.Close()

	cfg := &config.ModelConfig{
		ModelID: "anthropic.claude-v2:1", Region: "us-east-1", Service: "bedrock",
		Endpoint: server.URL, AccessKeyID: "a", SecretAccessKey: "b",
	}
	c, err := bedrock.NewClient(cfg, nil)
	require.NoError(t, err)

	resp, err := c.InvokeText(context.Background(), port.TextRequest{Messages: []port.Message{{Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}
