package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assesslab/internal/domain"
	"assesslab/internal/handler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubEvaluator struct {
	resp *domain.EvaluationResponse
	err  error
	got  *domain.EvaluationRequest
}

func (s *stubEvaluator) Evaluate(_ context.Context, req *domain.EvaluationRequest) (*domain.EvaluationResponse, error) {
	s.got = req
	return s.resp, s.err
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func serve(t *testing.T, h *handler.EvaluationHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.POST("/evaluate-paper", h.Evaluate)
	req := httptest.NewRequest(http.MethodPost, "/evaluate-paper", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMapPipelineError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		message   string
		unhandled bool
	}{
		{"invalid input", domain.NewPipelineError(domain.ErrInvalidInput, "testId is required", nil), http.StatusBadRequest, "testId is required", false},
		{"configuration", domain.NewPipelineError(domain.ErrConfiguration, "Missing credentials", nil), http.StatusUnauthorized, "Missing credentials", false},
		{"connectivity", domain.NewPipelineError(domain.ErrConnectivity, "Cannot reach model", nil), http.StatusServiceUnavailable, "Cannot reach model", false},
		{"timeout", domain.NewPipelineError(domain.ErrTimeout, "Evaluation timed out after 5m0s", nil), http.StatusInternalServerError, "Evaluation timed out after 5m0s", false},
		{"bare timeout", domain.ErrTimeout, http.StatusInternalServerError, "Evaluation timed out", false},
		{"parse", domain.NewPipelineError(domain.ErrParse, "Failed to parse", nil), http.StatusInternalServerError, "Failed to parse", false},
		{"unhandled", errors.New("nil pointer somewhere"), http.StatusInternalServerError, "an internal error occurred", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body, unhandled := handler.MapPipelineError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.message, body.Error)
			assert.Equal(t, tt.unhandled, unhandled)
			assert.NotEmpty(t, body.Timestamp)
		})
	}
}

func TestMapPipelineError_CarriesHelpAndDetails(t *testing.T) {
	err := domain.NewPipelineError(domain.ErrConnectivity, "Cannot reach model", nil).
		WithHelp("check IAM").
		WithDetails(map[string]any{"errorType": "auth"})

	_, body, _ := handler.MapPipelineError(err)
	assert.Equal(t, "check IAM", body.Help)
	assert.Equal(t, "auth", body.Details["errorType"])
}

func TestEvaluationHandler_Success(t *testing.T) {
	stub := &stubEvaluator{resp: &domain.EvaluationResponse{
		EvaluationResult: domain.EvaluationResult{StudentName: "Asha", Summary: &domain.Summary{TotalScore: [2]float64{7, 10}, Percentage: 70}},
		Metadata:         domain.EvaluationMetadata{TestID: "t-1"},
		IsOcrProcessed:   true,
	}}
	w := serve(t, handler.NewEvaluationHandler(stub, nil, false),
		`{"testId":"t-1","questionPaper":{"text":"Q1"},"studentAnswer":{"url":"https://x/a.png"},"retryAttempt":2}`)

	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Asha", got["student_name"])
	assert.Equal(t, true, got["isOcrProcessed"])

	require.NotNil(t, stub.got)
	assert.Equal(t, "t-1", stub.got.TestID)
	assert.Equal(t, 2, stub.got.RetryAttempt)
	assert.Equal(t, "https://x/a.png", stub.got.StudentAnswer.URL)
}

func TestEvaluationHandler_MalformedBody(t *testing.T) {
	stub := &stubEvaluator{}
	w := serve(t, handler.NewEvaluationHandler(stub, nil, false), `{"testId":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
	assert.Nil(t, stub.got)
}

func TestEvaluationHandler_ErrorStatus(t *testing.T) {
	stub := &stubEvaluator{err: domain.NewPipelineError(domain.ErrConnectivity, "Cannot reach model", nil).WithHelp("check IAM")}
	w := serve(t, handler.NewEvaluationHandler(stub, nil, false), `{"testId":"t"}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body handler.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Cannot reach model", body.Error)
	assert.Equal(t, "check IAM", body.Help)
}

func TestEvaluationHandler_UnhandledStack(t *testing.T) {
	stub := &stubEvaluator{err: errors.New("boom")}

	w := serve(t, handler.NewEvaluationHandler(stub, nil, true), `{"testId":"t"}`)
	var body handler.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, body.Stack)

	w = serve(t, handler.NewEvaluationHandler(stub, nil, false), `{"testId":"t"}`)
	body = handler.ErrorBody{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Stack)
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name   string
		pinger handler.Pinger
		want   int
	}{
		{"no store", nil, http.StatusOK},
		{"store up", stubPinger{}, http.StatusOK},
		{"store down", stubPinger{err: errors.New("refused")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handler.NewHealthHandler(tt.pinger)
			r := gin.New()
			r.GET("/healthz", h.Liveness)
			r.GET("/readyz", h.Readiness)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.want, w.Code)

			w = httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
