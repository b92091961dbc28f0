package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"assesslab/internal/config"
	"assesslab/internal/domain"
	"assesslab/internal/handler"
	"assesslab/internal/router"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type okEvaluator struct{}

func (okEvaluator) Evaluate(_ context.Context, req *domain.EvaluationRequest) (*domain.EvaluationResponse, error) {
	return &domain.EvaluationResponse{Metadata: domain.EvaluationMetadata{TestID: req.TestID}}, nil
}

func newEngine(secret string) *gin.Engine {
	cfg := &config.Config{
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
		Auth: config.AuthConfig{JWTSecret: secret},
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	return router.Setup(cfg, nil,
		handler.NewEvaluationHandler(okEvaluator{}, nil, false),
		handler.NewHealthHandler(nil),
		metrics)
}

func TestSetup_Routes(t *testing.T) {
	r := newEngine("")

	for _, path := range []string{"/functions/v1/evaluate-paper", "/api/v1/evaluate-paper"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"testId":"t-9"}`)))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), `"testId":"t-9"`)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestSetup_Preflight(t *testing.T) {
	r := newEngine("secret")
	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/evaluate-paper", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSetup_RequiresTokenWhenSecretSet(t *testing.T) {
	r := newEngine("secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/evaluate-paper", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
