package handler

import (
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"assesslab/internal/domain"
	"assesslab/internal/middleware"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string         `json:"error"`
	Details   map[string]any `json:"details,omitempty"`
	Help      string         `json:"help,omitempty"`
	Stack     string         `json:"stack,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// MapPipelineError translates pipeline errors to an HTTP status and error body.
// The bool reports whether the error was unclassified.
func MapPipelineError(err error) (int, ErrorBody, bool) {
	body := ErrorBody{Timestamp: time.Now().UTC().Format(time.RFC3339)}

	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		body.Error = pe.Message
		body.Help = pe.Help
		body.Details = pe.Details
	} else {
		body.Error = err.Error()
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, body, false
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusUnauthorized, body, false
	case errors.Is(err, domain.ErrConnectivity):
		return http.StatusServiceUnavailable, body, false
	case errors.Is(err, domain.ErrTimeout):
		if pe == nil {
			body.Error = "Evaluation timed out"
		}
		return http.StatusInternalServerError, body, false
	case errors.Is(err, domain.ErrDocumentAccess), errors.Is(err, domain.ErrParse):
		return http.StatusInternalServerError, body, false
	default:
		if pe == nil {
			body.Error = "an internal error occurred"
		}
		return http.StatusInternalServerError, body, true
	}
}

// HandleError maps err, logs unclassified failures with a stack, and writes the error response.
func HandleError(c *gin.Context, log *zap.Logger, exposeStack bool, err error) {
	status, body, unhandled := MapPipelineError(err)
	if unhandled {
		stack := string(debug.Stack())
		log.Error("unhandled error",
			zap.String("request_id", c.GetString(middleware.ContextKeyRequestID)),
			zap.Error(err),
			zap.String("stack", stack),
		)
		if exposeStack {
			body.Stack = stack
		}
	} else if status >= 500 {
		log.Warn("evaluation failed",
			zap.String("request_id", c.GetString(middleware.ContextKeyRequestID)),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}

// RespondBadRequest writes a 400 with msg.
func RespondBadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorBody{Error: msg, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}
