package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"assesslab/internal/domain"
	"assesslab/internal/logger"
)

// Evaluator runs one evaluation request end to end.
type Evaluator interface {
	Evaluate(ctx context.Context, req *domain.EvaluationRequest) (*domain.EvaluationResponse, error)
}

// EvaluationHandler serves the evaluate-paper endpoint.
type EvaluationHandler struct {
	pipeline    Evaluator
	log         *zap.Logger
	exposeStack bool
}

// NewEvaluationHandler creates an EvaluationHandler. exposeStack adds stack traces to 500 bodies.
func NewEvaluationHandler(pipeline Evaluator, log *zap.Logger, exposeStack bool) *EvaluationHandler {
	return &EvaluationHandler{pipeline: pipeline, log: logger.OrNop(log), exposeStack: exposeStack}
}

// Evaluate handles POST /functions/v1/evaluate-paper
func (h *EvaluationHandler) Evaluate(c *gin.Context) {
	var req domain.EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.pipeline.Evaluate(c.Request.Context(), &req)
	if err != nil {
		HandleError(c, h.log, h.exposeStack, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
