package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"assesslab/internal/config"
	"assesslab/internal/handler"
	"assesslab/internal/middleware"
)

// Setup configures the Gin engine with all routes and middleware.
// metricsHandler may be nil, in which case /metrics is not mounted.
func Setup(
	cfg *config.Config,
	log *zap.Logger,
	evalH *handler.EvaluationHandler,
	healthH *handler.HealthHandler,
	metricsHandler http.Handler,
) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	// Health checks
	r.GET("/healthz", healthH.Liveness)
	r.GET("/readyz", healthH.Readiness)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	auth := middleware.JWTAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	// Serverless-compatible path used by existing clients
	functions := r.Group("/functions/v1")
	functions.Use(auth)
	functions.POST("/evaluate-paper", evalH.Evaluate)

	v1 := r.Group("/api/v1")
	v1.Use(auth)
	v1.POST("/evaluate-paper", evalH.Evaluate)

	return r
}
