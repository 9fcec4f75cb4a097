package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/LCodingX/influence-dashboard/internal/handlers"
	"github.com/LCodingX/influence-dashboard/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware    *middleware.AuthMiddleware
	JobHandler        *handlers.JobHandler
	WebhookHandler    *handlers.WebhookHandler
	CredentialHandler *handlers.CredentialHandler
	ModelsHandler     *handlers.ModelsHandler
	SSEHandler        *handlers.SSEHandler

	AllowOrigins []string
	TracingOn    bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	if cfg.TracingOn {
		router.Use(otelgin.Middleware("influence-dashboard"))
	}

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/api/webhooks/runpod", cfg.WebhookHandler.Receive)

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	// Jobs
	protected.POST("/api/train", cfg.JobHandler.SubmitTrain)
	protected.GET("/api/jobs", cfg.JobHandler.ListJobs)
	protected.GET("/api/jobs/:id", cfg.JobHandler.GetJob)
	protected.GET("/api/jobs/:id/results", cfg.JobHandler.GetResults)
	protected.GET("/api/jobs/:id/logs", cfg.JobHandler.GetLogs)
	protected.POST("/api/jobs/:id/cancel", cfg.JobHandler.CancelJob)
	// Credentials
	protected.POST("/api/credentials", cfg.CredentialHandler.Store)
	protected.DELETE("/api/credentials", cfg.CredentialHandler.Remove)
	protected.GET("/api/credentials/status", cfg.CredentialHandler.Status)
	// Catalog
	protected.GET("/api/models", cfg.ModelsHandler.ListModels)
	// SSE
	protected.GET("/sse/stream", cfg.SSEHandler.SSEStream)
	protected.POST("/sse/subscribe", cfg.SSEHandler.SSESubscribe)
	protected.POST("/sse/unsubscribe", cfg.SSEHandler.SSEUnsubscribe)

	return router
}

// SplitOrigins parses a comma-separated CORS_ALLOW_ORIGINS value.
func SplitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
