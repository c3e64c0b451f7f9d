package api

import (
	"github.com/gin-gonic/gin"

	"github.com/classlab/gradeflow/internal/api/handler"
	"github.com/classlab/gradeflow/internal/api/middleware"
	"github.com/classlab/gradeflow/internal/breaker"
	"github.com/classlab/gradeflow/internal/config"
	"github.com/classlab/gradeflow/internal/monitor"
	"github.com/classlab/gradeflow/internal/queue"
	"github.com/classlab/gradeflow/internal/recovery"
	"github.com/classlab/gradeflow/internal/repository"
	"github.com/classlab/gradeflow/internal/storage"
)

// Deps bundles everything the router wires into handlers.
type Deps struct {
	Queue       *queue.Queue
	Breaker     *breaker.Breaker
	Recovery    *recovery.Manager
	Monitor     *monitor.Monitor
	Submissions *repository.SubmissionRepository
	Feedbacks   *repository.FeedbackRepository
	Storage     storage.ObjectStorage
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.ServerConfig, deps Deps) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORS(cfg.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.Queue, deps.Breaker, deps.Recovery, deps.Monitor)
	gradingHandler := handler.NewGradingHandler(deps.Queue, deps.Submissions, deps.Feedbacks, deps.Storage)
	adminHandler := handler.NewAdminHandler(deps.Recovery, cfg.AdminAPIKey)
	uploadHandler := handler.NewUploadHandler(deps.Storage)

	// Health checks
	r.GET("/health", healthHandler.Health)
	r.GET("/health/details", healthHandler.Details)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Submission payload uploads
		v1.POST("/uploads", uploadHandler.Upload)

		// Grading jobs
		v1.POST("/grading-jobs", gradingHandler.CreateJob)
		v1.GET("/grading-jobs/:id", gradingHandler.GetJob)

		// Feedback
		v1.GET("/submissions/:id/feedback", gradingHandler.GetFeedback)

		// Admin
		admin := v1.Group("/admin", adminHandler.Authorize)
		{
			admin.GET("/recovery", adminHandler.ListRecoveryActions)
			admin.POST("/recovery/:action", adminHandler.TriggerRecovery)
			admin.DELETE("/content/*key", uploadHandler.DeleteContent)
		}
	}

	return r
}
