package router

import (
	"github.com/feelware/dvp/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// Options configures the routes that are not part of the handler dependencies
type Options struct {
	ServiceName string

	// RateLimiter, when set, limits POST /api/v1/jobs to SubmissionsPerMinute per client IP
	RateLimiter          Counter
	SubmissionsPerMinute int
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps, opts.ServiceName)
	r.GET("/health", healthHandler.Live)
	r.GET("/health/ready", healthHandler.Ready)

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a video for processing
			jobs.POST("", RateLimitMiddleware(opts.RateLimiter, opts.SubmissionsPerMinute, deps.Logger), jobHandler.SubmitJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job status
			jobs.GET("/:job_id", jobHandler.GetJob)
		}
	}

	return r
}
