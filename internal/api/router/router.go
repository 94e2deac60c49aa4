package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/pagekey/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, maxUploadBytes int64) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	keyHandler := handler.NewKeyHandler(deps)
	jobHandler := handler.NewJobHandler(deps)
	statsHandler := handler.NewStatsHandler(deps)

	r.GET("/health", statsHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		keys := v1.Group("/keys")
		{
			keys.POST("", keyHandler.IssueKey)
			keys.GET("", keyHandler.ListKeys)
			keys.POST("/merge", keyHandler.MergeKeys)
			keys.GET("/:key", keyHandler.GetKey)
			keys.POST("/:key/deactivate", keyHandler.DeactivateKey)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.POST("", BodyLimitMiddleware(maxUploadBytes), jobHandler.SubmitJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.GET("/:job_id/download", jobHandler.DownloadJob)
			jobs.PUT("/:job_id/status", jobHandler.UpdateJobStatus)
			jobs.PUT("/:job_id/payment", jobHandler.UpdatePaymentStatus)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		v1.GET("/statistics", statsHandler.Statistics)
	}

	return r
}
