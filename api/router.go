package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/faceswap/api/handler"
	"github.com/use-agent/faceswap/api/middleware"
	"github.com/use-agent/faceswap/config"
	"github.com/use-agent/faceswap/metrics"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so probes and scrapers always work.
// pool and m may be nil.
func NewRouter(
	cfg *config.Config,
	sw handler.Swapper,
	jobs handler.JobRegistry,
	store handler.Artifacts,
	pool handler.PoolReporter,
	m *metrics.Metrics,
	startTime time.Time,
) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(sw.Provider(), pool, startTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Synchronous swap: answers with the image bytes.
	protected.POST("/swap", handler.Swap(sw, store, cfg.Store.ReleaseDelay))

	// Async jobs
	protected.POST("/swap/jobs", handler.PostJob(jobs, store))
	protected.GET("/swap/jobs/:id", handler.GetJob(jobs))
	protected.GET("/swap/jobs/:id/result", handler.GetJobResult(jobs))

	return r
}
