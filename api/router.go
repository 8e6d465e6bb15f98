// Package api serves live progress of a crawl run over HTTP.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/padcrawl/api/handler"
	"github.com/use-agent/padcrawl/api/middleware"
	"github.com/use-agent/padcrawl/batch"
	"github.com/use-agent/padcrawl/config"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if keys are configured) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(ctx context.Context, tr *batch.Tracker, cfg *config.Config, startTime time.Time, stats handler.PoolStatsFunc) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(stats, startTime))

	protected := v1.Group("")
	protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.GET("/progress", handler.Progress(tr))
	protected.GET("/projects/:id", handler.Project(tr))

	return r
}
