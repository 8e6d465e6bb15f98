// Package handler implements the status server's endpoints.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/padcrawl/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// PoolStatsFunc reports renderer tab usage. It may be nil when no browser is
// running.
type PoolStatsFunc func() models.PoolStats

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when more than 80% of renderer tabs are checked out.
func Health(stats PoolStatsFunc, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ps models.PoolStats
		if stats != nil {
			ps = stats()
		}

		status := "healthy"
		if ps.MaxTabs > 0 && ps.ActiveTabs > int(float64(ps.MaxTabs)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    status,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			PoolStats: ps,
			Version:   Version,
		})
	}
}
