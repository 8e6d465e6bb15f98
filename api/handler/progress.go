package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/padcrawl/batch"
	"github.com/use-agent/padcrawl/models"
)

// Progress returns a handler for GET /api/v1/progress.
func Progress(tr *batch.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, tr.Progress())
	}
}

// Project returns a handler for GET /api/v1/projects/:id, the latest result
// recorded for a project in the current run.
func Project(tr *batch.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		r, ok := tr.Result(id)
		if !ok {
			c.JSON(http.StatusNotFound, models.ProjectResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeNotFound,
					Message: "no result for project " + id,
				},
			})
			return
		}
		c.JSON(http.StatusOK, models.ProjectResponse{Success: true, Result: &r})
	}
}
