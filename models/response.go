package models

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "degraded"
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
	Version   string    `json:"version"`
}

// PoolStats reports how many renderer tabs are checked out by workers.
type PoolStats struct {
	MaxTabs    int `json:"max_tabs"`
	ActiveTabs int `json:"active_tabs"`
}

// ProgressResponse is the response for GET /api/v1/progress.
type ProgressResponse struct {
	BatchID   string  `json:"batch_id"`
	Status    string  `json:"status"` // "idle", "running", "completed", "interrupted", "failed"
	Start     int     `json:"start_index"`
	End       int     `json:"end_index"`
	NextIndex int     `json:"next_index"`
	Completed int     `json:"completed"`
	Summary   Summary `json:"summary"`
}

// ProjectResponse is the response for GET /api/v1/projects/:id.
type ProjectResponse struct {
	Success bool         `json:"success"`
	Result  *CrawlResult `json:"result,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorResponse is the body of rejected API requests.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}
