package batch

import (
	"sync"

	"github.com/use-agent/padcrawl/models"
)

// Run statuses reported by the Tracker.
const (
	StatusIdle        = "idle"
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// Tracker exposes live progress of the current run to other goroutines
// (the status server). It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	progress models.ProgressResponse
	latest   map[string]models.CrawlResult
}

// NewTracker creates an idle Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		progress: models.ProgressResponse{Status: StatusIdle},
		latest:   make(map[string]models.CrawlResult),
	}
}

// Begin resets progress for a new run. seed holds results carried over from
// a checkpoint.
func (t *Tracker) Begin(batchID string, start, end, next int, seed []models.CrawlResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress = models.ProgressResponse{
		BatchID:   batchID,
		Status:    StatusRunning,
		Start:     start,
		End:       end,
		NextIndex: next,
	}
	for i := range seed {
		t.latest[seed[i].ProjectID] = seed[i]
		t.progress.Summary.Add(&seed[i])
	}
}

// Record stores the latest result of a project.
func (t *Tracker) Record(r models.CrawlResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest[r.ProjectID] = r
	t.progress.Summary.Add(&r)
}

// Advance updates the completion watermark and probe count.
func (t *Tracker) Advance(next, completed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.NextIndex = next
	t.progress.Completed = completed
}

// Finish sets the terminal status.
func (t *Tracker) Finish(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress.Status = status
}

// Progress returns a snapshot of the current run.
func (t *Tracker) Progress() models.ProgressResponse {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

// Result returns the latest result recorded for a project.
func (t *Tracker) Result(projectID string) (models.CrawlResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.latest[projectID]
	return r, ok
}
