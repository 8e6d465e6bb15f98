package models

import "time"

// CheckpointSnapshot is the persisted progress of one batch run.
// Only the latest snapshot of a run matters; it is rewritten, never appended.
type CheckpointSnapshot struct {
	BatchID string `json:"batch_id"`

	// NextIndex is the smallest record index not yet known to be complete.
	NextIndex int `json:"next_index"`

	// StartIndex and EndIndex bound the run's record range [start, end).
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`

	Mode    string        `json:"mode,omitempty"`
	Results []CrawlResult `json:"results_so_far"`
	Summary Summary       `json:"summary"`
	SavedAt time.Time     `json:"saved_at"`
}
