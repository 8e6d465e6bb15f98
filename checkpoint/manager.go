// Package checkpoint persists batch progress and result files atomically.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/use-agent/padcrawl/models"
)

// Manager writes the snapshot of one batch run. Each Save replaces the
// previous snapshot; a reader sees either the old or the new file, never a
// partial one.
type Manager struct {
	dir     string
	batchID string
	now     func() time.Time
}

// NewManager creates a Manager that writes checkpoint_<batchID>.json in dir.
func NewManager(dir, batchID string) *Manager {
	return &Manager{dir: dir, batchID: batchID, now: time.Now}
}

// Path returns the snapshot file path.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, SnapshotName(m.batchID))
}

// SnapshotName is the file name of a batch's snapshot.
func SnapshotName(batchID string) string {
	return "checkpoint_" + batchID + ".json"
}

// Save stamps and writes snap. A failure leaves the previous snapshot
// untouched and returns a PERSISTENCE_FAILED error.
func (m *Manager) Save(snap *models.CheckpointSnapshot) error {
	snap.BatchID = m.batchID
	snap.SavedAt = m.now().UTC()
	return WriteJSON(m.Path(), snap)
}

// WriteJSON writes v as indented JSON to path through a temp file in the same
// directory that is synced and renamed into place.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return models.NewCrawlError(models.ErrCodePersistence, "encode "+filepath.Base(path), err)
	}
	return WriteFile(path, append(data, '\n'))
}

// WriteFile replaces path with data atomically.
func WriteFile(path string, data []byte) error {
	if err := writeAtomic(path, data); err != nil {
		return models.NewCrawlError(models.ErrCodePersistence, "write "+filepath.Base(path), err)
	}
	return nil
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return nil
}

// LoadSnapshot reads a snapshot written by Save.
func LoadSnapshot(path string) (*models.CheckpointSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	var snap models.CheckpointSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("checkpoint: parse %s: %w", path, err)
	}
	if snap.NextIndex < snap.StartIndex {
		return nil, fmt.Errorf("checkpoint: %s: next_index %d before start_index %d", path, snap.NextIndex, snap.StartIndex)
	}
	return &snap, nil
}

// LoadResults reads crawl results from either a plain JSON array (batch
// result files) or a snapshot object (its results_so_far).
func LoadResults(path string) ([]models.CrawlResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var results []models.CrawlResult
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, fmt.Errorf("checkpoint: parse %s: %w", path, err)
		}
		return results, nil
	}

	var snap models.CheckpointSnapshot
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return nil, fmt.Errorf("checkpoint: parse %s: %w", path, err)
	}
	return snap.Results, nil
}

// ResultsName is the final result file of records [start, end).
func ResultsName(start, end int) string {
	return fmt.Sprintf("pad_results_batch_%d_%d.json", start+1, end)
}

// LinksName is the harvested document link file of records [start, end).
func LinksName(start, end int) string {
	return fmt.Sprintf("document_links_%d_%d.json", start+1, end)
}

// ErrorsName is the errored result file of records [start, end).
func ErrorsName(start, end int) string {
	return fmt.Sprintf("pad_errors_%d_%d.json", start+1, end)
}
