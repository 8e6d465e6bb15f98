// Package store keeps every crawl result in an append-only SQLite table so
// that runs can be merged later without their JSON files.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/use-agent/padcrawl/merge"
	"github.com/use-agent/padcrawl/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS crawl_results (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id   TEXT NOT NULL,
	project_id TEXT NOT NULL,
	url        TEXT NOT NULL,
	has_pad    INTEGER NOT NULL,
	evidence   TEXT NOT NULL,
	links      TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	error_code TEXT NOT NULL DEFAULT '',
	engine     TEXT NOT NULL DEFAULT '',
	fetched_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_crawl_results_batch ON crawl_results(batch_id, seq);
CREATE INDEX IF NOT EXISTS idx_crawl_results_project ON crawl_results(project_id);
`

// Store is a SQLite-backed result sink. It is safe for concurrent use;
// writes are serialized on a single connection.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// Pragmas are per connection, and an in-memory database is per
	// connection too.
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts one result of a batch.
func (s *Store) Append(ctx context.Context, batchID string, r models.CrawlResult) error {
	evidence, err := json.Marshal(r.Evidence)
	if err != nil {
		return models.NewCrawlError(models.ErrCodePersistence, "encode evidence", err)
	}
	links, err := json.Marshal(r.Links)
	if err != nil {
		return models.NewCrawlError(models.ErrCodePersistence, "encode links", err)
	}
	var fetched string
	if !r.FetchedAt.IsZero() {
		fetched = r.FetchedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO crawl_results (batch_id, project_id, url, has_pad, evidence, links, error, error_code, engine, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, r.ProjectID, r.URL, r.HasPAD, string(evidence), string(links),
		r.Error, r.ErrorCode, r.Engine, fetched,
	)
	if err != nil {
		return models.NewCrawlError(models.ErrCodePersistence, "insert result", err)
	}
	return nil
}

// Sources returns one merge source per batch, ordered by each batch's first
// insert. Results within a batch keep insertion order.
func (s *Store) Sources(ctx context.Context) ([]merge.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.batch_id, r.project_id, r.url, r.has_pad, r.evidence, r.links,
		       r.error, r.error_code, r.engine, r.fetched_at
		FROM crawl_results r
		JOIN (SELECT batch_id, MIN(seq) AS first FROM crawl_results GROUP BY batch_id) b
		  ON b.batch_id = r.batch_id
		ORDER BY b.first, r.seq`)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []merge.Source
	for rows.Next() {
		var (
			batchID, evidence, links, fetched string
			r                                 models.CrawlResult
		)
		if err := rows.Scan(&batchID, &r.ProjectID, &r.URL, &r.HasPAD, &evidence, &links,
			&r.Error, &r.ErrorCode, &r.Engine, &fetched); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(evidence), &r.Evidence); err != nil {
			return nil, fmt.Errorf("store: decode evidence of %s: %w", r.ProjectID, err)
		}
		if err := json.Unmarshal([]byte(links), &r.Links); err != nil {
			return nil, fmt.Errorf("store: decode links of %s: %w", r.ProjectID, err)
		}
		if fetched != "" {
			r.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetched)
		}

		if len(out) == 0 || out[len(out)-1].ID != batchID {
			out = append(out, merge.Source{ID: batchID})
		}
		last := &out[len(out)-1]
		last.Results = append(last.Results, r)
	}
	return out, rows.Err()
}

// Batches returns stored batch ids with their result counts.
func (s *Store) Batches(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT batch_id, COUNT(*) FROM crawl_results GROUP BY batch_id`)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}
