package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordRun stores the outcome of a reindex.
func (s *Store) RecordRun(ctx context.Context, r ReindexRun) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reindex_runs (id, started_at, finished_at, status, message, documents, chunks)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.UTC().Format(time.RFC3339),
		r.Status, r.Message, r.Documents, r.Chunks,
	)
	if err != nil {
		return fmt.Errorf("recording reindex run: %w", err)
	}
	return nil
}

// LastRun returns the most recently recorded reindex run.
func (s *Store) LastRun(ctx context.Context) (ReindexRun, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return ReindexRun{}, err
	}
	if len(runs) == 0 {
		return ReindexRun{}, ErrNotFound
	}
	return runs[0], nil
}

// ListRuns returns up to limit reindex runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]ReindexRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, message, documents, chunks
		FROM reindex_runs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reindex runs: %w", err)
	}
	defer rows.Close()

	var runs []ReindexRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (ReindexRun, error) {
	var r ReindexRun
	var startedAt, finishedAt string
	if err := rows.Scan(&r.ID, &startedAt, &finishedAt, &r.Status, &r.Message, &r.Documents, &r.Chunks); err != nil {
		return ReindexRun{}, err
	}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return ReindexRun{}, fmt.Errorf("parsing started_at for run %s: %w", r.ID, err)
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
		return ReindexRun{}, fmt.Errorf("parsing finished_at for run %s: %w", r.ID, err)
	}
	return r, nil
}
