package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CleanupJob asks the cleanup worker to remove the original uploaded
// files for a post whose processing attempt ultimately failed.
type CleanupJob struct {
	ID           string
	PostID       string
	OriginalKeys []string
	CreatedAt    time.Time
}

// ClaimNextCleanup claims the oldest queued cleanup job, same SKIP LOCKED
// shape as ClaimNext but against the cleanup_jobs table.
func ClaimNextCleanup(ctx context.Context, db *sql.DB) (*CleanupJob, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var j CleanupJob
	var keysJSON []byte
	row := tx.QueryRowContext(ctx, `
		WITH next AS (
			SELECT id
			FROM cleanup_jobs
			WHERE status = $1
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE cleanup_jobs q
		SET status = $2, updated_at = NOW()
		FROM next
		WHERE q.id = next.id
		RETURNING q.id, q.post_id, q.original_keys, q.created_at
	`, StatusQueued, StatusRunning)
	if err := row.Scan(&j.ID, &j.PostID, &keysJSON, &j.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("claim next cleanup: %w", err)
	}
	if err := json.Unmarshal(keysJSON, &j.OriginalKeys); err != nil {
		return nil, fmt.Errorf("unmarshal original keys: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &j, nil
}

func CompleteCleanup(ctx context.Context, db *sql.DB, jobID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE cleanup_jobs SET status = $1, updated_at = NOW() WHERE id = $2
	`, StatusDone, jobID)
	if err != nil {
		return fmt.Errorf("complete cleanup: %w", err)
	}
	return nil
}

// EnqueueCleanup schedules a best-effort deletion of a failed post's
// original files.
func EnqueueCleanup(ctx context.Context, db *sql.DB, id, postID string, originalKeys []string) error {
	keysJSON, err := json.Marshal(originalKeys)
	if err != nil {
		return fmt.Errorf("marshal original keys: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO cleanup_jobs (id, post_id, original_keys, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, id, postID, keysJSON, StatusQueued, time.Now())
	if err != nil {
		return fmt.Errorf("enqueue cleanup: %w", err)
	}
	return nil
}
