// Package queue is the Postgres-backed broker: a media job table claimed
// with SELECT ... FOR UPDATE SKIP LOCKED, plus a sibling table for
// best-effort "cleanup-failed-media" jobs.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// ItemType discriminates media items within a job.
type ItemType string

const (
	ItemTypeImage ItemType = "IMAGE"
	ItemTypeVideo ItemType = "VIDEO"
)

// Item is one media file within a post.
type Item struct {
	MediaID      string   `json:"mediaId"`
	Type         ItemType `json:"type"`
	Filename     string   `json:"filename"`
	OriginalName string   `json:"originalName"`
	Height       int      `json:"height"`
}

// Job is a unit of work delivered by the broker: one post's worth of
// media, ready to be transcoded.
type Job struct {
	ID          string
	PostID      string
	Media       []Item
	S3Key       string
	UserID      string
	CallbackURL string
	Attempt     int
}

// ClaimNext atomically claims the oldest queued job using the SKIP LOCKED
// pattern. Returns sql.ErrNoRows if no jobs are available.
func ClaimNext(ctx context.Context, db *sql.DB) (*Job, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var j Job
	var mediaJSON []byte
	row := tx.QueryRowContext(ctx, `
		WITH next AS (
			SELECT id
			FROM media_jobs
			WHERE status = $1
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE media_jobs q
		SET status = $2,
		    attempt = q.attempt + 1,
		    started_at = NOW(),
		    updated_at = NOW()
		FROM next
		WHERE q.id = next.id
		RETURNING q.id, q.post_id, q.media, q.s3_key, q.user_id, q.callback_url, q.attempt
	`, StatusQueued, StatusRunning)
	if err := row.Scan(&j.ID, &j.PostID, &mediaJSON, &j.S3Key, &j.UserID, &j.CallbackURL, &j.Attempt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("claim next: %w", err)
	}
	if err := json.Unmarshal(mediaJSON, &j.Media); err != nil {
		return nil, fmt.Errorf("unmarshal media: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &j, nil
}

func Complete(ctx context.Context, db *sql.DB, jobID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE media_jobs
		SET status = $1,
		    finished_at = NOW(),
		    updated_at = NOW()
		WHERE id = $2
	`, StatusDone, jobID)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	return nil
}

func Fail(ctx context.Context, db *sql.DB, jobID string, message string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE media_jobs
		SET status = $1,
		    error = $2,
		    finished_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3
	`, StatusFailed, truncate(message, 2000), jobID)
	if err != nil {
		return fmt.Errorf("fail: %w", err)
	}
	return nil
}

// Enqueue inserts a new job in queued state.
func Enqueue(ctx context.Context, db *sql.DB, id, postID string, media []Item, s3Key, userID, callbackURL string) error {
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return fmt.Errorf("marshal media: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO media_jobs (id, post_id, media, s3_key, user_id, callback_url, status, attempt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
	`, id, postID, mediaJSON, s3Key, userID, callbackURL, StatusQueued, time.Now())
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Counts reports queued/running/failed job counts, used by the admin
// surface.
type Counts struct {
	Queued  int
	Running int
	Failed  int
}

func GetCounts(ctx context.Context, db *sql.DB) (Counts, error) {
	var c Counts
	row := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3)
		FROM media_jobs
	`, StatusQueued, StatusRunning, StatusFailed)
	if err := row.Scan(&c.Queued, &c.Running, &c.Failed); err != nil {
		return Counts{}, fmt.Errorf("get counts: %w", err)
	}
	return c, nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
