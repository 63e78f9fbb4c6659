// Package progress is the Redis-backed hint cache for per-post progress:
// max-progress ratchet, completed-item set, and per-item result cache.
// It is never the source of truth: read failures fall back to safe
// defaults and are logged, never raised.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"mediaworker/pkg/mediaerr"
	"mediaworker/pkg/result"
)

const ttl = 24 * time.Hour

const defaultMaxProgress = 30

// Snapshot is the last-written progress record for observers.
type Snapshot struct {
	Percentage   float64 `json:"percentage"`
	Message      string  `json:"message"`
	Status       string  `json:"status"`
	CurrentMedia int     `json:"currentMedia"`
	TotalMedia   int     `json:"totalMedia"`
	UpdatedAt    string  `json:"updatedAt"`
}

// Store wraps a Redis client with the four per-post key families.
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func NewFromURL(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return New(redis.NewClient(opts)), nil
}

func maxProgressKey(postID string) string { return "maxProgress:" + postID }
func progressKey(postID string) string    { return "progress:" + postID }
func completedKey(postID string) string   { return "completed:" + postID }

func resultKey(postID, mediaID string) string { return "mediaResult:" + postID + ":" + mediaID }

// GetMaxProgress returns the highest percentage ever reported for postID,
// defaulting to 30 on absence or read failure.
func (s *Store) GetMaxProgress(ctx context.Context, postID string) int {
	v, err := s.rdb.Get(ctx, maxProgressKey(postID)).Int()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn("progress store read failed, using default", "post_id", postID,
				"error", &mediaerr.StoreUnavailable{Op: "getMaxProgress", Err: err})
		}
		return defaultMaxProgress
	}
	return v
}

// SetMaxProgress writes v unconditionally; the caller enforces
// monotonicity, the store does not.
func (s *Store) SetMaxProgress(ctx context.Context, postID string, v int) {
	if err := s.rdb.Set(ctx, maxProgressKey(postID), v, ttl).Err(); err != nil {
		log.Warn("progress store write failed", "post_id", postID,
			"error", &mediaerr.StoreUnavailable{Op: "setMaxProgress", Err: err})
	}
}

// GetCompleted returns the set of mediaIds marked done, in the order they
// were completed.
func (s *Store) GetCompleted(ctx context.Context, postID string) []string {
	raw, err := s.rdb.Get(ctx, completedKey(postID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn("progress store read failed, using default", "post_id", postID,
				"error", &mediaerr.StoreUnavailable{Op: "getCompleted", Err: err})
		}
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		log.Warn("progress store corrupt value, using default", "post_id", postID,
			"error", &mediaerr.StoreUnavailable{Op: "getCompleted", Err: err})
		return nil
	}
	return ids
}

// MarkCompleted idempotently appends mediaID to the completed set.
func (s *Store) MarkCompleted(ctx context.Context, postID, mediaID string) {
	ids := s.GetCompleted(ctx, postID)
	for _, id := range ids {
		if id == mediaID {
			return
		}
	}
	ids = append(ids, mediaID)
	raw, err := json.Marshal(ids)
	if err != nil {
		log.Warn("progress store marshal failed", "op", "markCompleted", "post_id", postID, "error", err)
		return
	}
	if err := s.rdb.Set(ctx, completedKey(postID), raw, ttl).Err(); err != nil {
		log.Warn("progress store write failed", "post_id", postID,
			"error", &mediaerr.StoreUnavailable{Op: "markCompleted", Err: err})
	}
}

// SetResult caches the Item Result for mediaID.
func (s *Store) SetResult(ctx context.Context, postID, mediaID string, r result.ItemResult) {
	raw, err := json.Marshal(r)
	if err != nil {
		log.Warn("progress store marshal failed", "op", "setResult", "post_id", postID, "error", err)
		return
	}
	if err := s.rdb.Set(ctx, resultKey(postID, mediaID), raw, ttl).Err(); err != nil {
		log.Warn("progress store write failed", "post_id", postID,
			"error", &mediaerr.StoreUnavailable{Op: "setResult", Err: err})
	}
}

// GetResult returns the cached Item Result for mediaID, or false if
// absent or unreadable.
func (s *Store) GetResult(ctx context.Context, postID, mediaID string) (result.ItemResult, bool) {
	raw, err := s.rdb.Get(ctx, resultKey(postID, mediaID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn("progress store read failed", "post_id", postID,
				"error", &mediaerr.StoreUnavailable{Op: "getResult", Err: err})
		}
		return result.ItemResult{}, false
	}
	var r result.ItemResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		log.Warn("progress store corrupt value", "post_id", postID,
			"error", &mediaerr.StoreUnavailable{Op: "getResult", Err: err})
		return result.ItemResult{}, false
	}
	return r, true
}

// GetAllResults returns every cached result for postID, ordered by
// completion (insertion order of the completed set).
func (s *Store) GetAllResults(ctx context.Context, postID string) []result.ItemResult {
	ids := s.GetCompleted(ctx, postID)
	out := make([]result.ItemResult, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.GetResult(ctx, postID, id); ok {
			out = append(out, r)
		}
	}
	return out
}

// SnapshotProgress writes the current progress snapshot for observers.
func (s *Store) SnapshotProgress(ctx context.Context, postID string, snap Snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		log.Warn("progress store marshal failed", "op", "snapshotProgress", "post_id", postID, "error", err)
		return
	}
	if err := s.rdb.Set(ctx, progressKey(postID), raw, ttl).Err(); err != nil {
		log.Warn("progress store write failed", "post_id", postID,
			"error", &mediaerr.StoreUnavailable{Op: "snapshotProgress", Err: err})
	}
}
