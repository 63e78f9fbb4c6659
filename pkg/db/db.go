// Package db opens the Postgres handle backing the job and cleanup
// queues.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies connectivity. The pool is sized
// from the worker concurrency: each in-flight job attempt holds at most
// one connection at a time (claim, completion, failure updates), plus
// headroom for the cleanup loop and the admin surface.
// workerConcurrency <= 0 auto-sizes the same way the worker host does.
func Open(ctx context.Context, databaseURL string, workerConcurrency int) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if workerConcurrency <= 0 {
		workerConcurrency = max(2, runtime.GOMAXPROCS(0))
	}
	maxConns := workerConcurrency + 2
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(2, maxConns/2))
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}
