// Package host is the Worker Host: the polling loop that claims jobs from
// the broker, runs them through the Job Executor under a concurrency
// limit, and retires failed attempts into a best-effort cleanup queue.
// The per-job body is delegated entirely to executor.Executor.
package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"mediaworker/pkg/executor"
	"mediaworker/pkg/queue"
)

// Host binds a broker connection to an Executor under a fixed worker
// concurrency, plus a single-concurrency cleanup sub-loop.
type Host struct {
	DB       *sql.DB
	Executor *executor.Executor

	Concurrency      int
	TempDirMinFreeGB int
	ScratchDir       string

	tracker *jobTracker
}

// New returns a Host ready to Run. concurrency <= 0 auto-sizes to
// max(2, GOMAXPROCS).
func New(db *sql.DB, exec *executor.Executor, concurrency, tempDirMinFreeGB int, scratchDir string) *Host {
	if concurrency <= 0 {
		concurrency = max(2, runtime.GOMAXPROCS(0))
	}
	return &Host{
		DB:               db,
		Executor:         exec,
		Concurrency:      concurrency,
		TempDirMinFreeGB: tempDirMinFreeGB,
		ScratchDir:       scratchDir,
		tracker:          newJobTracker(),
	}
}

// Run polls for jobs until ctx is cancelled, then waits for in-flight
// jobs to finish before returning.
func (h *Host) Run(ctx context.Context) {
	sem := make(chan struct{}, h.Concurrency)
	activeJobs := make(chan struct{}, h.Concurrency)

	log.Info("worker host started", "concurrency", h.Concurrency, "temp_dir_min_free_gb", h.TempDirMinFreeGB)

	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.tracker.logStatus()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("context cancelled, waiting for active jobs to complete...", "active", len(activeJobs))
			waitLog := time.NewTicker(5 * time.Second)
			for len(activeJobs) > 0 {
				select {
				case <-waitLog.C:
					log.Info("waiting for jobs to complete", "remaining", len(activeJobs))
				case <-time.After(100 * time.Millisecond):
				}
			}
			waitLog.Stop()
			<-statusDone
			log.Info("all jobs completed, exiting cleanly")
			return
		default:
		}

		if err := checkDiskSpace(h.ScratchDir, h.TempDirMinFreeGB); err != nil {
			log.Warn("insufficient disk space, waiting before retry", "error", err)
			time.Sleep(30 * time.Second)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}

		job, err := queue.ClaimNext(ctx, h.DB)
		if err != nil {
			<-sem
			if err == sql.ErrNoRows {
				time.Sleep(1 * time.Second)
				continue
			}
			log.Warn("claim next error", "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

		activeJobs <- struct{}{}
		h.tracker.add(job.ID, job.PostID, len(job.Media))
		// A job attempt runs on a context detached from the claim loop's
		// shutdown signal: graceful drain means in-flight jobs get to
		// finish, not get cancelled the instant shutdown begins. Only
		// the claim loop itself watches ctx.Done().
		jobCtx := context.WithoutCancel(ctx)
		go func(j *queue.Job) {
			defer func() {
				h.tracker.remove(j.ID)
				<-sem
				<-activeJobs
			}()
			h.runJob(jobCtx, j)
		}(job)
	}
}

func (h *Host) runJob(ctx context.Context, j *queue.Job) {
	jobLogger := log.With("job_id", j.ID, "post_id", j.PostID)
	jobLogger.Info("starting job", "media_count", len(j.Media), "attempt", j.Attempt)
	start := time.Now()

	res, err := h.Executor.Run(ctx, *j)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			jobLogger.Warn("job cancelled, leaving for broker retry semantics", "error", err, "duration", time.Since(start).Truncate(time.Millisecond))
			return
		}
		jobLogger.Error("job failed", "error", err, "duration", time.Since(start).Truncate(time.Millisecond))
		if failErr := queue.Fail(ctx, h.DB, j.ID, err.Error()); failErr != nil {
			jobLogger.Error("failed to record job failure", "error", failErr)
		}
		h.scheduleCleanup(ctx, j)
		return
	}

	if err := queue.Complete(ctx, h.DB, j.ID); err != nil {
		jobLogger.Error("failed to record job completion", "error", err)
		return
	}
	jobLogger.Info("job complete", "processed", res.TotalProcessed, "duration", time.Since(start).Truncate(time.Millisecond))
}

// scheduleCleanup enqueues a best-effort removal of a failed job's
// originally-uploaded inputs; failures here are logged, never raised.
func (h *Host) scheduleCleanup(ctx context.Context, j *queue.Job) {
	keys := make([]string, 0, len(j.Media))
	for _, item := range j.Media {
		keys = append(keys, j.S3Key+"original/"+item.Filename)
	}
	if err := queue.EnqueueCleanup(ctx, h.DB, uuid.NewString(), j.PostID, keys); err != nil {
		log.Warn("failed to enqueue cleanup job", "post_id", j.PostID, "error", err)
	}
}

// RunCleanup is a single-concurrency sub-loop consuming cleanup jobs. It
// intentionally does not delete anything from blob storage yet: nothing
// in this system currently owns a safe bulk-delete path for a prefix it
// didn't itself just write, so claimed jobs are acknowledged and logged.
func (h *Host) RunCleanup(ctx context.Context) {
	log.Info("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("cleanup worker exiting")
			return
		default:
		}

		job, err := queue.ClaimNextCleanup(ctx, h.DB)
		if err != nil {
			if err == sql.ErrNoRows {
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}
			log.Warn("claim next cleanup error", "error", err)
			time.Sleep(2 * time.Second)
			continue
		}

		log.Info("cleanup job claimed, marking handled", "post_id", job.PostID, "keys", len(job.OriginalKeys))
		if err := queue.CompleteCleanup(ctx, h.DB, job.ID); err != nil {
			log.Warn("failed to complete cleanup job", "id", job.ID, "error", err)
		}
	}
}

func checkDiskSpace(path string, minGB int) error {
	if path == "" {
		path = os.TempDir()
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Errorf("check disk space: %w", err)
	}
	availableGB := float64(stat.Bavail*uint64(stat.Bsize)) / (1024 * 1024 * 1024)
	if availableGB < float64(minGB) {
		return fmt.Errorf("insufficient disk space: %.2f GB available, %d GB required", availableGB, minGB)
	}
	return nil
}

// jobTracker keeps an in-memory view of in-flight jobs for the periodic
// status log.
type jobTracker struct {
	mu   sync.RWMutex
	jobs map[string]*trackedJob
}

type trackedJob struct {
	jobID      string
	postID     string
	mediaCount int
	startedAt  time.Time
}

func newJobTracker() *jobTracker {
	return &jobTracker{jobs: make(map[string]*trackedJob)}
}

func (t *jobTracker) add(jobID, postID string, mediaCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[jobID] = &trackedJob{jobID: jobID, postID: postID, mediaCount: mediaCount, startedAt: time.Now()}
}

func (t *jobTracker) remove(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, jobID)
}

func (t *jobTracker) logStatus() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.jobs) == 0 {
		log.Info("worker host status: idle", "active_jobs", 0)
		return
	}
	for _, j := range t.jobs {
		log.Info("active job", "job_id", j.jobID, "post_id", j.postID, "media_count", j.mediaCount,
			"elapsed", time.Since(j.startedAt).Truncate(time.Second))
	}
}
