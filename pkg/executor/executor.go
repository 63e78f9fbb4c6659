// Package executor is the job execution engine: per-post progress
// accounting that never regresses across retries, per-item completion
// memoisation, cancellation-safe scratch cleanup, and exactly-once
// terminal notification. It orchestrates the image/video pipelines but
// owns none of their encoder or upload details itself.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"mediaworker/pkg/mediaerr"
	"mediaworker/pkg/notifier"
	"mediaworker/pkg/progress"
	"mediaworker/pkg/queue"
	"mediaworker/pkg/result"
)

const (
	progressBandStart = 30
	progressBandCap   = 95 // held here until finalisation advances to 100

	// defaultMinEmitInterval is used when Executor.ProgressRateLimit is
	// unset.
	defaultMinEmitInterval = 250 * time.Millisecond

	downloadShare    = 0.10
	videoEncodeShare = 0.70
	videoDoneShare   = 0.20
	imageDoneShare   = 0.90
)

// ItemProcessor runs one media item to completion, reporting its own
// internal progress (0-100, pipeline-defined meaning) through onProgress
// as it goes. onProgress may be called zero or more times; it is never
// required to reach 100 itself, the executor derives its own delta from
// whatever is reported.
type ItemProcessor func(ctx context.Context, item queue.Item, localInputPath, outDir, destPrefix string, onProgress func(pct float64)) (result.ItemResult, error)

// SignedDownloader is the subset of the blob client the executor needs
// directly (pipelines do their own uploads internally).
type SignedDownloader interface {
	SignedRead(ctx context.Context, key string, ttl time.Duration) (string, error)
	DownloadToFile(ctx context.Context, url, localPath string) error
}

// Executor runs one job at a time; a fresh instance (or a reused one,
// it holds no per-job state between calls) is fine for concurrent jobs
// since all mutable state lives on the stack of Run.
type Executor struct {
	Store  *progress.Store
	Blob   SignedDownloader
	Notify notifier.Notifier
	Image  ItemProcessor
	Video  ItemProcessor

	DownloadRoot string
	OutputRoot   string

	// ProgressRateLimit is the minimum interval between outbound progress
	// notifications/store writes per post. Zero uses
	// defaultMinEmitInterval.
	ProgressRateLimit time.Duration
}

func (e *Executor) minEmitInterval() time.Duration {
	if e.ProgressRateLimit > 0 {
		return e.ProgressRateLimit
	}
	return defaultMinEmitInterval
}

// TerminalResult is returned to the broker on success; the broker
// translates a returned error into its own retry or permanent-fail
// policy.
type TerminalResult struct {
	PostID         string
	MediaResults   []result.ItemResult
	TotalProcessed int
	Status         string
}

// run carries per-job mutable state: current max progress, last emitted
// snapshot, rate-limit clock.
type run struct {
	ctx    context.Context
	e      *Executor
	job    queue.Job
	logger *log.Logger

	maxProgress int
	lastEmit    time.Time
	lastStatus  string
}

// Run executes job to completion or failure. Scratch space is always
// purged before a non-nil error is returned. If the error is an ordinary
// processing failure, the terminal failure payload has already been
// posted (callback URL permitting); if it stems from ctx cancellation, no
// callback is posted at all and the job reverts to the broker's own retry
// semantics.
func (e *Executor) Run(ctx context.Context, job queue.Job) (TerminalResult, error) {
	if len(job.Media) == 0 {
		return TerminalResult{}, &mediaerr.ValidationError{Reason: "job has no media items"}
	}

	r := &run{
		ctx:    ctx,
		e:      e,
		job:    job,
		logger: log.With("post_id", job.PostID, "attempt", job.Attempt),
	}

	res, err := r.execute()
	if err != nil {
		if isCancellation(ctx, err) {
			r.logger.Warn("job cancelled, reverting to broker retry semantics without a terminal callback", "error", err)
			r.purgeScratch()
			return TerminalResult{}, err
		}
		r.handleFailure(err)
		return TerminalResult{}, err
	}
	return res, nil
}

// isCancellation reports whether err stems from ctx being cancelled
// (shutdown, broker-signalled stall/timeout) rather than a genuine
// processing failure. A cancelled attempt emits no terminal callback and
// leaves maxProgress/completed as they were; it reverts to the broker's
// own visibility-timeout/retry semantics instead.
func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *run) execute() (TerminalResult, error) {
	n := len(r.job.Media)
	perItem := 70.0 / float64(n)

	stored := r.e.Store.GetMaxProgress(r.ctx, r.job.PostID)
	r.maxProgress = max(progressBandStart, stored)

	completed := r.e.Store.GetCompleted(r.ctx, r.job.PostID)
	completedSet := make(map[string]bool, len(completed))
	for _, id := range completed {
		completedSet[id] = true
	}

	itemProgress := make([]float64, n)
	output := make([]*result.ItemResult, n)

	for i, item := range r.job.Media {
		if completedSet[item.MediaID] {
			itemProgress[i] = perItem
			if cached, ok := r.e.Store.GetResult(r.ctx, r.job.PostID, item.MediaID); ok {
				c := cached
				output[i] = &c
			}
		}
	}

	startMsg := "Starting media processing"
	if len(completed) > 0 {
		startMsg = fmt.Sprintf("Resuming: %d/%d items already complete", len(completed), n)
	}
	r.emit(sumProgress(itemProgress), startMsg, n, 0, false)

	for i, item := range r.job.Media {
		if completedSet[item.MediaID] {
			r.emit(sumProgress(itemProgress), fmt.Sprintf("Skipping already-completed %s", item.Filename), n, i+1, false)
			continue
		}

		r.emit(sumProgress(itemProgress), fmt.Sprintf("Processing %d/%d: %s", i+1, n, item.Filename), n, i+1, false)

		res, err := r.processItem(item, perItem, func(delta float64) {
			itemProgress[i] += delta
			r.emit(sumProgress(itemProgress), fmt.Sprintf("Processing %d/%d: %s", i+1, n, item.Filename), n, i+1, false)
		})
		if err != nil {
			return TerminalResult{}, fmt.Errorf("item %s (%s): %w", item.MediaID, item.Filename, err)
		}

		output[i] = &res
		r.e.Store.MarkCompleted(r.ctx, r.job.PostID, item.MediaID)
		r.e.Store.SetResult(r.ctx, r.job.PostID, item.MediaID, res)

		// Completion bump: download (10%) plus, for VIDEO, whatever the
		// live encode bridge already reported (up to 70%) never exceeds
		// perItem; the bump brings the item's allotment to exactly
		// perItem regardless of how much live progress fired.
		itemProgress[i] = perItem

		r.emit(sumProgress(itemProgress), fmt.Sprintf("Completed %d/%d: %s", i+1, n, item.Filename), n, i+1, false)
	}

	r.emitCapped(float64(r.maxProgress), "Uploading processed files...", n, n, true, progressBandCap)
	r.emitCapped(float64(r.maxProgress+5), "Finalizing...", n, n, true, 100)

	r.purgeScratch()

	r.e.Store.SetMaxProgress(r.ctx, r.job.PostID, 100)
	r.e.Store.SnapshotProgress(r.ctx, r.job.PostID, progress.Snapshot{
		Percentage: 100, Message: "Media processing completed successfully",
		Status: "success", CurrentMedia: n, TotalMedia: n, UpdatedAt: nowRFC3339(),
	})

	final := make([]result.ItemResult, 0, n)
	for _, res := range output {
		if res != nil {
			final = append(final, *res)
		}
	}

	if r.job.CallbackURL != "" && len(final) > 0 {
		r.e.Notify.Success(r.ctx, r.job.CallbackURL, notifier.SuccessPayload{
			PostID:         r.job.PostID,
			MediaResults:   final,
			TotalProcessed: len(final),
			Attempt:        r.job.Attempt,
			Progress:       100,
			Message:        "Media processing completed successfully",
		})
	}

	return TerminalResult{
		PostID:         r.job.PostID,
		MediaResults:   final,
		TotalProcessed: len(final),
		Status:         "success",
	}, nil
}

func (r *run) processItem(item queue.Item, perItem float64, onDelta func(delta float64)) (result.ItemResult, error) {
	outDir := filepath.Join(r.e.OutputRoot, r.job.PostID, item.MediaID)
	downloadDir := filepath.Join(r.e.DownloadRoot, r.job.PostID, item.MediaID)

	if err := recreateDir(outDir); err != nil {
		return result.ItemResult{}, &mediaerr.TransientIO{Op: "recreateOutputDir", Err: err}
	}
	if err := recreateDir(downloadDir); err != nil {
		return result.ItemResult{}, &mediaerr.TransientIO{Op: "recreateDownloadDir", Err: err}
	}

	srcKey := r.job.S3Key + "original/" + item.Filename
	signedURL, err := r.e.Blob.SignedRead(r.ctx, srcKey, time.Hour)
	if err != nil {
		return result.ItemResult{}, &mediaerr.TransientIO{Op: "signedRead", Err: err}
	}
	localInputPath := filepath.Join(downloadDir, item.Filename)
	if err := r.e.Blob.DownloadToFile(r.ctx, signedURL, localInputPath); err != nil {
		return result.ItemResult{}, err
	}
	onDelta(0.1 * perItem)

	destPrefix := r.job.S3Key + "processed"

	var lastReported float64
	bridge := func(pct float64) {
		delta := (pct - lastReported) / 100 * videoEncodeShare * perItem
		if delta < 0 {
			delta = 0
		}
		lastReported = pct
		onDelta(delta)
	}

	switch item.Type {
	case queue.ItemTypeVideo:
		return r.e.Video(r.ctx, item, localInputPath, outDir, destPrefix, bridge)
	case queue.ItemTypeImage:
		return r.e.Image(r.ctx, item, localInputPath, outDir, destPrefix, nil)
	default:
		return result.ItemResult{}, &mediaerr.ValidationError{Reason: "unknown item type: " + string(item.Type)}
	}
}

func (r *run) handleFailure(cause error) {
	r.e.Store.SnapshotProgress(r.ctx, r.job.PostID, progress.Snapshot{
		Percentage: float64(r.maxProgress), Message: cause.Error(),
		Status: "failed", UpdatedAt: nowRFC3339(),
	})

	r.purgeScratch()

	if r.job.CallbackURL != "" {
		r.e.Notify.Failure(r.ctx, r.job.CallbackURL, notifier.FailurePayload{
			PostID:   r.job.PostID,
			Error:    cause.Error(),
			Attempt:  r.job.Attempt,
			Progress: r.maxProgress,
			Message:  "Media processing failed",
		})
	}
}

func (r *run) purgeScratch() {
	for _, dir := range []string{
		filepath.Join(r.e.OutputRoot, r.job.PostID),
		filepath.Join(r.e.DownloadRoot, r.job.PostID),
	} {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("scratch cleanup failed", "error", &mediaerr.CleanupFailed{Path: dir, Err: err})
		}
	}
}

// emit applies the monotonicity guard, clamps to the reserved band, and
// rate-limits outbound notification/store writes. forced bypasses the
// rate limit; used for the two guaranteed finalisation messages.
func (r *run) emit(calculated float64, message string, total, current int, forced bool) {
	r.emitCapped(calculated, message, total, current, forced, progressBandCap)
}

// emitCapped is emit with an explicit ceiling; finalisation calls it with
// 100 instead of the mid-run 95 cap so "Finalizing..." can reach 100.
func (r *run) emitCapped(calculated float64, message string, total, current int, forced bool, ceiling int) {
	clamped := int(calculated)
	if clamped > ceiling {
		clamped = ceiling
	}

	var toReport int
	if clamped > r.maxProgress {
		r.e.Store.SetMaxProgress(r.ctx, r.job.PostID, clamped)
		r.maxProgress = clamped
		toReport = clamped
	} else {
		toReport = r.maxProgress
	}

	statusChanged := r.lastStatus != "processing"
	if !forced && !statusChanged && time.Since(r.lastEmit) < r.e.minEmitInterval() {
		return
	}
	r.lastEmit = time.Now()
	r.lastStatus = "processing"

	r.e.Store.SnapshotProgress(r.ctx, r.job.PostID, progress.Snapshot{
		Percentage: float64(toReport), Message: message, Status: "processing",
		CurrentMedia: current, TotalMedia: total, UpdatedAt: nowRFC3339(),
	})

	if r.job.CallbackURL != "" {
		r.e.Notify.Progress(r.ctx, r.job.CallbackURL, notifier.ProgressPayload{
			PostID: r.job.PostID, Progress: float64(toReport), Message: message,
			Attempt: r.job.Attempt, CurrentMedia: current, TotalMedia: total,
		})
	}
}

func sumProgress(parts []float64) float64 {
	total := float64(progressBandStart)
	for _, p := range parts {
		total += p
	}
	return total
}

func recreateDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
