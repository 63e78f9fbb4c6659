package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"mediaworker/pkg/notifier"
	"mediaworker/pkg/progress"
	"mediaworker/pkg/queue"
	"mediaworker/pkg/result"
)

func newTestStore(t *testing.T) *progress.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return progress.New(rdb)
}

type fakeBlob struct {
	downloadErr error
	downloads   int
}

func (f *fakeBlob) SignedRead(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://example.test/" + key, nil
}

func (f *fakeBlob) DownloadToFile(ctx context.Context, url, localPath string) error {
	f.downloads++
	if f.downloadErr != nil {
		return f.downloadErr
	}
	return os.WriteFile(localPath, []byte("stub"), 0o644)
}

type fakeNotifier struct {
	progressCalls int
	successCalls  int
	failureCalls  int
	lastProgress  []float64
}

func (f *fakeNotifier) Progress(ctx context.Context, callbackURL string, p notifier.ProgressPayload) {
	f.progressCalls++
	f.lastProgress = append(f.lastProgress, p.Progress)
}
func (f *fakeNotifier) Success(ctx context.Context, callbackURL string, s notifier.SuccessPayload) {
	f.successCalls++
}
func (f *fakeNotifier) Failure(ctx context.Context, callbackURL string, fp notifier.FailurePayload) {
	f.failureCalls++
}

func okProcessor(mediaType result.MediaType) ItemProcessor {
	return func(ctx context.Context, item queue.Item, localInputPath, outDir, destPrefix string, onProgress func(pct float64)) (result.ItemResult, error) {
		if onProgress != nil {
			onProgress(50)
			onProgress(100)
		}
		if mediaType == result.MediaTypeVideo {
			return result.NewVideoResult(item.MediaID, item.OriginalName, item.Filename, "https://cdn/"+item.MediaID+"/master.m3u8", "https://cdn/"+item.MediaID+"/thumb.jpg"), nil
		}
		return result.NewImageResult(item.MediaID, item.OriginalName, item.Filename, "https://cdn/"+item.MediaID+"/orig.jpg", "https://cdn/"+item.MediaID+"/img.jpg", ""), nil
	}
}

func failingProcessor(err error) ItemProcessor {
	return func(ctx context.Context, item queue.Item, localInputPath, outDir, destPrefix string, onProgress func(pct float64)) (result.ItemResult, error) {
		return result.ItemResult{}, err
	}
}

func newTestExecutor(t *testing.T, notify *fakeNotifier, blob *fakeBlob) (*Executor, string, string) {
	t.Helper()
	root := t.TempDir()
	downloadRoot := filepath.Join(root, "downloads")
	outputRoot := filepath.Join(root, "output")
	return &Executor{
		Store:        newTestStore(t),
		Blob:         blob,
		Notify:       notify,
		Image:        okProcessor(result.MediaTypeImage),
		Video:        okProcessor(result.MediaTypeVideo),
		DownloadRoot: downloadRoot,
		OutputRoot:   outputRoot,
	}, downloadRoot, outputRoot
}

func sampleJob() queue.Job {
	return queue.Job{
		ID:     "job-1",
		PostID: "post-1",
		Media: []queue.Item{
			{MediaID: "m1", Type: queue.ItemTypeVideo, Filename: "clip.mp4", OriginalName: "clip.mp4", Height: 720},
			{MediaID: "m2", Type: queue.ItemTypeImage, Filename: "pic.jpg", OriginalName: "pic.jpg"},
		},
		S3Key:       "posts/post-1/",
		UserID:      "user-1",
		CallbackURL: "https://callback.test/hook",
		Attempt:     1,
	}
}

func TestRunRejectsEmptyMedia(t *testing.T) {
	notify := &fakeNotifier{}
	e, _, _ := newTestExecutor(t, notify, &fakeBlob{})
	_, err := e.Run(context.Background(), queue.Job{PostID: "post-1", CallbackURL: "https://callback.test"})
	require.Error(t, err)
	require.Equal(t, 0, notify.failureCalls, "validation errors on a malformed job skip the failure callback entirely")
}

func TestRunSuccessEmitsExactlyOneTerminalCallback(t *testing.T) {
	notify := &fakeNotifier{}
	e, _, _ := newTestExecutor(t, notify, &fakeBlob{})

	res, err := e.Run(context.Background(), sampleJob())
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalProcessed)
	require.Equal(t, 1, notify.successCalls)
	require.Equal(t, 0, notify.failureCalls)
}

func TestRunPurgesScratchOnSuccess(t *testing.T) {
	notify := &fakeNotifier{}
	e, downloadRoot, outputRoot := newTestExecutor(t, notify, &fakeBlob{})

	_, err := e.Run(context.Background(), sampleJob())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(downloadRoot, "post-1"))
	require.True(t, os.IsNotExist(err), "download scratch dir must be gone after success")
	_, err = os.Stat(filepath.Join(outputRoot, "post-1"))
	require.True(t, os.IsNotExist(err), "output scratch dir must be gone after success")
}

func TestRunPurgesScratchOnFailureAndCallsFailureExactlyOnce(t *testing.T) {
	notify := &fakeNotifier{}
	e, downloadRoot, outputRoot := newTestExecutor(t, notify, &fakeBlob{})
	e.Video = failingProcessor(&os.PathError{Op: "encode", Path: "clip.mp4", Err: os.ErrInvalid})

	_, err := e.Run(context.Background(), sampleJob())
	require.Error(t, err)
	require.Equal(t, 0, notify.successCalls)
	require.Equal(t, 1, notify.failureCalls)

	_, err = os.Stat(filepath.Join(downloadRoot, "post-1"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(outputRoot, "post-1"))
	require.True(t, os.IsNotExist(err))
}

func TestCancelledRunEmitsNoTerminalCallbackButStillPurgesScratch(t *testing.T) {
	notify := &fakeNotifier{}
	e, downloadRoot, outputRoot := newTestExecutor(t, notify, &fakeBlob{})

	ctx, cancel := context.WithCancel(context.Background())
	e.Video = func(ctx context.Context, item queue.Item, localInputPath, outDir, destPrefix string, onProgress func(pct float64)) (result.ItemResult, error) {
		cancel()
		return result.ItemResult{}, ctx.Err()
	}

	_, err := e.Run(ctx, sampleJob())
	require.Error(t, err)
	require.Equal(t, 0, notify.successCalls)
	require.Equal(t, 0, notify.failureCalls, "a cancelled attempt must not post a terminal failure callback")

	_, err = os.Stat(filepath.Join(downloadRoot, "post-1"))
	require.True(t, os.IsNotExist(err), "cancellation still purges scratch space")
	_, err = os.Stat(filepath.Join(outputRoot, "post-1"))
	require.True(t, os.IsNotExist(err))
}

func TestRunSkipsHTTPEntirelyWithoutCallbackURL(t *testing.T) {
	notify := &fakeNotifier{}
	e, _, _ := newTestExecutor(t, notify, &fakeBlob{})
	job := sampleJob()
	job.CallbackURL = ""

	_, err := e.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 0, notify.progressCalls)
	require.Equal(t, 0, notify.successCalls)
	require.Equal(t, 0, notify.failureCalls)
}

func TestProgressNeverRegressesAcrossRetry(t *testing.T) {
	store := newTestStore(t)
	notify := &fakeNotifier{}
	blob := &fakeBlob{}
	job := sampleJob()

	failOnSecond := func(ctx context.Context, item queue.Item, localInputPath, outDir, destPrefix string, onProgress func(pct float64)) (result.ItemResult, error) {
		if item.MediaID == "m2" {
			return result.ItemResult{}, &os.PathError{Op: "encode", Path: item.Filename, Err: os.ErrInvalid}
		}
		return okProcessor(result.MediaTypeVideo)(ctx, item, localInputPath, outDir, destPrefix, onProgress)
	}

	e1 := &Executor{Store: store, Blob: blob, Notify: notify, Image: failOnSecond, Video: okProcessor(result.MediaTypeVideo), DownloadRoot: t.TempDir(), OutputRoot: t.TempDir()}
	_, err := e1.Run(context.Background(), job)
	require.Error(t, err)

	maxAfterFirstAttempt := store.GetMaxProgress(context.Background(), job.PostID)
	require.GreaterOrEqual(t, maxAfterFirstAttempt, 30)

	job.Attempt = 2
	e2 := &Executor{Store: store, Blob: blob, Notify: notify, Image: okProcessor(result.MediaTypeImage), Video: okProcessor(result.MediaTypeVideo), DownloadRoot: t.TempDir(), OutputRoot: t.TempDir()}
	res, err := e2.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalProcessed)

	finalMax := store.GetMaxProgress(context.Background(), job.PostID)
	require.Equal(t, 100, finalMax)
	require.GreaterOrEqual(t, finalMax, maxAfterFirstAttempt, "progress must never regress across attempts")
}

func TestResumeSkipsCompletedItemsAndReusesCachedResult(t *testing.T) {
	store := newTestStore(t)
	notify := &fakeNotifier{}
	blob := &fakeBlob{}
	job := sampleJob()

	downloadRoot1, outputRoot1 := t.TempDir(), t.TempDir()
	videoProcessCount := 0
	countingVideo := func(ctx context.Context, item queue.Item, localInputPath, outDir, destPrefix string, onProgress func(pct float64)) (result.ItemResult, error) {
		videoProcessCount++
		return okProcessor(result.MediaTypeVideo)(ctx, item, localInputPath, outDir, destPrefix, onProgress)
	}
	failingImage := failingProcessor(&os.PathError{Op: "encode", Path: "pic.jpg", Err: os.ErrInvalid})

	e1 := &Executor{Store: store, Blob: blob, Notify: notify, Image: failingImage, Video: countingVideo, DownloadRoot: downloadRoot1, OutputRoot: outputRoot1}
	_, err := e1.Run(context.Background(), job)
	require.Error(t, err)
	require.Equal(t, 1, videoProcessCount, "the video item must have completed and cached its result before the image item failed")

	cachedBeforeResume, ok := store.GetResult(context.Background(), job.PostID, "m1")
	require.True(t, ok)

	job.Attempt = 2
	e2 := &Executor{Store: store, Blob: blob, Notify: notify, Image: okProcessor(result.MediaTypeImage), Video: countingVideo, DownloadRoot: t.TempDir(), OutputRoot: t.TempDir()}
	res, err := e2.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 1, videoProcessCount, "resume must not reprocess the already-completed video item")
	require.Equal(t, 2, res.TotalProcessed)

	for _, r := range res.MediaResults {
		if r.MediaID == "m1" {
			require.Equal(t, cachedBeforeResume, r, "resumed result for an already-completed item must be byte-identical to what was cached")
		}
	}
}

func TestHeight300VideoCompletesAsSingleItem(t *testing.T) {
	notify := &fakeNotifier{}
	e, _, _ := newTestExecutor(t, notify, &fakeBlob{})
	job := queue.Job{
		ID:     "job-2",
		PostID: "post-2",
		Media: []queue.Item{
			{MediaID: "m1", Type: queue.ItemTypeVideo, Filename: "clip.mp4", OriginalName: "clip.mp4", Height: 300},
		},
		S3Key:       "posts/post-2/",
		CallbackURL: "https://callback.test/hook",
		Attempt:     1,
	}

	res, err := e.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalProcessed)
	require.Equal(t, result.MediaTypeVideo, res.MediaResults[0].MediaType)
}

func TestBlurredThumbnailFailureStillReportsSuccessWithNullField(t *testing.T) {
	notify := &fakeNotifier{}
	e, _, _ := newTestExecutor(t, notify, &fakeBlob{})
	job := queue.Job{
		ID:          "job-3",
		PostID:      "post-3",
		Media:       []queue.Item{{MediaID: "m1", Type: queue.ItemTypeImage, Filename: "pic.jpg", OriginalName: "pic.jpg"}},
		S3Key:       "posts/post-3/",
		CallbackURL: "https://callback.test/hook",
		Attempt:     1,
	}
	e.Image = func(ctx context.Context, item queue.Item, localInputPath, outDir, destPrefix string, onProgress func(pct float64)) (result.ItemResult, error) {
		return result.NewImageResult(item.MediaID, item.OriginalName, item.Filename, "https://cdn/orig.jpg", "https://cdn/img.jpg", ""), nil
	}

	res, err := e.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, "success", res.MediaResults[0].Status)
	require.Empty(t, res.MediaResults[0].BlurredThumbnailURL)
}
