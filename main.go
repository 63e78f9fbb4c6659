package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"mediaworker/pkg/admin"
	"mediaworker/pkg/blob"
	"mediaworker/pkg/config"
	"mediaworker/pkg/db"
	"mediaworker/pkg/encoder"
	"mediaworker/pkg/executor"
	"mediaworker/pkg/host"
	"mediaworker/pkg/notifier"
	"mediaworker/pkg/pipeline"
	"mediaworker/pkg/progress"
	"mediaworker/pkg/queue"
	"mediaworker/pkg/result"
)

// logMemoryStats logs current memory usage.
func logMemoryStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Info("memory stats",
		"alloc_mb", m.Alloc/1024/1024,
		"total_alloc_mb", m.TotalAlloc/1024/1024,
		"sys_mb", m.Sys/1024/1024,
		"num_gc", m.NumGC,
	)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, shutting down gracefully... (press Ctrl+C again to force exit)", "signal", sig)
		cancel()

		sig = <-sigCh
		log.Error("second signal received, forcing immediate exit", "signal", sig)
		os.Exit(1)
	}()

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatal(err)
	}
	defer sqlDB.Close()
	log.Info("database connected", "max_conns", sqlDB.Stats().MaxOpenConnections)

	store, err := progress.NewFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("failed to connect to redis", "error", err)
	}

	bc, err := blob.New(ctx, blob.Options{
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    cfg.S3ForcePathStyle,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
	})
	if err != nil {
		log.Fatal("failed to create blob client", "error", err)
	}

	enc := encoder.New(cfg.FFmpegPath, cfg.FFprobePath)
	notify := notifier.New(cfg.CallbackTimeout)

	exec := &executor.Executor{
		Store:             store,
		Blob:              bc,
		Notify:            notify,
		DownloadRoot:      cfg.DownloadRoot,
		OutputRoot:        cfg.OutputRoot,
		ProgressRateLimit: cfg.ProgressRateLimit,
		Image: func(ctx context.Context, item queue.Item, localInputPath, outDir, destPrefix string, _ func(pct float64)) (result.ItemResult, error) {
			return pipeline.ProcessImage(ctx, enc, bc, item, localInputPath, outDir, destPrefix)
		},
		Video: func(ctx context.Context, item queue.Item, localInputPath, outDir, destPrefix string, onProgress func(pct float64)) (result.ItemResult, error) {
			return pipeline.ProcessVideo(ctx, enc, bc, item, localInputPath, outDir, destPrefix, onProgress)
		},
	}

	h := host.New(sqlDB, exec, cfg.WorkerConcurrency, cfg.TempDirMinFreeGB, cfg.DownloadRoot)

	log.Info("worker configured",
		"s3_endpoint", cfg.S3Endpoint,
		"s3_bucket", cfg.S3Bucket,
		"ffmpeg", cfg.FFmpegPath,
		"ffprobe", cfg.FFprobePath,
	)

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logMemoryStats()
			}
		}
	}()

	go h.RunCleanup(ctx)

	adminSrv := &http.Server{Addr: ":" + cfg.Port, Handler: admin.New(sqlDB).Handler()}
	go func() {
		log.Info("admin server listening", "addr", adminSrv.Addr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
	}()

	h.Run(ctx)
}
