// Package config loads worker configuration from the environment via
// envconfig struct tags.
package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,default=redis://localhost:6379/0"`

	S3Region         string `env:"S3_REGION,default=us-east-1"`
	S3Endpoint       string `env:"S3_ENDPOINT"`
	S3Bucket         string `env:"S3_BUCKET,required"`
	S3ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE,default=false"`
	S3AccessKey      string `env:"S3_ACCESS_KEY"`
	S3SecretKey      string `env:"S3_SECRET_KEY"`

	Port string `env:"PORT,default=8080"`

	FFmpegPath  string `env:"FFMPEG_PATH,default=ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH,default=ffprobe"`

	DownloadRoot string `env:"DOWNLOAD_ROOT,default=/tmp/mediaworker/downloads"`
	OutputRoot   string `env:"OUTPUT_ROOT,default=/tmp/mediaworker/output"`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY,default=0"`
	TempDirMinFreeGB  int `env:"TEMP_DIR_MIN_FREE_GB,default=5"`

	CallbackTimeout   time.Duration `env:"CALLBACK_TIMEOUT,default=10s"`
	ProgressRateLimit time.Duration `env:"PROGRESS_RATE_LIMIT,default=250ms"`
}

func Load() (*Config, error) {
	ctx := context.Background()
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
