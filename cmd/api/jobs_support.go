package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yourusername/archive-forge/internal/config"
	"github.com/yourusername/archive-forge/internal/fetch"
	"github.com/yourusername/archive-forge/internal/jobs"
	"github.com/yourusername/archive-forge/internal/storage"
)

// setupJobs はタスクストアとスケジューラを設定に応じて選び、Manager を作成します。
// QUEUE_REDIS_URL が設定されていれば Redis と Asynq を、なければプロセス内実行を使います。
func setupJobs(cfg *config.Config, logger zerolog.Logger) (*jobs.Manager, error) {
	layout, err := storage.NewLayout(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	opts, err := jobs.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var (
		store     jobs.Store
		scheduler jobs.Scheduler
	)
	if cfg.QueueRedisURL != "" {
		opt, err := redis.ParseURL(cfg.QueueRedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse QUEUE_REDIS_URL: %w", err)
		}
		ttlMinutes := cfg.TaskTTLMinutes
		if ttlMinutes <= 0 {
			ttlMinutes = 48 * 60
		}
		store = jobs.NewRedisStore(redis.NewClient(opt), time.Duration(ttlMinutes)*time.Minute)
		queue, err := jobs.NewQueueScheduler(cfg.QueueRedisURL, cfg.QueueConcurrency, logger)
		if err != nil {
			return nil, err
		}
		scheduler = queue
		logger.Info().Int("concurrency", cfg.QueueConcurrency).Msg("using redis task queue")
	} else {
		store = jobs.NewMemoryStore()
		scheduler = jobs.NewGoroutineScheduler(cfg.MaxConcurrentTasks)
		logger.Info().Int("max_concurrent_tasks", cfg.MaxConcurrentTasks).Msg("using in-process task runner")
	}

	var fetcher jobs.Fetcher
	if cfg.AlbumBaseURL != "" {
		fetcher = &fetch.HTTPFetcher{
			BaseURL:     cfg.AlbumBaseURL,
			Client:      &http.Client{Timeout: 60 * time.Second},
			Retries:     cfg.FetchRetries,
			Backoff:     cfg.FetchBackoff,
			Concurrency: cfg.FetchConcurrency,
			Logger:      logger.With().Str("component", "fetch").Logger(),
		}
	}

	return jobs.NewManager(store, scheduler, layout, fetcher, opts, logger)
}
