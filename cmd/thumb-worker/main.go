package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/snapvault/snapvault-api/internal/config"
	"github.com/snapvault/snapvault-api/internal/domain/photo"
	"github.com/snapvault/snapvault-api/internal/pkg/database"
	"github.com/snapvault/snapvault-api/internal/pkg/imaging"
	"github.com/snapvault/snapvault-api/internal/pkg/objstore"
	"github.com/snapvault/snapvault-api/internal/queue"
	"github.com/snapvault/snapvault-api/internal/worker"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("Starting thumb-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	store, err := objstore.New(objstore.Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create object storage client")
	}

	jobs := queue.New(rdb, queue.Options{
		MaxAttempts:       cfg.QueueMaxAttempts,
		BackoffBase:       cfg.QueueBackoffBase,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	})

	processor := worker.NewProcessor(
		photo.NewRepository(db),
		store,
		imaging.NewProcessor(imaging.Config{
			MaxSide: cfg.ThumbMaxSide,
			Quality: cfg.ThumbJPEGQuality,
		}),
		cfg.StorageRetry,
	)

	pool := worker.NewPool(jobs, processor, cfg.WorkerConcurrency)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Worker pool failed")
	}

	log.Info().Msg("thumb-worker stopped")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
}
