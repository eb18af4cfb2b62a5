package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/snapvault/snapvault-api/internal/config"
	"github.com/snapvault/snapvault-api/internal/domain/album"
	"github.com/snapvault/snapvault-api/internal/domain/photo"
	"github.com/snapvault/snapvault-api/internal/middleware"
	"github.com/snapvault/snapvault-api/internal/pkg/database"
	"github.com/snapvault/snapvault-api/internal/pkg/objstore"
	pkgresponse "github.com/snapvault/snapvault-api/internal/pkg/response"
	"github.com/snapvault/snapvault-api/internal/queue"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting SnapVault API")

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

	// ---------- Repositories ----------
	albumRepo := album.NewRepository(db)
	photoRepo := photo.NewRepository(db)

	// ---------- Services ----------
	photoService := photo.NewService(photoRepo, albumRepo, store, jobs, cfg.PresignTTL)

	// ---------- Handlers ----------
	albumHandler := album.NewHandler(albumRepo)
	photoHandler := photo.NewHandler(photoService)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]interface{}{
			"status":  "ok",
			"version": "1.0.0",
		}
		if pending, err := jobs.PendingCount(r.Context()); err == nil {
			payload["queue_pending"] = pending
		}
		if failed, err := jobs.FailedCount(r.Context()); err == nil {
			payload["queue_failed"] = failed
		}
		pkgresponse.OK(w, payload)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/uploads", photoHandler.UploadRoutes())
		r.Mount("/photos", photoHandler.Routes())
		r.Mount("/albums", albumHandler.Routes())
		r.Get("/albums/{albumID}/photos", photoHandler.ListByAlbum)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}
}
