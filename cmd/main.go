package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/clipnote/clipnote-backend/internal/config"
	"github.com/clipnote/clipnote-backend/internal/db"
	"github.com/clipnote/clipnote-backend/internal/handlers"
	"github.com/clipnote/clipnote-backend/internal/jobs"
	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/middleware"
	"github.com/clipnote/clipnote-backend/internal/observability"
	"github.com/clipnote/clipnote-backend/internal/repos"
	"github.com/clipnote/clipnote-backend/internal/server"
	"github.com/clipnote/clipnote-backend/internal/services"
	"github.com/clipnote/clipnote-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	log.Info("Loading config from main...")
	cfg, err := config.Load()
	if err != nil {
		log.Error("Could not load config", "error", err)
		os.Exit(1)
	}

	// Tracing
	shutdownOtel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "clipnote-backend",
		Environment: utils.GetEnv("ENVIRONMENT", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	})
	if shutdownOtel != nil {
		defer shutdownOtel(context.Background())
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	videoRepo := repos.NewVideoRepo(thePG, log)
	transcriptionRepo := repos.NewTranscriptionRepo(thePG, log)
	collectionRepo := repos.NewCollectionRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	storeService, err := services.NewObjectStoreService(cfg, log)
	if err != nil {
		log.Error("Could not init ObjectStoreService", "error", err)
		os.Exit(1)
	}
	mediaService := services.NewMediaService(cfg, log)
	speechService := services.NewSpeechService(cfg, log)
	transcribeService := services.NewTranscribeService(cfg, speechService, log)
	notesService, err := services.NewNotesService(cfg, log)
	if err != nil {
		log.Error("Could not init NotesService", "error", err)
		os.Exit(1)
	}
	authService := services.NewAuthService(log)

	// Jobs
	log.Info("Setting up job pipeline from main...")
	runner := jobs.NewRunner(cfg, videoRepo, transcriptionRepo, storeService, mediaService, transcribeService, notesService, log)

	var dispatcher services.Dispatcher
	var redisClient *redis.Client
	if cfg.Jobs.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Jobs.RedisAddr})
		dispatcher = jobs.NewRedisDispatcher(cfg, redisClient, log)
		worker := jobs.NewWorker(cfg, redisClient, runner, log)
		go worker.Run(context.Background())
	} else {
		log.Warn("REDIS_ADDR not set, running jobs in-process")
		dispatcher = jobs.NewInlineDispatcher(runner, log)
		// Without a worker there is no periodic sweep, so recover any
		// videos stranded in processing by a previous crash now.
		if err := runner.SweepStale(context.Background()); err != nil {
			log.Error("Stale sweep failed", "error", err)
		}
	}

	videoService := services.NewVideoService(cfg, videoRepo, transcriptionRepo, collectionRepo, storeService, dispatcher, log)

	// Handlers
	log.Info("Setting up handlers from main...")
	videoHandler := handlers.NewVideoHandler(log, videoService)
	collectionHandler := handlers.NewCollectionHandler(log, collectionRepo)
	healthHandler := handlers.NewHealthHandler(thePG, redisClient)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:    authMiddleware,
		VideoHandler:      videoHandler,
		CollectionHandler: collectionHandler,
		HealthHandler:     healthHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
