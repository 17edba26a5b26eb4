package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"portraitStudio/internal/api"
	"portraitStudio/internal/auth"
	"portraitStudio/internal/config"
	"portraitStudio/internal/database"
	"portraitStudio/internal/logging"
	"portraitStudio/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := config.ValidateGateway(cfg); err != nil {
		log.Fatalf("invalid gateway config: %v", err)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database, cfg.Log.Level)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	logger.Info("database connection ready",
		slog.String("host", cfg.Database.Host),
		slog.String("db", cfg.Database.Name),
	)

	ctx := context.Background()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	storageClient, err := storage.NewClient(ctx, cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}

	verifier, err := auth.LoadVerifier(cfg.Auth)
	if err != nil {
		log.Fatalf("load token verifier: %v", err)
	}

	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(router, api.Handlers{
		Jobs: api.NewJobHandler(
			database.NewJobStore(db),
			asynqClient,
			redisClient,
			storageClient,
			cfg.Jobs,
			cfg.API.JobsPerDay,
			logger,
		),
		Assets:   api.NewAssetHandler(storageClient, api.NewClamdScanner(cfg.API.ClamdAddr), cfg.API.MaxUploadBytes, logger),
		Notify:   api.NewWsHandler(api.NewRedisSubscriber(redisClient), verifier, logger, cfg.API.AllowedOrigins),
		Verifier: verifier,
	})

	address := fmt.Sprintf(":%d", cfg.API.Port)
	logger.Info("api listening", slog.String("addr", address))
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
