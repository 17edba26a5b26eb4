package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"portraitStudio/internal/config"
	"portraitStudio/internal/database"
	"portraitStudio/internal/jobs"
	"portraitStudio/internal/logging"
	"portraitStudio/internal/metrics"
	"portraitStudio/internal/storage"
	"portraitStudio/internal/tasks"
	"portraitStudio/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := config.ValidateGateway(cfg); err != nil {
		log.Fatalf("invalid worker config: %v", err)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database, cfg.Log.Level)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	logger.Info("database connection ready for worker")

	ctx := context.Background()

	storageClient, err := storage.NewClient(ctx, cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	handler := worker.NewJobTaskHandler(
		database.NewJobStore(db),
		jobs.NewClient(cfg.Jobs, nil, logger),
		storage.NewMirror(storageClient, nil),
		worker.NewRedisPublisher(redisClient),
		logger,
	)

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues:      map[string]int{tasks.QueueJobs: 1},
		Logger:      worker.NewAsynqLogger(logger),
	})

	if cfg.Worker.MetricsAddr != "" {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Worker.MetricsAddr, metricsMux); err != nil {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeJobRun, handler)

	logger.Info("worker service started",
		slog.String("redis_addr", cfg.Redis.Addr()),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
