package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskapi/internal/config"
	"taskapi/internal/events"
	"taskapi/internal/handler"
	"taskapi/internal/httpserver"
	"taskapi/internal/repository"
	"taskapi/internal/service/task"
	"taskapi/pkg/circuitbreaker"
	"taskapi/pkg/db"
	"taskapi/pkg/logger"
	"taskapi/pkg/mq"
	"taskapi/pkg/otel"
	"taskapi/pkg/redis"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting task-api...",
		zap.String("store", cfg.Store.Driver),
		zap.String("port", cfg.Server.Port),
		zap.Bool("cache", cfg.Redis.Addr != ""),
		zap.Bool("events", cfg.MQ.URL != ""),
	)

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName: cfg.Otel.ServiceName,
		Endpoint:    cfg.Otel.Endpoint,
		Enabled:     cfg.Otel.Enabled,
		SampleRatio: cfg.Otel.SampleRatio,
	}, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// Store
	var (
		taskRepo repository.TaskRepository
		closers  []func()
	)
	switch cfg.Store.Driver {
	case config.StorePostgres:
		log.Info("Initializing database connection...")
		pool, err := db.NewConnection(startCtx, cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to init DB", zap.Error(err))
		}
		closers = append(closers, pool.Close)

		pgRepo := repository.NewTaskRepository(pool, log)
		if err := pgRepo.EnsureSchema(startCtx); err != nil {
			log.Fatal("Failed to prepare schema", zap.Error(err))
		}
		taskRepo = pgRepo
		log.Info("Database connection established successfully")
	default:
		taskRepo = repository.NewMemoryTaskRepository(log)
		log.Info("Using in-memory task store")
	}

	// Cache
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewRedisClient(startCtx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to init Redis", zap.Error(err), zap.String("addr", cfg.Redis.Addr))
		}
		closers = append(closers, func() { _ = rdb.Close() })
		taskRepo = repository.NewCachedTaskRepository(taskRepo, rdb, cfg.Redis.TTL, log)
		log.Info("Task cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	// Events
	var (
		publisher events.Publisher = events.NoopPublisher{}
		checks    []httpserver.ReadinessCheck
	)
	checks = append(checks, httpserver.ReadinessCheck{Name: "store", Check: taskRepo.Ping})
	if cfg.MQ.URL != "" {
		log.Info("Initializing MQ publisher...", zap.String("exchange", mq.ExchangeName))
		mqPublisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		closers = append(closers, mqPublisher.Close)
		publisher = events.NewBrokerPublisher(mqPublisher, circuitbreaker.DefaultConfig(), log)
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "mq",
			Check: func(context.Context) error {
				if !mqPublisher.IsConnected() {
					return errors.New("connection closed")
				}
				return nil
			},
		})
	}

	taskService := task.NewService(taskRepo, publisher, log)
	taskHandler := handler.NewTaskHandler(taskService, log)
	router := httpserver.NewRouter(taskHandler, log, checks...)

	// HTTP Server
	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down task-api gracefully...")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	log.Info("task-api shutdown complete")
}
