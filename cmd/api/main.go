package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classlab/gradeflow/internal/ai"
	"github.com/classlab/gradeflow/internal/api"
	"github.com/classlab/gradeflow/internal/breaker"
	"github.com/classlab/gradeflow/internal/cache"
	"github.com/classlab/gradeflow/internal/config"
	"github.com/classlab/gradeflow/internal/content"
	"github.com/classlab/gradeflow/internal/grader"
	"github.com/classlab/gradeflow/internal/logger"
	"github.com/classlab/gradeflow/internal/monitor"
	"github.com/classlab/gradeflow/internal/queue"
	"github.com/classlab/gradeflow/internal/recovery"
	"github.com/classlab/gradeflow/internal/redisq"
	"github.com/classlab/gradeflow/internal/repository"
	"github.com/classlab/gradeflow/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "gradeflow-api",
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	submissionRepo := repository.NewSubmissionRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)

	// Initialize Redis and the queue
	rdb := redisq.NewClient(&redisq.Config{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		Namespace: cfg.Redis.Namespace,
		Env:       cfg.Redis.Env,
		Timeout:   cfg.Redis.Timeout,
	}, appLogger)
	defer rdb.Close()

	ctx := context.Background()
	if err := redisq.Ping(ctx, rdb); err != nil {
		appLogger.WithError(err).Fatal("Failed to reach Redis")
	}

	keys := redisq.NewKeys(cfg.Redis.Env, cfg.Redis.Namespace)
	queueStore := redisq.NewQueueStore(rdb, keys)

	brk := breaker.New(&breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		MonitoringPeriod: cfg.Breaker.MonitoringPeriod,
		MaxRequests:      cfg.Breaker.MaxRequests,
	}, appLogger)

	jobQueue := queue.New(queueStore, brk, cfg.Queue, appLogger)
	cacheStore := redisq.NewCacheStore(rdb, keys)
	cacheManager := cache.New(cacheStore, brk, appLogger, cfg.Cache.DefaultTTL)

	// Object storage for submission payloads
	objectStorage, err := storage.NewS3Storage(&storage.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
	}

	// AI adapter
	adapter, err := ai.NewAdapter(&ai.Config{
		Provider:       cfg.AI.Provider,
		Model:          cfg.AI.Model,
		APIKey:         cfg.AI.APIKey,
		BaseURL:        cfg.AI.BaseURL,
		Timeout:        cfg.AI.Timeout,
		Fallback:       cfg.AI.Fallback,
		FallbackAPIKey: cfg.AI.FallbackAPIKey,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize AI adapter")
	}

	// Embedded worker pool; run cmd/worker instead for a queue-only process
	normalizer := content.New(objectStorage, appLogger)
	jobGrader := grader.New(submissionRepo, assignmentRepo, feedbackRepo, normalizer, adapter, cacheManager, appLogger)
	pool := queue.NewPool(jobQueue, jobGrader)

	// Recovery registry: the API process can reconnect its own dependencies
	recoveryMgr := recovery.NewManager(cfg.Recovery, appLogger)
	recoveryMgr.Register(recovery.ActionCacheReconnect, func(ctx context.Context) error {
		return redisq.Ping(ctx, rdb)
	})
	recoveryMgr.Register(recovery.ActionDatabaseReconnect, func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})

	// An opened circuit means the backing store is unreachable; start the
	// matching recovery action instead of waiting for the next probe.
	brk.SetOnOpen(func(err error) {
		recoveryMgr.AttemptAutoRecovery(context.Background(), err)
	})

	// Monitor feeds the health endpoint with queue metrics
	perfMonitor := monitor.New(cfg.Monitor, jobQueue.Counts, appLogger)
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go perfMonitor.Run(monitorCtx, jobQueue.Subscribe())

	pool.Start(monitorCtx)
	defer pool.Stop()

	// Scheduled health probes trigger recovery preemptively
	go recoveryMgr.RunProbes(monitorCtx, []recovery.Probe{
		{
			Name:     "redis",
			Check:    func(ctx context.Context) error { return redisq.Ping(ctx, rdb) },
			ActionID: recovery.ActionCacheReconnect,
		},
		{
			Name: "database",
			Check: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
			ActionID: recovery.ActionDatabaseReconnect,
		},
	})

	// Setup router
	router := api.SetupRouter(&cfg.Server, api.Deps{
		Queue:       jobQueue,
		Breaker:     brk,
		Recovery:    recoveryMgr,
		Monitor:     perfMonitor,
		Submissions: submissionRepo,
		Feedbacks:   feedbackRepo,
		Storage:     objectStorage,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
