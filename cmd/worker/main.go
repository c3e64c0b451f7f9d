package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/classlab/gradeflow/internal/ai"
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
		ServiceName: "gradeflow-worker",
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Parse command line flags
	workers := flag.Int("workers", 0, "Override the configured worker count")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *workers > 0 {
		cfg.Queue.Workers = *workers
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	submissionRepo := repository.NewSubmissionRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)

	// Initialize Redis
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
	cacheStore := redisq.NewCacheStore(rdb, keys)

	brk := breaker.New(&breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		MonitoringPeriod: cfg.Breaker.MonitoringPeriod,
		MaxRequests:      cfg.Breaker.MaxRequests,
	}, appLogger)

	jobQueue := queue.New(queueStore, brk, cfg.Queue, appLogger)
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

	// AI adapter, selected at construction time
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
	appLogger.WithFields(logger.Fields{
		"provider": cfg.AI.Provider,
		"model":    adapter.ModelName(),
	}).Info("AI adapter ready")

	normalizer := content.New(objectStorage, appLogger)
	jobGrader := grader.New(submissionRepo, assignmentRepo, feedbackRepo, normalizer, adapter, cacheManager, appLogger)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	// Worker pool; started below once the breaker hook is in place
	pool := queue.NewPool(jobQueue, jobGrader)

	// Monitor logs rolling metrics and threshold alerts
	perfMonitor := monitor.New(cfg.Monitor, jobQueue.Counts, appLogger)
	go perfMonitor.Run(runCtx, jobQueue.Subscribe())

	// Recovery registry plus scheduled health probes
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
	recoveryMgr.Register(recovery.ActionRestartWorkers, func(ctx context.Context) error {
		pool.Stop()
		pool = queue.NewPool(jobQueue, jobGrader)
		pool.Start(runCtx)
		return nil
	})
	// An opened circuit means the backing store is unreachable; start the
	// matching recovery action instead of waiting for the next probe.
	brk.SetOnOpen(func(err error) {
		recoveryMgr.AttemptAutoRecovery(context.Background(), err)
	})
	go recoveryMgr.RunProbes(runCtx, []recovery.Probe{
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

	pool.Start(runCtx)
	appLogger.WithField("workers", cfg.Queue.Workers).Info("Worker process started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down workers...")
	stop()
	pool.Stop()
	appLogger.Info("Worker process exited")
}
