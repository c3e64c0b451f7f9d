// Package redisq owns the shared connection to the Redis backing store and
// the namespaced key scheme used by the queue and cache layers. One client
// instance serves the whole process.
package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/classlab/gradeflow/internal/logger"
)

// Config holds Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
	Env       string
	Timeout   time.Duration
}

// NewClient creates the shared Redis client. Connection events are logged;
// the caller is responsible for Ping-ing before relying on it.
func NewClient(cfg *Config, log *logger.Logger) *redis.Client {
	if log == nil {
		log = logger.GetDefault()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			log.WithField(logger.FieldComponent, "redis").
				WithField("addr", cfg.Addr).
				Info("redis connection established")
			return nil
		},
	})

	return rdb
}

// Ping verifies the backing store is reachable.
func Ping(ctx context.Context, rdb *redis.Client) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
