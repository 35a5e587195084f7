package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vexscan/api/internal/config"
	"github.com/vexscan/api/pkg/logger"
)

// Client is the Redis connection shared by the membership cache and the
// readiness probe.
type Client struct {
	client *redis.Client
	logger *logger.Logger
}

// New connects to Redis. The first ping is retried with doubling backoff,
// bounded by cfg.MaxRetryDelay, so the API can start before Redis is up.
func New(cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil || log == nil {
		return nil, errors.New("redis: config and logger are required")
	}

	rdb := redis.NewClient(options(cfg))
	backoff := cfg.MinRetryDelay
	for attempt := 1; ; attempt++ {
		err := pingWithin(rdb, cfg.DialTimeout)
		if err == nil {
			log.Info("redis connected", "addr", cfg.Addr(), "db", cfg.DB, "tls", cfg.TLSEnabled)
			return &Client{client: rdb, logger: log}, nil
		}
		if attempt > cfg.MaxRetries {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis unreachable at %s after %d attempts: %w", cfg.Addr(), attempt, err)
		}
		log.Warn("redis not ready", "addr", cfg.Addr(), "attempt", attempt, "retry_in", backoff, "error", err)
		time.Sleep(backoff)
		backoff = min(backoff*2, cfg.MaxRetryDelay)
	}
}

func options(cfg *config.RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryDelay,
		MaxRetryBackoff: cfg.MaxRetryDelay,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for self-signed dev setups
			MinVersion:         tls.VersionTLS12,
		}
	}
	return opts
}

func pingWithin(rdb *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	c.logger.Info("closing redis connection")
	return c.client.Close()
}

// Ping reports whether Redis answers; used by /ready.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
