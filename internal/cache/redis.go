package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"realtime-board/internal/config"
	"realtime-board/internal/logging"
	"realtime-board/internal/model"
)

// RedisClient wraps the Redis client shared by the registry, board store and relay.
type RedisClient struct {
	client redis.UniversalClient
	prefix string
	log    *logrus.Entry
}

// NewRedisClient dials Redis, retrying with exponential backoff until the
// configured number of attempts is spent or ctx is done.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	r := NewFromClient(client, cfg.KeyPrefix, log)

	attempts := cfg.DialAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := cfg.DialBackoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			r.log.WithField("addr", cfg.Addr).Info("Connected to Redis")
			return r, nil
		}

		r.log.WithFields(logrus.Fields{
			"addr":    cfg.Addr,
			"attempt": attempt,
			"error":   err,
		}).Warn("Redis ping failed")

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, fmt.Errorf("redis dial: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	_ = client.Close()
	return nil, fmt.Errorf("redis dial %s after %d attempts: %w: %w", cfg.Addr, attempts, model.ErrStoreUnavailable, err)
}

// NewFromClient wraps an existing client (tests, cluster setups).
func NewFromClient(client redis.UniversalClient, prefix string, log logrus.FieldLogger) *RedisClient {
	return &RedisClient{
		client: client,
		prefix: prefix,
		log:    logging.Component(log, "redis"),
	}
}

// Client exposes the underlying client for scripts and transactions.
func (r *RedisClient) Client() redis.UniversalClient {
	return r.client
}

// Key builds a prefixed key, e.g. Key("board", sid, "meta") -> "tb:board:<sid>:meta".
func (r *RedisClient) Key(parts ...string) string {
	return r.prefix + strings.Join(parts, ":")
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is healthy
func (r *RedisClient) Health(ctx context.Context) error {
	return StoreErr("ping", r.client.Ping(ctx).Err())
}

// Publish sends a payload on a Pub/Sub channel.
func (r *RedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return StoreErr("publish", r.client.Publish(ctx, r.Key(channel), payload).Err())
}

// Subscribe subscribes to a prefixed Pub/Sub channel.
func (r *RedisClient) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return r.client.Subscribe(ctx, r.Key(channel))
}

// StoreErr maps go-redis errors onto the model error taxonomy.
// redis.Nil becomes ErrNotFound, everything else ErrStoreUnavailable.
func StoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis %s: %w", op, model.ErrNotFound)
	}
	if errors.Is(err, model.ErrStoreUnavailable) || errors.Is(err, model.ErrNotFound) {
		return err
	}
	return fmt.Errorf("redis %s: %w: %w", op, model.ErrStoreUnavailable, err)
}

// Generic Redis Operations

// HGetAll gets all fields and values from a hash; a missing key yields an empty map
func (r *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	val, err := r.client.HGetAll(ctx, key).Result()
	return val, StoreErr("hgetall", err)
}

// SMembers returns all members of a set
func (r *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	val, err := r.client.SMembers(ctx, key).Result()
	return val, StoreErr("smembers", err)
}

// SCard returns the cardinality of a set
func (r *RedisClient) SCard(ctx context.Context, key string) (int64, error) {
	val, err := r.client.SCard(ctx, key).Result()
	return val, StoreErr("scard", err)
}

// Del removes keys
func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return StoreErr("del", r.client.Del(ctx, keys...).Err())
}

