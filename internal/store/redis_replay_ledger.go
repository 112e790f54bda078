package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const replayKeyPrefix = "catalog:replayed:"

// RedisReplayLedger implements ReplayLedger in Redis, so the replay nonce
// survives restarts and is shared between processes draining one log
type RedisReplayLedger struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// RedisOptions describes the ledger's Redis connection
type RedisOptions struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
}

// NewRedisReplayLedger connects to Redis and verifies the connection
func NewRedisReplayLedger(opts RedisOptions, ttl time.Duration, logger *zap.Logger) (*RedisReplayLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   opts.MaxRetries,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisReplayLedgerWithClient(client, ttl, logger), nil
}

// NewRedisReplayLedgerWithClient wraps an existing client
func NewRedisReplayLedgerWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisReplayLedger {
	return &RedisReplayLedger{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// MarkReplayed records entryID with the ledger TTL
func (l *RedisReplayLedger) MarkReplayed(ctx context.Context, entryID string) error {
	if err := l.client.Set(ctx, replayKeyPrefix+entryID, time.Now().UTC().Format(time.RFC3339Nano), l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark entry %s replayed: %w", entryID, err)
	}
	return nil
}

// WasReplayed reports whether entryID is present in the ledger
func (l *RedisReplayLedger) WasReplayed(ctx context.Context, entryID string) (bool, error) {
	err := l.client.Get(ctx, replayKeyPrefix+entryID).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up entry %s: %w", entryID, err)
	}
	return true, nil
}

// Ping checks the Redis connection
func (l *RedisReplayLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (l *RedisReplayLedger) Close() error {
	return l.client.Close()
}
