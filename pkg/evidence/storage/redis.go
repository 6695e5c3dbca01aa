package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"mercator-hq/gatekeeper/pkg/evidence"
)

// DefaultRedisStream is the stream key used when none is configured.
const DefaultRedisStream = "gatekeeper:audit"

// RedisConfig describes the Redis connection and stream.
type RedisConfig struct {
	Address  string
	Password string
	DB       int

	// Stream is the stream key entries are appended to.
	Stream string

	// MaxLen caps the stream length (approximate trimming). 0 disables it.
	MaxLen int64
}

// RedisSink appends entries to a Redis stream. Each stream message carries
// the entry id, tool, result, and the full entry as JSON.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewRedisSink connects to Redis and verifies the connection with PING.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, evidence.NewStorageError("redis", "open", errors.New("redis address is required"))
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, evidence.NewStorageError("redis", "ping", err)
	}
	return NewRedisSinkFromClient(client, cfg.Stream, cfg.MaxLen), nil
}

// NewRedisSinkFromClient wraps an existing client. The sink owns the
// client and closes it on Close.
func NewRedisSinkFromClient(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultRedisStream
	}
	s := &RedisSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: slog.Default().With("component", "evidence.storage.redis"),
	}
	s.logger.Info("redis sink ready", "stream", stream, "max_len", maxLen)
	return s
}

// Stream returns the stream key.
func (s *RedisSink) Stream() string {
	return s.stream
}

// Write appends one entry with XADD.
func (s *RedisSink) Write(ctx context.Context, entry *evidence.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return evidence.NewStorageError("redis", "encode", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":     entry.ID,
			"tool":   entry.Tool,
			"result": string(entry.Result),
			"entry":  string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return evidence.NewStorageError("redis", "xadd", err)
	}
	return nil
}

// Recent reads up to n entries from the end of the stream, newest first.
// n <= 0 reads the whole stream.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]*evidence.Entry, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if n > 0 {
		msgs, err = s.client.XRevRangeN(ctx, s.stream, "+", "-", n).Result()
	} else {
		msgs, err = s.client.XRevRange(ctx, s.stream, "+", "-").Result()
	}
	if err != nil {
		return nil, evidence.NewStorageError("redis", "xrevrange", err)
	}

	entries := make([]*evidence.Entry, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["entry"].(string)
		if !ok {
			return nil, evidence.NewStorageError("redis", "decode",
				fmt.Errorf("message %s has no entry field", msg.ID))
		}
		var e evidence.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, evidence.NewStorageError("redis", "decode", err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return evidence.NewStorageError("redis", "close", err)
	}
	return nil
}
