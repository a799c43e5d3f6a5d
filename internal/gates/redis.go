package gates

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"currents/internal/config"
)

// RedisStore keeps gate flags in Redis so multiple pipeline hosts share one
// toggle surface. Flags are plain "1"/"0" strings under a common prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to the Redis backend described by the configuration and
// verifies the connection with a ping.
func OpenRedis(ctx context.Context, cfg config.Gates) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	prefix := cfg.RedisKeyPrefix
	if prefix == "" {
		prefix = "currents:gates:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Get reads a single gate flag.
func (s *RedisStore) Get(ctx context.Context, key string) (bool, bool, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get gate: %w", err)
	}
	return value == "1", true, nil
}

// Set upserts a gate flag.
func (s *RedisStore) Set(ctx context.Context, key string, enabled bool) error {
	value := "0"
	if enabled {
		value = "1"
	}
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set gate: %w", err)
	}
	return nil
}

// All scans every stored gate flag under the prefix.
func (s *RedisStore) All(ctx context.Context) (map[string]bool, error) {
	flags := make(map[string]bool)
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		value, err := s.client.Get(ctx, fullKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get gate %s: %w", fullKey, err)
		}
		flags[strings.TrimPrefix(fullKey, s.prefix)] = value == "1"
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan gates: %w", err)
	}
	return flags, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
