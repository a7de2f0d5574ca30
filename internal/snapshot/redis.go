package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "boardsync:snapshot:"

// RedisSink stores each board as a JSON string under a prefixed key with no
// expiry.
type RedisSink struct {
	client *redis.Client
	prefix string
}

func NewRedisSink(dsn string) (*RedisSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}
	return NewRedisSinkWithClient(redis.NewClient(opts), redisKeyPrefix), nil
}

func NewRedisSinkWithClient(client *redis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Save(ctx context.Context, key string, b Board) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("snapshot marshal error: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("snapshot set error: %w", err)
	}
	return nil
}

func (s *RedisSink) Load(ctx context.Context, key string) (*Board, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot get error: %w", err)
	}
	var out Board
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("snapshot unmarshal error: %w", err)
	}
	return &out, nil
}

func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
