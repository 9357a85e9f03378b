package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"eventflow/internal/model"
)

// RedisStore persists the cursor as a JSON value under one key per
// pipeline name.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, pipelineName string) (*RedisStore, error) {
	if pipelineName == "" {
		return nil, fmt.Errorf("pipeline name required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, key: "eventflow:cursor:" + pipelineName}, nil
}

func (s *RedisStore) Load(ctx context.Context) (model.Cursor, bool, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Cursor{}, false, nil
		}
		return model.Cursor{}, false, fmt.Errorf("redis get cursor: %w", err)
	}

	var cur model.Cursor
	if err := json.Unmarshal(data, &cur); err != nil {
		return model.Cursor{}, false, fmt.Errorf("parse cursor: %w", err)
	}
	return cur, true, nil
}

func (s *RedisStore) Save(ctx context.Context, cur model.Cursor) error {
	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set cursor: %w", err)
	}
	return nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
