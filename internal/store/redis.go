package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"speech-to-notion/internal/models"
)

// RedisConfig configures a RedisCursorStore.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisCursorStore stores cursor snapshots as JSON strings with a TTL.
type RedisCursorStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCursorStore connects to Redis and pings it once.
func NewRedisCursorStore(ctx context.Context, cfg RedisConfig) (*RedisCursorStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "speech-to-notion:cursor"
	}
	return &RedisCursorStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RedisCursorStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *RedisCursorStore) SaveCursor(ctx context.Context, sessionID string, cursor models.Cursor) error {
	data, err := json.Marshal(cursor)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", s.key(sessionID), err)
	}
	return nil
}

func (s *RedisCursorStore) LoadCursor(ctx context.Context, sessionID string) (models.Cursor, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Cursor{}, ErrNotFound
	}
	if err != nil {
		return models.Cursor{}, fmt.Errorf("redis GET %s: %w", s.key(sessionID), err)
	}
	var c models.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return models.Cursor{}, fmt.Errorf("decode cursor %s: %w", sessionID, err)
	}
	return c, nil
}

func (s *RedisCursorStore) Close() error {
	return s.client.Close()
}
