package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/internal/config"
	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// redisAdapter stores each session document as JSON under session:<code>.
type redisAdapter struct {
	client *redis.Client
	logger *zap.Logger
}

func newRedisAdapter(ctx context.Context, cfg config.KVConfig, logger *zap.Logger) (*redisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("redis KV adapter connected", zap.String("addr", cfg.Addr))
	return &redisAdapter{client: client, logger: logger}, nil
}

func sessionKey(code string) string {
	return "session:" + code
}

func (a *redisAdapter) Put(ctx context.Context, code string, doc *types.Session) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", code, err)
	}
	return a.client.Set(ctx, sessionKey(code), data, 0).Err()
}

func (a *redisAdapter) Get(ctx context.Context, code string) (*types.Session, error) {
	data, err := a.client.Get(ctx, sessionKey(code)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc types.Session
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", code, err)
	}
	return &doc, nil
}

func (a *redisAdapter) Delete(ctx context.Context, code string) error {
	return a.client.Del(ctx, sessionKey(code)).Err()
}

func (a *redisAdapter) Close() error {
	return a.client.Close()
}
