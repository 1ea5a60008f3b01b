package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type RedisStore struct {
	client  *redis.Client
	guard   cart.Guard
	baseTTL time.Duration
	jitter  time.Duration
	logger  *zap.Logger
	sfg     singleflight.Group // Prevents cache stampede
}

func NewRedisStore(client *redis.Client, guard cart.Guard, baseTTL, jitter time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client:  client,
		guard:   guard,
		baseTTL: baseTTL,
		jitter:  jitter,
		logger:  logger,
	}
}

func (r *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return newSession(newID(), nil, r.guard), nil
	}

	// callers share the decoded payload, never the session itself
	v, err, _ := r.sfg.Do(id, func() (interface{}, error) {
		return r.get(ctx, id)
	})
	if errors.Is(err, ErrCacheMiss) {
		r.logger.Debug("session not found, starting a new one", zap.String("session_id", id))
		return newSession(newID(), nil, r.guard), nil
	}
	if err != nil {
		return nil, err
	}

	return newSession(id, v.(*payload).Lines, r.guard), nil
}

func (r *RedisStore) get(ctx context.Context, id string) (*payload, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var p payload
	if err2 := json.Unmarshal(data, &p); err2 != nil {
		return nil, fmt.Errorf("unmarshal session failed: %w", err2)
	}
	return &p, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	if !s.Modified() {
		return nil
	}

	data, err := json.Marshal(payload{Lines: s.Cart.Lines(), UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal session failed: %w", err)
	}

	if err := r.client.Set(ctx, sessionKey(s.ID), data, r.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	s.resetModified()
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisStore) ttl() time.Duration {
	if r.jitter <= 0 {
		return r.baseTTL
	}
	return r.baseTTL + time.Duration(rand.Int63n(int64(r.jitter)))
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}
