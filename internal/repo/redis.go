package repo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"doge-tipbot/internal/cache"
)

// RedisStore keeps user records as JSON under "user:<id>" keys.
// SET NX provides the create-once guarantee.
type RedisStore struct {
	redis  *cache.Redis
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore builds a store on top of an existing Redis wrapper.
func NewRedisStore(redis *cache.Redis, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		redis:  redis,
		logger: logger.With("component", "repo_redis"),
		now:    time.Now,
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisStore) Close() {}

// Ping ensures Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx)
}

// GetUser loads a user record by digest.
func (s *RedisStore) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	var rec UserRecord
	ok, err := s.redis.GetJSON(ctx, UserKey(userID), &rec)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// CreateUser writes the record only if the key is absent.
func (s *RedisStore) CreateUser(ctx context.Context, rec UserRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	now := s.now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	ok, err := s.redis.SetJSONNX(ctx, rec.Key(), rec, 0)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// UpdateLastMessage rewrites the record with a new last message id. The
// registered and deposit addresses are carried over unchanged.
func (s *RedisStore) UpdateLastMessage(ctx context.Context, userID, messageID string) error {
	rec, err := s.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	if rec == nil {
		return ErrNotFound
	}
	rec.LastMessageID = messageID
	rec.UpdatedAt = s.now().UTC()

	ok, err := s.redis.SetJSONXX(ctx, rec.Key(), rec)
	if err != nil {
		return fmt.Errorf("update last message: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
