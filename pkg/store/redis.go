package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"paybot/pkg/logx"
)

const (
	sessionPrefix  = "session:"
	identityPrefix = "identity:"
	playerPrefix   = "player:" // reverse index, player uuid -> user handle
)

// RedisStore keeps state in redis so several bot instances can share it.
type RedisStore struct {
	rdb    *redis.Client
	logger *logx.Logger
}

// OpenRedis connects to redis at addr and verifies the connection.
func OpenRedis(addr string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", addr, err)
	}
	s := &RedisStore{rdb: rdb, logger: logx.NewLogger("store")}
	s.logger.Info("redis store ready at %s", addr)
	return s, nil
}

func (s *RedisStore) LoadSession(ctx context.Context, userHandle string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, sessionPrefix+userHandle).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return data, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, userHandle string, data []byte) error {
	if err := s.rdb.Set(ctx, sessionPrefix+userHandle, data, 0).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, userHandle string) error {
	if err := s.rdb.Del(ctx, sessionPrefix+userHandle).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) Identity(ctx context.Context, userHandle string) (*Identity, error) {
	data, err := s.rdb.Get(ctx, identityPrefix+userHandle).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return &id, nil
}

func (s *RedisStore) IdentityByPlayerUUID(ctx context.Context, playerUUID string) (*Identity, error) {
	handle, err := s.rdb.Get(ctx, playerPrefix+playerUUID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve player uuid: %w", err)
	}
	return s.Identity(ctx, handle)
}

func (s *RedisStore) SaveIdentity(ctx context.Context, id *Identity) error {
	id.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	// Old reverse index entry goes away when the subject changes.
	if prev, err := s.Identity(ctx, id.UserHandle); err == nil && prev.PlayerUUID != id.PlayerUUID {
		_ = s.rdb.Del(ctx, playerPrefix+prev.PlayerUUID).Err()
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, identityPrefix+id.UserHandle, data, 0)
	pipe.Set(ctx, playerPrefix+id.PlayerUUID, id.UserHandle, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteIdentity(ctx context.Context, userHandle string) error {
	if prev, err := s.Identity(ctx, userHandle); err == nil {
		_ = s.rdb.Del(ctx, playerPrefix+prev.PlayerUUID).Err()
	}
	if err := s.rdb.Del(ctx, identityPrefix+userHandle).Err(); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
