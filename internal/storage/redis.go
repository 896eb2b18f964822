package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	<prefix>sessions        set of session names
//	<prefix>session:<name>  hash of parameter -> value
//	<prefix>current         current session name
const defaultRedisPrefix = "lorawan-tester:"

// RedisConfig holds the Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps sessions in Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(rdb, cfg.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) namesKey() string { return s.prefix + "sessions" }
func (s *RedisStore) sessionKey(name string) string { return s.prefix + "session:" + name }
func (s *RedisStore) currentKey() string { return s.prefix + "current" }

func (s *RedisStore) ListSessions(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStore) GetSession(ctx context.Context, name string) (map[string]string, error) {
	ok, err := s.client.SIsMember(ctx, s.namesKey(), name).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.client.HGetAll(ctx, s.sessionKey(name)).Result()
}

func (s *RedisStore) SaveSession(ctx context.Context, name string, values map[string]string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(name))
		if len(values) > 0 {
			pipe.HSet(ctx, s.sessionKey(name), values)
		}
		pipe.SAdd(ctx, s.namesKey(), name)
		return nil
	})
	return err
}

func (s *RedisStore) DeleteSession(ctx context.Context, name string) error {
	removed, err := s.client.SRem(ctx, s.namesKey(), name).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	if err := s.client.Del(ctx, s.sessionKey(name)).Err(); err != nil {
		return err
	}

	cur, err := s.CurrentSession(ctx)
	if err == nil && cur == name {
		return s.client.Del(ctx, s.currentKey()).Err()
	}
	return nil
}

func (s *RedisStore) CurrentSession(ctx context.Context) (string, error) {
	name, err := s.client.Get(ctx, s.currentKey()).Result()
	if errors.Is(err, redis.Nil) || (err == nil && name == "") {
		return "", ErrNotFound
	}
	return name, err
}

func (s *RedisStore) SetCurrentSession(ctx context.Context, name string) error {
	if name == "" {
		return s.client.Del(ctx, s.currentKey()).Err()
	}

	ok, err := s.client.SIsMember(ctx, s.namesKey(), name).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return s.client.Set(ctx, s.currentKey(), name, 0).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
