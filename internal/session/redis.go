package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "research:session:"

// RedisStore persists sessions as JSON values in Redis so several engine
// instances can share them.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, host string, port int, password string, db int, timeout, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", host, port),
		Password:    password,
		DB:          db,
		DialTimeout: timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s:%d): %w", host, port, err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (st *RedisStore) Create(ctx context.Context) (*Session, error) {
	s := New()
	if err := st.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (st *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	val, err := st.client.Get(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var s Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return &s, nil
}

func (st *RedisStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return st.client.Set(ctx, sessionKeyPrefix+s.ID(), data, st.ttl).Err()
}

func (st *RedisStore) Delete(ctx context.Context, id string) error {
	return st.client.Del(ctx, sessionKeyPrefix+id).Err()
}

// Close releases the underlying Redis connection.
func (st *RedisStore) Close() error {
	return st.client.Close()
}
