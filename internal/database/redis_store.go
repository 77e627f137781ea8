package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	c "github.com/life-stream-dev/life-stream-go-chat-gateway/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/ids"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
)

// RedisStore 令牌以 JSON 存在 <prefix><token> 键下，ttl 为 0 时不过期
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func ConnectRedis(ctx context.Context, config c.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("error occured while pinging redis at %s: %w", config.Addr, err)
	}
	logger.InfoF("Connected to redis at %s", config.Addr)
	return client, nil
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (rs *RedisStore) key(token ids.Token) string {
	return rs.prefix + string(token)
}

func (rs *RedisStore) GetToken(ctx context.Context, token ids.Token) (*TokenRecord, error) {
	if token == "" {
		return nil, ErrTokenEmpty
	}
	data, err := rs.client.Get(ctx, rs.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get token: %w", err)
	}
	var record TokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode token record: %w", err)
	}
	return &record, nil
}

func (rs *RedisStore) SaveToken(ctx context.Context, record *TokenRecord) error {
	if record.Token == "" {
		return ErrTokenEmpty
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode token record: %w", err)
	}
	if err := rs.client.Set(ctx, rs.key(record.Token), data, rs.ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

func (rs *RedisStore) DeleteToken(ctx context.Context, token ids.Token) error {
	if err := rs.client.Del(ctx, rs.key(token)).Err(); err != nil {
		return fmt.Errorf("redis del token: %w", err)
	}
	return nil
}

type RedisCloseCallback struct {
	client *redis.Client
}

func NewRedisCloseCallback(client *redis.Client) *RedisCloseCallback {
	return &RedisCloseCallback{client: client}
}

func (rc *RedisCloseCallback) Invoke(_ context.Context) error {
	logger.InfoF("Closing redis connection")
	return rc.client.Close()
}
