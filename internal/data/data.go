package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet 数据层提供者集合
var ProviderSet = wire.NewSet(
	NewRedisClient,
	NewRedisKV,
	NewContextCache,
)

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NewRedisClient 创建 Redis 客户端并验证连通性
func NewRedisClient(cfg *RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping error: %w", err)
	}
	return client, nil
}

// KV 上下文存储契约：字符串读写（可条件写入）加有序列表操作。
// 生产环境由 Redis 实现，测试用内存实现。
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetNX(ctx context.Context, key, value string) (bool, error)
	SetXX(ctx context.Context, key, value string) (bool, error)
	Del(ctx context.Context, keys ...string) error

	RPush(ctx context.Context, key string, values ...string) error
	LPop(ctx context.Context, key string, count int) ([]string, error)
	RPop(ctx context.Context, key string) (string, bool, error)
	LSet(ctx context.Context, key string, index int, value string) error
	LRange(ctx context.Context, key string) ([]string, error)
}

// RedisKV KV 的 Redis 实现
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV 创建 Redis KV
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get error: %w", err)
	}
	return val, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (r *RedisKV) SetNX(ctx context.Context, key, value string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx error: %w", err)
	}
	return ok, nil
}

func (r *RedisKV) SetXX(ctx context.Context, key, value string) (bool, error) {
	ok, err := r.client.SetXX(ctx, key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setxx error: %w", err)
	}
	return ok, nil
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	return nil
}

func (r *RedisKV) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := r.client.RPush(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("redis rpush error: %w", err)
	}
	return nil
}

func (r *RedisKV) LPop(ctx context.Context, key string, count int) ([]string, error) {
	vals, err := r.client.LPopCount(ctx, key, count).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis lpop error: %w", err)
	}
	return vals, nil
}

func (r *RedisKV) RPop(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.RPop(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis rpop error: %w", err)
	}
	return val, true, nil
}

func (r *RedisKV) LSet(ctx context.Context, key string, index int, value string) error {
	if err := r.client.LSet(ctx, key, int64(index), value).Err(); err != nil {
		return fmt.Errorf("redis lset error: %w", err)
	}
	return nil
}

func (r *RedisKV) LRange(ctx context.Context, key string) ([]string, error) {
	vals, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange error: %w", err)
	}
	return vals, nil
}
