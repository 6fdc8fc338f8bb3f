package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"queryopt/pkg/config"
	errs "queryopt/pkg/error"
)

// RedisSink 把最新报表写入 <prefix>latest，并发布到频道
type RedisSink struct {
	client *redis.Client
	cfg    config.RedisConfig
}

// NewRedisSink 使用已有客户端创建输出端
func NewRedisSink(client *redis.Client, cfg config.RedisConfig) *RedisSink {
	return &RedisSink{client: client, cfg: cfg}
}

// DialRedisSink 按配置连接 Redis 并创建输出端
func DialRedisSink(ctx context.Context, cfg config.RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.WrapError(errs.ErrSinkUnavailable, fmt.Sprintf("连接Redis失败 %s", cfg.Addr), err)
	}
	return NewRedisSink(client, cfg), nil
}

func (s *RedisSink) Name() string { return "redis" }

// LatestKey 最新报表的键
func (s *RedisSink) LatestKey() string {
	return s.cfg.KeyPrefix + "latest"
}

// Publish 在一个事务中写入最新报表并发布
func (s *RedisSink) Publish(ctx context.Context, pub Publication) error {
	data, err := json.Marshal(pub)
	if err != nil {
		return fmt.Errorf("序列化报表失败: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.LatestKey(), data, s.cfg.TTL)
		if s.cfg.Channel != "" {
			pipe.Publish(ctx, s.cfg.Channel, data)
		}
		return nil
	})
	if err != nil {
		return errs.WrapError(errs.ErrSinkUnavailable, "redis publish failed", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
