package cache

import (
	"context"
	"fmt"
	"time"

	"dailybonus/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// InitRedis 创建 Redis 客户端并检查连通性
// Redis 承担兑换码生成锁和配置缓存
func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	logrus.WithField("addr", client.Options().Addr).Info("Redis 连接成功")
	return client, nil
}
