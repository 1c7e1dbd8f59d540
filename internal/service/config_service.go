package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"dailybonus/internal/config"
	"dailybonus/internal/model"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ConfigCacheKey system_config 在 Redis 中的缓存
const ConfigCacheKey = "daily_bonus:config"

const configLoadTimeout = 3 * time.Second

type ConfigRepo interface {
	GetValues(ctx context.Context, keys []string) (map[string]string, error)
	Upsert(ctx context.Context, key, value string) error
}

// ConfigLoader 每个请求开始时取一次配置快照
type ConfigLoader interface {
	Load(ctx context.Context) (model.BonusConfig, error)
}

type cachedConfig struct {
	cfg       model.BonusConfig
	expiresAt time.Time
}

// ConfigService 读取 system_config 中的奖励参数
//
// 读取顺序：进程内快照 -> Redis -> 数据库。
// 修改配置后调用 Invalidate 清掉两级缓存，其他实例的进程内缓存最多滞后一个 TTL。
type ConfigService struct {
	repo     ConfigRepo
	redis    redis.Cmdable
	defaults model.BonusConfig
	ttl      time.Duration
	now      func() time.Time

	group singleflight.Group

	// mu 只保护快照；gen 在 Invalidate 时递增，旧的回源结果不再写入
	mu     sync.Mutex
	cached *cachedConfig
	gen    uint64
}

func NewConfigService(repo ConfigRepo, redisClient redis.Cmdable, cfg *config.BonusConfig) *ConfigService {
	ttl := cfg.ConfigCacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ConfigService{
		repo:     repo,
		redis:    redisClient,
		defaults: DefaultBonusConfig(cfg.Defaults),
		ttl:      ttl,
		now:      time.Now,
	}
}

// DefaultBonusConfig 配置文件中的默认值，表中缺少的键以此为准
func DefaultBonusConfig(d config.BonusDefaults) model.BonusConfig {
	return model.BonusConfig{
		BaseAmount:      d.BaseAmount,
		MaxAmount:       d.MaxAmount,
		CycleLengthDays: d.StreakDays,
		IncrementType:   d.IncrementType,
		FixedIncrement:  d.FixedIncrement,
		SystemEnabled:   d.SystemEnabled,
		TestModeEnabled: d.TestModeEnabled,
	}
}

func (s *ConfigService) Load(ctx context.Context) (model.BonusConfig, error) {
	s.mu.Lock()
	if s.cached != nil && s.now().Before(s.cached.expiresAt) {
		cfg := s.cached.cfg
		s.mu.Unlock()
		return cfg, nil
	}
	gen := s.gen
	s.mu.Unlock()

	// 同时未命中的请求合并为一次回源，回源期间不持锁
	ch := s.group.DoChan(fmt.Sprintf("load:%d", gen), func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), configLoadTimeout)
		defer cancel()

		values, err := s.loadValues(loadCtx, gen)
		if err != nil {
			return nil, err
		}
		cfg := s.defaults.ApplyValues(values)

		s.mu.Lock()
		if s.gen == gen {
			s.cached = &cachedConfig{cfg: cfg, expiresAt: s.now().Add(s.ttl)}
		}
		s.mu.Unlock()
		return cfg, nil
	})

	select {
	case <-ctx.Done():
		return model.BonusConfig{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.BonusConfig{}, res.Err
		}
		return res.Val.(model.BonusConfig), nil
	}
}

func (s *ConfigService) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *ConfigService) loadValues(ctx context.Context, gen uint64) (map[string]string, error) {
	raw, err := s.redis.Get(ctx, ConfigCacheKey).Result()
	switch {
	case err == nil:
		var values map[string]string
		if jsonErr := json.Unmarshal([]byte(raw), &values); jsonErr == nil {
			return values, nil
		}
		logrus.WithField("key", ConfigCacheKey).Warn("配置缓存内容无法解析，回源数据库")
	case !errors.Is(err, redis.Nil):
		logrus.WithError(err).Warn("读取配置缓存失败，回源数据库")
	}

	values, err := s.repo.GetValues(ctx, model.BonusConfigKeys)
	if err != nil {
		return nil, fmt.Errorf("读取系统配置失败: %w", err)
	}

	// 回源期间配置被修改过，不回填 Redis
	if !s.current(gen) {
		return values, nil
	}
	payload, _ := json.Marshal(values)
	if err := s.redis.Set(ctx, ConfigCacheKey, string(payload), s.ttl).Err(); err != nil {
		logrus.WithError(err).Warn("写入配置缓存失败")
	}
	return values, nil
}

// Invalidate 清空两级缓存，下次 Load 从数据库读取
func (s *ConfigService) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	s.cached = nil
	s.gen++
	s.mu.Unlock()
	if err := s.redis.Del(ctx, ConfigCacheKey).Err(); err != nil {
		return fmt.Errorf("清除配置缓存失败: %w", err)
	}
	logrus.Info("奖励配置缓存已清除")
	return nil
}

// Update 修改一个配置项并清除缓存，只接受已知的键
func (s *ConfigService) Update(ctx context.Context, key, value string) error {
	known := false
	for _, k := range model.BonusConfigKeys {
		if k == key {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: 未知的配置项 %s", ErrInvalidParam, key)
	}

	if err := s.repo.Upsert(ctx, key, value); err != nil {
		return fmt.Errorf("保存系统配置失败: %w", err)
	}
	logrus.WithFields(logrus.Fields{"key": key, "value": value}).Info("奖励配置已修改")
	return s.Invalidate(ctx)
}
