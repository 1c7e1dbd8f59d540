package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dailybonus/internal/config"
	"dailybonus/internal/infrastructure/lock"
	"dailybonus/internal/model"
	"dailybonus/internal/repository"
	"dailybonus/pkg/idgen"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	testModeClaimWindow = 10 * time.Second
	testModeRetention   = 60 * time.Second

	// 没抢到生成锁时，等待其他实例写入的时长
	lockWaitTimeout  = 2 * time.Second
	lockPollInterval = 100 * time.Millisecond

	// 合并后的生成不受单个调用方取消影响，单独限时
	generateTimeout = 5 * time.Second

	codeCacheSize = 128
)

type CodeRepo interface {
	GetActive(ctx context.Context, now time.Time) (*model.DailyCode, error)
	GetLatest(ctx context.Context) (*model.DailyCode, error)
	GetByCode(ctx context.Context, code string) (*model.DailyCode, error)
	ListValid(ctx context.Context, now time.Time) ([]*model.DailyCode, error)
	CreateActive(ctx context.Context, code *model.DailyCode, now time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// CodeService 管理全站唯一的可领取兑换码
//
// 【防止重复生成】三层保护：
//  1. singleflight：同一进程内并发的生成请求合并为一次
//  2. Redis 锁：多实例之间尽量只有一个去写库
//  3. active_slot 唯一索引：数据库层面的最终保证，冲突时读取胜出者的兑换码
type CodeService struct {
	repo      CodeRepo
	config    ConfigLoader
	newLock   func() lock.Locker
	group     singleflight.Group
	byCode    *lru.Cache
	loc       *time.Location
	retention time.Duration
	now       func() time.Time
}

func NewCodeService(repo CodeRepo, configLoader ConfigLoader, newLock func() lock.Locker, cfg *config.BonusConfig) *CodeService {
	byCode, _ := lru.New(codeCacheSize)
	retention := time.Duration(cfg.CodeRetentionHours) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &CodeService{
		repo:      repo,
		config:    configLoader,
		newLock:   newLock,
		byCode:    byCode,
		loc:       cfg.Location(),
		retention: retention,
		now:       time.Now,
	}
}

// EnsureActiveCode 返回当前可领取的兑换码，不存在时生成
func (s *CodeService) EnsureActiveCode(ctx context.Context) (*model.DailyCode, error) {
	code, err := s.repo.GetActive(ctx, s.now())
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, repository.ErrDailyCodeNotFound) {
		return nil, fmt.Errorf("查询当前兑换码失败: %w", err)
	}

	ch := s.group.DoChan("generate", func() (interface{}, error) {
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), generateTimeout)
		defer cancel()
		return s.generate(genCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.DailyCode), nil
	}
}

func (s *CodeService) generate(ctx context.Context) (*model.DailyCode, error) {
	if code, err := s.repo.GetActive(ctx, s.now()); err == nil {
		return code, nil
	}

	l := s.newLock()
	locked, err := l.TryLock(ctx)
	if err != nil {
		// 锁只是尽力而为，Redis 不可用时仍靠唯一索引保证
		logrus.WithError(err).Warn("获取兑换码生成锁失败，继续生成")
	}
	if locked {
		defer func() {
			if err := l.Unlock(ctx); err != nil {
				logrus.WithError(err).Debug("释放兑换码生成锁失败")
			}
		}()
	} else if err == nil {
		if code := s.waitForActive(ctx); code != nil {
			return code, nil
		}
	}

	cfg, err := s.config.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	code := s.newCode(now, cfg)
	err = s.repo.CreateActive(ctx, code, now)
	if errors.Is(err, repository.ErrActiveCodeExists) {
		existing, getErr := s.repo.GetActive(ctx, s.now())
		if getErr != nil {
			return nil, fmt.Errorf("读取已生成的兑换码失败: %w", getErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("生成兑换码失败: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"code":            code.Code,
		"claimable_until": code.ClaimableUntil,
		"valid_until":     code.ValidUntil,
		"test_mode":       code.IsTestMode,
	}).Info("每日兑换码已生成")
	return code, nil
}

// waitForActive 其他实例持有生成锁时轮询等待它写入
func (s *CodeService) waitForActive(ctx context.Context) *model.DailyCode {
	ctx, cancel := context.WithTimeout(ctx, lockWaitTimeout)
	defer cancel()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if code, err := s.repo.GetActive(ctx, s.now()); err == nil {
				return code
			}
		}
	}
}

func (s *CodeService) newCode(now time.Time, cfg model.BonusConfig) *model.DailyCode {
	var claimableUntil, validUntil time.Time
	if cfg.TestModeEnabled {
		claimableUntil = now.Add(testModeClaimWindow)
		validUntil = claimableUntil.Add(testModeRetention)
	} else {
		claimableUntil = NextDayBoundary(now, s.loc)
		validUntil = claimableUntil.Add(s.retention)
	}
	return &model.DailyCode{
		Code:            idgen.GenerateDailyCode(),
		GeneratedAt:     now,
		ClaimableUntil:  claimableUntil,
		ValidUntil:      validUntil,
		BaseBonusAmount: cfg.BaseAmount,
		IsTestMode:      cfg.TestModeEnabled,
	}
}

// NextDayBoundary 参考时区下一个零点
func NextDayBoundary(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

func (s *CodeService) GetLatestCode(ctx context.Context) (*model.DailyCode, error) {
	code, err := s.repo.GetLatest(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrDailyCodeNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("查询兑换码失败: %w", err)
	}
	return code, nil
}

// GetByCode 按兑换码字符串查询，结果在进程内缓存
func (s *CodeService) GetByCode(ctx context.Context, code string) (*model.DailyCode, error) {
	if v, ok := s.byCode.Get(code); ok {
		return v.(*model.DailyCode), nil
	}

	dc, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrDailyCodeNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("查询兑换码失败: %w", err)
	}
	s.byCode.Add(code, dc)
	return dc, nil
}

// ListValidCodes 尚未过期的兑换码，新的在前
func (s *CodeService) ListValidCodes(ctx context.Context) ([]*model.DailyCode, error) {
	codes, err := s.repo.ListValid(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("查询有效兑换码失败: %w", err)
	}
	return codes, nil
}

// CleanupExpired 删除已过有效期的兑换码，领取窗口内或保留期内的不会被删除
func (s *CodeService) CleanupExpired(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("清理过期兑换码失败: %w", err)
	}
	if deleted > 0 {
		s.byCode.Purge()
	}
	logrus.WithField("deleted", deleted).Info("过期兑换码清理完成")
	return deleted, nil
}
