package job

import (
	"context"
	"fmt"
	"time"

	"dailybonus/internal/config"
	"dailybonus/internal/model"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const jobTimeout = 30 * time.Second

type CodeMaintainer interface {
	EnsureActiveCode(ctx context.Context) (*model.DailyCode, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// DailyCodeJob 定时保证存在一个可领取的兑换码，并清理过期兑换码
// 用户领取时也会按需生成，这里只是让兑换码在窗口切换后尽快出现
type DailyCodeJob struct {
	codes        CodeMaintainer
	cron         *cron.Cron
	generateSpec string
	cleanupSpec  string
}

func NewDailyCodeJob(codes CodeMaintainer, cfg *config.Config) *DailyCodeJob {
	logger := cron.PrintfLogger(logrus.StandardLogger())
	c := cron.New(
		cron.WithLocation(cfg.Bonus.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &DailyCodeJob{
		codes:        codes,
		cron:         c,
		generateSpec: cfg.Scheduler.GenerateSpec,
		cleanupSpec:  cfg.Scheduler.CleanupSpec,
	}
}

// Start 注册并启动定时任务，启动时先执行一次生成
func (j *DailyCodeJob) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc(j.generateSpec, func() { j.Tick(ctx) }); err != nil {
		return fmt.Errorf("注册兑换码生成任务失败: %w", err)
	}
	if _, err := j.cron.AddFunc(j.cleanupSpec, func() { j.Cleanup(ctx) }); err != nil {
		return fmt.Errorf("注册兑换码清理任务失败: %w", err)
	}

	j.Tick(ctx)
	j.cron.Start()
	logrus.WithFields(logrus.Fields{
		"generate": j.generateSpec,
		"cleanup":  j.cleanupSpec,
	}).Info("[DailyCodeJob] 定时任务启动")
	return nil
}

func (j *DailyCodeJob) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	logrus.Info("[DailyCodeJob] 定时任务停止")
}

func (j *DailyCodeJob) Tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	code, err := j.codes.EnsureActiveCode(ctx)
	if err != nil {
		logrus.WithError(err).Error("[DailyCodeJob] 生成兑换码失败")
		return
	}
	logrus.WithFields(logrus.Fields{
		"code":            code.Code,
		"claimable_until": code.ClaimableUntil,
	}).Debug("[DailyCodeJob] 当前兑换码")
}

func (j *DailyCodeJob) Cleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	deleted, err := j.codes.CleanupExpired(ctx)
	if err != nil {
		logrus.WithError(err).Error("[DailyCodeJob] 清理过期兑换码失败")
		return
	}
	if deleted > 0 {
		logrus.WithField("deleted", deleted).Info("[DailyCodeJob] 已清理过期兑换码")
	}
}
