package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dailybonus/internal/config"
	"dailybonus/internal/handler"
	"dailybonus/internal/infrastructure/cache"
	"dailybonus/internal/infrastructure/database"
	"dailybonus/internal/infrastructure/lock"
	"dailybonus/internal/infrastructure/mq"
	"dailybonus/internal/job"
	"dailybonus/internal/repository"
	"dailybonus/internal/service"
	"dailybonus/pkg/idgen"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	_ "go.uber.org/automaxprocs"
)

const lockExpiration = 10 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("加载配置失败")
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logrus.SetLevel(level)
	}
	if logrus.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化 ID 生成器
	idgen.Init(cfg.Server.WorkerID)

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("初始化数据库失败")
	}

	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		logrus.WithError(err).Fatal("初始化 Redis 失败")
	}
	defer redisClient.Close()

	producer, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		logrus.WithError(err).Fatal("初始化 Kafka 失败")
	}
	defer producer.Close()

	// 仓储
	codeRepo := repository.NewDailyCodeRepository(db)
	claimRepo := repository.NewClaimRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	transRepo := repository.NewTransactionRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	configRepo := repository.NewConfigRepository(db)

	// 服务
	configService := service.NewConfigService(configRepo, redisClient, &cfg.Bonus)
	codeService := service.NewCodeService(codeRepo, configService, func() lock.Locker {
		return lock.NewCodeGenerationLock(redisClient, lockExpiration)
	}, &cfg.Bonus)
	claimService := service.NewClaimService(claimRepo, codeService, configService, cfg)
	accountService := service.NewAccountService(accountRepo, transRepo, claimRepo, configService, cfg)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(outboxRepo, producer, cfg.Bonus.MaxRetryCount)
	go outboxSender.Start(ctx)

	var codeJob *job.DailyCodeJob
	if cfg.Scheduler.Enabled {
		codeJob = job.NewDailyCodeJob(codeService, cfg)
		if err := codeJob.Start(ctx); err != nil {
			logrus.WithError(err).Fatal("启动兑换码定时任务失败")
		}
	}

	// 设置路由
	h := handler.NewHandler(claimService, codeService, configService, accountService, outboxRepo)
	router := handler.SetupRouter(h, cfg)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.Infof("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("服务启动失败")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()
	if codeJob != nil {
		codeJob.Stop()
	}

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("服务关闭异常")
	}

	logrus.Info("服务已关闭")
}
