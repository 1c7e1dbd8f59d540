package database

import (
	"fmt"
	"time"

	"dailybonus/internal/config"
	"dailybonus/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB 按配置的驱动初始化数据库连接并迁移表结构
func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(LogLevel(cfg.LogLevel)),
		// 唯一键冲突翻译为 gorm.ErrDuplicatedKey，领取和生成兑换码都依赖它
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logrus.WithField("driver", cfg.Driver).Info("数据库连接成功")
	return db, nil
}

// Dialector 根据驱动名选择 gorm 方言
func Dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "mysql":
		return mysql.Open(cfg.DSN()), nil
	case "postgres":
		return postgres.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}
}

// Migrate 自动迁移表结构
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.DailyCode{},
		&model.UserClaim{},
		&model.CoinTransaction{},
		&model.UserBalance{},
		&model.SystemConfig{},
		&model.OutboxMessage{},
	)
	if err != nil {
		return fmt.Errorf("自动迁移表结构失败: %w", err)
	}
	return nil
}

// LogLevel 把配置中的字符串映射为 gorm 日志级别，未知值按 warn 处理
func LogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
