package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Bonus     BonusConfig     `mapstructure:"bonus"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	WorkerID       int64         `mapstructure:"worker_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig Driver 支持 mysql / postgres
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

// DSN 按驱动拼接连接串
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	BonusClaimed string `mapstructure:"bonus_claimed"`
	CoinsEarned  string `mapstructure:"coins_earned"`
}

type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	AdminKeyHash string `mapstructure:"admin_key_hash"` // bcrypt 哈希，供调度器等内部调用方使用
}

// BonusConfig 每日奖励的静态配置
// 运行期可调参数存放在 system_config 表，Defaults 只在表中缺少对应键时生效
type BonusConfig struct {
	Timezone           string           `mapstructure:"timezone"`
	CodeRetentionHours int              `mapstructure:"code_retention_hours"`
	HistoryLimit       int              `mapstructure:"history_limit"`
	ConfigCacheTTL     time.Duration    `mapstructure:"config_cache_ttl"`
	MaxRetryCount      int              `mapstructure:"max_retry_count"`
	Defaults           BonusDefaults    `mapstructure:"defaults"`
	ActionRewards      map[string]int64 `mapstructure:"action_rewards"`
}

type BonusDefaults struct {
	BaseAmount      int64  `mapstructure:"base_amount"`
	MaxAmount       int64  `mapstructure:"max_amount"`
	StreakDays      int    `mapstructure:"streak_days"`
	IncrementType   string `mapstructure:"increment_type"`
	FixedIncrement  int64  `mapstructure:"fixed_increment"`
	SystemEnabled   bool   `mapstructure:"system_enabled"`
	TestModeEnabled bool   `mapstructure:"test_mode_enabled"`
}

type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	GenerateSpec string `mapstructure:"generate_spec"`
	CleanupSpec  string `mapstructure:"cleanup_spec"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Location 解析参考时区，启动时已由 Validate 校验；未经校验的值解析失败回退到 UTC
func (c *BonusConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil || c.Timezone == "" {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("kafka.topic.bonus_claimed", "bonus.claimed")
	v.SetDefault("kafka.topic.coins_earned", "coins.earned")
	v.SetDefault("bonus.timezone", "UTC")
	v.SetDefault("bonus.code_retention_hours", 24)
	v.SetDefault("bonus.history_limit", 400)
	v.SetDefault("bonus.config_cache_ttl", "1m")
	v.SetDefault("bonus.max_retry_count", 5)
	v.SetDefault("bonus.defaults.base_amount", 10)
	v.SetDefault("bonus.defaults.max_amount", 100)
	v.SetDefault("bonus.defaults.streak_days", 7)
	v.SetDefault("bonus.defaults.increment_type", "calculated")
	v.SetDefault("bonus.defaults.fixed_increment", 10)
	v.SetDefault("bonus.defaults.system_enabled", true)
	v.SetDefault("bonus.defaults.test_mode_enabled", false)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.generate_spec", "@every 1m")
	v.SetDefault("scheduler.cleanup_spec", "0 3 * * *")
	v.SetDefault("log.level", "info")
}

// Validate 校验启动必需的配置
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret 未配置")
	}
	if c.Database.Driver != "mysql" && c.Database.Driver != "postgres" {
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	if c.Bonus.Defaults.StreakDays <= 0 {
		return fmt.Errorf("bonus.defaults.streak_days 必须大于0")
	}
	if c.Bonus.Defaults.MaxAmount < c.Bonus.Defaults.BaseAmount {
		return fmt.Errorf("bonus.defaults.max_amount 不能小于 base_amount")
	}
	if _, err := time.LoadLocation(c.Bonus.Timezone); err != nil {
		return fmt.Errorf("bonus.timezone 无效: %w", err)
	}
	return nil
}

// LoadConfig 加载配置文件，环境变量 DAILYBONUS_* 可覆盖文件中的值
// 例如 DAILYBONUS_AUTH_JWT_SECRET 覆盖 auth.jwt_secret
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DAILYBONUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
