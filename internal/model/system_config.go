package model

import (
	"strconv"
	"strings"
	"time"
)

// system_config 表中读取的键
const (
	ConfigKeyBaseAmount     = "daily_bonus_base_amount"
	ConfigKeyMaxAmount      = "daily_bonus_max_amount"
	ConfigKeyStreakDays     = "daily_bonus_streak_days"
	ConfigKeyIncrementType  = "daily_bonus_increment_type"
	ConfigKeyFixedIncrement = "daily_bonus_fixed_increment"
	ConfigKeySystemEnabled  = "system_enabled"
	ConfigKeyTestMode       = "test_mode_enabled"
)

// BonusConfigKeys 加载 BonusConfig 时一次性查询的键
var BonusConfigKeys = []string{
	ConfigKeyBaseAmount,
	ConfigKeyMaxAmount,
	ConfigKeyStreakDays,
	ConfigKeyIncrementType,
	ConfigKeyFixedIncrement,
	ConfigKeySystemEnabled,
	ConfigKeyTestMode,
}

const (
	IncrementTypeFixed      = "fixed"
	IncrementTypeCalculated = "calculated"
)

// SystemConfig 运行期可调参数，值一律按字符串存储
type SystemConfig struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ConfigKey   string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"config_key"`
	ConfigValue string    `gorm:"type:varchar(255);not null" json:"config_value"`
	Description string    `gorm:"type:varchar(255)" json:"description"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SystemConfig) TableName() string {
	return "system_config"
}

// BonusConfig 单次请求使用的配置快照，按值传递给连续天数和奖励计算
type BonusConfig struct {
	BaseAmount      int64  `json:"base_amount"`
	MaxAmount       int64  `json:"max_amount"`
	CycleLengthDays int    `json:"cycle_length_days"`
	IncrementType   string `json:"increment_type"`
	FixedIncrement  int64  `json:"fixed_increment"`
	SystemEnabled   bool   `json:"system_enabled"`
	TestModeEnabled bool   `json:"test_mode_enabled"`
}

// ApplyValues 用键值表中的值覆盖快照，无法解析的值忽略并保留原值
func (c BonusConfig) ApplyValues(values map[string]string) BonusConfig {
	for key, raw := range values {
		raw = strings.TrimSpace(raw)
		switch key {
		case ConfigKeyBaseAmount:
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
				c.BaseAmount = v
			}
		case ConfigKeyMaxAmount:
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
				c.MaxAmount = v
			}
		case ConfigKeyStreakDays:
			if v, err := strconv.Atoi(raw); err == nil && v > 0 {
				c.CycleLengthDays = v
			}
		case ConfigKeyIncrementType:
			if raw == IncrementTypeFixed || raw == IncrementTypeCalculated {
				c.IncrementType = raw
			}
		case ConfigKeyFixedIncrement:
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
				c.FixedIncrement = v
			}
		case ConfigKeySystemEnabled:
			if v, err := strconv.ParseBool(raw); err == nil {
				c.SystemEnabled = v
			}
		case ConfigKeyTestMode:
			if v, err := strconv.ParseBool(raw); err == nil {
				c.TestModeEnabled = v
			}
		}
	}
	if c.MaxAmount < c.BaseAmount {
		c.MaxAmount = c.BaseAmount
	}
	return c
}
