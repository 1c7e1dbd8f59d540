package repository

import (
	"context"

	"dailybonus/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConfigRepository struct {
	db *gorm.DB
}

func NewConfigRepository(db *gorm.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// GetValues 一次查询取回指定键，表中不存在的键不出现在结果里
func (r *ConfigRepository) GetValues(ctx context.Context, keys []string) (map[string]string, error) {
	var rows []*model.SystemConfig
	err := r.db.WithContext(ctx).
		Where("config_key IN ?", keys).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.ConfigKey] = row.ConfigValue
	}
	return values, nil
}

// Upsert 写入或覆盖一个配置项
func (r *ConfigRepository) Upsert(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"config_value", "updated_at"}),
		}).
		Create(&model.SystemConfig{ConfigKey: key, ConfigValue: value}).Error
}
