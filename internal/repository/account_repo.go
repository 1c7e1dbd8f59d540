package repository

import (
	"context"
	"errors"

	"dailybonus/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound = errors.New("余额账户不存在")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.UserBalance, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.UserBalance
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// EnsureAccount 账户不存在时创建，已存在则什么都不做
func (r *AccountRepository) EnsureAccount(ctx context.Context, tx *gorm.DB, userID string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.UserBalance{UserID: userID}).Error
}

// Increase 原子增加余额
//
// 【关键点】余额变更必须是一条 balance = balance + ? 语句，
// 不能先查出余额再写回：同一用户可能有多个入账来源并发写入。
func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, userID string, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.UserBalance{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":      gorm.Expr("balance + ?", amount),
			"total_earned": gorm.Expr("total_earned + ?", amount),
			"version":      gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
