package repository

import (
	"context"

	"dailybonus/internal/model"

	"gorm.io/gorm"
)

// TransactionRepository 金币流水，只追加
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CoinTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// ListByUserID 按时间倒序分页
func (r *TransactionRepository) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.CoinTransaction, int64, error) {
	var transactions []*model.CoinTransaction
	var total int64

	query := r.db.WithContext(ctx).
		Model(&model.CoinTransaction{}).
		Where("user_id = ?", userID).
		Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []*model.CoinTransaction{}, 0, nil
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumByUserID 用户全部流水金额之和，对账时应等于余额
func (r *TransactionRepository) SumByUserID(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.CoinTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Scan(&sum).Error
	return sum, err
}
