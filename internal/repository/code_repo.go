package repository

import (
	"context"
	"errors"
	"time"

	"dailybonus/internal/model"

	"gorm.io/gorm"
)

var (
	ErrDailyCodeNotFound = errors.New("兑换码不存在")
	ErrActiveCodeExists  = errors.New("已存在可领取的兑换码")
)

type DailyCodeRepository struct {
	db *gorm.DB
}

func NewDailyCodeRepository(db *gorm.DB) *DailyCodeRepository {
	return &DailyCodeRepository{db: db}
}

// GetActive 返回领取窗口仍开放的兑换码
func (r *DailyCodeRepository) GetActive(ctx context.Context, now time.Time) (*model.DailyCode, error) {
	var code model.DailyCode
	err := r.db.WithContext(ctx).
		Where("claimable_until > ?", now).
		Order("generated_at DESC").
		First(&code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDailyCodeNotFound
		}
		return nil, err
	}
	return &code, nil
}

func (r *DailyCodeRepository) GetLatest(ctx context.Context) (*model.DailyCode, error) {
	var code model.DailyCode
	err := r.db.WithContext(ctx).Order("generated_at DESC").First(&code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDailyCodeNotFound
		}
		return nil, err
	}
	return &code, nil
}

func (r *DailyCodeRepository) GetByCode(ctx context.Context, code string) (*model.DailyCode, error) {
	var dc model.DailyCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&dc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDailyCodeNotFound
		}
		return nil, err
	}
	return &dc, nil
}

// ListValid 返回尚未过期（可能已停止领取）的兑换码，新的在前
func (r *DailyCodeRepository) ListValid(ctx context.Context, now time.Time) ([]*model.DailyCode, error) {
	var codes []*model.DailyCode
	err := r.db.WithContext(ctx).
		Where("valid_until > ?", now).
		Order("generated_at DESC").
		Find(&codes).Error
	return codes, err
}

// CreateActive 在一个事务中释放已关闭窗口的兑换码占用的槽位，并插入新的可领取兑换码
//
// 【并发】两个实例同时生成时，只有一个能拿到 active_slot，
// 另一个会遇到唯一键冲突并返回 ErrActiveCodeExists，调用方应重新读取当前兑换码。
// 仍在领取窗口内的兑换码不会被释放，所以它存在时插入必然冲突。
func (r *DailyCodeRepository) CreateActive(ctx context.Context, code *model.DailyCode, now time.Time) error {
	slot := model.ActiveSlotValue
	code.ActiveSlot = &slot

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.DailyCode{}).
			Where("active_slot = ? AND claimable_until <= ?", model.ActiveSlotValue, now).
			Update("active_slot", gorm.Expr("NULL")).Error
		if err != nil {
			return err
		}
		return tx.Create(code).Error
	})
	if err != nil {
		code.ActiveSlot = nil
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrActiveCodeExists
		}
		return err
	}
	return nil
}

// DeleteExpired 删除 valid_until 早于 now 的兑换码，领取记录保留
func (r *DailyCodeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("valid_until < ?", now).
		Delete(&model.DailyCode{})
	return result.RowsAffected, result.Error
}
