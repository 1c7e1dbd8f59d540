package repository

import (
	"context"
	"time"

	"dailybonus/internal/model"

	"gorm.io/gorm"
)

// OutboxRepository 事件发件箱
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create 在调用方事务内写入事件
func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(msg).Error
}

// GetPendingMessages 按写入顺序取待发送事件
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Updates(map[string]interface{}{
			"status":     model.OutboxStatusSent,
			"sent_at":    sentAt,
			"last_error": "",
		}).Error
}

// RecordFailure 记录一次投递失败，final 为 true 时不再重试
func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, sendErr error, final bool) error {
	updates := map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
		"last_error":  model.TruncateError(sendErr),
	}
	if final {
		updates["status"] = model.OutboxStatusFailed
	}
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Updates(updates).Error
}

// RequeueFailed 把失败的事件重新置为待发送，Kafka 恢复后由管理员触发
func (r *OutboxRepository) RequeueFailed(ctx context.Context, limit int) (int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("status = ?", model.OutboxStatusFailed).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	result := r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id IN ? AND status = ?", ids, model.OutboxStatusFailed).
		Updates(map[string]interface{}{
			"status":      model.OutboxStatusPending,
			"retry_count": 0,
		})
	return result.RowsAffected, result.Error
}
