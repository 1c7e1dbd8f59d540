package repository

import (
	"context"
	"errors"
	"fmt"

	"dailybonus/internal/model"

	"gorm.io/gorm"
)

var (
	ErrDuplicateClaim    = errors.New("重复领取")
	ErrClaimInsert       = errors.New("写入领取记录失败")
	ErrTransactionInsert = errors.New("写入金币流水失败")
	ErrBalanceIncrease   = errors.New("更新余额失败")
	ErrOutboxInsert      = errors.New("写入事件消息失败")
)

// Settlement 一次入账需要落库的全部内容
// Claim 为空时表示不是领取兑换码（例如完成某个行为获得金币），只写流水和余额
type Settlement struct {
	Claim       *model.UserClaim
	Transaction *model.CoinTransaction
	Events      []*model.OutboxMessage
}

type ClaimRepository struct {
	db          *gorm.DB
	accountRepo *AccountRepository
	transRepo   *TransactionRepository
	outboxRepo  *OutboxRepository
}

func NewClaimRepository(db *gorm.DB) *ClaimRepository {
	return &ClaimRepository{
		db:          db,
		accountRepo: NewAccountRepository(db),
		transRepo:   NewTransactionRepository(db),
		outboxRepo:  NewOutboxRepository(db),
	}
}

func (r *ClaimRepository) Exists(ctx context.Context, userID string, codeID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.UserClaim{}).
		Where("user_id = ? AND code_id = ?", userID, codeID).
		Count(&count).Error
	return count > 0, err
}

// ListRecent 按领取时间倒序返回用户最近的领取记录
func (r *ClaimRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*model.UserClaim, error) {
	var claims []*model.UserClaim
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("claimed_at DESC").
		Limit(limit).
		Find(&claims).Error
	return claims, err
}

// Settle 在一个数据库事务中完成入账，返回入账后的余额
//
// 【为什么用一个事务？】
//
// 领取记录、金币流水、余额三者必须同时成功或同时失败：
//   - 先写领取记录再加余额，中间失败会留下"领了但没到账"的记录
//   - 先加余额再写记录，中间失败会让余额和流水对不上
//
// 放进同一个事务后，任何一步失败都整体回滚，不需要补偿删除。
//
// 【重复领取】(user_id, code_id) 唯一索引冲突返回 ErrDuplicateClaim，
// 调用方必须原样报告为"已领取"，不能换一组计算结果重试。
func (r *ClaimRepository) Settle(ctx context.Context, s *Settlement) (int64, error) {
	var newBalance int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 领取记录，唯一索引在这里挡住并发的第二次领取
		if s.Claim != nil {
			if err := tx.Create(s.Claim).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrDuplicateClaim
				}
				return fmt.Errorf("%w: %w", ErrClaimInsert, err)
			}
		}

		// 2. 金币流水
		if err := r.transRepo.Create(ctx, tx, s.Transaction); err != nil {
			return fmt.Errorf("%w: %w", ErrTransactionInsert, err)
		}

		// 3. 余额，首次入账时创建账户
		userID := s.Transaction.UserID
		if err := r.accountRepo.EnsureAccount(ctx, tx, userID); err != nil {
			return fmt.Errorf("%w: %w", ErrBalanceIncrease, err)
		}
		if err := r.accountRepo.Increase(ctx, tx, userID, s.Transaction.Amount); err != nil {
			return fmt.Errorf("%w: %w", ErrBalanceIncrease, err)
		}
		account, err := r.accountRepo.GetByUserID(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBalanceIncrease, err)
		}
		newBalance = account.Balance

		// 4. 事件消息，和入账一起提交，由 OutboxSender 异步投递
		for _, event := range s.Events {
			if err := r.outboxRepo.Create(ctx, tx, event); err != nil {
				return fmt.Errorf("%w: %w", ErrOutboxInsert, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}
