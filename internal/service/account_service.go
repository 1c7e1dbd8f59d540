package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dailybonus/internal/config"
	"dailybonus/internal/model"
	"dailybonus/internal/repository"
	"dailybonus/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type AccountRepo interface {
	GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.UserBalance, error)
}

type TransactionLister interface {
	ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.CoinTransaction, int64, error)
	SumByUserID(ctx context.Context, userID string) (int64, error)
}

type Settler interface {
	Settle(ctx context.Context, s *repository.Settlement) (int64, error)
}

type AccountOverview struct {
	UserID       string                   `json:"user_id"`
	Balance      int64                    `json:"balance"`
	TotalEarned  int64                    `json:"total_earned"`
	LedgerTotal  int64                    `json:"ledger_total"`
	Consistent   bool                     `json:"consistent"`
	Transactions []*model.CoinTransaction `json:"transactions"`
	Total        int64                    `json:"total"`
	Page         int                      `json:"page"`
	PageSize     int                      `json:"page_size"`
}

type EarnResult struct {
	Action      string `json:"action"`
	CoinsEarned int64  `json:"coins_earned"`
	NewBalance  int64  `json:"new_balance"`
}

// AccountService 余额查询和非领取类的入账（完成某个行为获得金币）
type AccountService struct {
	accounts     AccountRepo
	transactions TransactionLister
	ledger       Settler
	config       ConfigLoader
	rewards      map[string]int64
	topics       config.KafkaTopicConfig
	now          func() time.Time
}

func NewAccountService(accounts AccountRepo, transactions TransactionLister, ledger Settler, configLoader ConfigLoader, cfg *config.Config) *AccountService {
	return &AccountService{
		accounts:     accounts,
		transactions: transactions,
		ledger:       ledger,
		config:       configLoader,
		rewards:      cfg.Bonus.ActionRewards,
		topics:       cfg.Kafka.Topic,
		now:          time.Now,
	}
}

// Overview 余额和最近的流水，没有账户时余额为 0
func (s *AccountService) Overview(ctx context.Context, userID string, page, pageSize int) (*AccountOverview, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	overview := &AccountOverview{UserID: userID, Page: page, PageSize: pageSize}
	account, err := s.accounts.GetByUserID(ctx, nil, userID)
	switch {
	case err == nil:
		overview.Balance = account.Balance
		overview.TotalEarned = account.TotalEarned
	case !errors.Is(err, repository.ErrAccountNotFound):
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}

	transactions, total, err := s.transactions.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	overview.Transactions = transactions
	overview.Total = total

	// 余额必须等于全部流水之和
	ledgerTotal, err := s.transactions.SumByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("汇总流水失败: %w", err)
	}
	overview.LedgerTotal = ledgerTotal
	overview.Consistent = ledgerTotal == overview.Balance
	if !overview.Consistent {
		logrus.WithFields(logrus.Fields{
			"user_id":      userID,
			"balance":      overview.Balance,
			"ledger_total": ledgerTotal,
		}).Error("余额与流水不一致")
	}
	return overview, nil
}

type earnEvent struct {
	TransactionNo string    `json:"transaction_no"`
	UserID        string    `json:"user_id"`
	Action        string    `json:"action"`
	Amount        int64     `json:"amount"`
	EarnedAt      time.Time `json:"earned_at"`
}

// EarnForAction 按 bonus.action_rewards 配置的金额给用户入账
func (s *AccountService) EarnForAction(ctx context.Context, userID, action string) (*EarnResult, error) {
	cfg, err := s.config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !cfg.SystemEnabled {
		return nil, ErrSystemDisabled
	}

	amount, ok := s.rewards[action]
	if !ok || amount <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	now := s.now()
	transaction := &model.CoinTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        userID,
		Amount:        amount,
		Type:          model.TransactionTypeEarned,
		Reason:        model.ReasonActionPrefix + action,
		Description:   fmt.Sprintf("完成行为奖励-%s", action),
	}
	payload, err := json.Marshal(earnEvent{
		TransactionNo: transaction.TransactionNo,
		UserID:        userID,
		Action:        action,
		Amount:        amount,
		EarnedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化入账事件失败: %w", err)
	}

	newBalance, err := s.ledger.Settle(ctx, &repository.Settlement{
		Transaction: transaction,
		Events: []*model.OutboxMessage{
			model.NewOutboxMessage(model.EventCoinsEarned, s.topics.CoinsEarned, userID, string(payload)),
		},
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"action":  action,
			"amount":  amount,
		}).Error("行为奖励入账失败")
		if errors.Is(err, repository.ErrBalanceIncrease) {
			return nil, fmt.Errorf("%w: %w", ErrBalanceUpdate, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"action":  action,
		"amount":  amount,
	}).Info("行为奖励入账成功")

	return &EarnResult{Action: action, CoinsEarned: amount, NewBalance: newBalance}, nil
}
