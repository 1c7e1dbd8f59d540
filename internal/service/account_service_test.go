package service

import (
	"context"
	"errors"
	"testing"

	"dailybonus/internal/config"
	"dailybonus/internal/model"
	"dailybonus/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeAccounts struct {
	ledger *fakeLedger
	err    error
}

func (a *fakeAccounts) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.UserBalance, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	balance, ok := a.ledger.balances[userID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return &model.UserBalance{UserID: userID, Balance: balance, TotalEarned: balance}, nil
}

func (a *fakeAccounts) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.CoinTransaction, int64, error) {
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	var list []*model.CoinTransaction
	for i := len(a.ledger.transactions) - 1; i >= 0; i-- {
		if a.ledger.transactions[i].UserID == userID {
			list = append(list, a.ledger.transactions[i])
		}
	}
	total := int64(len(list))
	start := (page - 1) * pageSize
	if start >= len(list) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(list) {
		end = len(list)
	}
	return list[start:end], total, nil
}

func (a *fakeAccounts) SumByUserID(ctx context.Context, userID string) (int64, error) {
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	var sum int64
	for _, tx := range a.ledger.transactions {
		if tx.UserID == userID {
			sum += tx.Amount
		}
	}
	return sum, nil
}

func newTestAccountService(bonus model.BonusConfig) (*AccountService, *fakeLedger, *fakeAccounts) {
	ledger := newFakeLedger()
	accounts := &fakeAccounts{ledger: ledger}
	cfg := &config.Config{
		Bonus: config.BonusConfig{ActionRewards: map[string]int64{"write_review": 5, "broken": 0}},
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{CoinsEarned: "coins.earned"}},
	}
	return NewAccountService(accounts, accounts, ledger, staticConfig{cfg: bonus}, cfg), ledger, accounts
}

func TestAccountService_EarnForAction(t *testing.T) {
	tests := []struct {
		name      string
		action    string
		enabled   bool
		settleErr error
		expectErr error
	}{
		{name: "入账成功", action: "write_review", enabled: true},
		{name: "未配置的行为", action: "dance", enabled: true, expectErr: ErrUnknownAction},
		{name: "金额为 0 的行为", action: "broken", enabled: true, expectErr: ErrUnknownAction},
		{name: "系统关闭", action: "write_review", enabled: false, expectErr: ErrSystemDisabled},
		{
			name:      "余额更新失败",
			action:    "write_review",
			enabled:   true,
			settleErr: repository.ErrBalanceIncrease,
			expectErr: ErrBalanceUpdate,
		},
		{
			name:      "写库失败",
			action:    "write_review",
			enabled:   true,
			settleErr: errors.New("连接断开"),
			expectErr: ErrPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := calculatedConfig()
			cfg.SystemEnabled = tt.enabled
			svc, ledger, _ := newTestAccountService(cfg)
			ledger.settleErr = tt.settleErr

			result, err := svc.EarnForAction(context.Background(), "u1", tt.action)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				assert.Empty(t, ledger.transactions)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(5), result.CoinsEarned)
			assert.Equal(t, int64(5), result.NewBalance)

			require.Len(t, ledger.transactions, 1)
			assert.Equal(t, "action:write_review", ledger.transactions[0].Reason)
			assert.Empty(t, ledger.claims)
			require.Len(t, ledger.events, 1)
			assert.Equal(t, "coins.earned", ledger.events[0].Topic)
			assert.Equal(t, model.EventCoinsEarned, ledger.events[0].EventType)
		})
	}
}

func TestAccountService_Overview(t *testing.T) {
	svc, _, accounts := newTestAccountService(calculatedConfig())

	overview, err := svc.Overview(context.Background(), "u1", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, overview.Balance)
	assert.Equal(t, 1, overview.Page)
	assert.Equal(t, 20, overview.PageSize)

	for i := 0; i < 3; i++ {
		_, err := svc.EarnForAction(context.Background(), "u1", "write_review")
		require.NoError(t, err)
	}

	overview, err = svc.Overview(context.Background(), "u1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(15), overview.Balance)
	assert.Equal(t, int64(3), overview.Total)
	assert.Len(t, overview.Transactions, 2)
	assert.Equal(t, int64(15), overview.LedgerTotal)
	assert.True(t, overview.Consistent)

	accounts.err = errors.New("连接断开")
	_, err = svc.Overview(context.Background(), "u1", 1, 20)
	assert.Error(t, err)
}
