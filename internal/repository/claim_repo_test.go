package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"dailybonus/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSettlement(withClaim bool) *Settlement {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &Settlement{
		Transaction: &model.CoinTransaction{
			TransactionNo: "TXN2026030109000000000001",
			UserID:        "u1",
			Amount:        55,
			Type:          model.TransactionTypeEarned,
			Reason:        model.ClaimReasonDailyCode,
		},
		Events: []*model.OutboxMessage{
			model.NewOutboxMessage(model.EventBonusClaimed, "bonus.claimed", "u1", `{"user_id":"u1"}`),
		},
	}
	if withClaim {
		s.Claim = &model.UserClaim{
			UserID:         "u1",
			CodeID:         3,
			Code:           "DBABC",
			ClaimedAt:      now,
			StreakPosition: 4,
			BonusReceived:  55,
			Reason:         model.ClaimReasonDailyCode,
		}
	}
	return s
}

func TestClaimRepository_Settle(t *testing.T) {
	tests := []struct {
		name          string
		withClaim     bool
		mockFn        func(sqlmock.Sqlmock)
		expectBalance int64
		expectErr     error
	}{
		{
			name:      "领取成功",
			withClaim: true,
			mockFn: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO `user_claim`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO `coin_transaction`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO `user_balance`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("UPDATE `user_balance` SET").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("SELECT \\* FROM `user_balance`").
					WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "total_earned"}).AddRow(1, "u1", 165, 165))
				mock.ExpectExec("INSERT INTO `outbox_message`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			expectBalance: 165,
		},
		{
			name:      "行为奖励不写领取记录",
			withClaim: false,
			mockFn: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO `coin_transaction`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO `user_balance`").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("UPDATE `user_balance` SET").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("SELECT \\* FROM `user_balance`").
					WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance"}).AddRow(1, "u1", 55))
				mock.ExpectExec("INSERT INTO `outbox_message`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			expectBalance: 55,
		},
		{
			name:      "并发重复领取",
			withClaim: true,
			mockFn: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO `user_claim`").WillReturnError(duplicateEntryErr())
				mock.ExpectRollback()
			},
			expectErr: ErrDuplicateClaim,
		},
		{
			name:      "写流水失败整体回滚",
			withClaim: true,
			mockFn: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO `user_claim`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO `coin_transaction`").WillReturnError(errors.New("磁盘已满"))
				mock.ExpectRollback()
			},
			expectErr: ErrTransactionInsert,
		},
		{
			// 余额更新失败时领取记录和流水随事务回滚，不会残留
			name:      "更新余额失败整体回滚",
			withClaim: true,
			mockFn: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO `user_claim`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO `coin_transaction`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO `user_balance`").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("UPDATE `user_balance` SET").WillReturnError(errors.New("锁等待超时"))
				mock.ExpectRollback()
			},
			expectErr: ErrBalanceIncrease,
		},
		{
			name:      "写事件失败整体回滚",
			withClaim: true,
			mockFn: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO `user_claim`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO `coin_transaction`").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO `user_balance`").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("UPDATE `user_balance` SET").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery("SELECT \\* FROM `user_balance`").
					WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance"}).AddRow(1, "u1", 55))
				mock.ExpectExec("INSERT INTO `outbox_message`").WillReturnError(errors.New("表不存在"))
				mock.ExpectRollback()
			},
			expectErr: ErrOutboxInsert,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupTestDB(t)
			tt.mockFn(mock)

			balance, err := NewClaimRepository(db).Settle(context.Background(), newSettlement(tt.withClaim))
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				assert.Zero(t, balance)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectBalance, balance)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClaimRepository_Exists(t *testing.T) {
	tests := []struct {
		name   string
		count  int
		expect bool
	}{
		{name: "已领取", count: 1, expect: true},
		{name: "未领取", count: 0, expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupTestDB(t)
			mock.ExpectQuery("SELECT count\\(\\*\\) FROM `user_claim`").
				WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(tt.count))

			exists, err := NewClaimRepository(db).Exists(context.Background(), "u1", 3)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, exists)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClaimRepository_ListRecent(t *testing.T) {
	now := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	db, mock := setupTestDB(t)
	mock.ExpectQuery("SELECT \\* FROM `user_claim` WHERE user_id =").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "code_id", "claimed_at", "streak_position"}).
			AddRow(2, "u1", 2, now, 2).
			AddRow(1, "u1", 1, now.Add(-24*time.Hour), 1))

	claims, err := NewClaimRepository(db).ListRecent(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, 2, claims[0].StreakPosition)
	assert.NoError(t, mock.ExpectationsWereMet())
}
