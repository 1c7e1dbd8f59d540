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

var codeColumns = []string{"id", "code", "generated_at", "claimable_until", "valid_until", "base_bonus_amount", "is_test_mode"}

func TestDailyCodeRepository_GetActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		mockFn    func(sqlmock.Sqlmock)
		expectErr error
		expectID  int64
	}{
		{
			name: "存在可领取兑换码",
			mockFn: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT \\* FROM `daily_code` WHERE claimable_until >").
					WillReturnRows(sqlmock.NewRows(codeColumns).
						AddRow(7, "DBABC", now.Add(-time.Hour), now.Add(15*time.Hour), now.Add(39*time.Hour), 10, false))
			},
			expectID: 7,
		},
		{
			name: "没有可领取兑换码",
			mockFn: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT \\* FROM `daily_code`").
					WillReturnRows(sqlmock.NewRows(codeColumns))
			},
			expectErr: ErrDailyCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupTestDB(t)
			tt.mockFn(mock)

			code, err := NewDailyCodeRepository(db).GetActive(context.Background(), now)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectID, code.ID)
				assert.Equal(t, "DBABC", code.Code)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDailyCodeRepository_CreateActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		mockFn    func(sqlmock.Sqlmock)
		expectErr error
	}{
		{
			name: "释放旧槽位并插入",
			mockFn: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE `daily_code` SET `active_slot`").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO `daily_code`").
					WillReturnResult(sqlmock.NewResult(8, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "其他实例已生成",
			mockFn: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE `daily_code` SET `active_slot`").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO `daily_code`").
					WillReturnError(duplicateEntryErr())
				mock.ExpectRollback()
			},
			expectErr: ErrActiveCodeExists,
		},
		{
			name: "数据库错误",
			mockFn: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE `daily_code` SET `active_slot`").
					WillReturnError(errors.New("连接断开"))
				mock.ExpectRollback()
			},
			expectErr: errors.New("连接断开"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupTestDB(t)
			tt.mockFn(mock)

			code := &model.DailyCode{
				Code:            "DBNEW",
				GeneratedAt:     now,
				ClaimableUntil:  now.Add(8 * time.Hour),
				ValidUntil:      now.Add(32 * time.Hour),
				BaseBonusAmount: 10,
			}
			err := NewDailyCodeRepository(db).CreateActive(context.Background(), code, now)
			switch {
			case tt.expectErr == nil:
				require.NoError(t, err)
				assert.Equal(t, int64(8), code.ID)
				require.NotNil(t, code.ActiveSlot)
				assert.Equal(t, model.ActiveSlotValue, *code.ActiveSlot)
			case errors.Is(tt.expectErr, ErrActiveCodeExists):
				assert.ErrorIs(t, err, ErrActiveCodeExists)
				assert.Nil(t, code.ActiveSlot)
			default:
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectErr.Error())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDailyCodeRepository_DeleteExpired(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `daily_code` WHERE valid_until <").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	deleted, err := NewDailyCodeRepository(db).DeleteExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyCodeRepository_ListValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	db, mock := setupTestDB(t)
	mock.ExpectQuery("SELECT \\* FROM `daily_code` WHERE valid_until >").
		WillReturnRows(sqlmock.NewRows(codeColumns).
			AddRow(2, "DB2", now, now.Add(time.Hour), now.Add(25*time.Hour), 10, false).
			AddRow(1, "DB1", now.Add(-24*time.Hour), now, now.Add(24*time.Hour), 10, false))

	codes, err := NewDailyCodeRepository(db).ListValid(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, "DB2", codes[0].Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
