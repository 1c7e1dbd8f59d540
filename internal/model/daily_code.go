package model

import (
	"time"
)

// ActiveSlotValue 当前可领取兑换码占用的槽位值
// active_slot 上有唯一索引，同一时刻只能有一条记录持有该值，其余记录为 NULL
const ActiveSlotValue = 1

// 兑换码生命周期状态（由时间推导，不落库）
const (
	CodeStateClaimable   = "CLAIMABLE"
	CodeStateWindowClose = "WINDOW_CLOSED"
	CodeStateExpired     = "EXPIRED"
)

// DailyCode 每日兑换码表
// 全站共享一个可领取的兑换码，领取金额在领取时按用户连续天数重新计算
type DailyCode struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code            string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	GeneratedAt     time.Time `gorm:"not null;index" json:"generated_at"`
	ClaimableUntil  time.Time `gorm:"not null;index" json:"claimable_until"`
	ValidUntil      time.Time `gorm:"not null;index" json:"valid_until"`
	BaseBonusAmount int64     `gorm:"not null" json:"base_bonus_amount"`
	IsTestMode      bool      `gorm:"not null;default:false" json:"is_test_mode"`
	ActiveSlot      *int      `gorm:"uniqueIndex" json:"-"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (DailyCode) TableName() string {
	return "daily_code"
}

// IsClaimable 领取窗口是否仍开放（now <= claimable_until）
func (c *DailyCode) IsClaimable(now time.Time) bool {
	return !now.After(c.ClaimableUntil)
}

// IsExpired 是否已超过有效期，可被清理
func (c *DailyCode) IsExpired(now time.Time) bool {
	return now.After(c.ValidUntil)
}

// State 返回兑换码在 now 时刻的状态
func (c *DailyCode) State(now time.Time) string {
	switch {
	case c.IsClaimable(now):
		return CodeStateClaimable
	case !c.IsExpired(now):
		return CodeStateWindowClose
	default:
		return CodeStateExpired
	}
}
