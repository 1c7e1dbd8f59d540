package model

import (
	"time"
)

// 领取来源，同时作为流水的 reason
const (
	ClaimReasonDailyCode  = "daily_code_claim"
	ClaimReasonDailyLogin = "daily_login"
	ClaimReasonDailyBonus = "daily_bonus_claim"
)

// UserClaim 用户领取记录表
//
// 【重要】(user_id, code_id) 唯一索引是并发下防止重复领取的唯一保障：
// 领取前的检查都是只读的，两个并发请求都可能通过检查，
// 只有插入这一步会让后到的请求失败。
//
// 记录只追加不修改不删除，是计算连续天数的依据。
// 兑换码被清理后，code 字段仍保留原始兑换码。
type UserClaim struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_user_code,priority:1;index:idx_user_claimed,priority:1" json:"user_id"`
	CodeID         int64     `gorm:"not null;uniqueIndex:uk_user_code,priority:2" json:"code_id"`
	Code           string    `gorm:"type:varchar(64);not null" json:"code"`
	ClaimedAt      time.Time `gorm:"not null;index:idx_user_claimed,priority:2" json:"claimed_at"`
	StreakPosition int       `gorm:"not null" json:"streak_position"`
	BonusReceived  int64     `gorm:"not null" json:"bonus_received"`
	Reason         string    `gorm:"type:varchar(32);not null" json:"reason"`
}

func (UserClaim) TableName() string {
	return "user_claim"
}
