package model

import (
	"time"
)

// UserBalance 用户金币余额表
// 余额只能通过 balance = balance + ? 这样的单条语句变更，禁止读出后再写回
type UserBalance struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Balance     int64     `gorm:"not null;default:0" json:"balance"`
	TotalEarned int64     `gorm:"not null;default:0" json:"total_earned"`
	Version     int       `gorm:"not null;default:0" json:"version"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserBalance) TableName() string {
	return "user_balance"
}
