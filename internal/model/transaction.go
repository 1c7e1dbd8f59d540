package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TransactionTypeEarned = "earned"
)

// 非领取类的奖励 reason 前缀，例如 action:write_review
const ReasonActionPrefix = "action:"

// CoinTransaction 金币流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除，用户余额必须等于其所有流水金额之和
// 2. 每次成功领取恰好对应一条流水，金额等于领取记录的 bonus_received
// 3. metadata 记录领取时的连续天数和配置快照，便于对账
type CoinTransaction struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        string         `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Amount        int64          `gorm:"not null" json:"amount"`
	Type          string         `gorm:"type:varchar(20);not null" json:"type"`
	Reason        string         `gorm:"type:varchar(64);not null" json:"reason"`
	Description   string         `gorm:"type:varchar(256)" json:"description"`
	Metadata      datatypes.JSON `json:"metadata"`
	CreatedAt     time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CoinTransaction) TableName() string {
	return "coin_transaction"
}
