package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 事件类型，下游按类型反序列化 payload
const (
	EventBonusClaimed = "bonus_claimed"
	EventCoinsEarned  = "coins_earned"
)

// lastErrorMaxLen last_error 列宽
const lastErrorMaxLen = 255

// OutboxMessage 领取、入账事件，与流水在同一事务中写入，由 OutboxSender 投递到 Kafka
// MessageKey 为用户ID，同一用户的事件落在同一分区，保持先后顺序
type OutboxMessage struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType  string     `gorm:"type:varchar(32);not null" json:"event_type"`
	MessageKey string     `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string     `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string     `gorm:"type:text;not null" json:"payload"`
	Status     string     `gorm:"type:varchar(20);index:idx_outbox_status_created,priority:1;not null;default:PENDING" json:"status"`
	RetryCount int        `gorm:"not null;default:0" json:"retry_count"`
	LastError  string     `gorm:"type:varchar(255)" json:"last_error,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index:idx_outbox_status_created,priority:2" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// NewOutboxMessage 待发送事件
func NewOutboxMessage(eventType, topic, key, payload string) *OutboxMessage {
	return &OutboxMessage{
		EventType:  eventType,
		MessageKey: key,
		Topic:      topic,
		Payload:    payload,
		Status:     OutboxStatusPending,
	}
}

// Exhausted 本次再失败是否用完重试次数
func (m *OutboxMessage) Exhausted(maxRetryCount int) bool {
	return m.RetryCount+1 >= maxRetryCount
}

// TruncateError 截断到 last_error 列宽
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := []rune(err.Error())
	if len(msg) > lastErrorMaxLen {
		msg = msg[:lastErrorMaxLen]
	}
	return string(msg)
}
