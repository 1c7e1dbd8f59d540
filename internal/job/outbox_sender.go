package job

import (
	"context"
	"time"

	"dailybonus/internal/model"

	"github.com/sirupsen/logrus"
)

type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	RecordFailure(ctx context.Context, id int64, sendErr error, final bool) error
}

type MessageSender interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender 把领取和入账事件从 outbox_message 表投递到 Kafka
type OutboxSender struct {
	store         OutboxStore
	sender        MessageSender
	maxRetryCount int
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
}

func NewOutboxSender(store OutboxStore, sender MessageSender, maxRetryCount int) *OutboxSender {
	if maxRetryCount <= 0 {
		maxRetryCount = 5
	}
	return &OutboxSender{
		store:         store,
		sender:        sender,
		maxRetryCount: maxRetryCount,
		stopCh:        make(chan struct{}),
		interval:      100 * time.Millisecond,
		batchSize:     100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logrus.Info("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			logrus.Info("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logrus.WithError(err).Error("[OutboxSender] 查询消息失败")
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	log := logrus.WithFields(logrus.Fields{
		"id":    msg.ID,
		"event": msg.EventType,
		"topic": msg.Topic,
		"key":   msg.MessageKey,
	})

	err := s.sender.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.store.MarkSent(ctx, msg.ID, time.Now()); updateErr != nil {
			log.WithError(updateErr).Error("[OutboxSender] 更新消息状态失败")
		} else {
			log.Debug("[OutboxSender] 消息发送成功")
		}
		return
	}

	final := msg.Exhausted(s.maxRetryCount)
	if recordErr := s.store.RecordFailure(ctx, msg.ID, err, final); recordErr != nil {
		log.WithError(recordErr).Error("[OutboxSender] 记录发送失败出错")
		return
	}
	if final {
		log.WithError(err).Warn("[OutboxSender] 消息超过最大重试次数，标记为失败")
		return
	}
	log.WithError(err).WithField("retry", msg.RetryCount+1).Warn("[OutboxSender] 消息发送失败，等待重试")
}
