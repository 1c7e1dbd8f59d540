package mq

import (
	"fmt"

	"dailybonus/internal/config"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Producer 对 sarama 同步生产者的薄封装，供 OutboxSender 投递领取事件
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer 包装已有的生产者，测试中传入 sarama/mocks
func NewProducer(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

// InitKafka 初始化 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig) (*Producer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1
	kafkaConfig.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}

	logrus.WithField("brokers", cfg.Brokers).Info("Kafka 生产者创建成功")
	return NewProducer(producer), nil
}

// SendMessage 发送消息到 Kafka，key 相同的消息进入同一分区
func (p *Producer) SendMessage(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("Kafka 消息发送成功")
	return nil
}

// Close 关闭 Kafka 生产者
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
