// Package idgen 雪花算法ID以及由它派生的兑换码、流水号
//
// 结构（64位）：0 | 41位毫秒时间戳 | 10位机器ID | 12位序列号
// 兑换码对外只暴露36进制编码，多实例部署时 server.worker_id 必须各不相同。
package idgen

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10                   // 机器ID位数
	sequenceBits   = 12                   // 序列号位数
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// NewSnowflake 创建独立的生成器，workerID 越界时返回错误
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init 初始化默认ID生成器
func Init(workerID int64) {
	once.Do(func() {
		gen, err := NewSnowflake(workerID)
		if err != nil {
			log.WithError(err).Fatal("初始化 ID 生成器失败")
		}
		defaultGenerator = gen
	})
}

// NextID 使用默认生成器，未调用 Init 时 workerID 为 1
func NextID() int64 {
	Init(1)
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// 时钟回拨时沿用上一次的时间戳，靠序列号保证唯一
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				time.Sleep(100 * time.Microsecond)
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateDailyCode 生成每日兑换码
// 格式：DB + 雪花ID的36进制大写，例如 DB2K5ZQ1W8G0
func GenerateDailyCode() string {
	return "DB" + strings.ToUpper(strconv.FormatInt(NextID(), 36))
}

// GenerateTransactionNo 流水号：TXN + UTC 年月日时分秒 + 雪花ID后8位
func GenerateTransactionNo() string {
	id := NextID()
	timestamp := time.Now().UTC().Format("20060102150405")
	return fmt.Sprintf("TXN%s%08d", timestamp, id%100000000)
}
