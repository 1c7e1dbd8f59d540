// Package lock 兑换码生成用的 Redis 锁
//
// 多个实例的定时任务和领取请求可能在领取窗口切换时同时生成兑换码。
// 这把锁只减少并发写库，"同一时刻只有一个可领取兑换码"由
// daily_code.active_slot 的唯一索引保证，所以加锁失败时调用方可以继续。
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockExpired 释放时锁已过期或被其他持有者占用
var ErrLockExpired = errors.New("锁已过期")

// CodeGenerationLockKey 生成每日兑换码时使用的锁
const CodeGenerationLockKey = "daily_code:generate"

// unlockScript 只删除自己持有的锁
const unlockScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`

// Locker 一次性的非阻塞锁，每次生成创建一个新实例
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// DistributedLock SET NX EX 加锁，value 标识持有者
type DistributedLock struct {
	client     redis.Cmdable
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client redis.Cmdable, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// NewCodeGenerationLock 每次生成都使用新的持有者标识
func NewCodeGenerationLock(client redis.Cmdable, expiration time.Duration) *DistributedLock {
	return NewDistributedLock(client, CodeGenerationLockKey, uuid.NewString(), expiration)
}

func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Unlock 写库超过过期时间后锁可能已被别的实例拿到，此时不删除并返回 ErrLockExpired
func (l *DistributedLock) Unlock(ctx context.Context) error {
	deleted, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLockExpired
	}
	return nil
}
