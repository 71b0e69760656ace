package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么兑换需要分布式锁？】
//
// 场景：用户A重复提交两笔兑换请求（网络抖动导致客户端重试）
//
// 余额正确性由数据库条件更新（WHERE balance >= amount）兜底，
// 幂等正确性由事务内锁后复查 + 流水唯一键兜底，
// 锁的作用只是让同一用户的兑换串行化，减少无效的事务竞争。
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证"检查+删除"的原子性
//
// ============================================================================

var (
	ErrLockFailed = errors.New("获取分布式锁失败")
)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】先校验 value 再删除，避免锁过期后误删后续持有者的锁；
// 两步必须通过 Lua 脚本原子执行
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewRedeemLock 创建兑换锁（按用户维度）
//
// 按用户加锁：不同用户可以并发兑换，同一用户串行，
// 锁粒度再细就没有意义了——兑换争抢的只有本人的余额
func NewRedeemLock(client *redis.Client, userID int64, referenceID string) *DistributedLock {
	key := fmt.Sprintf("wallet:redeem:lock:user:%d", userID)
	value := referenceID
	if value == "" {
		value = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return NewDistributedLock(client, key, value, 30*time.Second)
}
