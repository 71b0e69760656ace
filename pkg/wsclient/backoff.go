package wsclient

import "time"

// Backoff 重连退避策略
// 纯函数：给定失败次数返回等待时长，不持有任何可变状态，
// 退避节奏可以脱离网络独立测试
type Backoff struct {
	Base time.Duration // 首次失败后的等待时长
	Max  time.Duration // 等待时长上限
}

// Delay 第 attempt 次连续失败后的等待时长（attempt 从 0 开始）
// 逐次翻倍，封顶 Max；attempt 为负按 0 处理
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
