// Package backoff 实现指数退避。
// 用于行情推送 WebSocket 断线重连：基础间隔 1s，最大间隔 30s，抖动 ±20%。
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff 指数退避计算器（非并发安全，由单个重连循环持有）
type Backoff struct {
	// base 基础等待时间
	base time.Duration
	// max 最大等待时间
	max time.Duration
	// jitter 抖动比例（0-1），例如 0.2 表示 ±20%
	jitter float64
	// attempt 当前重试次数
	attempt int
}

// New 创建退避计算器
// 参数 base: 基础等待时间
// 参数 max: 最大等待时间（未抖动的延迟不超过该值）
// 参数 jitter: 抖动比例，限制在 [0, 1]
func New(base, max time.Duration, jitter float64) *Backoff {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 创建默认配置的退避计算器
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

// Next 获取下次重试的等待时间
// 计算公式: min(base * 2^attempt, max)，然后应用抖动
func (b *Backoff) Next() time.Duration {
	delay := b.base
	for i := 0; i < b.attempt && delay < b.max; i++ {
		delay *= 2
	}
	if delay > b.max {
		delay = b.max
	}

	if b.jitter > 0 {
		// [-jitter, +jitter]
		factor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
	}

	b.attempt++
	return delay
}

// Wait 等待下一次退避时间
// 返回: ctx 取消时返回 ctx.Err()
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset 重置退避计算器（连接成功后调用）
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 获取当前重试次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
