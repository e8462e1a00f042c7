// Package timeutil 提供时间相关的工具函数。
// 用于持久化层的写入时间戳以及变更事件、指标的高精度时间。
package timeutil

import (
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// Clock 返回当前 Unix 秒
// 持久化存储用它为 last_updated 打戳，测试中可替换为固定时钟。
type Clock func() int64

// SystemClock 基于系统墙钟的 Clock
func SystemClock() int64 {
	return time.Now().Unix()
}

// FixedClock 返回恒定时间的 Clock
// 参数 sec: Unix 秒
func FixedClock(sec int64) Clock {
	return func() int64 { return sec }
}

// NowNano 获取当前时间的纳秒时间戳
// 使用“单调时钟 + 启动时 Unix 时间”组合实现，系统时间跳变时时间差仍然单调。
// 返回: 当前时间的 Unix 纳秒时间戳
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// Millis 将毫秒配置值转换为 time.Duration
// 参数 ms: 毫秒
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// DurationMs 计算两个纳秒时间戳之间的毫秒差
// 参数 startNs: 开始时间（纳秒）
// 参数 endNs: 结束时间（纳秒）
// 返回: 时间差（毫秒，浮点数以保留精度）
func DurationMs(startNs, endNs int64) float64 {
	return float64(endNs-startNs) / 1_000_000.0
}
