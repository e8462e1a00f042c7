// Package latency 统计持久化存储操作的耗时分布。
// Instrumented 包装任意 store.Durable，为 put/get/delete 分别维护滚动窗口。
package latency

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"market-data-cache/internal/core/model"
	"market-data-cache/internal/core/store"
	"market-data-cache/internal/util/timeutil"
)

var _ store.Durable = (*Instrumented)(nil)

// 操作名
const (
	OpPut    = "put"
	OpGet    = "get"
	OpDelete = "delete"
)

// OpStats 单类操作的耗时统计快照（滚动窗口）
// 单位：毫秒。
type OpStats struct {
	// Op 操作名: put/get/delete
	Op string `json:"op"`
	// Count 调用总数（累计）
	Count int64 `json:"count"`
	// Errors 返回错误的次数（累计）
	Errors int64 `json:"errors"`
	// P50Ms P50 耗时
	P50Ms float64 `json:"p50_ms"`
	// P90Ms P90 耗时
	P90Ms float64 `json:"p90_ms"`
	// P99Ms P99 耗时
	P99Ms float64 `json:"p99_ms"`
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	mu sync.Mutex
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

func (w *rollingWindow) snapshotQuantiles(qs ...float64) (count int64, values []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	count = w.count
	if len(w.buf) == 0 {
		return count, make([]int64, len(qs))
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	values = make([]int64, len(qs))
	n := len(tmp)
	for i, q := range qs {
		switch {
		case q <= 0:
			values[i] = tmp[0]
		case q >= 1:
			values[i] = tmp[n-1]
		default:
			values[i] = tmp[int(float64(n-1)*q)]
		}
	}
	return count, values
}

type opTracker struct {
	window *rollingWindow
	errors atomic.Int64
}

// Instrumented 带耗时统计的持久化存储
// 行为与被包装的存储完全一致，只额外记录耗时与错误数。
type Instrumented struct {
	inner store.Durable
	ops   map[string]*opTracker
}

// Wrap 包装持久化存储
// 参数 windowSize: 每类操作的滚动窗口大小（建议 1000）
func Wrap(inner store.Durable, windowSize int) *Instrumented {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Instrumented{
		inner: inner,
		ops: map[string]*opTracker{
			OpPut:    {window: newRollingWindow(windowSize)},
			OpGet:    {window: newRollingWindow(windowSize)},
			OpDelete: {window: newRollingWindow(windowSize)},
		},
	}
}

// Init 透传，不计入统计
func (i *Instrumented) Init(ctx context.Context) error {
	return i.inner.Init(ctx)
}

// Put 写入并记录耗时
func (i *Instrumented) Put(ctx context.Context, md model.MarketData) error {
	start := timeutil.NowNano()
	err := i.inner.Put(ctx, md)
	i.observe(OpPut, start, err)
	return err
}

// Get 读取并记录耗时
func (i *Instrumented) Get(ctx context.Context, assetID string) (model.MarketData, bool, error) {
	start := timeutil.NowNano()
	md, found, err := i.inner.Get(ctx, assetID)
	i.observe(OpGet, start, err)
	return md, found, err
}

// Delete 删除并记录耗时
func (i *Instrumented) Delete(ctx context.Context, assetID string) (bool, error) {
	start := timeutil.NowNano()
	removed, err := i.inner.Delete(ctx, assetID)
	i.observe(OpDelete, start, err)
	return removed, err
}

// Close 透传
func (i *Instrumented) Close() error {
	return i.inner.Close()
}

// Stats 获取指定操作的统计快照
// 参数 op: put/get/delete，未知操作返回空统计
func (i *Instrumented) Stats(op string) OpStats {
	t, ok := i.ops[op]
	if !ok {
		return OpStats{Op: op}
	}

	count, qs := t.window.snapshotQuantiles(0.50, 0.90, 0.99)
	return OpStats{
		Op:     op,
		Count:  count,
		Errors: t.errors.Load(),
		P50Ms:  timeutil.DurationMs(0, qs[0]),
		P90Ms:  timeutil.DurationMs(0, qs[1]),
		P99Ms:  timeutil.DurationMs(0, qs[2]),
	}
}

// All 获取全部操作的统计快照
func (i *Instrumented) All() []OpStats {
	return []OpStats{i.Stats(OpPut), i.Stats(OpGet), i.Stats(OpDelete)}
}

func (i *Instrumented) observe(op string, startNs int64, err error) {
	t := i.ops[op]
	t.window.add(timeutil.NowNano() - startNs)
	if err != nil {
		t.errors.Add(1)
	}
}
