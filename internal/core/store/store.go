// Package store 维护资产行情数据的内存权威视图。
// Manager 是“某资产是否有数据”的唯一判定者；可选地挂接持久化存储，
// 写操作同步镜像到存储（尽力而为），读未命中时从存储懒加载。
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"market-data-cache/internal/core/model"
	"market-data-cache/internal/util/timeutil"
)

var _ Cache = (*Manager)(nil)

// Stats Manager 运行统计
type Stats struct {
	// Entries 当前内存条目数
	Entries int `json:"entries"`
	// Hits 内存命中次数
	Hits int64 `json:"hits"`
	// LazyLoads 懒加载成功次数
	LazyLoads int64 `json:"lazy_loads"`
	// Misses Get 最终返回 NotFound 的次数
	Misses int64 `json:"misses"`
	// MirrorFailures 镜像写入/删除失败次数（已吞掉，仅记录）
	MirrorFailures int64 `json:"mirror_failures"`
}

// Manager 行情数据内存缓存
// 内存 map 由 mu 保护；持久化 I/O 在锁外进行。
// 因此同一资产的并发写（如 Add 与 Remove 交错）可能使存储中的结果与内存相反；
// 每个资产只允许单一写入方，调用方需保证同一资产的写操作串行。
// Manager 不拥有 durable，也不会关闭它。
type Manager struct {
	// mu 保护 data 与 durable
	mu sync.RWMutex
	// data 资产标识 -> 行情记录
	data map[string]model.MarketData
	// durable 可选的持久化存储，nil 表示纯内存模式
	durable Durable

	logger  *zap.Logger
	journal Journal

	hits           atomic.Int64
	lazyLoads      atomic.Int64
	misses         atomic.Int64
	mirrorFailures atomic.Int64
}

// Option Manager 构造选项
type Option func(*Manager)

// WithDurable 挂接持久化存储
func WithDurable(d Durable) Option {
	return func(m *Manager) { m.durable = d }
}

// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithJournal 设置变更日志输出
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// New 创建行情数据缓存
func New(opts ...Option) *Manager {
	m := &Manager{
		data:   make(map[string]model.MarketData),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("marketdata")
	return m
}

// SetDurable 挂接或卸下（传 nil）持久化存储
// 卸下后 Manager 退化为纯内存：不镜像写入，未命中也不懒加载。
func (m *Manager) SetDurable(d Durable) {
	m.mu.Lock()
	m.durable = d
	m.mu.Unlock()
}

// Add 新增资产行情
// 参数 assetID: 资产标识，不能为空
// 参数 md: 行情记录，写入前校验；记录的 AssetID 以 assetID 为准
// 返回: ErrInvalidArgument / *model.ValidationError / ErrAlreadyExists
func (m *Manager) Add(ctx context.Context, assetID string, md model.MarketData) error {
	if err := checkID(assetID); err != nil {
		return err
	}
	md.AssetID = assetID
	if err := model.Validate(md); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.data[assetID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s，请使用 Update", ErrAlreadyExists, assetID)
	}
	m.data[assetID] = md
	durable := m.durable
	m.mu.Unlock()

	m.record(model.OpAdd, assetID, &md)
	m.mirrorPut(ctx, durable, md)
	return nil
}

// Update 覆盖已存在于内存中的资产行情
// 注意：只检查内存，不会回退到持久化存储判断是否存在。
// 返回: ErrInvalidArgument / *model.ValidationError / ErrNotFound
func (m *Manager) Update(ctx context.Context, assetID string, md model.MarketData) error {
	if err := checkID(assetID); err != nil {
		return err
	}
	md.AssetID = assetID
	if err := model.Validate(md); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.data[assetID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s，请使用 Add", ErrNotFound, assetID)
	}
	m.data[assetID] = md
	durable := m.durable
	m.mu.Unlock()

	m.record(model.OpUpdate, assetID, &md)
	m.mirrorPut(ctx, durable, md)
	return nil
}

// Upsert 内存中不存在则 Add，否则 Update
// 供行情推送与启动加载使用；存在性判断同样只看内存。
func (m *Manager) Upsert(ctx context.Context, assetID string, md model.MarketData) error {
	if m.Has(assetID) {
		err := m.Update(ctx, assetID, md)
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		// 期间被删除，按新增处理
	}
	err := m.Add(ctx, assetID, md)
	if errors.Is(err, ErrAlreadyExists) {
		return m.Update(ctx, assetID, md)
	}
	return err
}

// Get 获取资产行情
// 内存命中直接返回；未命中且挂接了持久化存储时懒加载并写回内存。
// 存储读取失败只记录日志，对调用方统一表现为 ErrNotFound。
func (m *Manager) Get(ctx context.Context, assetID string) (model.MarketData, error) {
	if err := checkID(assetID); err != nil {
		return model.MarketData{}, err
	}

	m.mu.RLock()
	md, ok := m.data[assetID]
	durable := m.durable
	m.mu.RUnlock()
	if ok {
		m.hits.Add(1)
		return md, nil
	}

	if durable == nil {
		m.misses.Add(1)
		return model.MarketData{}, fmt.Errorf("%w: %s", ErrNotFound, assetID)
	}

	loaded, found, err := durable.Get(ctx, assetID)
	if err != nil {
		m.logger.Warn("懒加载读取持久化存储失败", zap.String("asset_id", assetID), zap.Error(err))
		m.misses.Add(1)
		return model.MarketData{}, fmt.Errorf("%w: %s", ErrNotFound, assetID)
	}
	if !found {
		m.misses.Add(1)
		return model.MarketData{}, fmt.Errorf("%w: %s", ErrNotFound, assetID)
	}
	loaded.AssetID = assetID
	if err := model.Validate(loaded); err != nil {
		m.logger.Warn("持久化记录未通过校验，忽略", zap.String("asset_id", assetID), zap.Error(err))
		m.misses.Add(1)
		return model.MarketData{}, fmt.Errorf("%w: %s", ErrNotFound, assetID)
	}

	m.mu.Lock()
	if cur, ok := m.data[assetID]; ok {
		// 并发未命中时另一方已写入内存，以内存为准
		m.mu.Unlock()
		m.hits.Add(1)
		return cur, nil
	}
	m.data[assetID] = loaded
	m.mu.Unlock()

	m.lazyLoads.Add(1)
	m.record(model.OpLoad, assetID, &loaded)
	m.logger.Debug("懒加载行情数据", zap.String("asset_id", assetID))
	return loaded, nil
}

// Has 仅检查内存中是否存在，不访问持久化存储
func (m *Manager) Has(assetID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[assetID]
	return ok
}

// Remove 删除资产行情
// 内存删除成功后尽力删除持久化记录，删除失败不返回给调用方。
// 返回: ErrInvalidArgument / ErrNotFound
func (m *Manager) Remove(ctx context.Context, assetID string) error {
	if err := checkID(assetID); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.data[assetID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, assetID)
	}
	delete(m.data, assetID)
	durable := m.durable
	m.mu.Unlock()

	m.record(model.OpRemove, assetID, nil)
	m.mirrorDelete(ctx, durable, assetID)
	return nil
}

// Clear 清空内存，不触碰持久化存储
// 之后的 Get 会走懒加载路径。
func (m *Manager) Clear() {
	m.mu.Lock()
	m.data = make(map[string]model.MarketData)
	m.mu.Unlock()

	m.record(model.OpClear, "", nil)
}

// Size 内存条目数
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// List 返回全部内存条目的快照副本
func (m *Manager) List() map[string]model.MarketData {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]model.MarketData, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// Stats 获取运行统计快照
func (m *Manager) Stats() Stats {
	return Stats{
		Entries:        m.Size(),
		Hits:           m.hits.Load(),
		LazyLoads:      m.lazyLoads.Load(),
		Misses:         m.misses.Load(),
		MirrorFailures: m.mirrorFailures.Load(),
	}
}

// mirrorPut 镜像写入持久化存储，失败只记录
func (m *Manager) mirrorPut(ctx context.Context, durable Durable, md model.MarketData) {
	if durable == nil {
		return
	}
	if err := durable.Put(ctx, md); err != nil {
		m.mirrorFailures.Add(1)
		m.logger.Warn("镜像写入持久化存储失败", zap.String("asset_id", md.AssetID), zap.Error(err))
	}
}

// mirrorDelete 镜像删除持久化记录，失败只记录
func (m *Manager) mirrorDelete(ctx context.Context, durable Durable, assetID string) {
	if durable == nil {
		return
	}
	if _, err := durable.Delete(ctx, assetID); err != nil {
		m.mirrorFailures.Add(1)
		m.logger.Warn("镜像删除持久化记录失败", zap.String("asset_id", assetID), zap.Error(err))
	}
}

// record 写入变更日志
func (m *Manager) record(op model.ChangeOp, assetID string, md *model.MarketData) {
	if m.journal == nil {
		return
	}
	ev := model.ChangeEvent{Op: op, AssetID: assetID, Record: md, TsUnixNs: timeutil.NowNano()}
	if err := m.journal.Write(ev); err != nil {
		m.logger.Debug("写入变更日志失败", zap.String("op", string(op)), zap.Error(err))
	}
}

func checkID(assetID string) error {
	if assetID == "" {
		return fmt.Errorf("%w: 资产标识不能为空", ErrInvalidArgument)
	}
	return nil
}
