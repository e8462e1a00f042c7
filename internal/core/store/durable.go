package store

import (
	"context"
	"errors"

	"market-data-cache/internal/core/model"
)

// 错误分类
var (
	// ErrInvalidArgument 资产标识为空或非法，先于任何状态检查
	ErrInvalidArgument = errors.New("非法参数")
	// ErrAlreadyExists 内存中已存在该资产
	ErrAlreadyExists = errors.New("行情数据已存在")
	// ErrNotFound 内存中不存在该资产（懒加载未命中也归为此类）
	ErrNotFound = errors.New("行情数据不存在")
	// ErrStorageUnavailable 持久化存储未初始化或初始化失败
	ErrStorageUnavailable = errors.New("持久化存储不可用")
)

// Durable 持久化存储端口
// 以资产标识为键，每个资产一条记录。实现方负责单条记录的原子写入，
// 并在 Put 时为 LastUpdated 打戳（调用方传入的 LastUpdated 会被忽略）。
// Init 成功之前的任何调用都应直接返回 ErrStorageUnavailable。
type Durable interface {
	// Init 打开后端并确保表结构存在，可重复调用
	Init(ctx context.Context) error
	// Put 插入或覆盖整条记录
	Put(ctx context.Context, md model.MarketData) error
	// Get 读取记录；不存在时返回 false 且 err 为 nil
	Get(ctx context.Context, assetID string) (model.MarketData, bool, error)
	// Delete 删除记录，返回是否确有记录被删除
	Delete(ctx context.Context, assetID string) (bool, error)
	// Close 释放后端连接
	Close() error
}

// Presence 仅检查内存中是否存在
// 注意：与 Resolver.Get 不等价。Has 不会回退到持久化存储，
// 因此 Has 返回 false 时 Get 仍可能通过懒加载成功。
type Presence interface {
	Has(assetID string) bool
}

// Resolver 解析行情数据，内存未命中时可能从持久化存储懒加载
type Resolver interface {
	Get(ctx context.Context, assetID string) (model.MarketData, error)
}

// Cache 面向风险计算层的完整能力集合
type Cache interface {
	Presence
	Resolver
	Add(ctx context.Context, assetID string, md model.MarketData) error
	Update(ctx context.Context, assetID string, md model.MarketData) error
	Remove(ctx context.Context, assetID string) error
	Clear()
	Size() int
	List() map[string]model.MarketData
}

// Journal 变更日志输出
// jsonl.Writer 满足该接口；写入失败不影响 Manager 操作结果。
type Journal interface {
	Write(v any) error
}
