package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"market-data-cache/internal/core/model"
)

// Sink 快照记录的写入目标（*store.Manager 满足该接口）
type Sink interface {
	Upsert(ctx context.Context, assetID string, md model.MarketData) error
}

// Result 加载结果
type Result struct {
	// Loaded 成功写入的记录数
	Loaded int
	// Rejected 被缓存拒绝的记录数
	Rejected int
}

// Apply 将记录逐条写入缓存
// 单条记录被拒绝只记录日志，不中断加载。
func Apply(ctx context.Context, sink Sink, records []model.MarketData, logger *zap.Logger) Result {
	if logger == nil {
		logger = zap.NewNop()
	}

	var res Result
	for _, md := range records {
		if err := sink.Upsert(ctx, md.AssetID, md); err != nil {
			res.Rejected++
			logger.Warn("初始记录被拒绝", zap.String("asset_id", md.AssetID), zap.Error(err))
			continue
		}
		res.Loaded++
	}
	return res
}

// Load 拉取快照并写入缓存
// 参数 url: 快照地址，为空时直接返回
// 返回: 拉取失败时返回错误；单条记录的拒绝体现在 Result 中
func Load(ctx context.Context, f Fetcher, url string, sink Sink, logger *zap.Logger) (Result, error) {
	if url == "" {
		return Result{}, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("bootstrap")

	records, err := f.Fetch(ctx, url)
	if err != nil {
		return Result{}, fmt.Errorf("启动加载失败: %w", err)
	}

	res := Apply(ctx, sink, records, logger)
	logger.Info("启动加载完成",
		zap.String("url", url),
		zap.Int("loaded", res.Loaded),
		zap.Int("rejected", res.Rejected))
	return res, nil
}
