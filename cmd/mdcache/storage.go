package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"market-data-cache/internal/config"
	"market-data-cache/internal/core/store"
	"market-data-cache/internal/stats/latency"
	"market-data-cache/internal/storage/redisstore"
	"market-data-cache/internal/storage/sqlstore"
	"market-data-cache/internal/util/timeutil"
)

// openDurable 按配置创建并初始化持久化存储
// 返回: driver 为 none 时返回 nil（纯内存模式）
func openDurable(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*latency.Instrumented, error) {
	var inner store.Durable
	switch cfg.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverSQLite:
		inner = sqlstore.NewSQLite(cfg.SQLite.Path, sqlstore.WithLogger(logger))
	case config.DriverPostgres:
		inner = sqlstore.NewPostgres(cfg.Postgres.DSN,
			sqlstore.WithLogger(logger),
			sqlstore.WithPool(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns))
	case config.DriverRedis:
		inner = redisstore.New(redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, timeutil.SystemClock, logger)
	default:
		return nil, fmt.Errorf("未知的存储后端: %s", cfg.Driver)
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := inner.Init(initCtx); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("初始化持久化存储失败: %w", err)
	}

	logger.Info("持久化存储已就绪", zap.String("driver", cfg.Driver))
	return latency.Wrap(inner, cfg.LatencyWindow), nil
}

// closeDurable 关闭持久化存储
func closeDurable(d *latency.Instrumented, logger *zap.Logger) {
	if d == nil {
		return
	}
	if err := d.Close(); err != nil {
		logger.Warn("关闭持久化存储失败", zap.Error(err))
	}
}
