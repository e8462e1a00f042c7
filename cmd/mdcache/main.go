// Package main 是行情数据缓存服务的入口点。
// 启动时按配置挂接持久化后端，写入初始记录并从快照源加载，
// 随后持续消费行情推送，周期性输出缓存与存储统计。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"market-data-cache/internal/bootstrap"
	"market-data-cache/internal/config"
	"market-data-cache/internal/core/store"
	"market-data-cache/internal/feed"
	"market-data-cache/internal/output/jsonl"
	"market-data-cache/internal/stats/latency"
	"market-data-cache/internal/util/timeutil"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel).With(zap.String("app", cfg.App.Name))
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("服务异常退出", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// 捕获 SIGINT/SIGTERM，触发优雅退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	durable, err := openDurable(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	var journal *jsonl.Writer
	if cfg.Journal.Enabled {
		journal, err = jsonl.NewWriter(filepath.Join(cfg.Journal.Dir, "changes.jsonl"), jsonl.Options{
			BufferSize:   cfg.Journal.BufferSize,
			DropWhenFull: true,
		})
		if err != nil {
			closeDurable(durable, logger)
			return fmt.Errorf("创建变更日志失败: %w", err)
		}
		logger.Info("变更日志已开启", zap.String("path", journal.Path()))
	}

	opts := []store.Option{store.WithLogger(logger)}
	if durable != nil {
		opts = append(opts, store.WithDurable(durable))
	}
	if journal != nil {
		opts = append(opts, store.WithJournal(journal))
	}
	manager := store.New(opts...)

	// 初始记录与快照加载
	if seeds := cfg.SeedRecords(); len(seeds) > 0 {
		res := bootstrap.Apply(ctx, manager, seeds, logger.Named("seed"))
		logger.Info("初始记录写入完成", zap.Int("loaded", res.Loaded), zap.Int("rejected", res.Rejected))
	}
	if _, err := bootstrap.Load(ctx, bootstrap.NewHTTPFetcher(cfg.Bootstrap.TimeoutMs), cfg.Bootstrap.URL, manager, logger); err != nil {
		// 快照源不可用不阻止启动，推送与懒加载仍可补齐
		logger.Warn("启动加载失败", zap.Error(err))
	}

	var feedClient *feed.Client
	if cfg.Feed.Enabled {
		feedClient = feed.NewClient(&cfg.Feed, manager, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	if feedClient != nil {
		g.Go(func() error { return feedClient.Run(gctx) })
	}
	if cfg.Report.IntervalMs > 0 {
		g.Go(func() error {
			reportLoop(gctx, timeutil.Millis(cfg.Report.IntervalMs), logger, manager, durable, feedClient, journal)
			return nil
		})
	}

	logger.Info("行情缓存已启动",
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("entries", manager.Size()),
		zap.Bool("feed", feedClient != nil),
		zap.Bool("journal", journal != nil))

	<-gctx.Done()
	logger.Info("收到退出信号，开始优雅关闭")
	runErr := g.Wait()

	// 输出最后一次统计（便于离线复盘）
	report(logger, manager, durable, feedClient, journal)

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if feedClient != nil {
			_ = feedClient.Close()
		}
		if journal != nil {
			if err := journal.Close(); err != nil {
				logger.Warn("关闭变更日志失败", zap.Error(err))
			}
		}
		closeDurable(durable, logger)
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// reportLoop 周期输出运行统计
func reportLoop(
	ctx context.Context,
	interval time.Duration,
	logger *zap.Logger,
	manager *store.Manager,
	durable *latency.Instrumented,
	feedClient *feed.Client,
	journal *jsonl.Writer,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(logger, manager, durable, feedClient, journal)
		}
	}
}

func report(
	logger *zap.Logger,
	manager *store.Manager,
	durable *latency.Instrumented,
	feedClient *feed.Client,
	journal *jsonl.Writer,
) {
	st := manager.Stats()
	fields := []zap.Field{
		zap.Int("entries", st.Entries),
		zap.Int64("hits", st.Hits),
		zap.Int64("lazy_loads", st.LazyLoads),
		zap.Int64("misses", st.Misses),
		zap.Int64("mirror_failures", st.MirrorFailures),
	}
	if durable != nil {
		for _, s := range durable.All() {
			fields = append(fields, zap.Any("storage_"+s.Op, s))
		}
	}
	if feedClient != nil {
		m := feedClient.Metrics()
		fields = append(fields,
			zap.Int64("feed_applied", m.Applied),
			zap.Int64("feed_rejected", m.Rejected),
			zap.Int64("feed_parse_errors", m.ParseErrorCount),
			zap.Int64("feed_reconnects", m.ReconnectCount),
			zap.Float64("feed_updates_per_sec", m.UpdatesPerSec),
			zap.Int64("feed_last_msg_age_ms", m.LastMessageAgeMs),
			zap.Int64("feed_rtt_ms", m.WsRttMs))
	}
	if journal != nil {
		written, dropped, failed := journal.Counters()
		fields = append(fields,
			zap.Int64("journal_written", written),
			zap.Int64("journal_dropped", dropped),
			zap.Int64("journal_failed", failed))
	}
	logger.Info("运行统计", fields...)
}
