// Package redisstore 实现基于 Redis 哈希的行情持久化存储。
// 每个资产一个 hash，键为 <prefix><asset_id>，字段名与 SQL 表列名一致。
package redisstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"market-data-cache/internal/core/model"
	"market-data-cache/internal/core/store"
	"market-data-cache/internal/util/fastparse"
	"market-data-cache/internal/util/timeutil"
)

var _ store.Durable = (*Store)(nil)

// 哈希字段
const (
	fieldSpot     = "spot_price"
	fieldRate     = "risk_free_rate"
	fieldVol      = "volatility"
	fieldDividend = "dividend_yield"
	fieldUpdated  = "last_updated"
)

// Config Redis 连接配置
type Config struct {
	// Addr 地址 host:port
	Addr string
	// Password 密码
	Password string
	// DB 库编号
	DB int
	// KeyPrefix 键前缀，默认 "marketdata:"
	KeyPrefix string
}

// Store Redis 持久化存储
type Store struct {
	cfg    Config
	clock  timeutil.Clock
	logger *zap.Logger

	mu  sync.RWMutex
	cli *redis.Client
}

// New 创建 Redis 存储（不连接，连接在 Init 中建立）
// 参数 clock: last_updated 时钟，nil 时使用系统时钟
func New(cfg Config, clock timeutil.Clock, logger *zap.Logger) *Store {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "marketdata:"
	}
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{cfg: cfg, clock: clock, logger: logger.Named("redis")}
}

// Init 建立连接并 ping
// 哈希结构无需建表；已连接时只重新 ping。
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cli != nil {
		if err := s.cli.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}

	cli := redis.NewClient(&redis.Options{
		Addr:     s.cfg.Addr,
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return fmt.Errorf("redis ping: %w", err)
	}

	s.cli = cli
	s.logger.Info("Redis 行情存储已连接", zap.String("addr", s.cfg.Addr))
	return nil
}

// Put 用一条 HSET 写入全部字段（单命令原子）
func (s *Store) Put(ctx context.Context, md model.MarketData) error {
	cli, err := s.client()
	if err != nil {
		return err
	}
	if md.AssetID == "" {
		return fmt.Errorf("%w: 资产标识不能为空", store.ErrInvalidArgument)
	}

	err = cli.HSet(ctx, s.key(md.AssetID),
		fieldSpot, fastparse.FormatFloat(md.SpotPrice, -1),
		fieldRate, fastparse.FormatFloat(md.RiskFreeRate, -1),
		fieldVol, fastparse.FormatFloat(md.Volatility, -1),
		fieldDividend, fastparse.FormatFloat(md.DividendYield, -1),
		fieldUpdated, fastparse.FormatInt(s.clock()),
	).Err()
	if err != nil {
		return fmt.Errorf("写入行情 %s 失败: %w", md.AssetID, err)
	}
	return nil
}

// Get 读取记录；键不存在时 found=false
func (s *Store) Get(ctx context.Context, assetID string) (model.MarketData, bool, error) {
	cli, err := s.client()
	if err != nil {
		return model.MarketData{}, false, err
	}

	fields, err := cli.HGetAll(ctx, s.key(assetID)).Result()
	if err != nil {
		return model.MarketData{}, false, fmt.Errorf("读取行情 %s 失败: %w", assetID, err)
	}
	if len(fields) == 0 {
		return model.MarketData{}, false, nil
	}

	md, err := decode(assetID, fields)
	if err != nil {
		return model.MarketData{}, false, fmt.Errorf("解析行情 %s 失败: %w", assetID, err)
	}
	return md, true, nil
}

// Delete 删除记录，返回是否确有键被删除
func (s *Store) Delete(ctx context.Context, assetID string) (bool, error) {
	cli, err := s.client()
	if err != nil {
		return false, err
	}

	n, err := cli.Del(ctx, s.key(assetID)).Result()
	if err != nil {
		return false, fmt.Errorf("删除行情 %s 失败: %w", assetID, err)
	}
	return n > 0, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cli == nil {
		return nil
	}
	err := s.cli.Close()
	s.cli = nil
	return err
}

func (s *Store) key(assetID string) string {
	return s.cfg.KeyPrefix + assetID
}

func (s *Store) client() (*redis.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cli == nil {
		return nil, fmt.Errorf("%w: redis 未初始化", store.ErrStorageUnavailable)
	}
	return s.cli, nil
}

// decode 将哈希字段还原为记录，缺失字段视为损坏
func decode(assetID string, fields map[string]string) (model.MarketData, error) {
	md := model.MarketData{AssetID: assetID}

	floats := []struct {
		name string
		dst  *float64
	}{
		{fieldSpot, &md.SpotPrice},
		{fieldRate, &md.RiskFreeRate},
		{fieldVol, &md.Volatility},
		{fieldDividend, &md.DividendYield},
	}
	for _, f := range floats {
		raw, ok := fields[f.name]
		if !ok {
			return md, fmt.Errorf("缺少字段 %s", f.name)
		}
		v, err := fastparse.ParseFloat(raw)
		if err != nil {
			return md, fmt.Errorf("字段 %s: %w", f.name, err)
		}
		*f.dst = v
	}

	if raw, ok := fields[fieldUpdated]; ok {
		v, err := fastparse.ParseInt(raw)
		if err != nil {
			return md, fmt.Errorf("字段 %s: %w", fieldUpdated, err)
		}
		md.LastUpdated = v
	}
	return md, nil
}
