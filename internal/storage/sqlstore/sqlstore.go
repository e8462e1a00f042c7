// Package sqlstore 实现基于 database/sql 的行情持久化存储。
// 每个资产一行，表 market_data；支持 SQLite（本地文件，默认）与 PostgreSQL。
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"market-data-cache/internal/core/model"
	"market-data-cache/internal/core/store"
	"market-data-cache/internal/util/timeutil"
)

var _ store.Durable = (*Store)(nil)

// dialect 不同数据库的 SQL 差异
type dialect struct {
	name        string
	createTable string
	upsert      string
	selectOne   string
	deleteOne   string
}

// Store SQL 持久化存储
// Init 成功前 db 为 nil，所有操作返回 store.ErrStorageUnavailable。
type Store struct {
	driver  string
	dsn     string
	dialect dialect

	// pool 连接池参数（<=0 表示不设置）
	maxOpen int
	maxIdle int

	clock  timeutil.Clock
	logger *zap.Logger

	// prepare 在打开连接前执行（如创建 SQLite 目录）
	prepare func() error

	mu sync.RWMutex
	db *sql.DB
}

// Option 存储构造选项
type Option func(*Store)

// WithClock 替换 last_updated 时钟
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPool 设置连接池大小
func WithPool(maxOpen, maxIdle int) Option {
	return func(s *Store) {
		s.maxOpen = maxOpen
		s.maxIdle = maxIdle
	}
}

func newStore(driver, dsn string, d dialect, opts ...Option) *Store {
	s := &Store{
		driver:  driver,
		dsn:     dsn,
		dialect: d,
		clock:   timeutil.SystemClock,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named(d.name)
	return s
}

// Init 打开数据库并创建表
// 已初始化时仅重新确认表结构存在，不会丢数据。
// 失败时存储保持不可用状态。
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if _, err := s.db.ExecContext(ctx, s.dialect.createTable); err != nil {
			return fmt.Errorf("创建 market_data 表失败: %w", err)
		}
		return nil
	}

	if s.prepare != nil {
		if err := s.prepare(); err != nil {
			return err
		}
	}

	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("打开 %s 失败: %w", s.dialect.name, err)
	}
	if s.maxOpen > 0 {
		db.SetMaxOpenConns(s.maxOpen)
	}
	if s.maxIdle > 0 {
		db.SetMaxIdleConns(s.maxIdle)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("连接 %s 失败: %w", s.dialect.name, err)
	}
	if _, err := db.ExecContext(ctx, s.dialect.createTable); err != nil {
		_ = db.Close()
		return fmt.Errorf("创建 market_data 表失败: %w", err)
	}

	s.db = db
	s.logger.Info("行情持久化存储已初始化")
	return nil
}

// Put 插入或覆盖一条记录，并以存储时钟打戳 last_updated
// 单条 INSERT ... ON CONFLICT 语句，不会出现部分写入。
func (s *Store) Put(ctx context.Context, md model.MarketData) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if md.AssetID == "" {
		return fmt.Errorf("%w: 资产标识不能为空", store.ErrInvalidArgument)
	}

	_, err = db.ExecContext(ctx, s.dialect.upsert,
		md.AssetID, md.SpotPrice, md.RiskFreeRate, md.Volatility, md.DividendYield, s.clock())
	if err != nil {
		return fmt.Errorf("写入行情 %s 失败: %w", md.AssetID, err)
	}
	return nil
}

// Get 读取一条记录
// 返回: 不存在时 found=false 且 err=nil
func (s *Store) Get(ctx context.Context, assetID string) (model.MarketData, bool, error) {
	db, err := s.handle()
	if err != nil {
		return model.MarketData{}, false, err
	}

	md := model.MarketData{AssetID: assetID}
	err = db.QueryRowContext(ctx, s.dialect.selectOne, assetID).
		Scan(&md.SpotPrice, &md.RiskFreeRate, &md.Volatility, &md.DividendYield, &md.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MarketData{}, false, nil
	}
	if err != nil {
		return model.MarketData{}, false, fmt.Errorf("读取行情 %s 失败: %w", assetID, err)
	}
	return md, true, nil
}

// Delete 删除一条记录
// 返回: 是否确有记录被删除；删除不存在的记录不是错误
func (s *Store) Delete(ctx context.Context, assetID string) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, s.dialect.deleteOne, assetID)
	if err != nil {
		return false, fmt.Errorf("删除行情 %s 失败: %w", assetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("读取删除行数失败: %w", err)
	}
	return n > 0, nil
}

// Close 关闭数据库连接，之后存储回到不可用状态
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Health 检查连接
func (s *Store) Health(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("%w: %s 未初始化", store.ErrStorageUnavailable, s.dialect.name)
	}
	return s.db, nil
}
