package sqlstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"market-data-cache/internal/core/store"
)

var sqliteDialect = dialect{
	name: "sqlite",
	createTable: `CREATE TABLE IF NOT EXISTS market_data (
		asset_id TEXT PRIMARY KEY,
		spot_price REAL,
		risk_free_rate REAL,
		volatility REAL,
		dividend_yield REAL,
		last_updated INTEGER
	)`,
	upsert: `INSERT INTO market_data (asset_id, spot_price, risk_free_rate, volatility, dividend_yield, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			spot_price = excluded.spot_price,
			risk_free_rate = excluded.risk_free_rate,
			volatility = excluded.volatility,
			dividend_yield = excluded.dividend_yield,
			last_updated = excluded.last_updated`,
	selectOne: `SELECT spot_price, risk_free_rate, volatility, dividend_yield, last_updated
		FROM market_data WHERE asset_id = ? LIMIT 1`,
	deleteOne: `DELETE FROM market_data WHERE asset_id = ?`,
}

// NewSQLite 创建本地 SQLite 文件存储
// 参数 path: 数据库文件路径，父目录不存在时在 Init 中创建；
// 路径中不能含 '?'（DSN 参数分隔符），否则 Init 返回 store.ErrInvalidArgument
func NewSQLite(path string, opts ...Option) *Store {
	dsn := path + "?_pragma=busy_timeout(5000)"
	// 单文件数据库，串行化写入避免 SQLITE_BUSY
	opts = append([]Option{WithPool(1, 1)}, opts...)
	s := newStore("sqlite", dsn, sqliteDialect, opts...)
	s.prepare = func() error {
		if strings.Contains(path, "?") {
			return fmt.Errorf("%w: SQLite 路径不能包含 '?': %s", store.ErrInvalidArgument, path)
		}
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("创建数据库目录失败: %w", err)
			}
		}
		return nil
	}
	return s
}
