package sqlstore

import (
	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name: "postgres",
	createTable: `CREATE TABLE IF NOT EXISTS market_data (
		asset_id TEXT PRIMARY KEY,
		spot_price DOUBLE PRECISION,
		risk_free_rate DOUBLE PRECISION,
		volatility DOUBLE PRECISION,
		dividend_yield DOUBLE PRECISION,
		last_updated BIGINT
	)`,
	upsert: `INSERT INTO market_data (asset_id, spot_price, risk_free_rate, volatility, dividend_yield, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset_id) DO UPDATE SET
			spot_price = EXCLUDED.spot_price,
			risk_free_rate = EXCLUDED.risk_free_rate,
			volatility = EXCLUDED.volatility,
			dividend_yield = EXCLUDED.dividend_yield,
			last_updated = EXCLUDED.last_updated`,
	selectOne: `SELECT spot_price, risk_free_rate, volatility, dividend_yield, last_updated
		FROM market_data WHERE asset_id = $1 LIMIT 1`,
	deleteOne: `DELETE FROM market_data WHERE asset_id = $1`,
}

// NewPostgres 创建 PostgreSQL 存储
// 参数 dsn: lib/pq 连接串，如 "host=localhost port=5432 user=u password=p dbname=d sslmode=disable"
func NewPostgres(dsn string, opts ...Option) *Store {
	return newStore("postgres", dsn, postgresDialect, opts...)
}
