// Package feed 定义行情推送消息类型。
package feed

import (
	"encoding/json"

	"market-data-cache/internal/core/model"
)

// 推送操作类型
const (
	// OpUpsert 新增或覆盖（缺省）
	OpUpsert = "upsert"
	// OpRemove 删除
	OpRemove = "remove"
)

// Frame 推送消息帧（单条）
// 数值字段保留原始 JSON，既可以是数字也可以是数字字符串。
// 示例:
//
//	{"op":"upsert","asset_id":"AAPL","spot_price":150.0,"risk_free_rate":"0.02","volatility":0.25}
//	{"op":"remove","asset_id":"AAPL"}
type Frame struct {
	// Op 操作类型: upsert, remove；为空按 upsert 处理
	Op string `json:"op"`
	// AssetID 资产标识
	AssetID string `json:"asset_id"`
	// SpotPrice 现价
	SpotPrice json.RawMessage `json:"spot_price"`
	// RiskFreeRate 无风险利率
	RiskFreeRate json.RawMessage `json:"risk_free_rate"`
	// Volatility 波动率
	Volatility json.RawMessage `json:"volatility"`
	// DividendYield 股息率，可省略（按 0 处理）
	DividendYield json.RawMessage `json:"dividend_yield"`
}

// Update 解析后的推送更新
type Update struct {
	// Op 操作类型: upsert, remove
	Op string
	// AssetID 资产标识
	AssetID string
	// Record 行情记录，仅 upsert 时有效
	Record model.MarketData
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64
	// Applied 成功写入缓存的更新数
	Applied int64
	// Rejected 被缓存拒绝的更新数（校验失败、删除不存在的资产等）
	Rejected int64
	// UpdatesPerSec 每秒更新次数
	UpdatesPerSec float64
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64
	// WsRttMs WebSocket RTT（毫秒）
	WsRttMs int64
}
