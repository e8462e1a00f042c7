// Package model 定义行情缓存中使用的核心数据结构。
// 包含单个资产的行情参数记录、校验规则以及变更事件。
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrValidation 行情记录未通过校验
// 可通过 errors.Is 判断，具体违规项见 *ValidationError。
var ErrValidation = errors.New("行情数据校验失败")

// MarketData 单个资产的行情参数
// 由调用方构造或从持久化存储加载；以值语义传递，调用方拿到的总是副本。
type MarketData struct {
	// AssetID 资产标识，如 AAPL
	AssetID string `json:"asset_id"`
	// SpotPrice 现价，必须 >= 0
	SpotPrice float64 `json:"spot_price"`
	// RiskFreeRate 无风险利率
	RiskFreeRate float64 `json:"risk_free_rate"`
	// Volatility 波动率（年化），必须 >= 0
	Volatility float64 `json:"volatility"`
	// DividendYield 股息率
	DividendYield float64 `json:"dividend_yield"`
	// LastUpdated 最后写入时间（Unix 秒）
	// 由持久化存储在写入时打戳，Manager 不设置；从未落盘的记录为 0。
	LastUpdated int64 `json:"last_updated,omitempty"`
}

// Violation 单条校验违规
type Violation struct {
	// Field 违规字段名（与持久化列名一致）
	Field string `json:"field"`
	// Value 违规值
	Value float64 `json:"value"`
	// Reason 违规原因
	Reason string `json:"reason"`
}

// ValidationError 结构化的校验错误
// 列出记录上的全部违规项，而不是遇到第一个就返回。
type ValidationError struct {
	// AssetID 被校验记录的资产标识
	AssetID string
	// Violations 违规项列表（至少一条）
	Violations []Violation
}

// Error 实现 error 接口
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s=%v: %s", v.Field, v.Value, v.Reason)
	}
	return fmt.Sprintf("%s [%s]: %s", ErrValidation.Error(), e.AssetID, strings.Join(parts, "; "))
}

// Unwrap 使 errors.Is(err, ErrValidation) 成立
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validate 校验行情记录
// 纯函数：不修改记录，add 与 update 共用同一规则。
// 规则：四个数值字段必须为有限数；SpotPrice、Volatility 不能为负。
// 返回: 通过时为 nil，否则为 *ValidationError
func Validate(md MarketData) error {
	var vs []Violation

	fields := [...]struct {
		name string
		val  float64
	}{
		{"spot_price", md.SpotPrice},
		{"risk_free_rate", md.RiskFreeRate},
		{"volatility", md.Volatility},
		{"dividend_yield", md.DividendYield},
	}
	for _, f := range fields {
		if math.IsNaN(f.val) || math.IsInf(f.val, 0) {
			vs = append(vs, Violation{Field: f.name, Value: f.val, Reason: "必须为有限数"})
		}
	}

	// NaN 比较恒为 false，这里不会重复记录
	if md.SpotPrice < 0 {
		vs = append(vs, Violation{Field: "spot_price", Value: md.SpotPrice, Reason: "现价不能为负"})
	}
	if md.Volatility < 0 {
		vs = append(vs, Violation{Field: "volatility", Value: md.Volatility, Reason: "波动率不能为负"})
	}

	if len(vs) == 0 {
		return nil
	}
	return &ValidationError{AssetID: md.AssetID, Violations: vs}
}

// Valid 判断记录是否通过校验
func (md MarketData) Valid() bool {
	return Validate(md) == nil
}

// SameValues 比较两条记录的行情参数（忽略 LastUpdated）
func (md MarketData) SameValues(other MarketData) bool {
	return md.AssetID == other.AssetID &&
		md.SpotPrice == other.SpotPrice &&
		md.RiskFreeRate == other.RiskFreeRate &&
		md.Volatility == other.Volatility &&
		md.DividendYield == other.DividendYield
}
