// Package feed 实现行情推送消息解析。
// 一条消息可以是单个对象，也可以是对象数组。
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"market-data-cache/internal/core/model"
	"market-data-cache/internal/util/fastparse"
)

// ErrMalformed 消息格式错误
var ErrMalformed = errors.New("推送消息格式错误")

// Parse 解析推送消息
// 参数 data: 原始消息字节
// 返回: Update 列表；任一帧非法时整条消息作废
func Parse(data []byte) ([]Update, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: 空消息", ErrMalformed)
	}

	var frames []Frame
	if data[0] == '[' {
		if err := json.Unmarshal(data, &frames); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		frames = []Frame{f}
	}

	updates := make([]Update, 0, len(frames))
	for i := range frames {
		u, err := parseFrame(&frames[i])
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// parseFrame 解析单帧
func parseFrame(f *Frame) (Update, error) {
	if f.AssetID == "" {
		return Update{}, fmt.Errorf("%w: 缺少 asset_id", ErrMalformed)
	}

	switch f.Op {
	case OpRemove:
		return Update{Op: OpRemove, AssetID: f.AssetID}, nil
	case "", OpUpsert:
	default:
		return Update{}, fmt.Errorf("%w: 未知操作 %q", ErrMalformed, f.Op)
	}

	md := model.MarketData{AssetID: f.AssetID}
	fields := []struct {
		name     string
		raw      json.RawMessage
		dst      *float64
		optional bool
	}{
		{"spot_price", f.SpotPrice, &md.SpotPrice, false},
		{"risk_free_rate", f.RiskFreeRate, &md.RiskFreeRate, false},
		{"volatility", f.Volatility, &md.Volatility, false},
		{"dividend_yield", f.DividendYield, &md.DividendYield, true},
	}
	for _, fd := range fields {
		v, err := fastparse.JSONFloat(fd.raw)
		if errors.Is(err, fastparse.ErrEmpty) && fd.optional {
			continue
		}
		if err != nil {
			return Update{}, fmt.Errorf("%w: 字段 %s: %v", ErrMalformed, fd.name, err)
		}
		*fd.dst = v
	}

	return Update{Op: OpUpsert, AssetID: f.AssetID, Record: md}, nil
}
