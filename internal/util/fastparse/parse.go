// Package fastparse 提供数值字段的解析与格式化。
// 行情推送中的价格字段可能是 JSON 数字，也可能是带引号的数字字符串；
// Redis 哈希中的字段统一以字符串保存。
package fastparse

import (
	"bytes"
	"errors"
	"strconv"
)

// ErrEmpty 字段为空或为 null
var ErrEmpty = errors.New("字段为空")

// ParseFloat 解析浮点数字符串
// 参数 s: 待解析的字符串，如 "12345.67"
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// ParseInt 解析十进制整数字符串
func ParseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// JSONFloat 解析原始 JSON 值为浮点数
// 同时接受 150.5 与 "150.5" 两种写法；null、空串返回 ErrEmpty。
// 参数 raw: 未解码的 JSON 片段
func JSONFloat(raw []byte) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, ErrEmpty
	}
	if raw[0] == '"' {
		s, err := strconv.Unquote(string(raw))
		if err != nil {
			return 0, err
		}
		if s == "" {
			return 0, ErrEmpty
		}
		return strconv.ParseFloat(s, 64)
	}
	return strconv.ParseFloat(string(raw), 64)
}

// FormatFloat 格式化浮点数为字符串
// 参数 prec: 小数位数，-1 表示可精确还原的最短表示
func FormatFloat(f float64, prec int) string {
	return strconv.FormatFloat(f, 'f', prec, 64)
}

// FormatInt 格式化整数为字符串
func FormatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}
