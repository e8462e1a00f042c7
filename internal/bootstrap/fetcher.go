// Package bootstrap 负责启动时从 HTTP 行情源拉取快照并写入缓存。
package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"market-data-cache/internal/core/model"
	"market-data-cache/internal/feed"
	"market-data-cache/internal/util/timeutil"
)

// Fetcher 行情快照获取器接口
type Fetcher interface {
	// Fetch 获取行情快照
	Fetch(ctx context.Context, url string) ([]model.MarketData, error)
}

// snapshotResponse 快照响应的包装格式: {"data":[...]}
type snapshotResponse struct {
	Data json.RawMessage `json:"data"`
}

// HTTPFetcher HTTP 行情快照获取器
type HTTPFetcher struct {
	// client HTTP 客户端
	client *http.Client
}

// NewHTTPFetcher 创建 HTTP 快照获取器
// 参数 timeoutMs: HTTP 请求超时时间（毫秒）
func NewHTTPFetcher(timeoutMs int) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeutil.Millis(timeoutMs),
		},
	}
}

// Fetch 获取行情快照
// 响应体可以是 {"data":[...]} 或裸数组；记录格式与推送帧一致，数值字段可为字符串。
// 参数 ctx: 上下文，用于取消请求
// 参数 url: 快照地址
// 返回: 行情记录列表（未经业务校验）
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]model.MarketData, error) {
	body, err := f.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("请求行情快照失败: %w", err)
	}

	records, err := decodeSnapshot(body)
	if err != nil {
		return nil, fmt.Errorf("解析行情快照失败: %w", err)
	}
	return records, nil
}

// decodeSnapshot 解析快照响应体
func decodeSnapshot(body []byte) ([]model.MarketData, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var resp snapshotResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("响应缺少 data 字段")
		}
		body = resp.Data
	}

	updates, err := feed.Parse(body)
	if err != nil {
		return nil, err
	}

	records := make([]model.MarketData, 0, len(updates))
	for _, u := range updates {
		if u.Op != feed.OpUpsert {
			return nil, fmt.Errorf("快照中不允许 %s 操作: %s", u.Op, u.AssetID)
		}
		records = append(records, u.Record)
	}
	return records, nil
}

// doRequest 执行 HTTP GET 请求
// 参数 ctx: 上下文
// 参数 url: 请求地址
// 返回: 响应体字节数组
func (f *HTTPFetcher) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("User-Agent", "market-data-cache/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态码错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	return body, nil
}
