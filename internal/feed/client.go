// Package feed 实现行情推送 WebSocket 客户端。
// 服务端以文本帧推送 upsert/remove 消息，客户端解析后写入缓存。
// 心跳机制: WebSocket ping 控制帧，按配置间隔发送，超时未收到 pong 则重连。
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"market-data-cache/internal/config"
	"market-data-cache/internal/core/model"
	"market-data-cache/internal/core/store"
	"market-data-cache/internal/util/backoff"
	"market-data-cache/internal/util/timeutil"
)

// Sink 推送更新的写入目标（*store.Manager 满足该接口）
type Sink interface {
	Upsert(ctx context.Context, assetID string, md model.MarketData) error
	Remove(ctx context.Context, assetID string) error
}

// Client 行情推送 WebSocket 客户端
type Client struct {
	// cfg 推送配置（副本，已补齐心跳默认值）
	cfg config.FeedConfig
	// sink 更新写入目标
	sink Sink
	// logger 日志记录器
	logger *zap.Logger
	// conn WebSocket 连接
	conn *websocket.Conn
	// connMu 连接锁
	connMu sync.Mutex
	// metrics 连接指标
	metrics ConnectionMetrics
	// metricsMu 指标锁
	metricsMu sync.RWMutex
	// lastMsgTime 最后消息时间
	lastMsgTime int64
	// lastPingSentNs 上次发送 ping 的时间（纳秒）
	lastPingSentNs int64
	// lastPongRecvNs 上次收到 pong 的时间（纳秒）
	lastPongRecvNs int64
	// updateCount 更新计数（用于计算 QPS）
	updateCount int64
	// backoff 重连退避
	backoff *backoff.Backoff
	// closed 是否已关闭
	closed int32

	// parseErrSampleCount 解析错误计数（用于采样日志）
	parseErrSampleCount uint64
	// lastParseErrLogNs 上次解析错误日志时间（纳秒）
	lastParseErrLogNs int64
}

// 心跳默认值（与配置文件默认值一致）
const (
	defaultPingIntervalMs = 20000
	defaultPongTimeoutMs  = 10000
)

// NewClient 创建行情推送客户端
// 参数 cfg: 推送配置；心跳间隔、超时未设置（<=0）时使用默认值
// 参数 sink: 更新写入目标
// 参数 logger: 日志记录器，nil 时不输出
func NewClient(cfg *config.FeedConfig, sink Sink, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := *cfg
	if c.PingIntervalMs <= 0 {
		c.PingIntervalMs = defaultPingIntervalMs
	}
	if c.PongTimeoutMs <= 0 {
		c.PongTimeoutMs = defaultPongTimeoutMs
	}
	return &Client{
		cfg:     c,
		sink:    sink,
		logger:  logger.Named("feed"),
		backoff: backoff.NewDefault(),
	}
}

// Connect 建立 WebSocket 连接
// 参数 ctx: 上下文，用于取消连接
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "market-data-cache/1.0")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接行情推送失败: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		nowNs := timeutil.NowNano()
		atomic.StoreInt64(&c.lastPongRecvNs, nowNs)
		if lastPing := atomic.LoadInt64(&c.lastPingSentNs); lastPing > 0 {
			c.metricsMu.Lock()
			c.metrics.WsRttMs = int64(timeutil.DurationMs(lastPing, nowNs))
			c.metricsMu.Unlock()
		}
		return nil
	})

	c.conn = conn
	c.backoff.Reset()
	c.logger.Info("行情推送连接成功", zap.String("url", c.cfg.URL))

	return nil
}

// Run 启动客户端主循环，直到 ctx 取消
// 首次连接失败不会返回错误，而是按退避策略持续重连。
func (c *Client) Run(ctx context.Context) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil
	}
	if err := c.Connect(ctx); err != nil {
		c.logger.Warn("首次连接失败，进入重连", zap.Error(err))
	}

	go c.heartbeatLoop(ctx)
	go c.metricsLoop(ctx)

	// ctx 取消时关闭连接，使阻塞中的读取返回
	stop := context.AfterFunc(ctx, c.closeConn)
	defer stop()

	c.readLoop(ctx)
	return nil
}

// readLoop 读取循环
// 持续读取 WebSocket 消息并写入缓存
func (c *Client) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || atomic.LoadInt32(&c.closed) == 1 {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		if c.cfg.ReadTimeoutMs > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(timeutil.Millis(c.cfg.ReadTimeoutMs)))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || atomic.LoadInt32(&c.closed) == 1 {
				return
			}
			c.logger.Warn("读取推送消息失败", zap.Error(err))
			c.incrementReconnectCount()
			c.reconnect(ctx)
			continue
		}

		atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())

		updates, err := Parse(data)
		if err != nil {
			c.incrementParseErrorCount()
			c.maybeLogParseError(err, data)
			continue
		}

		for _, u := range updates {
			atomic.AddInt64(&c.updateCount, 1)
			c.apply(ctx, u)
		}
	}
}

// apply 将单条更新写入缓存
func (c *Client) apply(ctx context.Context, u Update) {
	var err error
	switch u.Op {
	case OpRemove:
		err = c.sink.Remove(ctx, u.AssetID)
	default:
		err = c.sink.Upsert(ctx, u.AssetID, u.Record)
	}

	c.metricsMu.Lock()
	if err != nil {
		c.metrics.Rejected++
	} else {
		c.metrics.Applied++
	}
	c.metricsMu.Unlock()

	if err == nil {
		return
	}
	if errors.Is(err, model.ErrValidation) || errors.Is(err, store.ErrNotFound) {
		c.logger.Debug("推送更新被拒绝", zap.String("op", u.Op), zap.String("asset_id", u.AssetID), zap.Error(err))
		return
	}
	c.logger.Warn("推送更新写入失败", zap.String("op", u.Op), zap.String("asset_id", u.AssetID), zap.Error(err))
}

// heartbeatLoop 心跳循环
// 按 ping_interval_ms 发送 ping，pong_timeout_ms 内未收到 pong 则断开重连
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(timeutil.Millis(c.cfg.PingIntervalMs))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			// 上一轮 ping 未按期收到 pong
			lastPing := atomic.LoadInt64(&c.lastPingSentNs)
			lastPong := atomic.LoadInt64(&c.lastPongRecvNs)
			if lastPing > 0 && lastPong < lastPing &&
				timeutil.NowNano()-lastPing > int64(c.cfg.PongTimeoutMs)*1_000_000 {
				c.logger.Warn("行情推送心跳超时，触发重连")
				atomic.StoreInt64(&c.lastPingSentNs, 0)
				c.closeConn()
				continue
			}

			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				continue
			}

			pingTime := timeutil.NowNano()
			deadline := time.Now().Add(timeutil.Millis(c.cfg.PongTimeoutMs))
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Warn("发送 ping 失败", zap.Error(err))
				continue
			}
			if lastPing == 0 || lastPong >= lastPing {
				atomic.StoreInt64(&c.lastPingSentNs, pingTime)
			}
		}
	}
}

// metricsLoop 指标统计循环
// 每秒计算 QPS
func (c *Client) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			count := atomic.LoadInt64(&c.updateCount)
			qps := float64(count - lastCount)
			lastCount = count

			lastMsg := atomic.LoadInt64(&c.lastMsgTime)
			var ageMs int64
			if lastMsg > 0 {
				ageMs = int64(timeutil.DurationMs(lastMsg, timeutil.NowNano()))
			}

			c.metricsMu.Lock()
			c.metrics.UpdatesPerSec = qps
			c.metrics.LastMessageAgeMs = ageMs
			c.metricsMu.Unlock()
		}
	}
}

// reconnect 重连
func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()

	c.logger.Info("行情推送准备重连", zap.Int("attempt", c.backoff.Attempt()+1))
	if err := c.backoff.Wait(ctx); err != nil {
		return
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("行情推送重连失败", zap.Error(err))
	}
}

// closeConn 关闭连接
func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.closeConn()
	c.logger.Info("行情推送客户端已关闭")
	return nil
}

// Metrics 获取连接指标
func (c *Client) Metrics() ConnectionMetrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

// incrementReconnectCount 增加重连计数
func (c *Client) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

// incrementParseErrorCount 增加解析错误计数
func (c *Client) incrementParseErrorCount() {
	c.metricsMu.Lock()
	c.metrics.ParseErrorCount++
	c.metricsMu.Unlock()
}

// maybeLogParseError 采样记录解析错误原始消息
// 采样策略：首条必记，之后每 100 次错误记录 1 条，且至少间隔 1 分钟。
func (c *Client) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&c.parseErrSampleCount, 1)
	if count != 1 && count%100 != 0 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&c.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&c.lastParseErrLogNs, nowNs)

	sample := data[:min(len(data), 200)]
	c.logger.Warn("解析推送消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
