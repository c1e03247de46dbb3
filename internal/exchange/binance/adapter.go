// Package binance 实现 Binance 交易所适配器。
// REST 地址: https://api.binance.com
// 流地址: 配置的公共流地址（wss://stream.binance.com:9443/ws）
// 心跳机制: 协议层 ping/pong 帧，服务端主动 ping，无应用层心跳报文
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"market-data-hub/internal/config"
	"market-data-hub/internal/core/model"
	"market-data-hub/internal/exchange"
	"market-data-hub/internal/metadata"
	"market-data-hub/internal/util/fastparse"
	"market-data-hub/internal/util/timeutil"
)

// validIntervals Binance 支持的 K 线周期
var validIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "1d": true,
}

// Adapter Binance 交易所适配器
type Adapter struct {
	// cfg 交易所连接配置
	cfg *config.ExchangeConfig
	// creds API 凭证（可为空，此时只访问公共行情）
	creds exchange.Credentials
	// symbolMaps Symbol 映射表（key 为 Canon）
	symbolMaps map[string]*metadata.SymbolMap
	// rest REST 客户端
	rest *exchange.RESTClient
	// logger 日志记录器
	logger *zap.Logger

	// sessionMu 会话状态锁
	sessionMu sync.Mutex
	// listenKey 当前用户数据流 listenKey，未认证时为空
	listenKey string
	// reqID 订阅请求 ID 计数器
	reqID int64
}

// New 创建 Binance 适配器
func New(cfg *config.ExchangeConfig, creds exchange.Credentials, symbolMaps map[string]*metadata.SymbolMap, logger *zap.Logger) *Adapter {
	return &Adapter{
		cfg:        cfg,
		creds:      creds,
		symbolMaps: symbolMaps,
		rest:       exchange.NewRESTClient(model.ExchangeBinance, cfg.RESTURL, time.Duration(cfg.RESTTimeoutMs)*time.Millisecond),
		logger:     logger.Named("binance"),
	}
}

// Name 返回交易所标识
func (a *Adapter) Name() string {
	return model.ExchangeBinance
}

// StreamURL 返回公共行情流地址
// Binance 行情流不需要 token，直接使用配置地址
func (a *Adapter) StreamURL() string {
	return a.cfg.StreamURL
}

// Authenticate 执行认证
// 有凭证时验证签名并创建 listenKey，无凭证时直接返回公共会话
func (a *Adapter) Authenticate(ctx context.Context) (*exchange.AuthResult, error) {
	if a.creds.IsZero() {
		return &exchange.AuthResult{StreamURL: a.cfg.StreamURL}, nil
	}

	if err := a.verifyCredentials(ctx); err != nil {
		return nil, err
	}
	key, err := a.requestListenKey(ctx)
	if err != nil {
		return nil, err
	}

	a.sessionMu.Lock()
	a.listenKey = key
	a.sessionMu.Unlock()

	a.logger.Info("listenKey 创建成功")

	return &exchange.AuthResult{
		SessionToken: key,
		StreamURL:    a.cfg.StreamURL,
		ExpiresAt:    time.Now().Add(listenKeyTTL),
	}, nil
}

// RenewSession 续期会话：保活当前 listenKey
// listenKey 已失效时返回 AuthError，监护器会触发完整重连
func (a *Adapter) RenewSession(ctx context.Context) error {
	a.sessionMu.Lock()
	key := a.listenKey
	a.sessionMu.Unlock()
	if key == "" {
		return nil
	}
	return a.keepAliveListenKey(ctx, key)
}

// SessionRenewalInterval 返回会话续期间隔
// 无凭证时无会话可续期
func (a *Adapter) SessionRenewalInterval() time.Duration {
	if a.creds.IsZero() {
		return 0
	}
	return renewalInterval
}

// streamsFor 构造指定交易对和频道的流名称列表
func (a *Adapter) streamsFor(symbolCanon string, kinds []model.ChannelKind) ([]string, error) {
	m, ok := a.symbolMaps[symbolCanon]
	if !ok {
		return nil, fmt.Errorf("未配置的交易对: %s", symbolCanon)
	}
	sym := strings.ToLower(m.BinanceSym)

	streams := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case model.ChannelOrderBook:
			streams = append(streams, sym+"@depth@100ms")
		case model.ChannelTrades:
			streams = append(streams, sym+"@trade")
		case model.ChannelCandles:
			streams = append(streams, sym+"@kline_1m")
		default:
			return nil, fmt.Errorf("不支持的频道类型: %s", kind)
		}
	}
	return streams, nil
}

// buildRequest 构造订阅/退订报文
// Binance 单条请求可携带多个流名称
func (a *Adapter) buildRequest(method, symbolCanon string, kinds []model.ChannelKind) ([]byte, error) {
	streams, err := a.streamsFor(symbolCanon, kinds)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wsRequest{
		Method: method,
		Params: streams,
		ID:     atomic.AddInt64(&a.reqID, 1),
	})
}

// BuildSubscribe 构造订阅报文
func (a *Adapter) BuildSubscribe(symbolCanon string, kinds []model.ChannelKind) ([]byte, error) {
	return a.buildRequest("SUBSCRIBE", symbolCanon, kinds)
}

// BuildUnsubscribe 构造退订报文
func (a *Adapter) BuildUnsubscribe(symbolCanon string, kinds []model.ChannelKind) ([]byte, error) {
	return a.buildRequest("UNSUBSCRIBE", symbolCanon, kinds)
}

// IsPong 判断消息是否为应用层 pong
// Binance 使用协议层 pong 帧，应用层消息永远不是 pong
func (a *Adapter) IsPong(data []byte) bool {
	return false
}

// AppPing 返回应用层 ping 报文
// Binance 使用协议层 ping 帧，无应用层 ping
func (a *Adapter) AppPing() ([]byte, bool) {
	return nil, false
}

// Probe 探测服务端可用性
func (a *Adapter) Probe(ctx context.Context) error {
	if err := a.rest.GetJSON(ctx, "/api/v3/ping", nil); err != nil {
		return fmt.Errorf("探测 Binance 服务失败: %w", err)
	}
	return nil
}

// FetchOrderBook 通过 REST 获取订单簿快照
func (a *Adapter) FetchOrderBook(ctx context.Context, symbolCanon string) (*model.BookDelta, error) {
	m, ok := a.symbolMaps[symbolCanon]
	if !ok {
		return nil, fmt.Errorf("未配置的交易对: %s", symbolCanon)
	}

	var d restDepth
	if err := a.rest.GetJSON(ctx, "/api/v3/depth?symbol="+m.BinanceSym+"&limit=100", &d); err != nil {
		return nil, fmt.Errorf("获取 Binance 订单簿失败: %w", err)
	}

	return &model.BookDelta{
		Bids:         parseLevels(d.Bids),
		Asks:         parseLevels(d.Asks),
		ExchTsUnixMs: timeutil.NowMs(),
		Seq:          d.LastUpdateID,
	}, nil
}

// FetchPairs 通过 REST 获取可用交易对列表
func (a *Adapter) FetchPairs(ctx context.Context) ([]model.Pair, error) {
	var info restExchangeInfo
	if err := a.rest.GetJSON(ctx, "/api/v3/exchangeInfo", &info); err != nil {
		return nil, fmt.Errorf("获取 Binance 交易对失败: %w", err)
	}

	pairs := make([]model.Pair, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		pairs = append(pairs, model.Pair{
			SymbolCanon: s.Symbol,
			Native:      s.Symbol,
			Base:        s.BaseAsset,
			Quote:       s.QuoteAsset,
		})
	}
	return pairs, nil
}

// FetchCandles 通过 REST 获取历史 K 线
// Binance 返回 [openTime, open, high, low, close, volume, closeTime, ...]，
// 时间为数字毫秒，价格为字符串，时间升序
func (a *Adapter) FetchCandles(ctx context.Context, symbolCanon, interval string, limit int) ([]model.Candle, error) {
	m, ok := a.symbolMaps[symbolCanon]
	if !ok {
		return nil, fmt.Errorf("未配置的交易对: %s", symbolCanon)
	}
	if !validIntervals[interval] {
		return nil, fmt.Errorf("不支持的 K 线周期: %s", interval)
	}
	if limit <= 0 {
		limit = 100
	}

	var rows [][]json.RawMessage
	path := fmt.Sprintf("/api/v3/klines?symbol=%s&interval=%s&limit=%d", m.BinanceSym, interval, limit)
	if err := a.rest.GetJSON(ctx, path, &rows); err != nil {
		return nil, fmt.Errorf("获取 Binance K 线失败: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("解析 Binance K 线时间失败: %w", err)
		}
		candles = append(candles, model.Candle{
			Interval:   interval,
			OpenTimeMs: openTime,
			Open:       cellFloat(row[1]),
			High:       cellFloat(row[2]),
			Low:        cellFloat(row[3]),
			Close:      cellFloat(row[4]),
			Volume:     cellFloat(row[5]),
			Closed:     true,
		})
	}
	return candles, nil
}

// FetchRecentTrades 通过 REST 获取最近成交
func (a *Adapter) FetchRecentTrades(ctx context.Context, symbolCanon string, limit int) ([]model.Trade, error) {
	m, ok := a.symbolMaps[symbolCanon]
	if !ok {
		return nil, fmt.Errorf("未配置的交易对: %s", symbolCanon)
	}
	if limit <= 0 {
		limit = 100
	}

	var rows []restTrade
	path := fmt.Sprintf("/api/v3/trades?symbol=%s&limit=%d", m.BinanceSym, limit)
	if err := a.rest.GetJSON(ctx, path, &rows); err != nil {
		return nil, fmt.Errorf("获取 Binance 最近成交失败: %w", err)
	}

	trades := make([]model.Trade, 0, len(rows))
	for _, r := range rows {
		trades = append(trades, model.Trade{
			TradeID:      fastparse.FormatInt(r.ID),
			Price:        fastparse.MustParseFloat(r.Price),
			Qty:          fastparse.MustParseFloat(r.Qty),
			Side:         sideFromMaker(r.IsBuyerMaker),
			ExchTsUnixMs: r.Time,
		})
	}
	return trades, nil
}

// sideFromMaker 根据买方 maker 标记推断主动方向
// 买方为 maker 表示卖方主动吃单
func sideFromMaker(isBuyerMaker bool) model.Side {
	if isBuyerMaker {
		return model.SideSell
	}
	return model.SideBuy
}

// parseLevels 解析 [[price, qty], ...] 字符串数组
func parseLevels(rows [][]string) []model.Level {
	levels := make([]model.Level, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		levels = append(levels, model.Level{
			Price: fastparse.MustParseFloat(row[0]),
			Qty:   fastparse.MustParseFloat(row[1]),
		})
	}
	return levels
}

// cellFloat 解析 K 线单元格（带引号的字符串数字）
func cellFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return fastparse.MustParseFloat(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	return 0
}
