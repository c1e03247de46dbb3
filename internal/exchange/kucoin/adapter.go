// Package kucoin 实现 KuCoin 交易所适配器。
// REST 地址: https://api.kucoin.com
// 流地址: bullet token 接口下发（token 拼接在 URL 上）
// 心跳机制: 应用层 JSON ping/pong，间隔以服务端下发值为准
package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"market-data-hub/internal/config"
	"market-data-hub/internal/core/model"
	"market-data-hub/internal/exchange"
	"market-data-hub/internal/metadata"
	"market-data-hub/internal/util/fastparse"
)

// codeOK KuCoin REST 成功响应码
const codeOK = "200000"

// intervalMap 统一 K 线周期到 KuCoin 周期的映射
var intervalMap = map[string]string{
	"1m":  "1min",
	"3m":  "3min",
	"5m":  "5min",
	"15m": "15min",
	"30m": "30min",
	"1h":  "1hour",
	"4h":  "4hour",
	"1d":  "1day",
}

// Adapter KuCoin 交易所适配器
type Adapter struct {
	// cfg 交易所连接配置
	cfg *config.ExchangeConfig
	// creds API 凭证
	creds exchange.Credentials
	// symbolMaps Symbol 映射表（key 为 Canon）
	symbolMaps map[string]*metadata.SymbolMap
	// rest REST 客户端
	rest *exchange.RESTClient
	// logger 日志记录器
	logger *zap.Logger

	// sessionMu 会话状态锁
	sessionMu sync.Mutex
	// streamURL 当前流地址（含 token），认证前为空
	streamURL string
	// sessionToken 当前会话令牌
	sessionToken string
	// reqID 请求 ID 计数器
	reqID int64
}

// New 创建 KuCoin 适配器
// 参数 cfg: 交易所连接配置
// 参数 creds: API 凭证（可为空，此时使用公共 bullet token）
// 参数 symbolMaps: Symbol 映射表
// 参数 logger: 日志记录器
func New(cfg *config.ExchangeConfig, creds exchange.Credentials, symbolMaps map[string]*metadata.SymbolMap, logger *zap.Logger) *Adapter {
	return &Adapter{
		cfg:        cfg,
		creds:      creds,
		symbolMaps: symbolMaps,
		rest:       exchange.NewRESTClient(model.ExchangeKuCoin, cfg.RESTURL, time.Duration(cfg.RESTTimeoutMs)*time.Millisecond),
		logger:     logger.Named("kucoin"),
	}
}

// Name 返回交易所标识
func (a *Adapter) Name() string {
	return model.ExchangeKuCoin
}

// StreamURL 返回当前流地址
// 认证前返回空字符串，监护器会先触发认证
func (a *Adapter) StreamURL() string {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	return a.streamURL
}

// Authenticate 执行认证：请求 bullet token 并组装流地址
func (a *Adapter) Authenticate(ctx context.Context) (*exchange.AuthResult, error) {
	token, url, pingMs, err := a.requestBullet(ctx)
	if err != nil {
		return nil, err
	}

	a.sessionMu.Lock()
	a.sessionToken = token
	a.streamURL = url
	a.sessionMu.Unlock()

	a.logger.Info("bullet token 获取成功",
		zap.Int("ping_interval_ms", pingMs),
		zap.Bool("private", !a.creds.IsZero()))

	return &exchange.AuthResult{
		SessionToken:   token,
		StreamURL:      url,
		ExpiresAt:      time.Now().Add(tokenTTL),
		PingIntervalMs: pingMs,
	}, nil
}

// RenewSession 续期会话：重新请求 bullet token
// 新 token 在下次重连时生效
func (a *Adapter) RenewSession(ctx context.Context) error {
	_, err := a.Authenticate(ctx)
	return err
}

// SessionRenewalInterval 返回会话续期间隔
func (a *Adapter) SessionRenewalInterval() time.Duration {
	return renewalInterval
}

// topicsFor 构造指定交易对和频道的主题列表
func (a *Adapter) topicsFor(symbolCanon string, kinds []model.ChannelKind) ([]string, error) {
	m, ok := a.symbolMaps[symbolCanon]
	if !ok {
		return nil, fmt.Errorf("未配置的交易对: %s", symbolCanon)
	}

	topics := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case model.ChannelOrderBook:
			topics = append(topics, "/spotMarket/level2Depth50:"+m.KuCoinSym)
		case model.ChannelTrades:
			topics = append(topics, "/market/match:"+m.KuCoinSym)
		case model.ChannelCandles:
			topics = append(topics, "/market/candles:"+m.KuCoinSym+"_1min")
		default:
			return nil, fmt.Errorf("不支持的频道类型: %s", kind)
		}
	}
	return topics, nil
}

// buildRequests 构造订阅/退订报文
// KuCoin 每个主题一条请求，多条报文用换行拼接由监护器逐条发送
func (a *Adapter) buildRequests(reqType, symbolCanon string, kinds []model.ChannelKind) ([]byte, error) {
	topics, err := a.topicsFor(symbolCanon, kinds)
	if err != nil {
		return nil, err
	}

	// 单请求可用逗号分隔多个主题的交易对，但此处主题类型不同，逐条构造后合并
	reqs := make([]subscribeRequest, 0, len(topics))
	for _, topic := range topics {
		reqs = append(reqs, subscribeRequest{
			ID:             strconv.FormatInt(atomic.AddInt64(&a.reqID, 1), 10),
			Type:           reqType,
			Topic:          topic,
			PrivateChannel: false,
			Response:       true,
		})
	}

	if len(reqs) == 1 {
		return json.Marshal(reqs[0])
	}

	// 多条请求按 JSON 行拼接，由监护器按行拆分发送
	var out []byte
	for i, r := range reqs {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("序列化订阅请求失败: %w", err)
		}
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, data...)
	}
	return out, nil
}

// BuildSubscribe 构造订阅报文
func (a *Adapter) BuildSubscribe(symbolCanon string, kinds []model.ChannelKind) ([]byte, error) {
	return a.buildRequests("subscribe", symbolCanon, kinds)
}

// BuildUnsubscribe 构造退订报文
func (a *Adapter) BuildUnsubscribe(symbolCanon string, kinds []model.ChannelKind) ([]byte, error) {
	return a.buildRequests("unsubscribe", symbolCanon, kinds)
}

// IsPong 判断消息是否为应用层 pong
func (a *Adapter) IsPong(data []byte) bool {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return false
	}
	return msg.Type == "pong"
}

// AppPing 返回应用层 ping 报文
func (a *Adapter) AppPing() ([]byte, bool) {
	ping := pingRequest{
		ID:   strconv.FormatInt(atomic.AddInt64(&a.reqID, 1), 10),
		Type: "ping",
	}
	data, err := json.Marshal(ping)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Probe 探测服务端可用性
// 请求服务器时间接口，成功即视为可用
func (a *Adapter) Probe(ctx context.Context) error {
	var resp apiResponse
	if err := a.rest.GetJSON(ctx, "/api/v1/timestamp", &resp); err != nil {
		return fmt.Errorf("探测 KuCoin 服务失败: %w", err)
	}
	if resp.Code != codeOK {
		return fmt.Errorf("KuCoin 服务异常: code=%s", resp.Code)
	}
	return nil
}

// FetchOrderBook 通过 REST 获取订单簿快照
func (a *Adapter) FetchOrderBook(ctx context.Context, symbolCanon string) (*model.BookDelta, error) {
	m, ok := a.symbolMaps[symbolCanon]
	if !ok {
		return nil, fmt.Errorf("未配置的交易对: %s", symbolCanon)
	}

	var resp apiResponse
	if err := a.rest.GetJSON(ctx, "/api/v1/market/orderbook/level2_100?symbol="+m.KuCoinSym, &resp); err != nil {
		return nil, fmt.Errorf("获取 KuCoin 订单簿失败: %w", err)
	}
	if resp.Code != codeOK {
		return nil, fmt.Errorf("KuCoin 订单簿接口返回错误: code=%s msg=%s", resp.Code, resp.Msg)
	}

	var ob restOrderBook
	if err := json.Unmarshal(resp.Data, &ob); err != nil {
		return nil, fmt.Errorf("解析 KuCoin 订单簿失败: %w", err)
	}

	return &model.BookDelta{
		Bids:         parseLevels(ob.Bids),
		Asks:         parseLevels(ob.Asks),
		ExchTsUnixMs: ob.Time,
		Seq:          fastparse.MustParseInt(ob.Sequence),
	}, nil
}

// FetchPairs 通过 REST 获取可用交易对列表
func (a *Adapter) FetchPairs(ctx context.Context) ([]model.Pair, error) {
	var resp apiResponse
	if err := a.rest.GetJSON(ctx, "/api/v2/symbols", &resp); err != nil {
		return nil, fmt.Errorf("获取 KuCoin 交易对失败: %w", err)
	}
	if resp.Code != codeOK {
		return nil, fmt.Errorf("KuCoin 交易对接口返回错误: code=%s", resp.Code)
	}

	var syms []restSymbol
	if err := json.Unmarshal(resp.Data, &syms); err != nil {
		return nil, fmt.Errorf("解析 KuCoin 交易对失败: %w", err)
	}

	pairs := make([]model.Pair, 0, len(syms))
	for _, s := range syms {
		if !s.EnableTrading {
			continue
		}
		pairs = append(pairs, model.Pair{
			SymbolCanon: metadata.NormalizeToCanon(s.Symbol),
			Native:      s.Symbol,
			Base:        s.BaseCurrency,
			Quote:       s.QuoteCurrency,
		})
	}
	return pairs, nil
}

// FetchCandles 通过 REST 获取历史 K 线
// KuCoin 返回 [time, open, close, high, low, volume, turnover]，time 为秒，最新在前
func (a *Adapter) FetchCandles(ctx context.Context, symbolCanon, interval string, limit int) ([]model.Candle, error) {
	m, ok := a.symbolMaps[symbolCanon]
	if !ok {
		return nil, fmt.Errorf("未配置的交易对: %s", symbolCanon)
	}
	kcInterval, ok := intervalMap[interval]
	if !ok {
		return nil, fmt.Errorf("不支持的 K 线周期: %s", interval)
	}

	var resp apiResponse
	path := fmt.Sprintf("/api/v1/market/candles?type=%s&symbol=%s", kcInterval, m.KuCoinSym)
	if err := a.rest.GetJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("获取 KuCoin K 线失败: %w", err)
	}
	if resp.Code != codeOK {
		return nil, fmt.Errorf("KuCoin K 线接口返回错误: code=%s", resp.Code)
	}

	var rows [][]string
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return nil, fmt.Errorf("解析 KuCoin K 线失败: %w", err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		candles = append(candles, model.Candle{
			Interval:   interval,
			OpenTimeMs: fastparse.MustParseInt(row[0]) * 1000,
			Open:       fastparse.MustParseFloat(row[1]),
			Close:      fastparse.MustParseFloat(row[2]),
			High:       fastparse.MustParseFloat(row[3]),
			Low:        fastparse.MustParseFloat(row[4]),
			Volume:     fastparse.MustParseFloat(row[5]),
			Closed:     true,
		})
		if limit > 0 && len(candles) >= limit {
			break
		}
	}

	// KuCoin 最新在前，反转为时间升序
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// FetchRecentTrades 通过 REST 获取最近成交
func (a *Adapter) FetchRecentTrades(ctx context.Context, symbolCanon string, limit int) ([]model.Trade, error) {
	m, ok := a.symbolMaps[symbolCanon]
	if !ok {
		return nil, fmt.Errorf("未配置的交易对: %s", symbolCanon)
	}

	var resp apiResponse
	if err := a.rest.GetJSON(ctx, "/api/v1/market/histories?symbol="+m.KuCoinSym, &resp); err != nil {
		return nil, fmt.Errorf("获取 KuCoin 最近成交失败: %w", err)
	}
	if resp.Code != codeOK {
		return nil, fmt.Errorf("KuCoin 成交接口返回错误: code=%s", resp.Code)
	}

	var rows []restTrade
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return nil, fmt.Errorf("解析 KuCoin 最近成交失败: %w", err)
	}

	trades := make([]model.Trade, 0, len(rows))
	for _, r := range rows {
		trades = append(trades, model.Trade{
			TradeID:      r.Sequence,
			Price:        fastparse.MustParseFloat(r.Price),
			Qty:          fastparse.MustParseFloat(r.Size),
			Side:         model.Side(r.Side),
			ExchTsUnixMs: r.Time / 1_000_000, // 纳秒转毫秒
		})
		if limit > 0 && len(trades) >= limit {
			break
		}
	}
	return trades, nil
}

// parseLevels 解析 [[price, size], ...] 字符串数组
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
