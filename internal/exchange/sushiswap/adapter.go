// Package sushiswap 实现 SushiSwap 行情网关适配器。
// DEX 行情网关不需要凭证，也没有会话续期；
// 流协议为 Binance 风格组合流（{"stream":...,"data":...} 信封）。
// 心跳机制: 协议层 ping/pong 帧
package sushiswap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"market-data-hub/internal/config"
	"market-data-hub/internal/core/model"
	"market-data-hub/internal/exchange"
	"market-data-hub/internal/metadata"
	"market-data-hub/internal/util/fastparse"
)

// Adapter SushiSwap 行情网关适配器
type Adapter struct {
	// cfg 交易所连接配置
	cfg *config.ExchangeConfig
	// symbolMaps Symbol 映射表（key 为 Canon）
	symbolMaps map[string]*metadata.SymbolMap
	// rest REST 客户端
	rest *exchange.RESTClient
	// logger 日志记录器
	logger *zap.Logger
	// reqID 订阅请求 ID 计数器
	reqID int64
}

// New 创建 SushiSwap 适配器
func New(cfg *config.ExchangeConfig, symbolMaps map[string]*metadata.SymbolMap, logger *zap.Logger) *Adapter {
	return &Adapter{
		cfg:        cfg,
		symbolMaps: symbolMaps,
		rest:       exchange.NewRESTClient(model.ExchangeSushiSwap, cfg.RESTURL, time.Duration(cfg.RESTTimeoutMs)*time.Millisecond),
		logger:     logger.Named("sushiswap"),
	}
}

// Name 返回交易所标识
func (a *Adapter) Name() string {
	return model.ExchangeSushiSwap
}

// StreamURL 返回流地址
func (a *Adapter) StreamURL() string {
	return a.cfg.StreamURL
}

// Authenticate 执行认证
// DEX 网关无凭证，直接返回公共会话
func (a *Adapter) Authenticate(ctx context.Context) (*exchange.AuthResult, error) {
	return &exchange.AuthResult{StreamURL: a.cfg.StreamURL}, nil
}

// RenewSession 续期会话，DEX 网关无会话
func (a *Adapter) RenewSession(ctx context.Context) error {
	return nil
}

// SessionRenewalInterval 返回会话续期间隔，0 表示无需续期
func (a *Adapter) SessionRenewalInterval() time.Duration {
	return 0
}

// streamsFor 构造指定交易对和频道的流名称列表
// 网关只提供深度和成交流，没有 K 线流
func (a *Adapter) streamsFor(symbolCanon string, kinds []model.ChannelKind) ([]string, error) {
	m, ok := a.symbolMaps[symbolCanon]
	if !ok {
		return nil, fmt.Errorf("未配置的交易对: %s", symbolCanon)
	}
	sym := strings.ToLower(m.SushiSym)

	streams := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case model.ChannelOrderBook:
			streams = append(streams, sym+"@depth20@100ms")
		case model.ChannelTrades:
			streams = append(streams, sym+"@trade")
		default:
			return nil, fmt.Errorf("SushiSwap 不支持的频道类型: %s", kind)
		}
	}
	return streams, nil
}

// buildRequest 构造订阅/退订报文
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

// IsPong 判断消息是否为应用层 pong，网关使用协议层 pong 帧
func (a *Adapter) IsPong(data []byte) bool {
	return false
}

// AppPing 返回应用层 ping 报文，网关使用协议层 ping 帧
func (a *Adapter) AppPing() ([]byte, bool) {
	return nil, false
}

// Probe 探测网关可用性
func (a *Adapter) Probe(ctx context.Context) error {
	if err := a.rest.GetJSON(ctx, "/v1/ping", nil); err != nil {
		return fmt.Errorf("探测 SushiSwap 网关失败: %w", err)
	}
	return nil
}

// FetchOrderBook 通过 REST 获取订单簿快照
func (a *Adapter) FetchOrderBook(ctx context.Context, symbolCanon string) (*model.BookDelta, error) {
	m, ok := a.symbolMaps[symbolCanon]
	if !ok {
		return nil, fmt.Errorf("未配置的交易对: %s", symbolCanon)
	}

	var ob restOrderBook
	if err := a.rest.GetJSON(ctx, "/v1/orderbook/"+m.SushiSym+"?limit=100", &ob); err != nil {
		return nil, fmt.Errorf("获取 SushiSwap 订单簿失败: %w", err)
	}

	return &model.BookDelta{
		Bids:         parseLevels(ob.Bids),
		Asks:         parseLevels(ob.Asks),
		ExchTsUnixMs: ob.Timestamp,
		Seq:          ob.LastUpdateID,
	}, nil
}

// FetchPairs 通过 REST 获取可用交易对列表
// 网关返回 BASE/QUOTE 形式的交易对
func (a *Adapter) FetchPairs(ctx context.Context) ([]model.Pair, error) {
	var rows []restPair
	if err := a.rest.GetJSON(ctx, "/v1/pairs", &rows); err != nil {
		return nil, fmt.Errorf("获取 SushiSwap 交易对失败: %w", err)
	}

	pairs := make([]model.Pair, 0, len(rows))
	for _, r := range rows {
		pairs = append(pairs, model.Pair{
			SymbolCanon: metadata.NormalizeToCanon(r.Symbol),
			Native:      r.Symbol,
			Base:        r.Base,
			Quote:       r.Quote,
		})
	}
	return pairs, nil
}

// FetchCandles 网关不提供 K 线数据
func (a *Adapter) FetchCandles(ctx context.Context, symbolCanon, interval string, limit int) ([]model.Candle, error) {
	return nil, fmt.Errorf("SushiSwap 不支持 K 线数据")
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
	path := fmt.Sprintf("/v1/trades/%s?limit=%d", m.SushiSym, limit)
	if err := a.rest.GetJSON(ctx, path, &rows); err != nil {
		return nil, fmt.Errorf("获取 SushiSwap 最近成交失败: %w", err)
	}

	trades := make([]model.Trade, 0, len(rows))
	for _, r := range rows {
		trades = append(trades, model.Trade{
			TradeID:      r.ID,
			Price:        fastparse.MustParseFloat(r.Price),
			Qty:          fastparse.MustParseFloat(r.Amount),
			Side:         model.Side(r.Side),
			ExchTsUnixMs: r.Timestamp,
		})
	}
	return trades, nil
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
