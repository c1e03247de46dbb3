// Package binance 实现 Binance 消息解析。
// 深度: depthUpdate 事件，u（末个更新 ID）作为序列号
// 成交: trade 事件，m 标记推断主动方向
// K 线: kline 事件，x 标记收盘
package binance

import (
	"encoding/json"
	"fmt"

	"market-data-hub/internal/core/model"
	"market-data-hub/internal/util/fastparse"
	"market-data-hub/internal/util/timeutil"
)

// Parse 解析 Binance WebSocket 消息为归一化事件
// 订阅响应（带 result 字段）返回空切片；未识别事件返回 KindUnrecognized 事件
func (a *Adapter) Parse(data []byte) ([]*model.Event, error) {
	arrivedAt := timeutil.NowNano()

	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("解析 Binance 消息失败: %w", err)
	}

	// 订阅/退订响应: {"result":null,"id":N}
	if env.EventType == "" && env.Result != nil {
		return nil, nil
	}

	switch env.EventType {
	case "depthUpdate":
		return a.parseDepth(data, arrivedAt)
	case "trade":
		return a.parseTrade(data, arrivedAt)
	case "kline":
		return a.parseKline(data, arrivedAt)
	default:
		return []*model.Event{unrecognized(data, arrivedAt)}, nil
	}
}

// parseDepth 解析深度增量推送
func (a *Adapter) parseDepth(data []byte, arrivedAt int64) ([]*model.Event, error) {
	var d depthUpdate
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("解析 Binance 深度数据失败: %w", err)
	}

	canon, ok := a.canonFor(d.Symbol)
	if !ok {
		return nil, nil
	}

	return []*model.Event{{
		Kind:        model.KindBookDelta,
		Exchange:    model.ExchangeBinance,
		SymbolCanon: canon,
		Book: &model.BookDelta{
			Bids:         parseLevels(d.Bids),
			Asks:         parseLevels(d.Asks),
			ExchTsUnixMs: d.EventTimeMs,
			Seq:          d.FinalUpdateID,
		},
		ArrivedAtUnixNs: arrivedAt,
	}}, nil
}

// parseTrade 解析逐笔成交推送
func (a *Adapter) parseTrade(data []byte, arrivedAt int64) ([]*model.Event, error) {
	var t tradeEvent
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("解析 Binance 成交数据失败: %w", err)
	}

	canon, ok := a.canonFor(t.Symbol)
	if !ok {
		return nil, nil
	}

	return []*model.Event{{
		Kind:        model.KindTrade,
		Exchange:    model.ExchangeBinance,
		SymbolCanon: canon,
		Trade: &model.Trade{
			TradeID:      fastparse.FormatInt(t.TradeID),
			Price:        fastparse.MustParseFloat(t.Price),
			Qty:          fastparse.MustParseFloat(t.Qty),
			Side:         sideFromMaker(t.IsBuyerMaker),
			ExchTsUnixMs: t.TradeTimeMs,
		},
		ArrivedAtUnixNs: arrivedAt,
	}}, nil
}

// parseKline 解析 K 线推送
func (a *Adapter) parseKline(data []byte, arrivedAt int64) ([]*model.Event, error) {
	var k klineEvent
	if err := json.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("解析 Binance K 线数据失败: %w", err)
	}

	canon, ok := a.canonFor(k.Symbol)
	if !ok {
		return nil, nil
	}

	return []*model.Event{{
		Kind:        model.KindCandle,
		Exchange:    model.ExchangeBinance,
		SymbolCanon: canon,
		Candle: &model.Candle{
			Interval:   normalizeInterval(k.Kline.Interval),
			OpenTimeMs: k.Kline.OpenTimeMs,
			Open:       fastparse.MustParseFloat(k.Kline.Open),
			Close:      fastparse.MustParseFloat(k.Kline.Close),
			High:       fastparse.MustParseFloat(k.Kline.High),
			Low:        fastparse.MustParseFloat(k.Kline.Low),
			Volume:     fastparse.MustParseFloat(k.Kline.Volume),
			Closed:     k.Kline.IsClosed,
		},
		ArrivedAtUnixNs: arrivedAt,
	}}, nil
}

// canonFor 将推送中的交易对映射为统一标识
// Binance 原生符号与统一标识同形（如 BTCUSDT），只做配置过滤
func (a *Adapter) canonFor(symbol string) (string, bool) {
	if _, ok := a.symbolMaps[symbol]; ok {
		return symbol, true
	}
	return "", false
}

// normalizeInterval Binance 周期与统一周期格式一致
func normalizeInterval(interval string) string {
	if interval == "" {
		return "1m"
	}
	return interval
}

// unrecognized 构造未识别事件，原始负载截断保存
func unrecognized(data []byte, arrivedAt int64) *model.Event {
	raw := data
	if len(raw) > 200 {
		raw = raw[:200]
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return &model.Event{
		Kind:            model.KindUnrecognized,
		Exchange:        model.ExchangeBinance,
		Raw:             cp,
		ArrivedAtUnixNs: arrivedAt,
	}
}
