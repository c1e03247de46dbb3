// Package sushiswap 实现组合流消息解析。
// 信封: {"stream": "<symbol>@<channel>", "data": {...}}
// 深度流为全量快照（u 作为序列号），成交流为逐笔成交
package sushiswap

import (
	"encoding/json"
	"fmt"
	"strings"

	"market-data-hub/internal/core/model"
	"market-data-hub/internal/metadata"
	"market-data-hub/internal/util/fastparse"
	"market-data-hub/internal/util/timeutil"
)

// Parse 解析组合流消息为归一化事件
// 订阅响应（带 result 字段）返回空切片；未识别流返回 KindUnrecognized 事件
func (a *Adapter) Parse(data []byte) ([]*model.Event, error) {
	arrivedAt := timeutil.NowNano()

	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("解析 SushiSwap 消息失败: %w", err)
	}

	// 订阅/退订响应: {"result":null,"id":N}
	if env.Stream == "" && env.Result != nil {
		return nil, nil
	}

	switch {
	case strings.Contains(env.Stream, "@depth"):
		return a.parseDepth(env.Data, data, arrivedAt)
	case strings.Contains(env.Stream, "@trade"):
		return a.parseTrade(env.Data, data, arrivedAt)
	default:
		return []*model.Event{unrecognized(data, arrivedAt)}, nil
	}
}

// parseDepth 解析深度快照推送
func (a *Adapter) parseDepth(payload json.RawMessage, raw []byte, arrivedAt int64) ([]*model.Event, error) {
	var d depthData
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("解析 SushiSwap 深度数据失败: %w", err)
	}

	canon, ok := a.canonFor(d.Symbol)
	if !ok {
		return nil, nil
	}

	return []*model.Event{{
		Kind:        model.KindBookDelta,
		Exchange:    model.ExchangeSushiSwap,
		SymbolCanon: canon,
		Book: &model.BookDelta{
			Bids:         parseLevels(d.Bids),
			Asks:         parseLevels(d.Asks),
			ExchTsUnixMs: d.EventTimeMs,
			Seq:          d.UpdateID,
		},
		ArrivedAtUnixNs: arrivedAt,
	}}, nil
}

// parseTrade 解析成交推送
func (a *Adapter) parseTrade(payload json.RawMessage, raw []byte, arrivedAt int64) ([]*model.Event, error) {
	var t tradeData
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("解析 SushiSwap 成交数据失败: %w", err)
	}

	canon, ok := a.canonFor(t.Symbol)
	if !ok {
		return nil, nil
	}

	return []*model.Event{{
		Kind:        model.KindTrade,
		Exchange:    model.ExchangeSushiSwap,
		SymbolCanon: canon,
		Trade: &model.Trade{
			TradeID:      t.TradeID,
			Price:        fastparse.MustParseFloat(t.Price),
			Qty:          fastparse.MustParseFloat(t.Qty),
			Side:         model.Side(t.Side),
			ExchTsUnixMs: t.TradeTimeMs,
		},
		ArrivedAtUnixNs: arrivedAt,
	}}, nil
}

// canonFor 将推送中的交易对映射为统一标识
// 未配置的交易对返回 false（消息被静默忽略）
func (a *Adapter) canonFor(symbol string) (string, bool) {
	canon := metadata.NormalizeToCanon(symbol)
	if _, ok := a.symbolMaps[canon]; !ok {
		return "", false
	}
	return canon, true
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
		Exchange:        model.ExchangeSushiSwap,
		Raw:             cp,
		ArrivedAtUnixNs: arrivedAt,
	}
}
