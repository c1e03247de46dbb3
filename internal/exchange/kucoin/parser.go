// Package kucoin 实现 KuCoin 消息解析。
// 深度: /spotMarket/level2Depth50，无序列号（Seq=0），timestamp -> ExchTsUnixMs
// 成交: /market/match，time 为纳秒字符串
// K 线: /market/candles，candles 数组 [time, open, close, high, low, volume, turnover]
package kucoin

import (
	"encoding/json"
	"fmt"
	"strings"

	"market-data-hub/internal/core/model"
	"market-data-hub/internal/metadata"
	"market-data-hub/internal/util/fastparse"
	"market-data-hub/internal/util/timeutil"
)

// Parse 解析 KuCoin WebSocket 消息为归一化事件
// welcome/ack 等控制消息返回空切片；未识别主题返回 KindUnrecognized 事件
func (a *Adapter) Parse(data []byte) ([]*model.Event, error) {
	arrivedAt := timeutil.NowNano()

	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 KuCoin 消息失败: %w", err)
	}

	switch msg.Type {
	case "welcome", "ack":
		return nil, nil
	case "pong":
		return []*model.Event{{
			Kind:            model.KindHeartbeat,
			Exchange:        model.ExchangeKuCoin,
			ArrivedAtUnixNs: arrivedAt,
		}}, nil
	case "error":
		return nil, fmt.Errorf("KuCoin 服务端错误: code=%d", msg.Code)
	case "message":
		// 继续解析数据消息
	default:
		return []*model.Event{unrecognized(data, arrivedAt)}, nil
	}

	switch {
	case strings.HasPrefix(msg.Topic, "/spotMarket/level2Depth"):
		return a.parseDepth(&msg, arrivedAt)
	case strings.HasPrefix(msg.Topic, "/market/match:"):
		return a.parseMatch(&msg, arrivedAt)
	case strings.HasPrefix(msg.Topic, "/market/candles:"):
		return a.parseCandle(&msg, arrivedAt)
	default:
		return []*model.Event{unrecognized(data, arrivedAt)}, nil
	}
}

// parseDepth 解析深度推送
func (a *Adapter) parseDepth(msg *wsMessage, arrivedAt int64) ([]*model.Event, error) {
	canon, ok := a.canonFromTopic(msg.Topic)
	if !ok {
		return nil, nil
	}

	var d depthData
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		return nil, fmt.Errorf("解析 KuCoin 深度数据失败: %w", err)
	}

	return []*model.Event{{
		Kind:        model.KindBookDelta,
		Exchange:    model.ExchangeKuCoin,
		SymbolCanon: canon,
		Book: &model.BookDelta{
			Bids:         parseLevels(d.Bids),
			Asks:         parseLevels(d.Asks),
			ExchTsUnixMs: d.Timestamp,
			Seq:          0,
		},
		ArrivedAtUnixNs: arrivedAt,
	}}, nil
}

// parseMatch 解析成交推送
func (a *Adapter) parseMatch(msg *wsMessage, arrivedAt int64) ([]*model.Event, error) {
	canon, ok := a.canonFromTopic(msg.Topic)
	if !ok {
		return nil, nil
	}

	var m matchData
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		return nil, fmt.Errorf("解析 KuCoin 成交数据失败: %w", err)
	}

	return []*model.Event{{
		Kind:        model.KindTrade,
		Exchange:    model.ExchangeKuCoin,
		SymbolCanon: canon,
		Trade: &model.Trade{
			TradeID:      m.TradeID,
			Price:        fastparse.MustParseFloat(m.Price),
			Qty:          fastparse.MustParseFloat(m.Size),
			Side:         model.Side(m.Side),
			ExchTsUnixMs: fastparse.MustParseInt(m.Time) / 1_000_000, // 纳秒转毫秒
		},
		ArrivedAtUnixNs: arrivedAt,
	}}, nil
}

// parseCandle 解析 K 线推送
// subject 为 trade.candles.add 时表示该根 K 线已收盘
func (a *Adapter) parseCandle(msg *wsMessage, arrivedAt int64) ([]*model.Event, error) {
	canon, ok := a.canonFromTopic(msg.Topic)
	if !ok {
		return nil, nil
	}

	var c candleData
	if err := json.Unmarshal(msg.Data, &c); err != nil {
		return nil, fmt.Errorf("解析 KuCoin K 线数据失败: %w", err)
	}
	if len(c.Candles) < 6 {
		return nil, fmt.Errorf("KuCoin K 线数组长度不足: %d", len(c.Candles))
	}

	return []*model.Event{{
		Kind:        model.KindCandle,
		Exchange:    model.ExchangeKuCoin,
		SymbolCanon: canon,
		Candle: &model.Candle{
			Interval:   "1m",
			OpenTimeMs: fastparse.MustParseInt(c.Candles[0]) * 1000,
			Open:       fastparse.MustParseFloat(c.Candles[1]),
			Close:      fastparse.MustParseFloat(c.Candles[2]),
			High:       fastparse.MustParseFloat(c.Candles[3]),
			Low:        fastparse.MustParseFloat(c.Candles[4]),
			Volume:     fastparse.MustParseFloat(c.Candles[5]),
			Closed:     msg.Subject == "trade.candles.add",
		},
		ArrivedAtUnixNs: arrivedAt,
	}}, nil
}

// canonFromTopic 从主题中提取统一交易对标识
// 主题格式: <prefix>:<symbol> 或 <prefix>:<symbol>_<interval>
// 未配置的交易对返回 false（消息被静默忽略）
func (a *Adapter) canonFromTopic(topic string) (string, bool) {
	idx := strings.LastIndex(topic, ":")
	if idx < 0 || idx+1 >= len(topic) {
		return "", false
	}
	sym := topic[idx+1:]
	// K 线主题带 _<interval> 后缀
	if u := strings.Index(sym, "_"); u > 0 {
		sym = sym[:u]
	}

	canon := metadata.NormalizeToCanon(sym)
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
		Exchange:        model.ExchangeKuCoin,
		Raw:             cp,
		ArrivedAtUnixNs: arrivedAt,
	}
}
