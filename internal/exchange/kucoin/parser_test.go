// Package kucoin 消息解析测试
package kucoin

import (
	"testing"

	"go.uber.org/zap"

	"market-data-hub/internal/config"
	"market-data-hub/internal/core/model"
	"market-data-hub/internal/exchange"
	"market-data-hub/internal/metadata"
)

// newTestAdapter 创建测试用适配器
func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	maps, err := metadata.BuildSymbolMaps([]string{"BTC-USDT"})
	if err != nil {
		t.Fatalf("构建映射表失败: %v", err)
	}
	cfg := &config.ExchangeConfig{
		Name:    "kucoin",
		RESTURL: "https://api.kucoin.com",
	}
	return New(cfg, exchange.Credentials{}, maps, zap.NewNop())
}

// TestParse_Depth 测试深度消息解析
func TestParse_Depth(t *testing.T) {
	a := newTestAdapter(t)

	data := []byte(`{
		"type": "message",
		"topic": "/spotMarket/level2Depth50:BTC-USDT",
		"subject": "level2",
		"data": {
			"bids": [["50000.1", "1.5"], ["49999.9", "2.0"]],
			"asks": [["50000.5", "0.8"]],
			"timestamp": 1700000000000
		}
	}`)

	events, err := a.Parse(data)
	if err != nil {
		t.Fatalf("Parse 返回错误: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("事件数 = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.Kind != model.KindBookDelta {
		t.Errorf("Kind = %v, want KindBookDelta", ev.Kind)
	}
	if ev.Exchange != model.ExchangeKuCoin {
		t.Errorf("Exchange = %s, want kucoin", ev.Exchange)
	}
	if ev.SymbolCanon != "BTCUSDT" {
		t.Errorf("SymbolCanon = %s, want BTCUSDT", ev.SymbolCanon)
	}
	if len(ev.Book.Bids) != 2 || ev.Book.Bids[0].Price != 50000.1 || ev.Book.Bids[0].Qty != 1.5 {
		t.Errorf("Bids 解析错误: %+v", ev.Book.Bids)
	}
	if len(ev.Book.Asks) != 1 || ev.Book.Asks[0].Price != 50000.5 {
		t.Errorf("Asks 解析错误: %+v", ev.Book.Asks)
	}
	if ev.Book.ExchTsUnixMs != 1700000000000 {
		t.Errorf("ExchTsUnixMs = %d, want 1700000000000", ev.Book.ExchTsUnixMs)
	}
	if ev.ArrivedAtUnixNs == 0 {
		t.Error("ArrivedAtUnixNs 未设置")
	}
}

// TestParse_Match 测试成交消息解析
func TestParse_Match(t *testing.T) {
	a := newTestAdapter(t)

	data := []byte(`{
		"type": "message",
		"topic": "/market/match:BTC-USDT",
		"subject": "trade.l3match",
		"data": {
			"tradeId": "123456",
			"price": "50000.5",
			"size": "0.01",
			"side": "buy",
			"time": "1700000000000000000"
		}
	}`)

	events, err := a.Parse(data)
	if err != nil {
		t.Fatalf("Parse 返回错误: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.KindTrade {
		t.Fatalf("应解析出 1 条成交事件: %+v", events)
	}

	tr := events[0].Trade
	if tr.TradeID != "123456" || tr.Price != 50000.5 || tr.Qty != 0.01 {
		t.Errorf("成交字段解析错误: %+v", tr)
	}
	if tr.Side != model.SideBuy {
		t.Errorf("Side = %s, want buy", tr.Side)
	}
	if tr.ExchTsUnixMs != 1700000000000 {
		t.Errorf("ExchTsUnixMs = %d, want 1700000000000（纳秒转毫秒）", tr.ExchTsUnixMs)
	}
}

// TestParse_Candle 测试 K 线消息解析
func TestParse_Candle(t *testing.T) {
	a := newTestAdapter(t)

	data := []byte(`{
		"type": "message",
		"topic": "/market/candles:BTC-USDT_1min",
		"subject": "trade.candles.add",
		"data": {
			"symbol": "BTC-USDT",
			"candles": ["1700000000", "50000", "50100", "50200", "49900", "12.5", "625000"],
			"time": 1700000060000000000
		}
	}`)

	events, err := a.Parse(data)
	if err != nil {
		t.Fatalf("Parse 返回错误: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.KindCandle {
		t.Fatalf("应解析出 1 条 K 线事件: %+v", events)
	}

	c := events[0].Candle
	if c.OpenTimeMs != 1700000000000 {
		t.Errorf("OpenTimeMs = %d, want 1700000000000", c.OpenTimeMs)
	}
	if c.Open != 50000 || c.Close != 50100 || c.High != 50200 || c.Low != 49900 {
		t.Errorf("OHLC 解析错误: %+v", c)
	}
	if c.Volume != 12.5 {
		t.Errorf("Volume = %v, want 12.5", c.Volume)
	}
	if !c.Closed {
		t.Error("subject=trade.candles.add 时 Closed 应为 true")
	}
}

// TestParse_ControlMessages 测试控制消息
func TestParse_ControlMessages(t *testing.T) {
	a := newTestAdapter(t)

	// welcome / ack 返回空
	for _, raw := range []string{
		`{"id":"1","type":"welcome"}`,
		`{"id":"2","type":"ack"}`,
	} {
		events, err := a.Parse([]byte(raw))
		if err != nil || len(events) != 0 {
			t.Errorf("Parse(%s) = (%v, %v), want 空", raw, events, err)
		}
	}

	// pong 返回心跳事件
	events, err := a.Parse([]byte(`{"id":"3","type":"pong"}`))
	if err != nil || len(events) != 1 || events[0].Kind != model.KindHeartbeat {
		t.Errorf("pong 应解析为心跳事件: %+v, %v", events, err)
	}

	// error 返回错误
	if _, err := a.Parse([]byte(`{"id":"4","type":"error","code":404}`)); err == nil {
		t.Error("error 消息应返回错误")
	}
}

// TestParse_UnknownTopic 测试未识别主题
func TestParse_UnknownTopic(t *testing.T) {
	a := newTestAdapter(t)

	events, err := a.Parse([]byte(`{"type":"message","topic":"/account/balance","data":{}}`))
	if err != nil {
		t.Fatalf("Parse 返回错误: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.KindUnrecognized {
		t.Errorf("未知主题应返回 Unrecognized 事件: %+v", events)
	}
	if len(events[0].Raw) == 0 {
		t.Error("Unrecognized 事件应保留原始负载")
	}
}

// TestParse_UnconfiguredSymbol 测试未配置交易对被忽略
func TestParse_UnconfiguredSymbol(t *testing.T) {
	a := newTestAdapter(t)

	events, err := a.Parse([]byte(`{
		"type": "message",
		"topic": "/spotMarket/level2Depth50:DOGE-USDT",
		"data": {"bids": [["0.1","100"]], "asks": [], "timestamp": 1}
	}`))
	if err != nil {
		t.Fatalf("Parse 返回错误: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("未配置交易对应被忽略: %+v", events)
	}
}

// TestParse_InvalidJSON 测试无效 JSON
func TestParse_InvalidJSON(t *testing.T) {
	a := newTestAdapter(t)
	if _, err := a.Parse([]byte(`{invalid`)); err == nil {
		t.Error("无效 JSON 应返回错误")
	}
}

// TestIsPong 测试 pong 判断
func TestIsPong(t *testing.T) {
	a := newTestAdapter(t)
	if !a.IsPong([]byte(`{"id":"1","type":"pong"}`)) {
		t.Error("pong 消息应被识别")
	}
	if a.IsPong([]byte(`{"id":"1","type":"welcome"}`)) {
		t.Error("welcome 不应被识别为 pong")
	}
	if a.IsPong([]byte(`garbage`)) {
		t.Error("无效 JSON 不应被识别为 pong")
	}
}

// TestAppPing 测试应用层 ping 构造
func TestAppPing(t *testing.T) {
	a := newTestAdapter(t)
	data, ok := a.AppPing()
	if !ok {
		t.Fatal("KuCoin 应使用应用层 ping")
	}
	if a.IsPong(data) {
		t.Error("ping 报文不应被识别为 pong")
	}
}
