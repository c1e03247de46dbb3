// Package lag 滞后追踪器测试
package lag

import (
	"testing"

	"market-data-hub/internal/core/model"
	"market-data-hub/internal/util/timeutil"
)

// bookEventWithLag 构造滞后为 lagMs 的订单簿事件
func bookEventWithLag(exchange string, lagMs int64) *model.Event {
	exchTsMs := int64(1_700_000_000_000)
	return &model.Event{
		Kind:            model.KindBookDelta,
		Exchange:        exchange,
		SymbolCanon:     "BTCUSDT",
		Book:            &model.BookDelta{ExchTsUnixMs: exchTsMs},
		ArrivedAtUnixNs: timeutil.MsToNano(exchTsMs + lagMs),
	}
}

func TestTracker_Quantiles(t *testing.T) {
	tr := NewTracker(1000)

	// 1..100ms 均匀分布
	for i := int64(1); i <= 100; i++ {
		tr.Observe(bookEventWithLag(model.ExchangeKuCoin, i))
	}

	stats := tr.Stats(model.ExchangeKuCoin)
	if stats.Count != 100 {
		t.Fatalf("Count=%d, want 100", stats.Count)
	}
	if stats.P50Ms != 50 {
		t.Fatalf("P50=%v, want 50", stats.P50Ms)
	}
	if stats.P95Ms != 95 {
		t.Fatalf("P95=%v, want 95", stats.P95Ms)
	}
	if stats.P99Ms != 99 {
		t.Fatalf("P99=%v, want 99", stats.P99Ms)
	}
}

func TestTracker_RollingEviction(t *testing.T) {
	tr := NewTracker(10)

	// 前 10 条滞后 1ms，后 10 条滞后 100ms，窗口只剩后者
	for i := 0; i < 10; i++ {
		tr.Observe(bookEventWithLag(model.ExchangeBinance, 1))
	}
	for i := 0; i < 10; i++ {
		tr.Observe(bookEventWithLag(model.ExchangeBinance, 100))
	}

	stats := tr.Stats(model.ExchangeBinance)
	if stats.Count != 20 {
		t.Fatalf("Count=%d, want 20（累计）", stats.Count)
	}
	if stats.P50Ms != 100 {
		t.Fatalf("P50=%v, want 100（旧样本已淘汰）", stats.P50Ms)
	}
}

func TestTracker_SkipsUnusableEvents(t *testing.T) {
	tr := NewTracker(100)

	// 无交易所时间戳
	tr.Observe(&model.Event{
		Kind:            model.KindBookDelta,
		Exchange:        model.ExchangeSushiSwap,
		Book:            &model.BookDelta{},
		ArrivedAtUnixNs: 1,
	})
	// 无到达时间
	tr.Observe(&model.Event{
		Kind:     model.KindBookDelta,
		Exchange: model.ExchangeSushiSwap,
		Book:     &model.BookDelta{ExchTsUnixMs: 1_700_000_000_000},
	})
	// 心跳与 K 线不参与统计
	tr.Observe(&model.Event{Kind: model.KindHeartbeat, Exchange: model.ExchangeSushiSwap, ArrivedAtUnixNs: 1})
	tr.Observe(&model.Event{Kind: model.KindCandle, Exchange: model.ExchangeSushiSwap, ArrivedAtUnixNs: 1})
	tr.Observe(nil)

	if got := tr.Stats(model.ExchangeSushiSwap).Count; got != 0 {
		t.Fatalf("Count=%d, want 0", got)
	}
}

func TestTracker_TradeEventsAndAllStats(t *testing.T) {
	tr := NewTracker(100)

	exchTsMs := int64(1_700_000_000_000)
	tr.Observe(&model.Event{
		Kind:            model.KindTrade,
		Exchange:        model.ExchangeBinance,
		Trade:           &model.Trade{ExchTsUnixMs: exchTsMs},
		ArrivedAtUnixNs: timeutil.MsToNano(exchTsMs + 5),
	})
	tr.Observe(bookEventWithLag(model.ExchangeKuCoin, 10))

	all := tr.AllStats()
	if len(all) != 2 {
		t.Fatalf("len=%d, want 2", len(all))
	}
	// 按交易所名排序
	if all[0].Exchange != model.ExchangeBinance || all[1].Exchange != model.ExchangeKuCoin {
		t.Fatalf("排序错误: %v %v", all[0].Exchange, all[1].Exchange)
	}
	if all[0].P50Ms != 5 {
		t.Fatalf("binance P50=%v, want 5", all[0].P50Ms)
	}
}
