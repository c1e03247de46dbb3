// Package engine 仓位引擎测试
package engine

import (
	"math"
	"testing"

	"go.uber.org/zap"

	"market-data-hub/internal/config"
	"market-data-hub/internal/core/model"
)

func newTestEngine(balance float64) *Engine {
	return New(config.EngineConfig{
		Enabled:        true,
		InitialBalance: balance,
		RiskPerTrade:   0.02,
	}, zap.NewNop())
}

func TestEngine_OpenAndClose(t *testing.T) {
	e := newTestEngine(10000)

	order, err := e.PlaceOrder("BTCUSDT", model.SideBuy, model.OrderMarket, 1, 100)
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if order.Status != model.OrderFilled {
		t.Fatalf("Status=%s, want filled", order.Status)
	}

	pos, ok := e.Position("BTCUSDT")
	if !ok {
		t.Fatalf("应存在持仓")
	}
	if pos.Size != 1 || pos.EntryPx != 100 {
		t.Fatalf("Size=%v EntryPx=%v, want 1/100", pos.Size, pos.EntryPx)
	}
	if got := e.Balance(); got != 9900 {
		t.Fatalf("Balance=%v, want 9900", got)
	}

	// 平仓：realized = (110 - 100) × 1 = 10
	if _, err := e.PlaceOrder("BTCUSDT", model.SideSell, model.OrderMarket, 1, 110); err != nil {
		t.Fatalf("平仓失败: %v", err)
	}
	if _, ok := e.Position("BTCUSDT"); ok {
		t.Fatalf("平仓后不应有持仓")
	}
	if got := e.RealizedPnL(); got != 10 {
		t.Fatalf("RealizedPnL=%v, want 10", got)
	}
	if got := e.Balance(); got != 10010 {
		t.Fatalf("Balance=%v, want 10010", got)
	}
}

func TestEngine_WeightedAverageEntry(t *testing.T) {
	e := newTestEngine(10000)

	e.PlaceOrder("BTCUSDT", model.SideBuy, model.OrderMarket, 1, 100)
	e.PlaceOrder("BTCUSDT", model.SideBuy, model.OrderMarket, 1, 110)

	pos, _ := e.Position("BTCUSDT")
	if pos.Size != 2 {
		t.Fatalf("Size=%v, want 2", pos.Size)
	}
	if pos.EntryPx != 105 {
		t.Fatalf("EntryPx=%v, want 105", pos.EntryPx)
	}
}

func TestEngine_PartialReduce(t *testing.T) {
	e := newTestEngine(10000)

	e.PlaceOrder("BTCUSDT", model.SideBuy, model.OrderMarket, 2, 100)
	// 减仓一半：realized = (120 - 100) × 1 = 20
	e.PlaceOrder("BTCUSDT", model.SideSell, model.OrderMarket, 1, 120)

	pos, _ := e.Position("BTCUSDT")
	if pos.Size != 1 {
		t.Fatalf("Size=%v, want 1", pos.Size)
	}
	if pos.EntryPx != 100 {
		t.Fatalf("减仓不应改变开仓均价: EntryPx=%v", pos.EntryPx)
	}
	if got := e.RealizedPnL(); got != 20 {
		t.Fatalf("RealizedPnL=%v, want 20", got)
	}
}

func TestEngine_CrossThroughZero(t *testing.T) {
	e := newTestEngine(10000)

	e.PlaceOrder("BTCUSDT", model.SideBuy, model.OrderMarket, 1, 100)
	// 穿仓：旧多头 1 全部在 90 实现 -10，剩余 -2 以 90 开空
	e.PlaceOrder("BTCUSDT", model.SideSell, model.OrderMarket, 3, 90)

	pos, _ := e.Position("BTCUSDT")
	if pos.Size != -2 {
		t.Fatalf("Size=%v, want -2", pos.Size)
	}
	if pos.EntryPx != 90 {
		t.Fatalf("EntryPx=%v, want 90", pos.EntryPx)
	}
	if got := e.RealizedPnL(); got != -10 {
		t.Fatalf("RealizedPnL=%v, want -10", got)
	}
}

func TestEngine_InsufficientBalance(t *testing.T) {
	e := newTestEngine(100)

	if _, err := e.PlaceOrder("BTCUSDT", model.SideBuy, model.OrderMarket, 2, 100); err == nil {
		t.Fatalf("余额不足应返回错误")
	}
	if got := len(e.Orders("")); got != 0 {
		t.Fatalf("被拒订单不应入历史: %d", got)
	}
	if got := e.Balance(); got != 100 {
		t.Fatalf("Balance=%v, want 100", got)
	}
}

func TestEngine_InvalidOrders(t *testing.T) {
	e := newTestEngine(10000)

	cases := []struct {
		name  string
		canon string
		side  model.Side
		qty   float64
		price float64
	}{
		{"空交易对", "", model.SideBuy, 1, 100},
		{"零数量", "BTCUSDT", model.SideBuy, 0, 100},
		{"负价格", "BTCUSDT", model.SideBuy, 1, -1},
		{"未知方向", "BTCUSDT", model.Side("hold"), 1, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.PlaceOrder(tc.canon, tc.side, model.OrderMarket, tc.qty, tc.price); err == nil {
				t.Fatalf("应返回错误")
			}
		})
	}
}

func TestEngine_LimitOrderFill(t *testing.T) {
	e := newTestEngine(10000)

	order, err := e.PlaceOrder("BTCUSDT", model.SideBuy, model.OrderLimit, 1, 95)
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	// 价格未触及限价，订单保持挂起
	e.MarkPrice("BTCUSDT", 100)
	if got := e.Orders("BTCUSDT")[0].Status; got != model.OrderPending {
		t.Fatalf("Status=%s, want pending", got)
	}

	// 价格跌破限价后以限价成交
	e.MarkPrice("BTCUSDT", 94)
	if got := e.Orders("BTCUSDT")[0].Status; got != model.OrderFilled {
		t.Fatalf("Status=%s, want filled", got)
	}
	pos, ok := e.Position("BTCUSDT")
	if !ok || pos.Size != 1 || pos.EntryPx != 95 {
		t.Fatalf("Size=%v EntryPx=%v, want 1/95", pos.Size, pos.EntryPx)
	}

	// 已成交的订单不能撤销
	if e.CancelOrder(order.ID) {
		t.Fatalf("已成交订单不应可撤销")
	}
}

func TestEngine_CancelOrder(t *testing.T) {
	e := newTestEngine(10000)

	order, _ := e.PlaceOrder("BTCUSDT", model.SideSell, model.OrderLimit, 1, 200)
	if !e.CancelOrder(order.ID) {
		t.Fatalf("挂起订单应可撤销")
	}

	// 撤销后价格触及也不成交
	e.MarkPrice("BTCUSDT", 210)
	if _, ok := e.Position("BTCUSDT"); ok {
		t.Fatalf("撤销的订单不应成交")
	}

	if e.CancelOrder("ord-999") {
		t.Fatalf("不存在的订单不应可撤销")
	}
}

func TestEngine_CalculatePositionSize(t *testing.T) {
	e := newTestEngine(10000)

	// size = 10000 × 0.02 / |100 - 95| = 40
	if got := e.CalculatePositionSize(100, 95); got != 40 {
		t.Fatalf("size=%v, want 40", got)
	}
	// 价格风险为 0 时返回 0
	if got := e.CalculatePositionSize(100, 100); got != 0 {
		t.Fatalf("size=%v, want 0", got)
	}
}

func TestEngine_MarkUpdatesUnrealized(t *testing.T) {
	e := newTestEngine(10000)

	var gotPositions []model.Position
	e.OnPositionUpdate(func(pos model.Position) {
		gotPositions = append(gotPositions, pos)
	})

	e.PlaceOrder("BTCUSDT", model.SideBuy, model.OrderMarket, 2, 100)
	e.MarkPrice("BTCUSDT", 105)

	pos, _ := e.Position("BTCUSDT")
	if pos.UnrealizedPnL != 10 {
		t.Fatalf("UnrealizedPnL=%v, want 10", pos.UnrealizedPnL)
	}
	if pos.MarkPx != 105 {
		t.Fatalf("MarkPx=%v, want 105", pos.MarkPx)
	}
	// 开仓一次、标记一次，各触发一次回调
	if len(gotPositions) != 2 {
		t.Fatalf("回调次数=%d, want 2", len(gotPositions))
	}

	// 未持仓的交易对标记不触发回调
	e.MarkPrice("ETHUSDT", 3000)
	if len(gotPositions) != 2 {
		t.Fatalf("无持仓标记不应触发回调")
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
