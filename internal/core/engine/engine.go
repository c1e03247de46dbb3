// Package engine 实现基于行情的仓位引擎。
// 重要：仅做模拟撮合与仓位核算，严禁真实下单。
package engine

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"market-data-hub/internal/config"
	"market-data-hub/internal/core/model"
	"market-data-hub/internal/util/timeutil"
)

// PositionCallback 仓位更新回调
// 回调收到的是仓位快照副本，可安全持有
type PositionCallback func(pos model.Position)

// Engine 仓位引擎
// 市价单按调用方给定的价格立即成交；限价单挂起，
// 标记价格触及限价时成交。仓位采用净头寸模型：
// 同向加仓按数量加权均价，反向减仓按开仓均价实现盈亏。
type Engine struct {
	// cfg 引擎配置
	cfg config.EngineConfig
	// logger 日志记录器
	logger *zap.Logger

	// mu 状态锁
	mu sync.Mutex
	// balance 可用余额（计价币种）
	balance float64
	// realizedPnL 累计已实现盈亏
	realizedPnL float64
	// positions 当前持仓（按交易对）
	positions map[string]*model.Position
	// orders 订单历史（含挂起的限价单）
	orders []*model.Order
	// nextOrderID 订单 ID 计数器
	nextOrderID int64
	// callbacks 仓位更新回调
	callbacks []PositionCallback
}

// New 创建仓位引擎
func New(cfg config.EngineConfig, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		logger:    logger.Named("engine"),
		balance:   cfg.InitialBalance,
		positions: make(map[string]*model.Position),
	}
}

// OnPositionUpdate 注册仓位更新回调
// 回调在引擎内部锁外执行
func (e *Engine) OnPositionUpdate(cb PositionCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// CalculatePositionSize 按风险规则计算仓位大小
// 公式: size = balance × risk_per_trade / |entry - stop_loss|
// 价格风险为 0 时返回 0
func (e *Engine) CalculatePositionSize(entryPx, stopLoss float64) float64 {
	e.mu.Lock()
	balance := e.balance
	e.mu.Unlock()

	priceRisk := math.Abs(entryPx - stopLoss)
	if priceRisk == 0 {
		return 0
	}
	return balance * e.cfg.RiskPerTrade / priceRisk
}

// PlaceOrder 下单
// 市价单以 price 立即成交；限价单若不可成交则挂起等待标记价格触及。
// 买单需要 qty×price 的可用余额，不足时返回错误。
func (e *Engine) PlaceOrder(symbolCanon string, side model.Side, typ model.OrderType, qty, price float64) (*model.Order, error) {
	if symbolCanon == "" {
		return nil, fmt.Errorf("交易对不能为空")
	}
	if qty <= 0 {
		return nil, fmt.Errorf("数量必须为正数: %v", qty)
	}
	if price <= 0 {
		return nil, fmt.Errorf("价格必须为正数: %v", price)
	}
	if side != model.SideBuy && side != model.SideSell {
		return nil, fmt.Errorf("未知方向: %s", side)
	}

	e.mu.Lock()
	if side == model.SideBuy && qty*price > e.balance {
		e.mu.Unlock()
		return nil, fmt.Errorf("余额不足: 需要 %.2f，可用 %.2f", qty*price, e.balance)
	}

	e.nextOrderID++
	nowNs := timeutil.NowNano()
	order := &model.Order{
		ID:          fmt.Sprintf("ord-%d", e.nextOrderID),
		SymbolCanon: symbolCanon,
		Side:        side,
		Type:        typ,
		Qty:         qty,
		Price:       price,
		Status:      model.OrderPending,
		CreatedAt:   timeutil.NanoToTime(nowNs),
		CreatedAtNs: nowNs,
	}
	e.orders = append(e.orders, order)

	var updated []model.Position
	if typ == model.OrderMarket {
		updated = e.fillLocked(order, price)
	}
	e.mu.Unlock()

	e.notify(updated)
	return order, nil
}

// fillLocked 成交订单并更新仓位，调用方必须持有 e.mu
// 返回: 需要通知的仓位快照
func (e *Engine) fillLocked(order *model.Order, fillPx float64) []model.Position {
	order.Status = model.OrderFilled
	order.Price = fillPx

	notional := order.Qty * fillPx
	delta := order.Qty
	if order.Side == model.SideSell {
		e.balance += notional
		delta = -order.Qty
	} else {
		e.balance -= notional
	}

	nowNs := timeutil.NowNano()
	pos := e.positions[order.SymbolCanon]
	if pos == nil {
		pos = &model.Position{
			SymbolCanon: order.SymbolCanon,
			Size:        delta,
			EntryPx:     fillPx,
			MarkPx:      fillPx,
			UpdatedAt:   timeutil.NanoToTime(nowNs),
			UpdatedAtNs: nowNs,
		}
		e.positions[order.SymbolCanon] = pos
		e.logger.Info("开仓",
			zap.String("symbol", order.SymbolCanon),
			zap.Float64("size", pos.Size),
			zap.Float64("entry_px", pos.EntryPx))
		return []model.Position{*pos}
	}

	oldSize := pos.Size
	newSize := oldSize + delta

	switch {
	case sameSign(oldSize, newSize) && math.Abs(newSize) > math.Abs(oldSize):
		// 同向加仓：数量加权均价
		pos.EntryPx = (pos.EntryPx*math.Abs(oldSize) + fillPx*order.Qty) / math.Abs(newSize)
		pos.Size = newSize

	case newSize == 0:
		// 全部平仓：realized = (exit - entry) × size
		realized := (fillPx - pos.EntryPx) * oldSize
		pos.RealizedPnL += realized
		e.realizedPnL += realized
		pos.Size = 0
		pos.UnrealizedPnL = 0
		delete(e.positions, order.SymbolCanon)
		e.logger.Info("平仓",
			zap.String("symbol", order.SymbolCanon),
			zap.Float64("realized_pnl", realized))

	case sameSign(oldSize, newSize):
		// 反向减仓：按开仓均价实现减仓部分的盈亏
		closedQty := math.Abs(delta)
		realized := (fillPx - pos.EntryPx) * closedQty * sign(oldSize)
		pos.RealizedPnL += realized
		e.realizedPnL += realized
		pos.Size = newSize

	default:
		// 穿仓：先按旧仓位全部实现盈亏，剩余数量以成交价反向开仓
		realized := (fillPx - pos.EntryPx) * oldSize
		pos.RealizedPnL += realized
		e.realizedPnL += realized
		pos.Size = newSize
		pos.EntryPx = fillPx
	}

	pos.MarkTo(fillPx)
	pos.UpdatedAt = timeutil.NanoToTime(nowNs)
	pos.UpdatedAtNs = nowNs
	return []model.Position{*pos}
}

// MarkPrice 更新标记价格
// 重算未实现盈亏，并尝试成交该交易对的挂起限价单
func (e *Engine) MarkPrice(symbolCanon string, px float64) {
	if px <= 0 {
		return
	}

	e.mu.Lock()
	var updated []model.Position

	// 触发可成交的限价单：买单 mark <= limit，卖单 mark >= limit
	for _, order := range e.orders {
		if order.Status != model.OrderPending || order.SymbolCanon != symbolCanon {
			continue
		}
		if (order.Side == model.SideBuy && px <= order.Price) ||
			(order.Side == model.SideSell && px >= order.Price) {
			if order.Side == model.SideBuy && order.Qty*order.Price > e.balance {
				order.Status = model.OrderRejected
				e.logger.Warn("限价单触发时余额不足",
					zap.String("order_id", order.ID),
					zap.String("symbol", symbolCanon))
				continue
			}
			updated = append(updated, e.fillLocked(order, order.Price)...)
		}
	}

	if pos := e.positions[symbolCanon]; pos != nil {
		pos.MarkTo(px)
		nowNs := timeutil.NowNano()
		pos.UpdatedAt = timeutil.NanoToTime(nowNs)
		pos.UpdatedAtNs = nowNs
		updated = append(updated, *pos)
	}
	e.mu.Unlock()

	e.notify(updated)
}

// MarkPositions 批量更新标记价格
func (e *Engine) MarkPositions(prices map[string]float64) {
	for symbolCanon, px := range prices {
		e.MarkPrice(symbolCanon, px)
	}
}

// CancelOrder 撤销挂起的限价单
// 返回: 是否撤销成功；已成交或不存在的订单返回 false
func (e *Engine) CancelOrder(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, order := range e.orders {
		if order.ID == orderID && order.Status == model.OrderPending {
			order.Status = model.OrderRejected
			return true
		}
	}
	return false
}

// Position 获取指定交易对的持仓快照
func (e *Engine) Position(symbolCanon string) (model.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[symbolCanon]
	if !ok {
		return model.Position{}, false
	}
	return *pos, true
}

// Positions 获取所有持仓快照
func (e *Engine) Positions() []model.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	return out
}

// Orders 获取订单历史
// 参数 symbolCanon: 为空时返回全部
func (e *Engine) Orders(symbolCanon string) []model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Order, 0, len(e.orders))
	for _, order := range e.orders {
		if symbolCanon != "" && order.SymbolCanon != symbolCanon {
			continue
		}
		out = append(out, *order)
	}
	return out
}

// Balance 获取当前可用余额
func (e *Engine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// RealizedPnL 获取累计已实现盈亏
func (e *Engine) RealizedPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.realizedPnL
}

// notify 锁外分发仓位更新回调
func (e *Engine) notify(positions []model.Position) {
	if len(positions) == 0 {
		return
	}
	e.mu.Lock()
	callbacks := make([]PositionCallback, len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.mu.Unlock()

	for _, pos := range positions {
		for _, cb := range callbacks {
			cb(pos)
		}
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
