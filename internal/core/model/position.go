// Package model 定义行情中枢使用的核心数据结构。
package model

import (
	"time"
)

// OrderType 订单类型
type OrderType string

const (
	// OrderMarket 市价单
	OrderMarket OrderType = "market"
	// OrderLimit 限价单
	OrderLimit OrderType = "limit"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	// OrderPending 待成交
	OrderPending OrderStatus = "pending"
	// OrderFilled 已成交
	OrderFilled OrderStatus = "filled"
	// OrderRejected 已拒绝（余额不足等）
	OrderRejected OrderStatus = "rejected"
)

// Order 模拟订单
// 仓位引擎内部撮合使用，不进行真实下单
type Order struct {
	// ID 订单唯一标识
	ID string
	// SymbolCanon 统一交易对标识
	SymbolCanon string
	// Side 交易方向: buy 或 sell
	Side Side
	// Type 订单类型: market 或 limit
	Type OrderType
	// Qty 数量（基础币种）
	Qty float64
	// Price 成交/限价价格
	Price float64
	// Status 订单状态
	Status OrderStatus
	// CreatedAt 创建时间
	CreatedAt time.Time
	// CreatedAtNs 创建时间（纳秒时间戳）
	CreatedAtNs int64
}

// Position 持仓
// Size 为正表示多头，为负表示空头
type Position struct {
	// SymbolCanon 统一交易对标识
	SymbolCanon string
	// Size 持仓数量，正为多头，负为空头
	Size float64
	// EntryPx 开仓均价
	EntryPx float64
	// MarkPx 最新标记价格（来自订单簿中间价）
	MarkPx float64
	// UnrealizedPnL 未实现盈亏（计价币种）
	UnrealizedPnL float64
	// RealizedPnL 已实现盈亏（计价币种）
	RealizedPnL float64
	// UpdatedAt 最后更新时间
	UpdatedAt time.Time
	// UpdatedAtNs 最后更新时间（纳秒时间戳）
	UpdatedAtNs int64
}

// IsLong 判断是否为多头仓位
func (p *Position) IsLong() bool {
	return p.Size > 0
}

// IsShort 判断是否为空头仓位
func (p *Position) IsShort() bool {
	return p.Size < 0
}

// IsFlat 判断是否为空仓
func (p *Position) IsFlat() bool {
	return p.Size == 0
}

// Notional 计算持仓名义价值（按标记价格）
func (p *Position) Notional() float64 {
	size := p.Size
	if size < 0 {
		size = -size
	}
	return size * p.MarkPx
}

// MarkTo 按最新价格重算未实现盈亏
// 公式: (mark - entry) × size
func (p *Position) MarkTo(px float64) {
	p.MarkPx = px
	p.UnrealizedPnL = (px - p.EntryPx) * p.Size
}
