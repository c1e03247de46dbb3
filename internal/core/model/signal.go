// Package model 定义行情中枢使用的核心数据结构。
package model

import (
	"time"
)

// SignalAction 信号动作
type SignalAction string

const (
	// ActionBuy 买入信号
	ActionBuy SignalAction = "buy"
	// ActionSell 卖出信号
	ActionSell SignalAction = "sell"
	// ActionHold 持仓不动
	ActionHold SignalAction = "hold"
)

// Signal 技术指标信号
// 由自动交易器基于 K 线指标规则生成
type Signal struct {
	// ID 信号唯一标识
	ID string
	// SymbolCanon 统一交易对标识，如 BTCUSDT
	SymbolCanon string
	// Action 信号动作: buy, sell, hold
	Action SignalAction
	// Price 触发信号时的收盘价
	Price float64
	// Reason 触发原因，如 "RSI 超卖" 或 "MA 金叉"
	Reason string
	// RSI 触发时的 RSI 值（无数据时为 0）
	RSI float64
	// FastMA 触发时的快线均值
	FastMA float64
	// SlowMA 触发时的慢线均值
	SlowMA float64
	// DetectedAt 信号检测时间
	DetectedAt time.Time
	// DetectedAtNs 信号检测时间（纳秒时间戳）
	DetectedAtNs int64
}

// IsActionable 判断信号是否需要执行（非 hold）
func (s *Signal) IsActionable() bool {
	return s.Action == ActionBuy || s.Action == ActionSell
}
