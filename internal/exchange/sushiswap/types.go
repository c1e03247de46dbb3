// Package sushiswap 定义 SushiSwap 行情网关消息类型。
package sushiswap

import (
	"encoding/json"
)

// wsRequest 订阅/退订请求（Binance 风格网关协议）
type wsRequest struct {
	// Method 方法: SUBSCRIBE, UNSUBSCRIBE
	Method string `json:"method"`
	// Params 流名称列表，如 "ethusdt@depth20@100ms"
	Params []string `json:"params"`
	// ID 请求 ID
	ID int64 `json:"id"`
}

// streamEnvelope 组合流信封: {"stream": "...", "data": {...}}
type streamEnvelope struct {
	// Stream 流名称
	Stream string `json:"stream"`
	// Data 负载
	Data json.RawMessage `json:"data"`
	// Result 订阅响应结果字段（成功为 null）
	Result json.RawMessage `json:"result"`
	// ID 订阅响应请求 ID
	ID int64 `json:"id"`
}

// depthData 深度快照推送
type depthData struct {
	// Symbol 交易对
	Symbol string `json:"s"`
	// EventTimeMs 事件时间（毫秒）
	EventTimeMs int64 `json:"E"`
	// UpdateID 更新 ID
	UpdateID int64 `json:"u"`
	// Bids 买盘档位 [[price, qty], ...]（字符串）
	Bids [][]string `json:"b"`
	// Asks 卖盘档位 [[price, qty], ...]（字符串）
	Asks [][]string `json:"a"`
}

// tradeData 成交推送
type tradeData struct {
	// Symbol 交易对
	Symbol string `json:"s"`
	// TradeID 成交 ID
	TradeID string `json:"id"`
	// Price 成交价格（字符串）
	Price string `json:"p"`
	// Qty 成交数量（字符串）
	Qty string `json:"q"`
	// Side 主动方向: buy, sell
	Side string `json:"side"`
	// TradeTimeMs 成交时间（毫秒）
	TradeTimeMs int64 `json:"T"`
}

// restPair REST 交易对信息
// API: GET /v1/pairs
type restPair struct {
	// Symbol 交易对，如 ETH/USDT
	Symbol string `json:"symbol"`
	// Base 基础币种
	Base string `json:"base"`
	// Quote 计价币种
	Quote string `json:"quote"`
}

// restOrderBook REST 订单簿快照
// API: GET /v1/orderbook/<symbol>
type restOrderBook struct {
	// LastUpdateID 更新 ID
	LastUpdateID int64 `json:"lastUpdateId"`
	// Timestamp 快照时间（毫秒）
	Timestamp int64 `json:"timestamp"`
	// Bids 买盘档位
	Bids [][]string `json:"bids"`
	// Asks 卖盘档位
	Asks [][]string `json:"asks"`
}

// restTrade REST 最近成交
// API: GET /v1/trades/<symbol>?limit=<limit>
type restTrade struct {
	// ID 成交 ID
	ID string `json:"id"`
	// Price 成交价格（字符串）
	Price string `json:"price"`
	// Amount 成交数量（字符串）
	Amount string `json:"amount"`
	// Side 主动方向
	Side string `json:"side"`
	// Timestamp 成交时间（毫秒）
	Timestamp int64 `json:"timestamp"`
}
