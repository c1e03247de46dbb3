// Package binance 定义 Binance 交易所消息类型。
package binance

import (
	"encoding/json"
)

// wsRequest Binance WebSocket 订阅/退订请求
type wsRequest struct {
	// Method 方法: SUBSCRIBE, UNSUBSCRIBE
	Method string `json:"method"`
	// Params 流名称列表，如 "btcusdt@depth@100ms"
	Params []string `json:"params"`
	// ID 请求 ID
	ID int64 `json:"id"`
}

// wsEnvelope 推送消息信封
// 仅解析事件类型和交易对用于路由，负载按类型二次解析
type wsEnvelope struct {
	// EventType 事件类型: depthUpdate, trade, kline
	EventType string `json:"e"`
	// EventTimeMs 事件时间（毫秒）
	EventTimeMs int64 `json:"E"`
	// Symbol 交易对（大写）
	Symbol string `json:"s"`
	// Result 订阅响应结果字段（成功为 null）
	Result json.RawMessage `json:"result"`
	// ID 订阅响应请求 ID
	ID int64 `json:"id"`
}

// depthUpdate 深度增量推送（depthUpdate）
// 字段映射：U/u 为首/末更新 ID，u -> BookDelta.Seq
type depthUpdate struct {
	// EventType 事件类型，固定为 depthUpdate
	// 必须显式映射 "e"，否则 encoding/json 大小写不敏感匹配会把字符串落到 "E" 上
	EventType string `json:"e"`
	// EventTimeMs 事件时间（毫秒）
	EventTimeMs int64 `json:"E"`
	// Symbol 交易对
	Symbol string `json:"s"`
	// FirstUpdateID 首个更新 ID
	FirstUpdateID int64 `json:"U"`
	// FinalUpdateID 末个更新 ID
	FinalUpdateID int64 `json:"u"`
	// Bids 买盘档位 [[price, qty], ...]（字符串）
	Bids [][]string `json:"b"`
	// Asks 卖盘档位 [[price, qty], ...]（字符串）
	Asks [][]string `json:"a"`
}

// tradeEvent 逐笔成交推送（trade）
type tradeEvent struct {
	// Symbol 交易对
	Symbol string `json:"s"`
	// TradeID 成交 ID
	TradeID int64 `json:"t"`
	// Price 成交价格（字符串）
	Price string `json:"p"`
	// Qty 成交数量（字符串）
	Qty string `json:"q"`
	// TradeTimeMs 成交时间（毫秒）
	TradeTimeMs int64 `json:"T"`
	// IsBuyerMaker 买方是否为 maker（true 表示主动卖出）
	IsBuyerMaker bool `json:"m"`
}

// klineEvent K 线推送（kline）
type klineEvent struct {
	// Symbol 交易对
	Symbol string `json:"s"`
	// Kline K 线负载
	Kline klinePayload `json:"k"`
}

// klinePayload K 线负载
type klinePayload struct {
	// OpenTimeMs 开盘时间（毫秒）
	OpenTimeMs int64 `json:"t"`
	// CloseTimeMs 收盘时间（毫秒）
	CloseTimeMs int64 `json:"T"`
	// Interval 周期，如 1m
	Interval string `json:"i"`
	// Open 开盘价（字符串）
	Open string `json:"o"`
	// Close 收盘价（字符串）
	Close string `json:"c"`
	// High 最高价（字符串）
	High string `json:"h"`
	// Low 最低价（字符串）
	Low string `json:"l"`
	// Volume 成交量（字符串）
	Volume string `json:"v"`
	// IsClosed 该根 K 线是否已收盘
	IsClosed bool `json:"x"`
}

// restDepth REST 订单簿快照
// API: GET /api/v3/depth?symbol=<symbol>&limit=<limit>
type restDepth struct {
	// LastUpdateID 末个更新 ID
	LastUpdateID int64 `json:"lastUpdateId"`
	// Bids 买盘档位
	Bids [][]string `json:"bids"`
	// Asks 卖盘档位
	Asks [][]string `json:"asks"`
}

// restExchangeInfo REST 交易对元数据
// API: GET /api/v3/exchangeInfo
type restExchangeInfo struct {
	// Symbols 交易对列表
	Symbols []restSymbol `json:"symbols"`
}

// restSymbol REST 交易对信息
type restSymbol struct {
	// Symbol 交易对，如 BTCUSDT
	Symbol string `json:"symbol"`
	// Status 状态: TRADING, BREAK
	Status string `json:"status"`
	// BaseAsset 基础币种
	BaseAsset string `json:"baseAsset"`
	// QuoteAsset 计价币种
	QuoteAsset string `json:"quoteAsset"`
}

// restTrade REST 最近成交
// API: GET /api/v3/trades?symbol=<symbol>&limit=<limit>
type restTrade struct {
	// ID 成交 ID
	ID int64 `json:"id"`
	// Price 成交价格（字符串）
	Price string `json:"price"`
	// Qty 成交数量（字符串）
	Qty string `json:"qty"`
	// Time 成交时间（毫秒）
	Time int64 `json:"time"`
	// IsBuyerMaker 买方是否为 maker
	IsBuyerMaker bool `json:"isBuyerMaker"`
}

// listenKeyResponse listenKey 响应
// API: POST /api/v3/userDataStream
type listenKeyResponse struct {
	// ListenKey 会话 listenKey
	ListenKey string `json:"listenKey"`
}
