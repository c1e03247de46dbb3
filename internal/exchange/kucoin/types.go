// Package kucoin 定义 KuCoin 交易所消息类型。
package kucoin

import (
	"encoding/json"
)

// apiResponse KuCoin REST 统一响应信封
// code 为 "200000" 表示成功
type apiResponse struct {
	// Code 响应码
	Code string `json:"code"`
	// Msg 错误消息
	Msg string `json:"msg"`
	// Data 数据负载
	Data json.RawMessage `json:"data"`
}

// bulletData bullet token 响应数据
// API: POST /api/v1/bullet-private（无凭证时 bullet-public）
type bulletData struct {
	// Token 会话令牌，拼接到流地址后使用
	Token string `json:"token"`
	// InstanceServers 可用的 WebSocket 服务器列表
	InstanceServers []instanceServer `json:"instanceServers"`
}

// instanceServer WebSocket 服务器信息
type instanceServer struct {
	// Endpoint WebSocket 地址
	Endpoint string `json:"endpoint"`
	// Protocol 协议: websocket
	Protocol string `json:"protocol"`
	// PingInterval 服务端建议的心跳间隔（毫秒）
	PingInterval int `json:"pingInterval"`
	// PingTimeout 心跳超时（毫秒）
	PingTimeout int `json:"pingTimeout"`
}

// wsMessage KuCoin WebSocket 推送消息
// type: welcome, ack, pong, message, error
type wsMessage struct {
	// ID 消息 ID（welcome/ack/pong 携带）
	ID string `json:"id"`
	// Type 消息类型
	Type string `json:"type"`
	// Topic 主题，如 /spotMarket/level2Depth50:BTC-USDT
	Topic string `json:"topic"`
	// Subject 子主题，如 trade.l2update
	Subject string `json:"subject"`
	// Code 错误码（type=error 时携带）
	Code int `json:"code"`
	// Data 数据负载
	Data json.RawMessage `json:"data"`
}

// subscribeRequest KuCoin WebSocket 订阅/退订请求
type subscribeRequest struct {
	// ID 请求 ID
	ID string `json:"id"`
	// Type 请求类型: subscribe, unsubscribe
	Type string `json:"type"`
	// Topic 订阅主题
	Topic string `json:"topic"`
	// PrivateChannel 是否私有频道
	PrivateChannel bool `json:"privateChannel"`
	// Response 是否需要 ack 响应
	Response bool `json:"response"`
}

// pingRequest KuCoin 应用层 ping
type pingRequest struct {
	// ID 请求 ID
	ID string `json:"id"`
	// Type 固定为 ping
	Type string `json:"type"`
}

// depthData 深度推送数据
// Topic: /spotMarket/level2Depth50:<symbol>
type depthData struct {
	// Bids 买盘档位 [[price, size], ...]（字符串）
	Bids [][]string `json:"bids"`
	// Asks 卖盘档位 [[price, size], ...]（字符串）
	Asks [][]string `json:"asks"`
	// Timestamp 事件时间（毫秒）
	Timestamp int64 `json:"timestamp"`
}

// matchData 成交推送数据
// Topic: /market/match:<symbol>
type matchData struct {
	// TradeID 成交 ID
	TradeID string `json:"tradeId"`
	// Price 成交价格（字符串）
	Price string `json:"price"`
	// Size 成交数量（字符串）
	Size string `json:"size"`
	// Side 主动方方向: buy, sell
	Side string `json:"side"`
	// Time 成交时间（纳秒，字符串）
	Time string `json:"time"`
}

// candleData K 线推送数据
// Topic: /market/candles:<symbol>_<interval>
type candleData struct {
	// Symbol 交易对
	Symbol string `json:"symbol"`
	// Candles K 线数组 [time, open, close, high, low, volume, turnover]
	Candles []string `json:"candles"`
	// Time 推送时间（纳秒）
	Time int64 `json:"time"`
}

// restOrderBook REST 订单簿快照
// API: GET /api/v1/market/orderbook/level2_100?symbol=<symbol>
type restOrderBook struct {
	// Time 快照时间（毫秒）
	Time int64 `json:"time"`
	// Sequence 序列号（字符串）
	Sequence string `json:"sequence"`
	// Bids 买盘档位（价格降序）
	Bids [][]string `json:"bids"`
	// Asks 卖盘档位（价格升序）
	Asks [][]string `json:"asks"`
}

// restSymbol REST 交易对信息
// API: GET /api/v2/symbols
type restSymbol struct {
	// Symbol 交易对，如 BTC-USDT
	Symbol string `json:"symbol"`
	// BaseCurrency 基础币种
	BaseCurrency string `json:"baseCurrency"`
	// QuoteCurrency 计价币种
	QuoteCurrency string `json:"quoteCurrency"`
	// EnableTrading 是否可交易
	EnableTrading bool `json:"enableTrading"`
}

// restTrade REST 最近成交
// API: GET /api/v1/market/histories?symbol=<symbol>
type restTrade struct {
	// Sequence 序列号
	Sequence string `json:"sequence"`
	// Price 成交价格（字符串）
	Price string `json:"price"`
	// Size 成交数量（字符串）
	Size string `json:"size"`
	// Side 主动方方向
	Side string `json:"side"`
	// Time 成交时间（纳秒）
	Time int64 `json:"time"`
}
