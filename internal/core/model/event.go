// Package model 定义行情中枢使用的核心数据结构。
// 包含归一化行情事件（订单簿增量、成交、K 线）、交易对、仓位、信号等核心类型。
package model

import (
	"time"
)

// Exchange 交易所标识常量
const (
	// ExchangeKuCoin KuCoin 交易所
	ExchangeKuCoin = "kucoin"
	// ExchangeBinance Binance 交易所
	ExchangeBinance = "binance"
	// ExchangeSushiSwap SushiSwap 聚合网关（DEX 变体，无认证）
	ExchangeSushiSwap = "sushiswap"
)

// Side 交易方向
type Side string

const (
	// SideBuy 买入方向
	SideBuy Side = "buy"
	// SideSell 卖出方向
	SideSell Side = "sell"
)

// ChannelKind 订阅频道类型
type ChannelKind string

const (
	// ChannelOrderBook 订单簿深度频道
	ChannelOrderBook ChannelKind = "orderbook"
	// ChannelTrades 逐笔成交频道
	ChannelTrades ChannelKind = "trades"
	// ChannelCandles K 线频道
	ChannelCandles ChannelKind = "candles"
)

// Level 订单簿深度档位
// 表示某一价格档位的价格和数量
type Level struct {
	// Price 价格
	Price float64
	// Qty 数量
	Qty float64
}

// EventKind 归一化事件类型
type EventKind int

const (
	// KindUnrecognized 未识别消息
	// 解析器不认识的消息类型，保留原始负载供排查
	KindUnrecognized EventKind = iota
	// KindBookDelta 订单簿增量/快照
	KindBookDelta
	// KindTrade 逐笔成交
	KindTrade
	// KindCandle K 线
	KindCandle
	// KindHeartbeat 心跳（应用层 pong 等）
	KindHeartbeat
)

// String 返回事件类型的文本表示
func (k EventKind) String() string {
	switch k {
	case KindBookDelta:
		return "book_delta"
	case KindTrade:
		return "trade"
	case KindCandle:
		return "candle"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unrecognized"
	}
}

// Event 统一行情事件
// 各交易所适配器将原始消息归一化为此结构，经 Supervisor 打上纪元标记后
// 送入聚合器分发
type Event struct {
	// Kind 事件类型
	Kind EventKind
	// Exchange 交易所标识: kucoin, binance, sushiswap
	Exchange string
	// SymbolCanon 统一交易对标识，如 BTCUSDT
	SymbolCanon string
	// Book 订单簿增量负载（Kind==KindBookDelta 时有效）
	Book *BookDelta
	// Trade 成交负载（Kind==KindTrade 时有效）
	Trade *Trade
	// Candle K 线负载（Kind==KindCandle 时有效）
	Candle *Candle
	// Raw 未识别消息的原始负载（Kind==KindUnrecognized 时有效，截断保存）
	Raw []byte
	// ArrivedAtUnixNs 本机收到消息的时间戳（纳秒）
	// 用于计算 feed 滞后统计
	ArrivedAtUnixNs int64
	// Epoch 连接纪元
	// 每次重建连接时递增，用于丢弃上一条连接残留的在途消息
	Epoch int64
}

// BookDelta 订单簿增量事件
// Bids/Asks 为交易所推送的档位集合（快照型频道即为全量）
type BookDelta struct {
	// Bids 买方档位
	Bids []Level
	// Asks 卖方档位
	Asks []Level
	// ExchTsUnixMs 交易所事件时间戳（毫秒），无此字段的交易所为 0
	ExchTsUnixMs int64
	// Seq 序列号/更新 ID，用于丢弃乱序旧更新；无此字段的交易所为 0
	Seq int64
}

// Trade 归一化成交事件
type Trade struct {
	// TradeID 成交唯一标识（交易所原始 ID）
	TradeID string
	// Price 成交价格
	Price float64
	// Qty 成交数量
	Qty float64
	// Side 主动方方向: buy 或 sell
	Side Side
	// ExchTsUnixMs 交易所成交时间戳（毫秒）
	ExchTsUnixMs int64
}

// Candle 归一化 K 线事件
type Candle struct {
	// Interval K 线周期，如 1m, 5m, 1h
	Interval string
	// OpenTimeMs K 线开盘时间（毫秒）
	OpenTimeMs int64
	// Open 开盘价
	Open float64
	// High 最高价
	High float64
	// Low 最低价
	Low float64
	// Close 收盘价
	Close float64
	// Volume 成交量（基础币种）
	Volume float64
	// Closed 该根 K 线是否已收盘
	Closed bool
}

// Pair 交易所可用交易对
// 由适配器的 REST 元数据接口返回
type Pair struct {
	// SymbolCanon 统一交易对标识，如 BTCUSDT
	SymbolCanon string
	// Native 交易所原生标识，如 BTC-USDT
	Native string
	// Base 基础币种，如 BTC
	Base string
	// Quote 计价币种，如 USDT
	Quote string
}

// ArrivedAt 获取到达时间的 time.Time 表示
func (e *Event) ArrivedAt() time.Time {
	return time.Unix(0, e.ArrivedAtUnixNs)
}

// ExchTs 获取交易所事件时间的 time.Time 表示
// 若无交易所时间戳则返回零值
func (e *Event) ExchTs() time.Time {
	var ms int64
	switch e.Kind {
	case KindBookDelta:
		if e.Book != nil {
			ms = e.Book.ExchTsUnixMs
		}
	case KindTrade:
		if e.Trade != nil {
			ms = e.Trade.ExchTsUnixMs
		}
	case KindCandle:
		if e.Candle != nil {
			ms = e.Candle.OpenTimeMs
		}
	}
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Clone 创建 Event 的深拷贝
func (e *Event) Clone() *Event {
	clone := *e
	if e.Book != nil {
		b := *e.Book
		if e.Book.Bids != nil {
			b.Bids = make([]Level, len(e.Book.Bids))
			copy(b.Bids, e.Book.Bids)
		}
		if e.Book.Asks != nil {
			b.Asks = make([]Level, len(e.Book.Asks))
			copy(b.Asks, e.Book.Asks)
		}
		clone.Book = &b
	}
	if e.Trade != nil {
		t := *e.Trade
		clone.Trade = &t
	}
	if e.Candle != nil {
		c := *e.Candle
		clone.Candle = &c
	}
	if e.Raw != nil {
		clone.Raw = make([]byte, len(e.Raw))
		copy(clone.Raw, e.Raw)
	}
	return &clone
}
