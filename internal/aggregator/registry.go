// Package aggregator 处理器注册表。
package aggregator

import (
	"sync"

	"market-data-hub/internal/core/book"
	"market-data-hub/internal/core/model"
)

// BookHandler 订单簿更新处理器
// snap 为更新后的单交易所订单簿快照，处理器可安全持有
type BookHandler func(exchange, symbolCanon string, snap book.Snapshot)

// TradeHandler 成交处理器
type TradeHandler func(exchange, symbolCanon string, trade *model.Trade)

// CandleHandler K 线处理器
type CandleHandler func(exchange, symbolCanon string, candle *model.Candle)

// Registry 处理器注册表
// 注册/移除是显式调用，分发时复制当前处理器列表后迭代，
// 分发过程中允许并发注册或移除。
type Registry struct {
	// mu 注册表锁
	mu sync.RWMutex
	// nextID 处理器 ID 计数器
	nextID int64
	// bookHandlers 订单簿处理器
	bookHandlers map[int64]BookHandler
	// tradeHandlers 成交处理器
	tradeHandlers map[int64]TradeHandler
	// candleHandlers K 线处理器
	candleHandlers map[int64]CandleHandler
}

// NewRegistry 创建处理器注册表
func NewRegistry() *Registry {
	return &Registry{
		bookHandlers:   make(map[int64]BookHandler),
		tradeHandlers:  make(map[int64]TradeHandler),
		candleHandlers: make(map[int64]CandleHandler),
	}
}

// OnBookUpdate 注册订单簿处理器
// 返回: 用于移除的处理器 ID
func (r *Registry) OnBookUpdate(h BookHandler) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.bookHandlers[r.nextID] = h
	return r.nextID
}

// OnTrade 注册成交处理器
func (r *Registry) OnTrade(h TradeHandler) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.tradeHandlers[r.nextID] = h
	return r.nextID
}

// OnCandle 注册 K 线处理器
func (r *Registry) OnCandle(h CandleHandler) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.candleHandlers[r.nextID] = h
	return r.nextID
}

// Remove 移除处理器
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bookHandlers, id)
	delete(r.tradeHandlers, id)
	delete(r.candleHandlers, id)
}

// notifyBook 分发订单簿更新
func (r *Registry) notifyBook(exchange, symbolCanon string, snap book.Snapshot) {
	r.mu.RLock()
	handlers := make([]BookHandler, 0, len(r.bookHandlers))
	for _, h := range r.bookHandlers {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(exchange, symbolCanon, snap)
	}
}

// notifyTrade 分发成交
func (r *Registry) notifyTrade(exchange, symbolCanon string, trade *model.Trade) {
	r.mu.RLock()
	handlers := make([]TradeHandler, 0, len(r.tradeHandlers))
	for _, h := range r.tradeHandlers {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(exchange, symbolCanon, trade)
	}
}

// notifyCandle 分发 K 线
func (r *Registry) notifyCandle(exchange, symbolCanon string, candle *model.Candle) {
	r.mu.RLock()
	handlers := make([]CandleHandler, 0, len(r.candleHandlers))
	for _, h := range r.candleHandlers {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(exchange, symbolCanon, candle)
	}
}
