// Package book 实现深度受限的本地订单簿。
// 每个交易所、交易对各维护一本；买方按价格降序、卖方按价格升序排列，
// 档位数不超过配置的最大深度，并用序列号丢弃乱序的旧更新。
package book

import (
	"sort"
	"sync"

	"market-data-hub/internal/core/model"
	"market-data-hub/internal/util/timeutil"
)

// DefaultMaxDepth 默认最大深度档位数
const DefaultMaxDepth = 20

// Entry 订单簿档位（带来源交易所标记）
// 合并簿中同一档位可能来自不同交易所，Exchange 字段用于区分
type Entry struct {
	// Price 价格
	Price float64
	// Qty 数量
	Qty float64
	// Exchange 来源交易所标识
	Exchange string
}

// Snapshot 订单簿快照
// 由 Snapshot() 拷贝生成，调用方可安全持有
type Snapshot struct {
	// SymbolCanon 统一交易对标识
	SymbolCanon string
	// Bids 买方档位（价格降序）
	Bids []Entry
	// Asks 卖方档位（价格升序）
	Asks []Entry
	// LastUpdateID 最后应用的序列号
	LastUpdateID int64
	// ExchTsUnixMs 最后更新的交易所时间戳（毫秒）
	ExchTsUnixMs int64
	// UpdatedAtUnixNs 最后更新的本机时间戳（纳秒）
	UpdatedAtUnixNs int64
}

// BestBid 获取快照中的最优买价档位
func (s *Snapshot) BestBid() (Entry, bool) {
	if len(s.Bids) == 0 {
		return Entry{}, false
	}
	return s.Bids[0], true
}

// BestAsk 获取快照中的最优卖价档位
func (s *Snapshot) BestAsk() (Entry, bool) {
	if len(s.Asks) == 0 {
		return Entry{}, false
	}
	return s.Asks[0], true
}

// MidPrice 计算中间价
// 任一侧为空时返回 0
func (s *Snapshot) MidPrice() float64 {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// Spread 计算买卖价差
// 任一侧为空时返回 0
func (s *Snapshot) Spread() float64 {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0
	}
	return ask.Price - bid.Price
}

// Volume 计算前 levels 档的买卖累计数量
// levels <= 0 时统计全部档位
func (s *Snapshot) Volume(levels int) (bidQty, askQty float64) {
	if levels <= 0 || levels > len(s.Bids) {
		levels = len(s.Bids)
	}
	for i := 0; i < levels; i++ {
		bidQty += s.Bids[i].Qty
	}
	n := len(s.Asks)
	if levels > n {
		levels = n
	}
	for i := 0; i < levels; i++ {
		askQty += s.Asks[i].Qty
	}
	return bidQty, askQty
}

// Book 单交易所订单簿
// 并发安全：写入走 ApplyDelta，读取通过 Snapshot 拷贝，
// 不向外暴露内部切片。
type Book struct {
	// mu 读写锁
	mu sync.RWMutex
	// exchange 所属交易所标识
	exchange string
	// symbolCanon 统一交易对标识
	symbolCanon string
	// maxDepth 最大深度档位数
	maxDepth int
	// bids 买方档位（价格降序）
	bids []Entry
	// asks 卖方档位（价格升序）
	asks []Entry
	// lastUpdateID 最后应用的序列号
	lastUpdateID int64
	// exchTsUnixMs 最后更新的交易所时间戳（毫秒）
	exchTsUnixMs int64
	// updatedAtUnixNs 最后更新的本机时间戳（纳秒）
	updatedAtUnixNs int64
}

// New 创建订单簿
// 参数 exchange: 交易所标识
// 参数 symbolCanon: 统一交易对标识
// 参数 maxDepth: 最大深度档位数，<=0 时使用 DefaultMaxDepth
func New(exchange, symbolCanon string, maxDepth int) *Book {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Book{
		exchange:    exchange,
		symbolCanon: symbolCanon,
		maxDepth:    maxDepth,
	}
}

// ApplyDelta 应用订单簿更新
// 规则：
//   - delta.Seq > 0 且不大于已应用的序列号时静默丢弃（乱序旧更新），返回 false
//   - 数量 <= 0 的档位被过滤掉
//   - 双方分别重排（买降序、卖升序）并截断到 maxDepth
//
// 返回: 更新是否被应用
func (b *Book) ApplyDelta(delta *model.BookDelta) bool {
	if delta == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// 序列号保护：小于等于当前序列号的更新视为过期
	if delta.Seq > 0 && b.lastUpdateID > 0 && delta.Seq <= b.lastUpdateID {
		return false
	}

	b.bids = normalizeSide(delta.Bids, b.exchange, b.maxDepth, true)
	b.asks = normalizeSide(delta.Asks, b.exchange, b.maxDepth, false)

	if delta.Seq > 0 {
		b.lastUpdateID = delta.Seq
	}
	if delta.ExchTsUnixMs > 0 {
		b.exchTsUnixMs = delta.ExchTsUnixMs
	}
	b.updatedAtUnixNs = timeutil.NowNano()

	return true
}

// normalizeSide 过滤、排序并截断单侧档位
// 参数 desc: true 表示价格降序（买方），false 表示升序（卖方）
func normalizeSide(levels []model.Level, exchange string, maxDepth int, desc bool) []Entry {
	out := make([]Entry, 0, len(levels))
	for _, lv := range levels {
		if lv.Qty <= 0 || lv.Price <= 0 {
			continue
		}
		out = append(out, Entry{Price: lv.Price, Qty: lv.Qty, Exchange: exchange})
	}

	if desc {
		sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	}

	if len(out) > maxDepth {
		out = out[:maxDepth]
	}
	return out
}

// Snapshot 获取订单簿快照（深拷贝）
func (b *Book) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := Snapshot{
		SymbolCanon:     b.symbolCanon,
		LastUpdateID:    b.lastUpdateID,
		ExchTsUnixMs:    b.exchTsUnixMs,
		UpdatedAtUnixNs: b.updatedAtUnixNs,
	}
	if len(b.bids) > 0 {
		snap.Bids = make([]Entry, len(b.bids))
		copy(snap.Bids, b.bids)
	}
	if len(b.asks) > 0 {
		snap.Asks = make([]Entry, len(b.asks))
		copy(snap.Asks, b.asks)
	}
	return snap
}

// BestBid 获取最优买价档位
func (b *Book) BestBid() (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 {
		return Entry{}, false
	}
	return b.bids[0], true
}

// BestAsk 获取最优卖价档位
func (b *Book) BestAsk() (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 {
		return Entry{}, false
	}
	return b.asks[0], true
}

// MidPrice 计算中间价，任一侧为空时返回 0
func (b *Book) MidPrice() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// Spread 计算买卖价差，任一侧为空时返回 0
func (b *Book) Spread() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0
	}
	return ask.Price - bid.Price
}

// Depth 获取当前买卖档位数
func (b *Book) Depth() (bids, asks int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bids), len(b.asks)
}

// LastUpdateID 获取最后应用的序列号
func (b *Book) LastUpdateID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

// Exchange 获取所属交易所标识
func (b *Book) Exchange() string {
	return b.exchange
}

// SymbolCanon 获取统一交易对标识
func (b *Book) SymbolCanon() string {
	return b.symbolCanon
}

// Merge 合并多本订单簿为一本聚合快照
// 各簿档位带交易所标记合并后重排，价格相同的档位并列保留，
// 截断到 maxDepth；maxDepth <= 0 时使用 DefaultMaxDepth。
func Merge(symbolCanon string, maxDepth int, snaps ...Snapshot) Snapshot {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	merged := Snapshot{SymbolCanon: symbolCanon}
	for _, s := range snaps {
		merged.Bids = append(merged.Bids, s.Bids...)
		merged.Asks = append(merged.Asks, s.Asks...)
		if s.ExchTsUnixMs > merged.ExchTsUnixMs {
			merged.ExchTsUnixMs = s.ExchTsUnixMs
		}
		if s.UpdatedAtUnixNs > merged.UpdatedAtUnixNs {
			merged.UpdatedAtUnixNs = s.UpdatedAtUnixNs
		}
	}

	sort.SliceStable(merged.Bids, func(i, j int) bool { return merged.Bids[i].Price > merged.Bids[j].Price })
	sort.SliceStable(merged.Asks, func(i, j int) bool { return merged.Asks[i].Price < merged.Asks[j].Price })

	if len(merged.Bids) > maxDepth {
		merged.Bids = merged.Bids[:maxDepth]
	}
	if len(merged.Asks) > maxDepth {
		merged.Asks = merged.Asks[:maxDepth]
	}
	return merged
}
