// Package aggregator 跨交易所行情汇聚。
// 从各监护器的事件通道扇入到有界分发队列，由独立的分发循环
// 更新订单簿与成交缓存并回调处理器——慢处理器只会拖慢分发循环，
// 不会阻塞任何连接的读取循环。
package aggregator

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"market-data-hub/internal/core/book"
	"market-data-hub/internal/core/model"
)

// Stats 分发统计
type Stats struct {
	// DispatchedCount 已分发事件数
	DispatchedCount int64
	// DroppedCount 因队列满被丢弃的事件数
	DroppedCount int64
}

// Aggregator 行情汇聚器
type Aggregator struct {
	// maxDepth 订单簿最大深度
	maxDepth int
	// tradeCacheSize 每个交易所、交易对的成交缓存条数
	tradeCacheSize int
	// logger 日志记录器
	logger *zap.Logger
	// registry 处理器注册表
	registry *Registry

	// mu 状态锁，保护 books 和 trades
	mu sync.RWMutex
	// books 按交易所、交易对维护的订单簿
	// 第一层 key: exchange，第二层 key: SymbolCanon
	books map[string]map[string]*book.Book
	// trades 最近成交缓存（最新在末尾）
	trades map[string]map[string][]model.Trade

	// observer 事件观测钩子，必须在 Start 之前设置
	// 用于滞后统计等旁路消费，在分发循环内同步调用
	observer func(ev *model.Event)

	// queue 有界分发队列
	queue chan *model.Event
	// sourceWg 扇入 goroutine 汇合
	sourceWg sync.WaitGroup
	// dispatchWg 分发循环汇合
	dispatchWg sync.WaitGroup
	// done 关闭信号
	done chan struct{}
	// closeOnce 保证 Close 只执行一次
	closeOnce sync.Once
	// started 是否已启动
	started int32

	// dispatchedCount 已分发事件计数
	dispatchedCount int64
	// droppedCount 丢弃事件计数
	droppedCount int64
}

// New 创建行情汇聚器
// 参数 maxDepth: 订单簿最大深度
// 参数 queueSize: 分发队列长度
// 参数 tradeCacheSize: 成交缓存条数
// 参数 logger: 日志记录器
func New(maxDepth, queueSize, tradeCacheSize int, logger *zap.Logger) *Aggregator {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if tradeCacheSize <= 0 {
		tradeCacheSize = 200
	}
	return &Aggregator{
		maxDepth:       maxDepth,
		tradeCacheSize: tradeCacheSize,
		logger:         logger.Named("aggregator"),
		registry:       NewRegistry(),
		books:          make(map[string]map[string]*book.Book),
		trades:         make(map[string]map[string][]model.Trade),
		queue:          make(chan *model.Event, queueSize),
		done:           make(chan struct{}),
	}
}

// Registry 获取处理器注册表
func (a *Aggregator) Registry() *Registry {
	return a.registry
}

// SetObserver 设置事件观测钩子
// 必须在 Start 之前调用，钩子在分发循环内同步执行
func (a *Aggregator) SetObserver(fn func(ev *model.Event)) {
	a.observer = fn
}

// AddSource 接入一条事件源
// 必须在 Start 之前调用；事件源关闭后扇入 goroutine 自动退出
func (a *Aggregator) AddSource(events <-chan *model.Event) {
	a.sourceWg.Add(1)
	go func() {
		defer a.sourceWg.Done()
		for {
			select {
			case <-a.done:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case a.queue <- ev:
				default:
					atomic.AddInt64(&a.droppedCount, 1)
					a.logger.Warn("分发队列已满，丢弃事件",
						zap.String("exchange", ev.Exchange),
						zap.String("kind", ev.Kind.String()))
				}
			}
		}
	}()
}

// Start 启动分发循环
// 所有事件源关闭后队列自动关闭，分发循环随之退出
func (a *Aggregator) Start() {
	if !atomic.CompareAndSwapInt32(&a.started, 0, 1) {
		return
	}

	go func() {
		a.sourceWg.Wait()
		close(a.queue)
	}()

	a.dispatchWg.Add(1)
	go func() {
		defer a.dispatchWg.Done()
		for ev := range a.queue {
			a.dispatch(ev)
		}
	}()
}

// dispatch 处理单条事件：更新状态并回调处理器
func (a *Aggregator) dispatch(ev *model.Event) {
	atomic.AddInt64(&a.dispatchedCount, 1)

	if a.observer != nil {
		a.observer(ev)
	}

	switch ev.Kind {
	case model.KindBookDelta:
		if ev.Book == nil {
			return
		}
		b := a.bookFor(ev.Exchange, ev.SymbolCanon)
		if !b.ApplyDelta(ev.Book) {
			// 乱序旧更新被订单簿丢弃，不通知处理器
			return
		}
		a.registry.notifyBook(ev.Exchange, ev.SymbolCanon, b.Snapshot())

	case model.KindTrade:
		if ev.Trade == nil {
			return
		}
		a.cacheTrade(ev.Exchange, ev.SymbolCanon, *ev.Trade)
		a.registry.notifyTrade(ev.Exchange, ev.SymbolCanon, ev.Trade)

	case model.KindCandle:
		if ev.Candle == nil {
			return
		}
		a.registry.notifyCandle(ev.Exchange, ev.SymbolCanon, ev.Candle)

	default:
		// 心跳和未识别事件到此为止
	}
}

// bookFor 获取或创建指定交易所、交易对的订单簿
func (a *Aggregator) bookFor(exchange, symbolCanon string) *book.Book {
	a.mu.RLock()
	if exBooks, ok := a.books[exchange]; ok {
		if b, ok := exBooks[symbolCanon]; ok {
			a.mu.RUnlock()
			return b
		}
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	exBooks, ok := a.books[exchange]
	if !ok {
		exBooks = make(map[string]*book.Book)
		a.books[exchange] = exBooks
	}
	b, ok := exBooks[symbolCanon]
	if !ok {
		b = book.New(exchange, symbolCanon, a.maxDepth)
		exBooks[symbolCanon] = b
	}
	return b
}

// cacheTrade 写入成交缓存，超出容量时淘汰最旧的
func (a *Aggregator) cacheTrade(exchange, symbolCanon string, trade model.Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	exTrades, ok := a.trades[exchange]
	if !ok {
		exTrades = make(map[string][]model.Trade)
		a.trades[exchange] = exTrades
	}
	cache := append(exTrades[symbolCanon], trade)
	if len(cache) > a.tradeCacheSize {
		cache = cache[len(cache)-a.tradeCacheSize:]
	}
	exTrades[symbolCanon] = cache
}

// Book 获取指定交易所、交易对的订单簿快照
func (a *Aggregator) Book(exchange, symbolCanon string) (book.Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	exBooks, ok := a.books[exchange]
	if !ok {
		return book.Snapshot{}, false
	}
	b, ok := exBooks[symbolCanon]
	if !ok {
		return book.Snapshot{}, false
	}
	return b.Snapshot(), true
}

// AggregatedBook 合并所有交易所对该交易对的订单簿
// 价格相同的档位并列保留（流动性相加而非覆盖）
func (a *Aggregator) AggregatedBook(symbolCanon string) (book.Snapshot, bool) {
	a.mu.RLock()
	snaps := make([]book.Snapshot, 0, len(a.books))
	for _, exBooks := range a.books {
		if b, ok := exBooks[symbolCanon]; ok {
			snaps = append(snaps, b.Snapshot())
		}
	}
	a.mu.RUnlock()

	if len(snaps) == 0 {
		return book.Snapshot{}, false
	}
	return book.Merge(symbolCanon, a.maxDepth, snaps...), true
}

// BestPrice 跨交易所扫描最优价
// side 为 buy 时返回所有交易所中最低的卖价，
// side 为 sell 时返回最高的买价
func (a *Aggregator) BestPrice(symbolCanon string, side model.Side) (book.Entry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var best book.Entry
	found := false
	for _, exBooks := range a.books {
		b, ok := exBooks[symbolCanon]
		if !ok {
			continue
		}
		var entry book.Entry
		var has bool
		if side == model.SideBuy {
			entry, has = b.BestAsk()
		} else {
			entry, has = b.BestBid()
		}
		if !has {
			continue
		}
		if !found ||
			(side == model.SideBuy && entry.Price < best.Price) ||
			(side == model.SideSell && entry.Price > best.Price) {
			best = entry
			found = true
		}
	}
	return best, found
}

// RecentTrades 获取缓存的最近成交（最新在末尾）
// limit <= 0 时返回全部缓存
func (a *Aggregator) RecentTrades(exchange, symbolCanon string, limit int) []model.Trade {
	a.mu.RLock()
	defer a.mu.RUnlock()

	exTrades, ok := a.trades[exchange]
	if !ok {
		return nil
	}
	cache := exTrades[symbolCanon]
	if limit > 0 && len(cache) > limit {
		cache = cache[len(cache)-limit:]
	}
	out := make([]model.Trade, len(cache))
	copy(out, cache)
	return out
}

// Stats 获取分发统计
func (a *Aggregator) Stats() Stats {
	return Stats{
		DispatchedCount: atomic.LoadInt64(&a.dispatchedCount),
		DroppedCount:    atomic.LoadInt64(&a.droppedCount),
	}
}

// Close 关闭汇聚器
// 中止扇入，排空队列后分发循环退出
func (a *Aggregator) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		if atomic.LoadInt32(&a.started) == 0 {
			// 未启动时需自行关闭队列
			a.sourceWg.Wait()
			close(a.queue)
		}
		a.dispatchWg.Wait()
		a.logger.Info("汇聚器已关闭")
	})
	return nil
}
