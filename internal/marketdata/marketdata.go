// Package marketdata 行情系统门面。
// 消费方（仓位引擎、自动交易器、界面）只通过门面接入：
// 注册交易所、建立连接、订阅频道、注册处理器、查询快照。
// 查询接口返回 (值, bool) 而非错误，连接健康通过状态查询观察。
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"market-data-hub/internal/aggregator"
	"market-data-hub/internal/config"
	"market-data-hub/internal/core/book"
	"market-data-hub/internal/core/model"
	"market-data-hub/internal/exchange"
	"market-data-hub/internal/supervisor"
)

// connectPollInterval 连接等待轮询间隔
const connectPollInterval = 50 * time.Millisecond

// MarketData 行情门面
type MarketData struct {
	// cfg 应用配置
	cfg *config.Config
	// logger 日志记录器
	logger *zap.Logger
	// agg 行情汇聚器
	agg *aggregator.Aggregator

	// mu 门面状态锁
	mu sync.Mutex
	// sups 各交易所的连接监护器
	sups map[string]*supervisor.Supervisor
	// adapters 各交易所的适配器
	adapters map[string]exchange.Adapter
	// subRefs 订阅引用计数: canon -> 消费方数量
	subRefs map[string]int
	// started 是否已启动
	started bool
	// closed 是否已关闭
	closed bool
}

// New 创建行情门面
func New(cfg *config.Config, logger *zap.Logger) *MarketData {
	return &MarketData{
		cfg:      cfg,
		logger:   logger.Named("marketdata"),
		agg:      aggregator.New(cfg.Book.MaxDepth, cfg.Dispatch.QueueSize, cfg.Dispatch.TradeCacheSize, logger),
		sups:     make(map[string]*supervisor.Supervisor),
		adapters: make(map[string]exchange.Adapter),
		subRefs:  make(map[string]int),
	}
}

// RegisterExchange 注册一个交易所
// 为其创建连接监护器并接入汇聚器；必须在 Connect 之前调用
func (m *MarketData) RegisterExchange(adapter exchange.Adapter, exCfg *config.ExchangeConfig) (*supervisor.Supervisor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := adapter.Name()
	if _, exists := m.sups[name]; exists {
		return nil, fmt.Errorf("交易所 %s 已注册", name)
	}
	if m.started {
		return nil, fmt.Errorf("已连接后不能注册交易所")
	}

	sup := supervisor.New(&m.cfg.Supervisor, exCfg, adapter, m.cfg.Dispatch.QueueSize, m.logger)
	m.sups[name] = sup
	m.adapters[name] = adapter
	m.agg.AddSource(sup.Events())

	m.logger.Info("交易所已注册", zap.String("exchange", name))
	return sup, nil
}

// SetEventObserver 设置原始事件观测钩子
// 在分发循环内同步调用，必须在 Connect 之前设置
func (m *MarketData) SetEventObserver(fn func(ev *model.Event)) {
	m.agg.SetObserver(fn)
}

// Registry 获取处理器注册表
func (m *MarketData) Registry() *aggregator.Registry {
	return m.agg.Registry()
}

// Connect 启动所有监护器并等待全部到达 Live
// 返回: 在 ctx 截止前所有交易所是否都已就绪；
// 返回 false 时连接仍在后台继续重试，可通过状态查询观察
func (m *MarketData) Connect(ctx context.Context) bool {
	m.mu.Lock()
	if !m.started {
		m.started = true
		m.agg.Start()
		for _, sup := range m.sups {
			sup.Start()
		}
	}
	sups := make([]*supervisor.Supervisor, 0, len(m.sups))
	for _, sup := range m.sups {
		sups = append(sups, sup)
	}
	m.mu.Unlock()

	for {
		allLive := true
		for _, sup := range sups {
			if sup.State().Phase != supervisor.PhaseLive {
				allLive = false
				break
			}
		}
		if allLive {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(connectPollInterval):
		}
	}
}

// Subscribe 订阅交易对
// 每次调用都向所有交易所下发，新增的频道由监护器合并补发，
// 已覆盖的频道在监护器层幂等跳过；引用计数只用于退订。
// 单个交易所订阅失败只记录日志（如 DEX 不支持 K 线），不影响其他交易所
func (m *MarketData) Subscribe(symbolCanon string, kinds []model.ChannelKind) error {
	m.mu.Lock()
	m.subRefs[symbolCanon]++
	sups := m.supsLocked()
	m.mu.Unlock()

	for _, sup := range sups {
		if err := sup.Subscribe(symbolCanon, kinds); err != nil {
			m.logger.Warn("订阅失败",
				zap.String("exchange", sup.Exchange()),
				zap.String("symbol", symbolCanon),
				zap.Error(err))
		}
	}
	return nil
}

// SubscribeToCandles 订阅 K 线频道
func (m *MarketData) SubscribeToCandles(symbolCanon string) error {
	return m.Subscribe(symbolCanon, []model.ChannelKind{model.ChannelCandles})
}

// Unsubscribe 退订交易对
// 最后一个消费方退订时向交易所下发交易所级退订
func (m *MarketData) Unsubscribe(symbolCanon string) error {
	m.mu.Lock()
	if m.subRefs[symbolCanon] == 0 {
		m.mu.Unlock()
		return nil
	}
	m.subRefs[symbolCanon]--
	last := m.subRefs[symbolCanon] == 0
	if last {
		delete(m.subRefs, symbolCanon)
	}
	sups := m.supsLocked()
	m.mu.Unlock()

	if !last {
		return nil
	}

	for _, sup := range sups {
		if err := sup.Unsubscribe(symbolCanon); err != nil {
			m.logger.Warn("退订失败",
				zap.String("exchange", sup.Exchange()),
				zap.String("symbol", symbolCanon),
				zap.Error(err))
		}
	}
	return nil
}

// GetOrderbook 获取跨交易所合并订单簿
func (m *MarketData) GetOrderbook(symbolCanon string) (book.Snapshot, bool) {
	return m.agg.AggregatedBook(symbolCanon)
}

// GetExchangeOrderbook 获取单交易所订单簿
func (m *MarketData) GetExchangeOrderbook(exchangeName, symbolCanon string) (book.Snapshot, bool) {
	return m.agg.Book(exchangeName, symbolCanon)
}

// GetBestPrice 获取跨交易所最优价
// side 为 buy 时返回最低卖价，sell 时返回最高买价
func (m *MarketData) GetBestPrice(symbolCanon string, side model.Side) (book.Entry, bool) {
	return m.agg.BestPrice(symbolCanon, side)
}

// GetRecentTrades 获取最近成交
// REST 优先，失败时回退到流缓存
func (m *MarketData) GetRecentTrades(ctx context.Context, exchangeName, symbolCanon string, limit int) []model.Trade {
	m.mu.Lock()
	adapter, ok := m.adapters[exchangeName]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	trades, err := adapter.FetchRecentTrades(ctx, symbolCanon, limit)
	if err == nil {
		return trades
	}
	m.logger.Warn("REST 获取成交失败，回退到流缓存",
		zap.String("exchange", exchangeName),
		zap.String("symbol", symbolCanon),
		zap.Error(err))
	return m.agg.RecentTrades(exchangeName, symbolCanon, limit)
}

// GetCandles 通过 REST 获取历史 K 线
func (m *MarketData) GetCandles(ctx context.Context, exchangeName, symbolCanon, interval string, limit int) ([]model.Candle, error) {
	m.mu.Lock()
	adapter, ok := m.adapters[exchangeName]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("未注册的交易所: %s", exchangeName)
	}
	return adapter.FetchCandles(ctx, symbolCanon, interval, limit)
}

// AddPriceUpdateHandler 注册价格更新处理器
// 指定交易所的订单簿每次更新时以中间价回调；
// 返回的 ID 交给 RemovePriceUpdateHandler 移除
func (m *MarketData) AddPriceUpdateHandler(exchangeName string, h func(symbolCanon string, midPrice float64)) int64 {
	return m.agg.Registry().OnBookUpdate(func(ex, canon string, snap book.Snapshot) {
		if ex != exchangeName {
			return
		}
		if mid := snap.MidPrice(); mid > 0 {
			h(canon, mid)
		}
	})
}

// RemovePriceUpdateHandler 移除价格更新处理器
func (m *MarketData) RemovePriceUpdateHandler(id int64) {
	m.agg.Registry().Remove(id)
}

// ConnectionStatus 获取指定交易所的连接状态快照
func (m *MarketData) ConnectionStatus(exchangeName string) (supervisor.State, bool) {
	m.mu.Lock()
	sup, ok := m.sups[exchangeName]
	m.mu.Unlock()
	if !ok {
		return supervisor.State{}, false
	}
	return sup.State(), true
}

// AllStatuses 获取所有交易所的连接状态快照
func (m *MarketData) AllStatuses() []supervisor.State {
	m.mu.Lock()
	sups := m.supsLocked()
	m.mu.Unlock()

	states := make([]supervisor.State, 0, len(sups))
	for _, sup := range sups {
		states = append(states, sup.State())
	}
	return states
}

// SupervisorMetrics 获取所有交易所的连接运行指标
func (m *MarketData) SupervisorMetrics() map[string]supervisor.Metrics {
	m.mu.Lock()
	sups := m.supsLocked()
	m.mu.Unlock()

	out := make(map[string]supervisor.Metrics, len(sups))
	for _, sup := range sups {
		out[sup.Exchange()] = sup.Metrics()
	}
	return out
}

// DispatchStats 获取汇聚器分发统计
func (m *MarketData) DispatchStats() aggregator.Stats {
	return m.agg.Stats()
}

// DisconnectExchange 断开并移除单个交易所
func (m *MarketData) DisconnectExchange(exchangeName string) error {
	m.mu.Lock()
	sup, ok := m.sups[exchangeName]
	if ok {
		delete(m.sups, exchangeName)
		delete(m.adapters, exchangeName)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("未注册的交易所: %s", exchangeName)
	}
	return sup.Close()
}

// DisconnectAll 断开所有交易所并关闭汇聚器
// 所有后台任务汇合后返回
func (m *MarketData) DisconnectAll() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sups := m.supsLocked()
	m.sups = make(map[string]*supervisor.Supervisor)
	m.adapters = make(map[string]exchange.Adapter)
	m.mu.Unlock()

	for _, sup := range sups {
		sup.Close()
	}
	if err := m.agg.Close(); err != nil {
		return err
	}
	m.logger.Info("行情门面已关闭")
	return nil
}

// supsLocked 复制监护器列表，调用方必须持有 m.mu
func (m *MarketData) supsLocked() []*supervisor.Supervisor {
	sups := make([]*supervisor.Supervisor, 0, len(m.sups))
	for _, sup := range m.sups {
		sups = append(sups, sup)
	}
	return sups
}
