// Package marketdata 门面测试
// 使用真实 WebSocket 测试服务器驱动完整链路：
// 监护器连接 -> 订阅 -> 推送 -> 汇聚器 -> 门面查询
package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"market-data-hub/internal/config"
	"market-data-hub/internal/core/model"
	"market-data-hub/internal/exchange"
	"market-data-hub/internal/supervisor"
)

// wsServer WebSocket 测试服务器
// 记录收到的报文并向所有连接广播推送
type wsServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []string
}

// newWSServer 启动测试服务器
func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, string(data))
			s.mu.Unlock()
		}
	}))
	t.Cleanup(func() {
		s.mu.Lock()
		for _, conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.srv.Close()
	})
	return s
}

// url 返回 ws:// 形式的连接地址
func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// push 向所有连接广播一条文本报文
func (s *wsServer) push(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.WriteMessage(websocket.TextMessage, []byte(msg))
	}
}

// countReceived 统计收到的指定报文条数
func (s *wsServer) countReceived(msg string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.received {
		if r == msg {
			n++
		}
	}
	return n
}

// fakeAdapter 测试用适配器
// 文本协议: "book:<canon>:<seq>:<bid>:<ask>" / "trade:<canon>:<price>"
type fakeAdapter struct {
	name      string
	streamURL string

	mu        sync.Mutex
	tradesErr error
	trades    []model.Trade
	candles   []model.Candle
}

func (f *fakeAdapter) Name() string      { return f.name }
func (f *fakeAdapter) StreamURL() string { return f.streamURL }

func (f *fakeAdapter) Authenticate(ctx context.Context) (*exchange.AuthResult, error) {
	return &exchange.AuthResult{StreamURL: f.streamURL}, nil
}

func (f *fakeAdapter) RenewSession(ctx context.Context) error { return nil }

func (f *fakeAdapter) SessionRenewalInterval() time.Duration { return 0 }

func (f *fakeAdapter) BuildSubscribe(symbolCanon string, kinds []model.ChannelKind) ([]byte, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return []byte("sub:" + symbolCanon + ":" + strings.Join(names, ",")), nil
}

func (f *fakeAdapter) BuildUnsubscribe(symbolCanon string, kinds []model.ChannelKind) ([]byte, error) {
	return []byte("unsub:" + symbolCanon), nil
}

func (f *fakeAdapter) Parse(data []byte) ([]*model.Event, error) {
	parts := strings.Split(string(data), ":")
	switch parts[0] {
	case "book":
		seq, _ := strconv.ParseInt(parts[2], 10, 64)
		bid, _ := strconv.ParseFloat(parts[3], 64)
		ask, _ := strconv.ParseFloat(parts[4], 64)
		return []*model.Event{{
			Kind:        model.KindBookDelta,
			Exchange:    f.name,
			SymbolCanon: parts[1],
			Book: &model.BookDelta{
				Seq:  seq,
				Bids: []model.Level{{Price: bid, Qty: 1}},
				Asks: []model.Level{{Price: ask, Qty: 1}},
			},
		}}, nil
	case "trade":
		price, _ := strconv.ParseFloat(parts[2], 64)
		return []*model.Event{{
			Kind:        model.KindTrade,
			Exchange:    f.name,
			SymbolCanon: parts[1],
			Trade:       &model.Trade{TradeID: parts[2], Price: price, Qty: 1},
		}}, nil
	}
	return []*model.Event{{Kind: model.KindUnrecognized, Exchange: f.name}}, nil
}

func (f *fakeAdapter) IsPong(data []byte) bool { return string(data) == "pong" }

func (f *fakeAdapter) AppPing() ([]byte, bool) { return []byte("ping"), true }

func (f *fakeAdapter) Probe(ctx context.Context) error { return nil }

func (f *fakeAdapter) FetchOrderBook(ctx context.Context, symbolCanon string) (*model.BookDelta, error) {
	return nil, errors.New("未实现")
}

func (f *fakeAdapter) FetchPairs(ctx context.Context) ([]model.Pair, error) {
	return nil, errors.New("未实现")
}

func (f *fakeAdapter) FetchCandles(ctx context.Context, symbolCanon, interval string, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candles, nil
}

func (f *fakeAdapter) FetchRecentTrades(ctx context.Context, symbolCanon string, limit int) ([]model.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tradesErr != nil {
		return nil, f.tradesErr
	}
	return f.trades, nil
}

var _ exchange.Adapter = (*fakeAdapter)(nil)

// testConfig 测试用配置
// 心跳间隔取大值避免测试期间触发降级
func testConfig() *config.Config {
	return &config.Config{
		Book:     config.BookConfig{MaxDepth: 20},
		Dispatch: config.DispatchConfig{QueueSize: 64, TradeCacheSize: 10},
		Supervisor: config.SupervisorConfig{
			HeartbeatIntervalMs:     60000,
			ConnectTimeoutMs:        2000,
			AuthTimeoutMs:           2000,
			SubscribeTimeoutMs:      2000,
			MaxReconnectAttempts:    3,
			RecoveryProbeIntervalMs: 10,
			BackoffBaseMs:           10,
			BackoffMaxMs:            50,
		},
	}
}

// exCfgFor 构造交易所配置
func exCfgFor(name, streamURL string) *config.ExchangeConfig {
	return &config.ExchangeConfig{
		Name:           name,
		StreamURL:      streamURL,
		PingIntervalMs: 60000,
	}
}

// newTestFacade 创建已注册 alpha/beta 两个交易所的门面
func newTestFacade(t *testing.T, srv *wsServer) (*MarketData, *fakeAdapter, *fakeAdapter) {
	t.Helper()
	m := New(testConfig(), zap.NewNop())
	alpha := &fakeAdapter{name: "alpha", streamURL: srv.url()}
	beta := &fakeAdapter{name: "beta", streamURL: srv.url()}
	_, err := m.RegisterExchange(alpha, exCfgFor("alpha", srv.url()))
	require.NoError(t, err)
	_, err = m.RegisterExchange(beta, exCfgFor("beta", srv.url()))
	require.NoError(t, err)
	t.Cleanup(func() {
		m.DisconnectAll()
	})
	return m, alpha, beta
}

// connect 等待所有交易所到达 Live
func connect(t *testing.T, m *MarketData) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, m.Connect(ctx), "所有交易所应在超时前就绪")
}

// waitUntil 轮询等待条件成立
func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("等待超时: %s", msg)
}

// TestMarketData_ConnectAndQuery 测试连接、订阅与订单簿查询
func TestMarketData_ConnectAndQuery(t *testing.T) {
	srv := newWSServer(t)
	m, _, _ := newTestFacade(t, srv)
	connect(t, m)

	require.NoError(t, m.Subscribe("BTCUSDT", []model.ChannelKind{model.ChannelOrderBook, model.ChannelTrades}))
	waitUntil(t, func() bool { return srv.countReceived("sub:BTCUSDT:orderbook,trades") == 2 }, "两个交易所均已订阅")

	// 推送会到达两个交易所的连接，各自的适配器打上自己的交易所标识
	srv.push("book:BTCUSDT:1:50000:50002")
	waitUntil(t, func() bool {
		_, ok1 := m.GetExchangeOrderbook("alpha", "BTCUSDT")
		_, ok2 := m.GetExchangeOrderbook("beta", "BTCUSDT")
		return ok1 && ok2
	}, "两本订单簿就绪")

	snap, ok := m.GetExchangeOrderbook("alpha", "BTCUSDT")
	require.True(t, ok)
	bid, has := snap.BestBid()
	require.True(t, has)
	assert.Equal(t, 50000.0, bid.Price)

	merged, ok := m.GetOrderbook("BTCUSDT")
	require.True(t, ok)
	assert.Len(t, merged.Bids, 2, "合并簿包含两个交易所的档位")

	best, ok := m.GetBestPrice("BTCUSDT", model.SideBuy)
	require.True(t, ok)
	assert.Equal(t, 50002.0, best.Price)

	// 连接状态可观察
	st, ok := m.ConnectionStatus("alpha")
	require.True(t, ok)
	assert.Equal(t, supervisor.PhaseLive, st.Phase)
	assert.Len(t, m.AllStatuses(), 2)
}

// TestMarketData_SubscribeRefcount 测试订阅引用计数
func TestMarketData_SubscribeRefcount(t *testing.T) {
	srv := newWSServer(t)
	m, _, _ := newTestFacade(t, srv)
	connect(t, m)

	kinds := []model.ChannelKind{model.ChannelOrderBook}
	// 两个消费方订阅同一频道，监护器层幂等，只下发一次
	require.NoError(t, m.Subscribe("ETHUSDT", kinds))
	require.NoError(t, m.Subscribe("ETHUSDT", kinds))
	waitUntil(t, func() bool { return srv.countReceived("sub:ETHUSDT:orderbook") == 2 }, "每个交易所各收到一次订阅")

	// 第一个消费方退订不触发交易所级退订
	require.NoError(t, m.Unsubscribe("ETHUSDT"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, srv.countReceived("unsub:ETHUSDT"))

	// 最后一个消费方退订才下发
	require.NoError(t, m.Unsubscribe("ETHUSDT"))
	waitUntil(t, func() bool { return srv.countReceived("unsub:ETHUSDT") == 2 }, "两个交易所均已退订")

	assert.Equal(t, 2, srv.countReceived("sub:ETHUSDT:orderbook"), "订阅仍只下发了一轮")
}

// TestMarketData_SubscribeAddsChannels 测试已订阅交易对追加新频道
// 追加订阅只补发新增频道，已覆盖的频道不重发
func TestMarketData_SubscribeAddsChannels(t *testing.T) {
	srv := newWSServer(t)
	m, _, _ := newTestFacade(t, srv)
	connect(t, m)

	require.NoError(t, m.Subscribe("BTCUSDT", []model.ChannelKind{model.ChannelOrderBook, model.ChannelTrades}))
	waitUntil(t, func() bool { return srv.countReceived("sub:BTCUSDT:orderbook,trades") == 2 }, "初始订阅已下发")

	// 对已订阅的交易对追加 K 线频道
	require.NoError(t, m.SubscribeToCandles("BTCUSDT"))
	waitUntil(t, func() bool { return srv.countReceived("sub:BTCUSDT:candles") == 2 }, "K 线频道已补发")

	// 已覆盖的频道不产生新报文
	require.NoError(t, m.Subscribe("BTCUSDT", []model.ChannelKind{model.ChannelOrderBook}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, srv.countReceived("sub:BTCUSDT:orderbook,trades"))
	assert.Equal(t, 0, srv.countReceived("sub:BTCUSDT:orderbook"))

	// 三个消费方全部退订后才下发交易所级退订
	require.NoError(t, m.Unsubscribe("BTCUSDT"))
	require.NoError(t, m.Unsubscribe("BTCUSDT"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, srv.countReceived("unsub:BTCUSDT"))
	require.NoError(t, m.Unsubscribe("BTCUSDT"))
	waitUntil(t, func() bool { return srv.countReceived("unsub:BTCUSDT") == 2 }, "两个交易所均已退订")
}

// TestMarketData_PriceUpdateHandler 测试按交易所过滤的价格回调
func TestMarketData_PriceUpdateHandler(t *testing.T) {
	srv := newWSServer(t)
	m, _, _ := newTestFacade(t, srv)
	connect(t, m)
	require.NoError(t, m.Subscribe("BTCUSDT", []model.ChannelKind{model.ChannelOrderBook}))

	var mu sync.Mutex
	var mids []float64
	id := m.AddPriceUpdateHandler("alpha", func(canon string, mid float64) {
		mu.Lock()
		defer mu.Unlock()
		mids = append(mids, mid)
	})

	// 推送到达两个交易所，但处理器只应收到 alpha 的中间价
	srv.push("book:BTCUSDT:1:50000:50002")
	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(mids) == 1
	}, "alpha 的价格回调触发")

	mu.Lock()
	assert.Equal(t, 50001.0, mids[0], "中间价为买卖均值")
	mu.Unlock()

	// 移除后不再回调
	m.RemovePriceUpdateHandler(id)
	srv.push("book:BTCUSDT:2:50010:50012")
	waitUntil(t, func() bool {
		snap, ok := m.GetExchangeOrderbook("alpha", "BTCUSDT")
		return ok && snap.LastUpdateID == 2
	}, "第二条更新已应用")

	mu.Lock()
	assert.Len(t, mids, 1, "移除后的处理器不应被调用")
	mu.Unlock()
}

// TestMarketData_RecentTradesFallback 测试 REST 失败时回退到流缓存
func TestMarketData_RecentTradesFallback(t *testing.T) {
	srv := newWSServer(t)
	m, alpha, _ := newTestFacade(t, srv)
	connect(t, m)
	require.NoError(t, m.Subscribe("BTCUSDT", []model.ChannelKind{model.ChannelTrades}))

	srv.push("trade:BTCUSDT:50005")
	waitUntil(t, func() bool {
		return m.DispatchStats().DispatchedCount >= 2
	}, "成交事件已分发")

	ctx := context.Background()

	// REST 正常时优先返回 REST 结果
	alpha.mu.Lock()
	alpha.trades = []model.Trade{{TradeID: "rest-1", Price: 49999}}
	alpha.mu.Unlock()
	trades := m.GetRecentTrades(ctx, "alpha", "BTCUSDT", 10)
	require.Len(t, trades, 1)
	assert.Equal(t, "rest-1", trades[0].TradeID)

	// REST 失败时回退到流缓存
	alpha.mu.Lock()
	alpha.tradesErr = errors.New("网络错误")
	alpha.mu.Unlock()
	trades = m.GetRecentTrades(ctx, "alpha", "BTCUSDT", 10)
	require.Len(t, trades, 1)
	assert.Equal(t, 50005.0, trades[0].Price)

	// 未注册的交易所返回空
	assert.Nil(t, m.GetRecentTrades(ctx, "unknown", "BTCUSDT", 10))
}

// TestMarketData_GetCandles 测试历史 K 线查询
func TestMarketData_GetCandles(t *testing.T) {
	srv := newWSServer(t)
	m, alpha, _ := newTestFacade(t, srv)

	alpha.mu.Lock()
	alpha.candles = []model.Candle{{Interval: "1m", Open: 50000, Close: 50100}}
	alpha.mu.Unlock()

	candles, err := m.GetCandles(context.Background(), "alpha", "BTCUSDT", "1m", 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 50100.0, candles[0].Close)

	_, err = m.GetCandles(context.Background(), "unknown", "BTCUSDT", "1m", 10)
	assert.Error(t, err)
}

// TestMarketData_ConnectTimeout 测试连接超时返回 false 但后台继续
func TestMarketData_ConnectTimeout(t *testing.T) {
	m := New(testConfig(), zap.NewNop())
	// 不可达的地址
	unreachable := &fakeAdapter{name: "alpha", streamURL: "ws://127.0.0.1:1"}
	_, err := m.RegisterExchange(unreachable, exCfgFor("alpha", unreachable.streamURL))
	require.NoError(t, err)
	t.Cleanup(func() {
		m.DisconnectAll()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	assert.False(t, m.Connect(ctx), "不可达的交易所不应就绪")

	st, ok := m.ConnectionStatus("alpha")
	require.True(t, ok)
	assert.NotEqual(t, supervisor.PhaseLive, st.Phase)
}

// TestMarketData_RegisterAfterConnect 测试连接后注册被拒绝
func TestMarketData_RegisterAfterConnect(t *testing.T) {
	srv := newWSServer(t)
	m, _, _ := newTestFacade(t, srv)
	connect(t, m)

	late := &fakeAdapter{name: "gamma", streamURL: srv.url()}
	_, err := m.RegisterExchange(late, exCfgFor("gamma", srv.url()))
	assert.Error(t, err)

	// 重复注册同样被拒绝
	m2 := New(testConfig(), zap.NewNop())
	dup := &fakeAdapter{name: "alpha", streamURL: srv.url()}
	_, err = m2.RegisterExchange(dup, exCfgFor("alpha", srv.url()))
	require.NoError(t, err)
	_, err = m2.RegisterExchange(dup, exCfgFor("alpha", srv.url()))
	assert.Error(t, err)
	m2.DisconnectAll()
}

// TestMarketData_DisconnectAll 测试全量断开汇合
func TestMarketData_DisconnectAll(t *testing.T) {
	srv := newWSServer(t)
	m, _, _ := newTestFacade(t, srv)
	connect(t, m)

	done := make(chan struct{})
	go func() {
		m.DisconnectAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("DisconnectAll 未在预期时间内返回")
	}

	// 重复断开安全
	assert.NoError(t, m.DisconnectAll())
	_, ok := m.ConnectionStatus("alpha")
	assert.False(t, ok, "断开后状态不可查询")
}
