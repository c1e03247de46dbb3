// Package lag 实现各交易所行情 feed 的滞后统计。
// 滞后定义为本机收到消息的时间与交易所事件时间之差，
// 按交易所维护独立的滚动窗口，输出 P50/P95/P99 分位数。
package lag

import (
	"sort"
	"sync"

	"market-data-hub/internal/core/model"
	"market-data-hub/internal/util/timeutil"
)

// FeedLagStats 滞后统计快照
// 单位：毫秒
type FeedLagStats struct {
	// Exchange 交易所标识
	Exchange string
	// Count 样本总数（累计）
	Count int64
	// P50Ms 滚动窗口 P50 滞后（毫秒）
	P50Ms float64
	// P95Ms 滚动窗口 P95 滞后（毫秒）
	P95Ms float64
	// P99Ms 滚动窗口 P99 滞后（毫秒）
	P99Ms float64
}

type rollingWindow struct {
	size  int
	buf   []int64
	pos   int
	count int64
	full  bool

	mu sync.Mutex
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{size: size, buf: make([]int64, 0, size)}
}

func (w *rollingWindow) add(v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++
	if w.size <= 0 {
		return
	}

	if !w.full {
		w.buf = append(w.buf, v)
		if len(w.buf) == w.size {
			w.full = true
			w.pos = 0
		}
		return
	}

	w.buf[w.pos] = v
	w.pos++
	if w.pos >= w.size {
		w.pos = 0
	}
}

func (w *rollingWindow) snapshotQuantiles(qs ...float64) (count int64, values []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	count = w.count
	if len(w.buf) == 0 {
		return count, make([]int64, len(qs))
	}

	tmp := make([]int64, len(w.buf))
	copy(tmp, w.buf)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	values = make([]int64, len(qs))
	n := len(tmp)
	for i, q := range qs {
		if q <= 0 {
			values[i] = tmp[0]
			continue
		}
		if q >= 1 {
			values[i] = tmp[n-1]
			continue
		}
		idx := int(float64(n-1) * q)
		values[i] = tmp[idx]
	}
	return count, values
}

// Tracker 滞后追踪器
// 交易所维度在首次观测时动态创建
type Tracker struct {
	// windowSize 滚动窗口大小
	windowSize int

	// mu 保护 windows
	mu sync.RWMutex
	// windows 各交易所的滚动窗口
	windows map[string]*rollingWindow
}

// NewTracker 创建滞后追踪器
// 参数 windowSize: 滚动窗口大小（建议 10000）
func NewTracker(windowSize int) *Tracker {
	return &Tracker{
		windowSize: windowSize,
		windows:    make(map[string]*rollingWindow),
	}
}

// Observe 观测一条行情事件
// 只统计携带交易所时间戳的订单簿与成交事件；
// 缺少任一时间戳的事件被跳过
func (t *Tracker) Observe(ev *model.Event) {
	if ev == nil || ev.Exchange == "" || ev.ArrivedAtUnixNs <= 0 {
		return
	}

	var exchTsMs int64
	switch ev.Kind {
	case model.KindBookDelta:
		if ev.Book != nil {
			exchTsMs = ev.Book.ExchTsUnixMs
		}
	case model.KindTrade:
		if ev.Trade != nil {
			exchTsMs = ev.Trade.ExchTsUnixMs
		}
	default:
		return
	}
	if exchTsMs <= 0 {
		return
	}

	lagNs := ev.ArrivedAtUnixNs - timeutil.MsToNano(exchTsMs)
	t.windowFor(ev.Exchange).add(lagNs)
}

// windowFor 获取或创建交易所的滚动窗口
func (t *Tracker) windowFor(exchange string) *rollingWindow {
	t.mu.RLock()
	w, ok := t.windows[exchange]
	t.mu.RUnlock()
	if ok {
		return w
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok = t.windows[exchange]
	if !ok {
		w = newRollingWindow(t.windowSize)
		t.windows[exchange] = w
	}
	return w
}

// Stats 获取指定交易所的统计快照
func (t *Tracker) Stats(exchange string) FeedLagStats {
	t.mu.RLock()
	w, ok := t.windows[exchange]
	t.mu.RUnlock()
	if !ok {
		return FeedLagStats{Exchange: exchange}
	}

	count, qs := w.snapshotQuantiles(0.50, 0.95, 0.99)
	return FeedLagStats{
		Exchange: exchange,
		Count:    count,
		P50Ms:    float64(qs[0]) / 1_000_000.0,
		P95Ms:    float64(qs[1]) / 1_000_000.0,
		P99Ms:    float64(qs[2]) / 1_000_000.0,
	}
}

// AllStats 获取所有交易所的统计快照（按交易所名排序）
func (t *Tracker) AllStats() []FeedLagStats {
	t.mu.RLock()
	names := make([]string, 0, len(t.windows))
	for name := range t.windows {
		names = append(names, name)
	}
	t.mu.RUnlock()

	sort.Strings(names)
	out := make([]FeedLagStats, 0, len(names))
	for _, name := range names {
		out = append(out, t.Stats(name))
	}
	return out
}
