// Package autotrader 规则交易器。
package autotrader

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"market-data-hub/internal/config"
	"market-data-hub/internal/core/engine"
	"market-data-hub/internal/core/model"
	"market-data-hub/internal/util/timeutil"
)

// maxWindow 每个交易对保留的收盘价条数
const maxWindow = 200

// SignalCallback 信号回调
type SignalCallback func(sig *model.Signal)

// Trader 规则交易器
// 消费已收盘的 K 线，维护每个交易对的收盘价窗口，
// 按均线交叉与 RSI 阈值规则产生信号。
// 同一交易对两次可执行信号之间受冷却时间约束。
type Trader struct {
	// cfg 交易器配置
	cfg config.AutoTraderConfig
	// logger 日志记录器
	logger *zap.Logger
	// engine 仓位引擎，nil 表示只产生信号不下单
	engine *engine.Engine

	// mu 状态锁
	mu sync.Mutex
	// windows 每个交易对的收盘价窗口
	windows map[string][]float64
	// lastSignalNs 每个交易对上一次可执行信号的时间
	lastSignalNs map[string]int64
	// nextSignalID 信号 ID 计数器
	nextSignalID int64
	// callbacks 信号回调
	callbacks []SignalCallback
}

// New 创建规则交易器
// 参数 eng: 仓位引擎，传 nil 表示只产生信号
func New(cfg config.AutoTraderConfig, eng *engine.Engine, logger *zap.Logger) *Trader {
	return &Trader{
		cfg:          cfg,
		logger:       logger.Named("autotrader"),
		engine:       eng,
		windows:      make(map[string][]float64),
		lastSignalNs: make(map[string]int64),
	}
}

// OnSignal 注册信号回调
func (t *Trader) OnSignal(cb SignalCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// OnCandle 消费一根 K 线
// 签名与汇聚器的 K 线处理器一致，可直接注册；
// 只处理配置周期的已收盘 K 线
func (t *Trader) OnCandle(exchange, symbolCanon string, candle *model.Candle) {
	if candle == nil || !candle.Closed || candle.Interval != t.cfg.Interval {
		return
	}

	t.mu.Lock()
	window := append(t.windows[symbolCanon], candle.Close)
	if len(window) > maxWindow {
		window = window[len(window)-maxWindow:]
	}
	t.windows[symbolCanon] = window
	sig := t.evaluateLocked(symbolCanon, window)
	callbacks := make([]SignalCallback, len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	if sig == nil {
		return
	}

	t.logger.Info("产生信号",
		zap.String("symbol", sig.SymbolCanon),
		zap.String("action", string(sig.Action)),
		zap.String("reason", sig.Reason),
		zap.Float64("price", sig.Price))

	t.execute(sig)
	for _, cb := range callbacks {
		cb(sig)
	}
}

// evaluateLocked 评估指标规则，调用方必须持有 t.mu
// 返回: 可执行信号；无信号或处于冷却期时返回 nil
func (t *Trader) evaluateLocked(symbolCanon string, window []float64) *model.Signal {
	if len(window) < t.cfg.SlowPeriod+1 {
		return nil
	}

	fast := SMA(window, t.cfg.FastPeriod)
	slow := SMA(window, t.cfg.SlowPeriod)
	rsi := RSI(window, t.cfg.RSIPeriod)

	last := len(window) - 1
	action := model.ActionHold
	reason := ""

	// 均线交叉：上一根与当前根之间快慢线相对位置反转
	if crossedAbove(fast, slow, last) {
		action = model.ActionBuy
		reason = "MA 金叉"
	} else if crossedBelow(fast, slow, last) {
		action = model.ActionSell
		reason = "MA 死叉"
	}

	// RSI 阈值规则作为次级触发
	lastRSI := math.NaN()
	if rsi != nil {
		lastRSI = rsi[last]
	}
	if action == model.ActionHold && !math.IsNaN(lastRSI) {
		if lastRSI < t.cfg.RSIOversold {
			action = model.ActionBuy
			reason = "RSI 超卖"
		} else if lastRSI > t.cfg.RSIOverbought {
			action = model.ActionSell
			reason = "RSI 超买"
		}
	}

	if action == model.ActionHold {
		return nil
	}

	// 冷却期内抑制重复信号
	nowNs := timeutil.NowNano()
	if lastNs := t.lastSignalNs[symbolCanon]; lastNs > 0 &&
		nowNs-lastNs < int64(t.cfg.CooldownMs)*1_000_000 {
		return nil
	}
	t.lastSignalNs[symbolCanon] = nowNs

	t.nextSignalID++
	sig := &model.Signal{
		ID:           fmt.Sprintf("sig-%d", t.nextSignalID),
		SymbolCanon:  symbolCanon,
		Action:       action,
		Price:        window[last],
		Reason:       reason,
		DetectedAt:   timeutil.NanoToTime(nowNs),
		DetectedAtNs: nowNs,
	}
	if !math.IsNaN(lastRSI) {
		sig.RSI = lastRSI
	}
	if fast != nil && !math.IsNaN(fast[last]) {
		sig.FastMA = fast[last]
	}
	if slow != nil && !math.IsNaN(slow[last]) {
		sig.SlowMA = slow[last]
	}
	return sig
}

// execute 按信号通过仓位引擎下单
func (t *Trader) execute(sig *model.Signal) {
	if t.engine == nil || t.cfg.OrderQty <= 0 {
		return
	}

	side := model.SideBuy
	if sig.Action == model.ActionSell {
		side = model.SideSell
	}
	if _, err := t.engine.PlaceOrder(sig.SymbolCanon, side, model.OrderMarket, t.cfg.OrderQty, sig.Price); err != nil {
		t.logger.Warn("信号下单失败",
			zap.String("signal_id", sig.ID),
			zap.String("symbol", sig.SymbolCanon),
			zap.Error(err))
	}
}

// crossedAbove 判断 a 在 idx 处上穿 b
func crossedAbove(a, b []float64, idx int) bool {
	if a == nil || b == nil || idx < 1 {
		return false
	}
	prev, cur := a[idx-1]-b[idx-1], a[idx]-b[idx]
	if math.IsNaN(prev) || math.IsNaN(cur) {
		return false
	}
	return prev <= 0 && cur > 0
}

// crossedBelow 判断 a 在 idx 处下穿 b
func crossedBelow(a, b []float64, idx int) bool {
	if a == nil || b == nil || idx < 1 {
		return false
	}
	prev, cur := a[idx-1]-b[idx-1], a[idx]-b[idx]
	if math.IsNaN(prev) || math.IsNaN(cur) {
		return false
	}
	return prev >= 0 && cur < 0
}
