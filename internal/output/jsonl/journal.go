package jsonl

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"market-data-hub/internal/config"
	"market-data-hub/internal/core/model"
	"market-data-hub/internal/util/timeutil"
)

// SignalRecord 信号落盘记录
type SignalRecord struct {
	// TsMs 信号检测时间（毫秒）
	TsMs int64 `json:"ts_ms"`
	// ID 信号唯一标识
	ID string `json:"id"`
	// SymbolCanon 统一交易对标识
	SymbolCanon string `json:"symbol_canon"`
	// Action 信号动作
	Action string `json:"action"`
	// Price 触发价格
	Price float64 `json:"price"`
	// Reason 触发原因
	Reason string `json:"reason"`
	// RSI 触发时的 RSI 值
	RSI float64 `json:"rsi"`
	// FastMA 触发时的快线均值
	FastMA float64 `json:"fast_ma"`
	// SlowMA 触发时的慢线均值
	SlowMA float64 `json:"slow_ma"`
}

// NewSignalRecord 从信号构造落盘记录
func NewSignalRecord(sig *model.Signal) SignalRecord {
	return SignalRecord{
		TsMs:        timeutil.NanoToMs(sig.DetectedAtNs),
		ID:          sig.ID,
		SymbolCanon: sig.SymbolCanon,
		Action:      string(sig.Action),
		Price:       sig.Price,
		Reason:      sig.Reason,
		RSI:         sig.RSI,
		FastMA:      sig.FastMA,
		SlowMA:      sig.SlowMA,
	}
}

// ExchangeMetrics 单交易所运行指标
type ExchangeMetrics struct {
	// Exchange 交易所标识
	Exchange string `json:"exchange"`
	// Phase 连接阶段
	Phase string `json:"phase"`
	// ConnectionQuality 连接质量评分（0-1）
	ConnectionQuality float64 `json:"connection_quality"`
	// ReconnectCount 累计重连次数
	ReconnectCount int64 `json:"reconnect_count"`
	// ParseErrorCount 累计解析错误数
	ParseErrorCount int64 `json:"parse_error_count"`
	// DroppedEventCount 累计丢弃事件数
	DroppedEventCount int64 `json:"dropped_event_count"`
	// UpdateCount 累计行情更新数
	UpdateCount int64 `json:"update_count"`
	// LastMessageAgeMs 距最近一条消息的时长（毫秒）
	LastMessageAgeMs int64 `json:"last_message_age_ms"`
	// LagP50Ms feed 滞后 P50（毫秒）
	LagP50Ms float64 `json:"lag_p50_ms"`
	// LagP95Ms feed 滞后 P95（毫秒）
	LagP95Ms float64 `json:"lag_p95_ms"`
	// LagP99Ms feed 滞后 P99（毫秒）
	LagP99Ms float64 `json:"lag_p99_ms"`
}

// MetricsRecord 指标落盘记录（周期性快照）
type MetricsRecord struct {
	// TsMs 快照时间（毫秒）
	TsMs int64 `json:"ts_ms"`
	// Exchanges 各交易所运行指标
	Exchanges []ExchangeMetrics `json:"exchanges"`
	// DispatchedCount 汇聚器累计分发事件数
	DispatchedCount int64 `json:"dispatched_count"`
	// DroppedCount 汇聚器累计丢弃事件数
	DroppedCount int64 `json:"dropped_count"`
}

// Journal 信号与指标日志
// 按配置分别落盘 signals.jsonl 与 metrics.jsonl，未启用的通道为空操作
type Journal struct {
	// signals 信号写入器，未启用时为 nil
	signals *Writer
	// metrics 指标写入器，未启用时为 nil
	metrics *Writer
	// logger 日志记录器
	logger *zap.Logger
}

// NewJournal 创建日志
func NewJournal(cfg config.OutputConfig, logger *zap.Logger) (*Journal, error) {
	j := &Journal{logger: logger.Named("journal")}

	if cfg.SignalsEnabled {
		w, err := NewWriter(filepath.Join(cfg.Dir, "signals.jsonl"), cfg.BufferSize)
		if err != nil {
			return nil, fmt.Errorf("创建信号写入器失败: %w", err)
		}
		j.signals = w
	}
	if cfg.MetricsEnabled {
		w, err := NewWriter(filepath.Join(cfg.Dir, "metrics.jsonl"), cfg.BufferSize)
		if err != nil {
			j.Close()
			return nil, fmt.Errorf("创建指标写入器失败: %w", err)
		}
		j.metrics = w
	}
	return j, nil
}

// WriteSignal 写入一条信号记录
func (j *Journal) WriteSignal(sig *model.Signal) {
	if j.signals == nil || sig == nil {
		return
	}
	if err := j.signals.Write(NewSignalRecord(sig)); err != nil {
		j.logger.Warn("写入信号失败", zap.Error(err))
	}
}

// WriteMetrics 写入一条指标快照
func (j *Journal) WriteMetrics(rec *MetricsRecord) {
	if j.metrics == nil || rec == nil {
		return
	}
	if err := j.metrics.Write(rec); err != nil {
		j.logger.Warn("写入指标失败", zap.Error(err))
	}
}

// Flush 强制落盘
func (j *Journal) Flush() {
	if j.signals != nil {
		j.signals.Flush()
	}
	if j.metrics != nil {
		j.metrics.Flush()
	}
}

// Close 关闭日志
func (j *Journal) Close() error {
	var firstErr error
	if j.signals != nil {
		if err := j.signals.Close(); err != nil {
			firstErr = err
		}
	}
	if j.metrics != nil {
		if err := j.metrics.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
