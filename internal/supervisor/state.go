// Package supervisor 定义连接生命周期状态。
package supervisor

import (
	"time"
)

// Phase 连接生命周期阶段
type Phase int32

const (
	// PhaseDisconnected 未连接
	PhaseDisconnected Phase = iota
	// PhaseConnecting 建立传输连接中
	PhaseConnecting
	// PhaseAuthenticating 凭证交换中
	PhaseAuthenticating
	// PhaseSubscribing 重放订阅中
	PhaseSubscribing
	// PhaseLive 正常接收数据
	PhaseLive
	// PhaseDegraded 超过一个心跳间隔无消息，连接仍在但质量低
	PhaseDegraded
	// PhaseReconnecting 等待退避后重连
	PhaseReconnecting
	// PhaseRecoveryMode 熔断状态，定期探测服务可用性后才恢复重连
	PhaseRecoveryMode
)

// String 返回阶段名称
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseSubscribing:
		return "subscribing"
	case PhaseLive:
		return "live"
	case PhaseDegraded:
		return "degraded"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseRecoveryMode:
		return "recovery"
	default:
		return "unknown"
	}
}

// IsConnected 判断该阶段是否持有活跃连接
func (p Phase) IsConnected() bool {
	return p == PhaseLive || p == PhaseDegraded
}

// State 连接状态快照
// 由 State() 复制返回，消费方只读
type State struct {
	// Exchange 交易所标识
	Exchange string
	// Phase 当前阶段
	Phase Phase
	// LastHeartbeatAt 最后心跳（任意消息）时间
	LastHeartbeatAt time.Time
	// ConsecutiveFailures 连续失败次数，到达 Live 后清零
	ConsecutiveFailures int
	// ReconnectAttempts 累计重连次数
	ReconnectAttempts int
	// ConnectionQuality 连接质量（0-1），每次错误 ×0.8 衰减，心跳恢复为 1.0
	ConnectionQuality float64
	// ActiveSubscriptions 活跃订阅的交易对列表
	ActiveSubscriptions []string
	// SessionToken 当前会话令牌
	SessionToken string
	// SessionExpiresAt 会话过期时间
	SessionExpiresAt time.Time
	// Epoch 连接纪元，每次新建连接递增
	Epoch int64
}

// Metrics 连接运行指标
type Metrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64
	// DroppedEventCount 因队列满被丢弃的事件数
	DroppedEventCount int64
	// UpdateCount 累计事件数
	UpdateCount int64
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64
}
