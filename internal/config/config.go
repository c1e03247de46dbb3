// Package config 负责加载和验证 YAML 配置文件。
// 提供应用程序所需的所有配置项，包括交易所连接、监护器策略、订单簿深度、输出设置等。
// API 凭证不放在配置文件中，由环境变量提供（见 CredentialsEnvPrefix）。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置根结构
// 包含所有子模块的配置项
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Symbols 用户配置的交易对列表
	Symbols []SymbolConfig `yaml:"symbols"`
	// Book 订单簿配置
	Book BookConfig `yaml:"book"`
	// Dispatch 事件分发配置
	Dispatch DispatchConfig `yaml:"dispatch"`
	// Supervisor 连接监护器策略配置
	Supervisor SupervisorConfig `yaml:"supervisor"`
	// Exchanges 交易所列表配置
	Exchanges []ExchangeConfig `yaml:"exchanges"`
	// Engine 仓位引擎配置
	Engine EngineConfig `yaml:"engine"`
	// AutoTrader 自动交易器配置
	AutoTrader AutoTraderConfig `yaml:"auto_trader"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// SymbolConfig 交易对配置
type SymbolConfig struct {
	// Input 用户输入的交易对格式，如 BTC-USDT
	Input string `yaml:"input"`
}

// BookConfig 订单簿配置
type BookConfig struct {
	// MaxDepth 单侧最大深度档位数
	MaxDepth int `yaml:"max_depth"`
}

// DispatchConfig 事件分发配置
type DispatchConfig struct {
	// QueueSize 分发队列长度，队列满时丢弃事件并告警
	QueueSize int `yaml:"queue_size"`
	// TradeCacheSize 每个交易所、交易对缓存的最近成交条数
	TradeCacheSize int `yaml:"trade_cache_size"`
}

// SupervisorConfig 连接监护器策略配置
// 所有交易所共用同一套策略参数
type SupervisorConfig struct {
	// HeartbeatIntervalMs 心跳间隔（毫秒）
	// 超过 1 倍间隔无消息进入降级状态，超过 2 倍触发重连
	HeartbeatIntervalMs int `yaml:"heartbeat_interval_ms"`
	// ConnectTimeoutMs 建立连接阶段超时（毫秒）
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	// AuthTimeoutMs 认证阶段超时（毫秒）
	AuthTimeoutMs int `yaml:"auth_timeout_ms"`
	// SubscribeTimeoutMs 订阅阶段超时（毫秒）
	SubscribeTimeoutMs int `yaml:"subscribe_timeout_ms"`
	// MaxReconnectAttempts 连续重连失败上限，超过后进入恢复模式
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	// RecoveryProbeIntervalMs 恢复模式下服务可用性探测间隔（毫秒）
	RecoveryProbeIntervalMs int `yaml:"recovery_probe_interval_ms"`
	// BackoffBaseMs 重连退避基础间隔（毫秒）
	BackoffBaseMs int `yaml:"backoff_base_ms"`
	// BackoffMaxMs 重连退避最大间隔（毫秒）
	BackoffMaxMs int `yaml:"backoff_max_ms"`
	// BackoffJitter 重连退避抖动比例（0-1）
	BackoffJitter float64 `yaml:"backoff_jitter"`
}

// HeartbeatInterval 获取心跳间隔的 time.Duration 表示
func (s *SupervisorConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalMs) * time.Millisecond
}

// ExchangeKind 交易所类型
const (
	// KindCEX 中心化交易所（需要认证）
	KindCEX = "cex"
	// KindDEX 去中心化交易所网关（无认证）
	KindDEX = "dex"
)

// ExchangeConfig 单个交易所的连接配置
type ExchangeConfig struct {
	// Name 交易所标识: kucoin, binance, sushiswap
	Name string `yaml:"name"`
	// Kind 交易所类型: cex 或 dex
	Kind string `yaml:"kind"`
	// RESTURL REST API 基础地址
	RESTURL string `yaml:"rest_url"`
	// StreamURL WebSocket 连接地址
	// KuCoin 留空，由 bullet token 接口下发
	StreamURL string `yaml:"stream_url"`
	// PingIntervalMs 应用层心跳发送间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// PongTimeoutMs 心跳响应超时（毫秒）
	PongTimeoutMs int `yaml:"pong_timeout_ms"`
	// ReadTimeoutMs 读取超时（毫秒）
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// RESTTimeoutMs REST 请求超时（毫秒）
	RESTTimeoutMs int `yaml:"rest_timeout_ms"`
	// CredentialsEnvPrefix 凭证环境变量前缀
	// 例如 KUCOIN 表示读取 KUCOIN_API_KEY / KUCOIN_API_SECRET / KUCOIN_API_PASSPHRASE
	CredentialsEnvPrefix string `yaml:"credentials_env_prefix"`
}

// EngineConfig 仓位引擎配置
type EngineConfig struct {
	// Enabled 是否启用仓位引擎
	Enabled bool `yaml:"enabled"`
	// InitialBalance 初始模拟余额（计价币种）
	InitialBalance float64 `yaml:"initial_balance"`
	// RiskPerTrade 单笔风险比例（0-1），用于仓位大小计算
	RiskPerTrade float64 `yaml:"risk_per_trade"`
}

// AutoTraderConfig 自动交易器配置
type AutoTraderConfig struct {
	// Enabled 是否启用自动交易器
	Enabled bool `yaml:"enabled"`
	// Interval 使用的 K 线周期，如 1m
	Interval string `yaml:"interval"`
	// FastPeriod 快线均值周期
	FastPeriod int `yaml:"fast_period"`
	// SlowPeriod 慢线均值周期
	SlowPeriod int `yaml:"slow_period"`
	// RSIPeriod RSI 周期
	RSIPeriod int `yaml:"rsi_period"`
	// RSIOversold RSI 超卖阈值
	RSIOversold float64 `yaml:"rsi_oversold"`
	// RSIOverbought RSI 超买阈值
	RSIOverbought float64 `yaml:"rsi_overbought"`
	// CooldownMs 同一交易对两次信号之间的冷却时间（毫秒）
	CooldownMs int `yaml:"cooldown_ms"`
	// OrderQty 每次信号下单数量（基础币种）
	OrderQty float64 `yaml:"order_qty"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// SignalsEnabled 是否输出信号文件
	SignalsEnabled bool `yaml:"signals_enabled"`
	// MetricsEnabled 是否输出指标文件
	MetricsEnabled bool `yaml:"metrics_enabled"`
	// MetricsIntervalMs 指标输出间隔（毫秒）
	MetricsIntervalMs int `yaml:"metrics_interval_ms"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析 YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 设置默认值
	cfg.setDefaults()

	// 验证配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	// 应用默认值
	if c.App.Name == "" {
		c.App.Name = "market-data-hub"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	// 订单簿默认深度
	if c.Book.MaxDepth == 0 {
		c.Book.MaxDepth = 20
	}

	// 分发默认值
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 1024
	}
	if c.Dispatch.TradeCacheSize == 0 {
		c.Dispatch.TradeCacheSize = 200
	}

	// 监护器默认策略
	if c.Supervisor.HeartbeatIntervalMs == 0 {
		c.Supervisor.HeartbeatIntervalMs = 30000 // 30 秒
	}
	if c.Supervisor.ConnectTimeoutMs == 0 {
		c.Supervisor.ConnectTimeoutMs = 30000 // 30 秒
	}
	if c.Supervisor.AuthTimeoutMs == 0 {
		c.Supervisor.AuthTimeoutMs = 10000 // 10 秒
	}
	if c.Supervisor.SubscribeTimeoutMs == 0 {
		c.Supervisor.SubscribeTimeoutMs = 10000 // 10 秒
	}
	if c.Supervisor.MaxReconnectAttempts == 0 {
		c.Supervisor.MaxReconnectAttempts = 10
	}
	if c.Supervisor.RecoveryProbeIntervalMs == 0 {
		c.Supervisor.RecoveryProbeIntervalMs = 60000 // 60 秒
	}
	if c.Supervisor.BackoffBaseMs == 0 {
		c.Supervisor.BackoffBaseMs = 2000 // 2 秒
	}
	if c.Supervisor.BackoffMaxMs == 0 {
		c.Supervisor.BackoffMaxMs = 30000 // 30 秒
	}
	if c.Supervisor.BackoffJitter == 0 {
		c.Supervisor.BackoffJitter = 0.2 // ±20%
	}

	// 交易所默认值
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		if ex.Kind == "" {
			ex.Kind = KindCEX
		}
		if ex.PingIntervalMs == 0 {
			ex.PingIntervalMs = 20000 // 20 秒
		}
		if ex.PongTimeoutMs == 0 {
			ex.PongTimeoutMs = 10000 // 10 秒
		}
		if ex.ReadTimeoutMs == 0 {
			ex.ReadTimeoutMs = 60000 // 60 秒
		}
		if ex.RESTTimeoutMs == 0 {
			ex.RESTTimeoutMs = 10000 // 10 秒
		}
	}

	// 仓位引擎默认值
	if c.Engine.InitialBalance == 0 {
		c.Engine.InitialBalance = 10000
	}
	if c.Engine.RiskPerTrade == 0 {
		c.Engine.RiskPerTrade = 0.02 // 2%
	}

	// 自动交易器默认值
	if c.AutoTrader.Interval == "" {
		c.AutoTrader.Interval = "1m"
	}
	if c.AutoTrader.FastPeriod == 0 {
		c.AutoTrader.FastPeriod = 7
	}
	if c.AutoTrader.SlowPeriod == 0 {
		c.AutoTrader.SlowPeriod = 25
	}
	if c.AutoTrader.RSIPeriod == 0 {
		c.AutoTrader.RSIPeriod = 14
	}
	if c.AutoTrader.RSIOversold == 0 {
		c.AutoTrader.RSIOversold = 30
	}
	if c.AutoTrader.RSIOverbought == 0 {
		c.AutoTrader.RSIOverbought = 70
	}
	if c.AutoTrader.CooldownMs == 0 {
		c.AutoTrader.CooldownMs = 60000 // 60 秒
	}
	if c.AutoTrader.OrderQty == 0 {
		c.AutoTrader.OrderQty = 0.001
	}

	// 输出默认值
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.MetricsIntervalMs == 0 {
		c.Output.MetricsIntervalMs = 10000 // 10 秒
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	// 验证交易对配置
	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: 至少需要配置一个交易对")
	}
	for i, sym := range c.Symbols {
		if sym.Input == "" {
			errs = append(errs, fmt.Sprintf("symbols[%d].input: 交易对不能为空", i))
		}
	}

	// 验证交易所配置
	if len(c.Exchanges) == 0 {
		errs = append(errs, "exchanges: 至少需要配置一个交易所")
	}
	seen := make(map[string]bool)
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			errs = append(errs, fmt.Sprintf("exchanges[%d].name: 交易所标识不能为空", i))
			continue
		}
		if seen[ex.Name] {
			errs = append(errs, fmt.Sprintf("exchanges[%d].name: 交易所 '%s' 重复配置", i, ex.Name))
		}
		seen[ex.Name] = true

		if ex.Kind != KindCEX && ex.Kind != KindDEX {
			errs = append(errs, fmt.Sprintf("exchanges[%d].kind: 无效的交易所类型 '%s'，有效值: cex, dex", i, ex.Kind))
		}
		if ex.RESTURL == "" {
			errs = append(errs, fmt.Sprintf("exchanges[%d].rest_url: REST API 地址不能为空", i))
		}
		// KuCoin 的流地址由 bullet token 接口下发，允许留空
		if ex.StreamURL == "" && ex.Name != "kucoin" {
			errs = append(errs, fmt.Sprintf("exchanges[%d].stream_url: WebSocket 地址不能为空", i))
		}
	}

	// 验证监护器策略
	if c.Supervisor.HeartbeatIntervalMs <= 0 {
		errs = append(errs, "supervisor.heartbeat_interval_ms: 心跳间隔必须为正数")
	}
	if c.Supervisor.MaxReconnectAttempts <= 0 {
		errs = append(errs, "supervisor.max_reconnect_attempts: 重连上限必须为正数")
	}
	if c.Supervisor.BackoffJitter < 0 || c.Supervisor.BackoffJitter > 1 {
		errs = append(errs, "supervisor.backoff_jitter: 抖动比例必须在 0-1 之间")
	}
	if c.Supervisor.BackoffMaxMs < c.Supervisor.BackoffBaseMs {
		errs = append(errs, "supervisor.backoff_max_ms: 退避最大间隔不能小于基础间隔")
	}

	// 验证仓位引擎参数
	if c.Engine.InitialBalance < 0 {
		errs = append(errs, "engine.initial_balance: 初始余额不能为负数")
	}
	if c.Engine.RiskPerTrade < 0 || c.Engine.RiskPerTrade > 1 {
		errs = append(errs, "engine.risk_per_trade: 单笔风险比例必须在 0-1 之间")
	}

	// 验证自动交易器参数
	if c.AutoTrader.FastPeriod >= c.AutoTrader.SlowPeriod {
		errs = append(errs, "auto_trader.fast_period: 快线周期必须小于慢线周期")
	}
	if c.AutoTrader.RSIOversold >= c.AutoTrader.RSIOverbought {
		errs = append(errs, "auto_trader.rsi_oversold: 超卖阈值必须小于超买阈值")
	}
	if c.AutoTrader.OrderQty < 0 {
		errs = append(errs, "auto_trader.order_qty: 下单数量不能为负数")
	}

	// 验证日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// GetSymbolInputs 获取所有配置的交易对输入
// 返回: 交易对输入字符串列表
func (c *Config) GetSymbolInputs() []string {
	inputs := make([]string, len(c.Symbols))
	for i, sym := range c.Symbols {
		inputs[i] = sym.Input
	}
	return inputs
}

// FindExchange 按标识查找交易所配置
// 返回: 交易所配置和是否存在
func (c *Config) FindExchange(name string) (*ExchangeConfig, bool) {
	for i := range c.Exchanges {
		if c.Exchanges[i].Name == name {
			return &c.Exchanges[i], true
		}
	}
	return nil, false
}
