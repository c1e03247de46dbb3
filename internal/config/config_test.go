// Package config 配置模块测试
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConfigValidation_Supervisor 测试监护器策略参数验证
func TestConfigValidation_Supervisor(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 心跳间隔非正数应验证失败
	properties.Property("心跳间隔非正数应验证失败", prop.ForAll(
		func(interval int) bool {
			cfg := createValidConfig()
			cfg.Supervisor.HeartbeatIntervalMs = interval
			return cfg.Validate() != nil
		},
		gen.IntRange(-100000, 0),
	))

	// 属性: 重连上限非正数应验证失败
	properties.Property("重连上限非正数应验证失败", prop.ForAll(
		func(attempts int) bool {
			cfg := createValidConfig()
			cfg.Supervisor.MaxReconnectAttempts = attempts
			return cfg.Validate() != nil
		},
		gen.IntRange(-1000, 0),
	))

	// 属性: 抖动比例超出 [0, 1] 应验证失败
	properties.Property("抖动比例超出范围应验证失败", prop.ForAll(
		func(jitter float64) bool {
			cfg := createValidConfig()
			cfg.Supervisor.BackoffJitter = jitter
			return cfg.Validate() != nil
		},
		gen.OneGenOf(
			gen.Float64Range(-1000, -0.0001),
			gen.Float64Range(1.0001, 1000),
		),
	))

	// 属性: 退避最大间隔小于基础间隔应验证失败
	properties.Property("退避上限小于基础间隔应验证失败", prop.ForAll(
		func(base int) bool {
			cfg := createValidConfig()
			cfg.Supervisor.BackoffBaseMs = base
			cfg.Supervisor.BackoffMaxMs = base - 1
			return cfg.Validate() != nil
		},
		gen.IntRange(1000, 60000),
	))

	properties.TestingRun(t)
}

// TestConfigValidation_Symbols 测试交易对配置验证
func TestConfigValidation_Symbols(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性: 空交易对列表应验证失败
	properties.Property("空交易对列表应验证失败", prop.ForAll(
		func(_ int) bool {
			cfg := createValidConfig()
			cfg.Symbols = []SymbolConfig{}
			return cfg.Validate() != nil
		},
		gen.Int(),
	))

	// 属性: 交易对输入为空字符串应验证失败
	properties.Property("空交易对输入应验证失败", prop.ForAll(
		func(_ int) bool {
			cfg := createValidConfig()
			cfg.Symbols = []SymbolConfig{{Input: ""}}
			return cfg.Validate() != nil
		},
		gen.Int(),
	))

	// 属性: 有效交易对应通过验证
	properties.Property("有效交易对应通过验证", prop.ForAll(
		func(symbol string) bool {
			if symbol == "" {
				return true // 跳过空字符串
			}
			cfg := createValidConfig()
			cfg.Symbols = []SymbolConfig{{Input: symbol}}
			return cfg.Validate() == nil
		},
		gen.AnyString().SuchThat(func(s string) bool { return len(s) > 0 }),
	))

	properties.TestingRun(t)
}

// TestConfigValidation_Exchanges 测试交易所配置验证
func TestConfigValidation_Exchanges(t *testing.T) {
	// 空交易所列表
	cfg := createValidConfig()
	cfg.Exchanges = nil
	if cfg.Validate() == nil {
		t.Error("空交易所列表应验证失败")
	}

	// 重复的交易所标识
	cfg = createValidConfig()
	cfg.Exchanges = append(cfg.Exchanges, cfg.Exchanges[0])
	if cfg.Validate() == nil {
		t.Error("重复交易所标识应验证失败")
	}

	// 无效的交易所类型
	cfg = createValidConfig()
	cfg.Exchanges[0].Kind = "hybrid"
	if cfg.Validate() == nil {
		t.Error("无效交易所类型应验证失败")
	}

	// 非 kucoin 交易所缺少流地址
	cfg = createValidConfig()
	cfg.Exchanges[1].StreamURL = ""
	if cfg.Validate() == nil {
		t.Error("缺少流地址应验证失败")
	}

	// kucoin 允许流地址留空（由 bullet token 下发）
	cfg = createValidConfig()
	cfg.Exchanges[0].StreamURL = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("kucoin 流地址留空应通过验证: %v", err)
	}
}

// TestConfigValidation_AutoTrader 测试自动交易器参数验证
func TestConfigValidation_AutoTrader(t *testing.T) {
	cfg := createValidConfig()
	cfg.AutoTrader.FastPeriod = 25
	cfg.AutoTrader.SlowPeriod = 7
	if cfg.Validate() == nil {
		t.Error("快线周期大于慢线周期应验证失败")
	}

	cfg = createValidConfig()
	cfg.AutoTrader.RSIOversold = 80
	cfg.AutoTrader.RSIOverbought = 70
	if cfg.Validate() == nil {
		t.Error("超卖阈值大于超买阈值应验证失败")
	}
}

// TestSetDefaults 测试默认值填充
func TestSetDefaults(t *testing.T) {
	cfg := &Config{
		Symbols: []SymbolConfig{{Input: "BTC-USDT"}},
		Exchanges: []ExchangeConfig{
			{Name: "binance", RESTURL: "https://api.binance.com", StreamURL: "wss://stream.binance.com:9443/ws"},
		},
	}
	cfg.setDefaults()

	if cfg.App.Name != "market-data-hub" {
		t.Errorf("默认 App.Name = %s, want market-data-hub", cfg.App.Name)
	}
	if cfg.Book.MaxDepth != 20 {
		t.Errorf("默认 Book.MaxDepth = %d, want 20", cfg.Book.MaxDepth)
	}
	if cfg.Supervisor.HeartbeatIntervalMs != 30000 {
		t.Errorf("默认心跳间隔 = %d, want 30000", cfg.Supervisor.HeartbeatIntervalMs)
	}
	if cfg.Supervisor.BackoffBaseMs != 2000 || cfg.Supervisor.BackoffMaxMs != 30000 {
		t.Errorf("默认退避参数 = (%d, %d), want (2000, 30000)", cfg.Supervisor.BackoffBaseMs, cfg.Supervisor.BackoffMaxMs)
	}
	if cfg.Exchanges[0].Kind != KindCEX {
		t.Errorf("默认交易所类型 = %s, want cex", cfg.Exchanges[0].Kind)
	}
	if cfg.Exchanges[0].PingIntervalMs != 20000 {
		t.Errorf("默认心跳发送间隔 = %d, want 20000", cfg.Exchanges[0].PingIntervalMs)
	}

	// 填充默认值后应通过验证
	if err := cfg.Validate(); err != nil {
		t.Errorf("默认配置应通过验证: %v", err)
	}
}

// createValidConfig 创建一个有效的配置用于测试
func createValidConfig() *Config {
	cfg := &Config{
		App: AppConfig{
			Name:     "test",
			LogLevel: "info",
		},
		Symbols: []SymbolConfig{
			{Input: "BTC-USDT"},
		},
		Exchanges: []ExchangeConfig{
			{
				Name:                 "kucoin",
				Kind:                 KindCEX,
				RESTURL:              "https://api.kucoin.com",
				CredentialsEnvPrefix: "KUCOIN",
			},
			{
				Name:      "binance",
				Kind:      KindCEX,
				RESTURL:   "https://api.binance.com",
				StreamURL: "wss://stream.binance.com:9443/ws",
			},
			{
				Name:      "sushiswap",
				Kind:      KindDEX,
				RESTURL:   "https://gateway.sushi.example/api",
				StreamURL: "wss://gateway.sushi.example/stream",
			},
		},
	}
	cfg.setDefaults()
	return cfg
}

// TestLoad_ValidFile 测试从有效文件加载配置
func TestLoad_ValidFile(t *testing.T) {
	content := `
app:
  name: test-hub
  log_level: info

symbols:
  - input: BTC-USDT
  - input: ETH-USDT

book:
  max_depth: 10

supervisor:
  heartbeat_interval_ms: 30000
  max_reconnect_attempts: 5

exchanges:
  - name: kucoin
    kind: cex
    rest_url: https://api.kucoin.com
    credentials_env_prefix: KUCOIN
  - name: binance
    kind: cex
    rest_url: https://api.binance.com
    stream_url: wss://stream.binance.com:9443/ws
  - name: sushiswap
    kind: dex
    rest_url: https://gateway.sushi.example/api
    stream_url: wss://gateway.sushi.example/stream

output:
  dir: ./output
  metrics_enabled: true
`
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.App.Name != "test-hub" {
		t.Errorf("App.Name = %s, want test-hub", cfg.App.Name)
	}
	if len(cfg.Symbols) != 2 {
		t.Errorf("len(Symbols) = %d, want 2", len(cfg.Symbols))
	}
	if cfg.Book.MaxDepth != 10 {
		t.Errorf("Book.MaxDepth = %d, want 10", cfg.Book.MaxDepth)
	}
	if cfg.Supervisor.MaxReconnectAttempts != 5 {
		t.Errorf("Supervisor.MaxReconnectAttempts = %d, want 5", cfg.Supervisor.MaxReconnectAttempts)
	}
	// 未配置项应填充默认值
	if cfg.Supervisor.BackoffBaseMs != 2000 {
		t.Errorf("Supervisor.BackoffBaseMs = %d, want 2000", cfg.Supervisor.BackoffBaseMs)
	}
	if cfg.Dispatch.QueueSize != 1024 {
		t.Errorf("Dispatch.QueueSize = %d, want 1024", cfg.Dispatch.QueueSize)
	}
}

// TestLoad_InvalidFile 测试加载无效文件
func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("加载不存在的文件应返回错误")
	}
}

// TestLoad_InvalidYAML 测试加载无效 YAML
func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "invalid.yaml")
	if err := os.WriteFile(tmpFile, []byte("invalid: yaml: content:"), 0644); err != nil {
		t.Fatalf("创建临时文件失败: %v", err)
	}

	_, err := Load(tmpFile)
	if err == nil {
		t.Error("加载无效 YAML 应返回错误")
	}
}

// TestGetSymbolInputs 测试获取交易对输入列表
func TestGetSymbolInputs(t *testing.T) {
	cfg := &Config{
		Symbols: []SymbolConfig{
			{Input: "BTC-USDT"},
			{Input: "ETH-USDT"},
			{Input: "SOL-USDT"},
		},
	}

	inputs := cfg.GetSymbolInputs()
	if len(inputs) != 3 {
		t.Errorf("len(inputs) = %d, want 3", len(inputs))
	}
	if inputs[0] != "BTC-USDT" {
		t.Errorf("inputs[0] = %s, want BTC-USDT", inputs[0])
	}
}

// TestFindExchange 测试按标识查找交易所配置
func TestFindExchange(t *testing.T) {
	cfg := createValidConfig()

	ex, ok := cfg.FindExchange("binance")
	if !ok || ex.Name != "binance" {
		t.Errorf("FindExchange(binance) = (%v, %v)", ex, ok)
	}

	if _, ok := cfg.FindExchange("okx"); ok {
		t.Error("FindExchange(okx) 应返回不存在")
	}
}
