// Package main 是多交易所行情中枢的入口点。
// 连接配置的各家交易所（KuCoin、Binance、SushiSwap 网关），
// 汇聚订单簿与成交流，可选启用模拟仓位引擎与指标自动交易器，
// 并周期性落盘运行指标。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"market-data-hub/internal/config"
	"market-data-hub/internal/core/autotrader"
	"market-data-hub/internal/core/engine"
	"market-data-hub/internal/core/model"
	"market-data-hub/internal/exchange"
	"market-data-hub/internal/exchange/binance"
	"market-data-hub/internal/exchange/kucoin"
	"market-data-hub/internal/exchange/sushiswap"
	"market-data-hub/internal/marketdata"
	"market-data-hub/internal/metadata"
	"market-data-hub/internal/output/jsonl"
	"market-data-hub/internal/stats/lag"
	"market-data-hub/internal/util/timeutil"
)

func main() {
	var configPath, envPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.StringVar(&envPath, "env", "", ".env 文件路径（留空则尝试加载当前目录的 .env）")
	flag.Parse()

	// API 凭证通过环境变量注入，.env 文件可选
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Fprintf(os.Stderr, "加载 env 文件失败: %v\n", err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	// 构建 symbol 映射（禁止硬编码订阅 symbol）
	symbolMaps, err := metadata.BuildSymbolMaps(cfg.GetSymbolInputs())
	if err != nil {
		logger.Error("构建 symbol 映射失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("symbol 映射完成", zap.Int("symbols", len(symbolMaps)))

	// 按配置创建各交易所适配器
	adapters := make([]exchange.Adapter, 0, len(cfg.Exchanges))
	listers := make([]metadata.PairLister, 0, len(cfg.Exchanges))
	for i := range cfg.Exchanges {
		exCfg := &cfg.Exchanges[i]
		creds := exchange.CredentialsFromEnv(exCfg.CredentialsEnvPrefix)
		if exCfg.Kind == config.KindCEX && creds.IsZero() {
			logger.Warn("未提供 API 凭证，仅使用公共行情通道",
				zap.String("exchange", exCfg.Name),
				zap.String("env_prefix", exCfg.CredentialsEnvPrefix))
		}

		var adapter exchange.Adapter
		switch exCfg.Name {
		case model.ExchangeKuCoin:
			adapter = kucoin.New(exCfg, creds, symbolMaps, logger)
		case model.ExchangeBinance:
			adapter = binance.New(exCfg, creds, symbolMaps, logger)
		case model.ExchangeSushiSwap:
			adapter = sushiswap.New(exCfg, symbolMaps, logger)
		default:
			logger.Error("不支持的交易所", zap.String("exchange", exCfg.Name))
			os.Exit(1)
		}
		adapters = append(adapters, adapter)
		listers = append(listers, adapter)
	}

	// 启动前核对各交易所的上币列表
	verifyCtx, verifyCancel := context.WithTimeout(ctx, 30*time.Second)
	missing := metadata.VerifyListings(verifyCtx, listers, symbolMaps, logger)
	verifyCancel()
	if err := metadata.RequireAll(missing); err != nil {
		logger.Error("交易对核对失败", zap.Error(err))
		os.Exit(1)
	}

	md := marketdata.New(cfg, logger)
	for i, adapter := range adapters {
		if _, err := md.RegisterExchange(adapter, &cfg.Exchanges[i]); err != nil {
			logger.Error("注册交易所失败",
				zap.String("exchange", adapter.Name()), zap.Error(err))
			os.Exit(1)
		}
	}

	journal, err := jsonl.NewJournal(cfg.Output, logger)
	if err != nil {
		logger.Error("创建输出日志失败", zap.Error(err))
		os.Exit(1)
	}

	// feed 滞后追踪挂在分发循环的观测钩子上
	lagTracker := lag.NewTracker(10000)
	md.SetEventObserver(lagTracker.Observe)

	// 模拟仓位引擎：以首个配置交易所的中间价作为标记价来源
	var eng *engine.Engine
	if cfg.Engine.Enabled {
		eng = engine.New(cfg.Engine, logger)
		eng.OnPositionUpdate(func(pos model.Position) {
			logger.Info("仓位更新",
				zap.String("symbol", pos.SymbolCanon),
				zap.Float64("size", pos.Size),
				zap.Float64("entry_px", pos.EntryPx),
				zap.Float64("mark_px", pos.MarkPx),
				zap.Float64("unrealized_pnl", pos.UnrealizedPnL))
		})
		md.AddPriceUpdateHandler(cfg.Exchanges[0].Name, func(symbolCanon string, midPrice float64) {
			eng.MarkPrice(symbolCanon, midPrice)
		})
	}

	if cfg.AutoTrader.Enabled {
		trader := autotrader.New(cfg.AutoTrader, eng, logger)
		trader.OnSignal(func(sig *model.Signal) {
			journal.WriteSignal(sig)
		})
		md.Registry().OnCandle(trader.OnCandle)
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, 60*time.Second)
	allLive := md.Connect(connectCtx)
	connectCancel()
	if !allLive {
		// 未就绪的连接由监护器在后台继续重试，不阻塞启动
		logger.Warn("部分交易所尚未就绪，后台继续重连")
	}

	// 订阅所有配置的交易对
	kinds := []model.ChannelKind{model.ChannelOrderBook, model.ChannelTrades}
	if cfg.AutoTrader.Enabled {
		kinds = append(kinds, model.ChannelCandles)
	}
	for canon := range symbolMaps {
		if err := md.Subscribe(canon, kinds); err != nil {
			logger.Error("订阅失败", zap.String("symbol", canon), zap.Error(err))
		}
	}

	runMetricsLoop(ctx, logger, md, lagTracker, journal, cfg.Output.MetricsIntervalMs)

	// 输出最后一条指标快照（便于离线复盘）
	journal.WriteMetrics(buildMetricsRecord(md, lagTracker))
	journal.Flush()

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = md.DisconnectAll()
		if err := journal.Close(); err != nil {
			logger.Warn("关闭输出日志失败", zap.Error(err))
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// runMetricsLoop 周期性落盘运行指标，直到 ctx 取消
func runMetricsLoop(
	ctx context.Context,
	logger *zap.Logger,
	md *marketdata.MarketData,
	lagTracker *lag.Tracker,
	journal *jsonl.Journal,
	intervalMs int,
) {
	if intervalMs <= 0 {
		intervalMs = 10000
	}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			journal.WriteMetrics(buildMetricsRecord(md, lagTracker))
			journal.Flush()

			for _, st := range md.AllStatuses() {
				if !st.Phase.IsConnected() {
					logger.Warn("交易所连接未就绪",
						zap.String("exchange", st.Exchange),
						zap.String("phase", st.Phase.String()),
						zap.Int("reconnect_attempts", st.ReconnectAttempts))
				}
			}
		}
	}
}

// buildMetricsRecord 汇集监护器状态、分发统计与滞后分位数
func buildMetricsRecord(md *marketdata.MarketData, lagTracker *lag.Tracker) *jsonl.MetricsRecord {
	supMetrics := md.SupervisorMetrics()
	statuses := md.AllStatuses()

	exchanges := make([]jsonl.ExchangeMetrics, 0, len(statuses))
	for _, st := range statuses {
		m := supMetrics[st.Exchange]
		lagStats := lagTracker.Stats(st.Exchange)
		exchanges = append(exchanges, jsonl.ExchangeMetrics{
			Exchange:          st.Exchange,
			Phase:             st.Phase.String(),
			ConnectionQuality: st.ConnectionQuality,
			ReconnectCount:    m.ReconnectCount,
			ParseErrorCount:   m.ParseErrorCount,
			DroppedEventCount: m.DroppedEventCount,
			UpdateCount:       m.UpdateCount,
			LastMessageAgeMs:  m.LastMessageAgeMs,
			LagP50Ms:          lagStats.P50Ms,
			LagP95Ms:          lagStats.P95Ms,
			LagP99Ms:          lagStats.P99Ms,
		})
	}

	dispatch := md.DispatchStats()
	return &jsonl.MetricsRecord{
		TsMs:            timeutil.NowMs(),
		Exchanges:       exchanges,
		DispatchedCount: dispatch.DispatchedCount,
		DroppedCount:    dispatch.DroppedCount,
	}
}
