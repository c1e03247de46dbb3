// Package metadata 负责交易对标准化并构建各交易所的 symbol 映射。
package metadata

// SymbolMap 交易对映射表
// 用于将用户输入的交易对映射到各交易所的原生标识符
type SymbolMap struct {
	// Canon 内部统一标识，如 BTCUSDT
	Canon string
	// UserInput 用户输入，如 BTC-USDT
	UserInput string
	// Base 基础币种，如 BTC
	Base string
	// Quote 计价币种，如 USDT
	Quote string
	// KuCoinSym KuCoin 交易对，如 BTC-USDT
	KuCoinSym string
	// BinanceSym Binance 交易对，如 BTCUSDT
	BinanceSym string
	// SushiSym SushiSwap 网关交易对，如 BTCUSDT
	SushiSym string
}

// NativeSymbol 获取指定交易所的原生交易对标识
// 未知交易所返回 Canon
func (m *SymbolMap) NativeSymbol(exchange string) string {
	switch exchange {
	case "kucoin":
		return m.KuCoinSym
	case "binance":
		return m.BinanceSym
	case "sushiswap":
		return m.SushiSym
	default:
		return m.Canon
	}
}
