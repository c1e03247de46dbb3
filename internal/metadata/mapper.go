// Package metadata 负责交易对标准化并构建各交易所的 symbol 映射。
package metadata

import (
	"fmt"
	"strings"
)

// knownQuotes 常见计价币种，用于无分隔符输入的拆分
// 顺序重要：优先匹配较长的后缀
var knownQuotes = []string{"USDT", "USDC", "BUSD", "DAI", "BTC", "ETH"}

// BuildSymbolMaps 构建 Symbol 映射表
// 按命名规则将用户输入的交易对推导为各交易所的原生标识符：
// KuCoin 使用 BASE-QUOTE，Binance 和 SushiSwap 网关使用 BASEQUOTE。
// 参数 inputs: 用户输入的交易对列表，如 ["BTC-USDT", "ETH/USDT"]
// 返回: Symbol 映射表（key 为 Canon）
func BuildSymbolMaps(inputs []string) (map[string]*SymbolMap, error) {
	result := make(map[string]*SymbolMap, len(inputs))
	for _, input := range inputs {
		m, err := buildMapping(input)
		if err != nil {
			return nil, fmt.Errorf("映射交易对 '%s' 失败: %w", input, err)
		}
		result[m.Canon] = m
	}
	return result, nil
}

// buildMapping 为单个交易对构建映射
// 参数 userInput: 用户输入的交易对，如 BTC-USDT
func buildMapping(userInput string) (*SymbolMap, error) {
	base, quote, err := SplitPair(userInput)
	if err != nil {
		return nil, err
	}

	canon := base + quote
	return &SymbolMap{
		Canon:      canon,
		UserInput:  userInput,
		Base:       base,
		Quote:      quote,
		KuCoinSym:  base + "-" + quote,
		BinanceSym: canon,
		SushiSym:   canon,
	}, nil
}

// SplitPair 拆分交易对为基础币种和计价币种
// 支持 BTC-USDT、BTC/USDT、btc_usdt 等带分隔符格式，
// 无分隔符时按常见计价币种后缀拆分（如 BTCUSDT）。
func SplitPair(input string) (base, quote string, err error) {
	s := strings.ToUpper(strings.TrimSpace(input))
	if s == "" {
		return "", "", fmt.Errorf("交易对不能为空")
	}

	for _, sep := range []string{"-", "/", "_"} {
		if parts := strings.Split(s, sep); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], nil
		}
	}

	// 无分隔符：尝试常见计价币种后缀
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q, nil
		}
	}

	return "", "", fmt.Errorf("无法识别的交易对格式: %s", input)
}

// NormalizeToCanon 将用户输入转换为 Canon 格式
// 移除分隔符并转为大写，如 BTC-USDT -> BTCUSDT
func NormalizeToCanon(userInput string) string {
	s := strings.ToUpper(strings.TrimSpace(userInput))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	return s
}
