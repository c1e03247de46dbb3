// Package autotrader 实现基于 K 线技术指标的规则交易器。
// 指标计算为纯函数，输入收盘价序列，输出与输入等长的序列，
// 暖机期内的位置以 NaN 填充。
package autotrader

import (
	"math"
)

// SMA 简单移动平均
// 返回与 prices 等长的序列，前 period-1 个位置为 NaN；
// 输入不足 period 时返回空切片
func SMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	out := make([]float64, len(prices))
	var sum float64
	for i, px := range prices {
		sum += px
		if i >= period {
			sum -= prices[i-period]
		}
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// EMA 指数移动平均
// 以前 period 个价格的均值作为种子，乘数 2/(period+1)
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	out := make([]float64, len(prices))
	multiplier := 2.0 / float64(period+1)

	var seed float64
	for i := 0; i < period; i++ {
		seed += prices[i]
		if i < period-1 {
			out[i] = math.NaN()
		}
	}
	out[period-1] = seed / float64(period)

	for i := period; i < len(prices); i++ {
		out[i] = (prices[i]-out[i-1])*multiplier + out[i-1]
	}
	return out
}

// RSI 相对强弱指数（Wilder 平滑）
// 前 period 个位置为 NaN；无下跌时取 100
func RSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period+1 {
		return nil
	}
	out := make([]float64, len(prices))

	gains := make([]float64, len(prices)-1)
	losses := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains[i-1] = delta
		} else {
			losses[i-1] = -delta
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		out[i] = math.NaN()
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(prices); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i-1]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i-1]) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult MACD 计算结果
type MACDResult struct {
	// MACD 快慢 EMA 之差
	MACD []float64
	// Signal MACD 的 EMA 平滑线
	Signal []float64
	// Histogram MACD 与 Signal 之差
	Histogram []float64
}

// MACD 指数平滑异同移动平均线
// 常用参数: fast=12, slow=26, signalPeriod=9
func MACD(prices []float64, fast, slow, signalPeriod int) MACDResult {
	if fast <= 0 || slow <= fast || signalPeriod <= 0 || len(prices) < slow {
		return MACDResult{}
	}

	emaFast := EMA(prices, fast)
	emaSlow := EMA(prices, slow)

	macdLine := make([]float64, len(prices))
	valid := make([]float64, 0, len(prices)-slow+1)
	for i := range prices {
		if i < slow-1 {
			macdLine[i] = math.NaN()
			continue
		}
		macdLine[i] = emaFast[i] - emaSlow[i]
		valid = append(valid, macdLine[i])
	}

	signalValid := EMA(valid, signalPeriod)
	signalLine := make([]float64, len(prices))
	pad := len(prices) - len(signalValid)
	for i := 0; i < pad; i++ {
		signalLine[i] = math.NaN()
	}
	copy(signalLine[pad:], signalValid)

	histogram := make([]float64, len(prices))
	for i := range prices {
		histogram[i] = macdLine[i] - signalLine[i]
	}
	return MACDResult{MACD: macdLine, Signal: signalLine, Histogram: histogram}
}

// BollingerResult 布林带计算结果
type BollingerResult struct {
	// Upper 上轨: 中轨 + numStd × 标准差
	Upper []float64
	// Middle 中轨: period 周期 SMA
	Middle []float64
	// Lower 下轨: 中轨 - numStd × 标准差
	Lower []float64
}

// Bollinger 布林带
// 标准差采用总体标准差（除以 period）
func Bollinger(prices []float64, period int, numStd float64) BollingerResult {
	middle := SMA(prices, period)
	if middle == nil {
		return BollingerResult{}
	}

	upper := make([]float64, len(prices))
	lower := make([]float64, len(prices))
	for i := range prices {
		if i < period-1 {
			upper[i] = math.NaN()
			lower[i] = math.NaN()
			continue
		}
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := prices[j] - middle[i]
			variance += d * d
		}
		std := math.Sqrt(variance / float64(period))
		upper[i] = middle[i] + numStd*std
		lower[i] = middle[i] - numStd*std
	}
	return BollingerResult{Upper: upper, Middle: middle, Lower: lower}
}
