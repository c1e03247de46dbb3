// Package metadata 负责交易对标准化并构建各交易所的 symbol 映射。
package metadata

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"market-data-hub/internal/core/model"
)

// PairLister 交易对列表获取接口
// 由交易所适配器实现（REST exchangeInfo/symbols 等）
type PairLister interface {
	// Name 交易所标识
	Name() string
	// FetchPairs 获取可用交易对列表
	FetchPairs(ctx context.Context) ([]model.Pair, error)
}

// VerifyListings 校验配置的交易对在各交易所均已上线
// 逐交易所拉取可用交易对并与映射表比对；
// 某交易所未上线的交易对记录 warn 日志，拉取失败不阻断启动。
// 返回: 每个交易所缺失的交易对（key 为交易所标识）
func VerifyListings(ctx context.Context, listers []PairLister, maps map[string]*SymbolMap, logger *zap.Logger) map[string][]string {
	missing := make(map[string][]string)

	for _, l := range listers {
		pairs, err := l.FetchPairs(ctx)
		if err != nil {
			logger.Warn("获取交易对列表失败，跳过校验",
				zap.String("exchange", l.Name()),
				zap.Error(err))
			continue
		}

		listed := make(map[string]bool, len(pairs))
		for _, p := range pairs {
			listed[p.SymbolCanon] = true
		}

		for canon := range maps {
			if !listed[canon] {
				missing[l.Name()] = append(missing[l.Name()], canon)
			}
		}

		if len(missing[l.Name()]) > 0 {
			logger.Warn("部分交易对未在交易所上线",
				zap.String("exchange", l.Name()),
				zap.Strings("symbols", missing[l.Name()]))
		} else {
			logger.Info("交易对校验通过",
				zap.String("exchange", l.Name()),
				zap.Int("pairs", len(pairs)))
		}
	}

	return missing
}

// RequireAll 校验结果断言
// 任一交易所存在缺失交易对时返回错误，供希望快速失败的调用方使用
func RequireAll(missing map[string][]string) error {
	for exchange, symbols := range missing {
		if len(symbols) > 0 {
			return fmt.Errorf("交易所 %s 缺失交易对: %v", exchange, symbols)
		}
	}
	return nil
}
