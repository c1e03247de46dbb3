// Package book 订单簿属性测试
package book

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"market-data-hub/internal/core/model"
)

// TestBook_Property_SortedAndBounded 属性: 任意更新后双方有序且不超过最大深度
func TestBook_Property_SortedAndBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("买方降序、卖方升序且深度受限", prop.ForAll(
		func(prices []float64, qtys []float64, maxDepth int) bool {
			n := len(prices)
			if len(qtys) < n {
				n = len(qtys)
			}

			bids := make([]model.Level, 0, n)
			asks := make([]model.Level, 0, n)
			for i := 0; i < n; i++ {
				bids = append(bids, model.Level{Price: prices[i], Qty: qtys[i]})
				asks = append(asks, model.Level{Price: prices[i] + 1, Qty: qtys[i]})
			}

			b := New(model.ExchangeKuCoin, "BTCUSDT", maxDepth)
			b.ApplyDelta(&model.BookDelta{Bids: bids, Asks: asks, Seq: 1})

			snap := b.Snapshot()

			// 深度受限
			if len(snap.Bids) > maxDepth || len(snap.Asks) > maxDepth {
				return false
			}

			// 买方降序
			for i := 1; i < len(snap.Bids); i++ {
				if snap.Bids[i].Price > snap.Bids[i-1].Price {
					return false
				}
			}
			// 卖方升序
			for i := 1; i < len(snap.Asks); i++ {
				if snap.Asks[i].Price < snap.Asks[i-1].Price {
					return false
				}
			}

			// 数量非正的档位不应出现
			for _, e := range snap.Bids {
				if e.Qty <= 0 || e.Price <= 0 {
					return false
				}
			}
			for _, e := range snap.Asks {
				if e.Qty <= 0 || e.Price <= 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(0.0001, 100000)),
		gen.SliceOf(gen.Float64Range(-1, 10)),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

// TestBook_Property_StaleSeqNoop 属性: 序列号不增时簿内容不变
func TestBook_Property_StaleSeqNoop(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("旧序列号更新不改变簿状态", prop.ForAll(
		func(seq int64, staleDelta int64) bool {
			if seq <= 0 {
				return true
			}

			b := New(model.ExchangeBinance, "ETHUSDT", 20)
			b.ApplyDelta(&model.BookDelta{
				Bids: []model.Level{{Price: 3000, Qty: 1}},
				Asks: []model.Level{{Price: 3001, Qty: 1}},
				Seq:  seq,
			})
			before := b.Snapshot()

			// staleSeq <= seq 时应被静默丢弃
			// Seq <= 0 表示未提供序列号，不参与该属性
			staleSeq := seq - staleDelta
			if staleSeq <= 0 {
				return true
			}
			if applied := b.ApplyDelta(&model.BookDelta{
				Bids: []model.Level{{Price: 1, Qty: 1}},
				Seq:  staleSeq,
			}); applied {
				return false
			}

			after := b.Snapshot()
			if len(after.Bids) != len(before.Bids) || after.LastUpdateID != before.LastUpdateID {
				return false
			}
			bid, _ := b.BestBid()
			return bid.Price == 3000
		},
		gen.Int64Range(1, 1_000_000),
		gen.Int64Range(0, 1_000_000),
	))

	properties.TestingRun(t)
}

// TestMerge_Property_BestOfAll 属性: 合并簿的最优价为各簿最优价的极值
func TestMerge_Property_BestOfAll(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("合并簿最优买价为各簿最大买价", prop.ForAll(
		func(px1, px2 float64) bool {
			a := New("ex_a", "XUSDT", 20)
			a.ApplyDelta(&model.BookDelta{
				Bids: []model.Level{{Price: px1, Qty: 1}},
				Seq:  1,
			})
			b := New("ex_b", "XUSDT", 20)
			b.ApplyDelta(&model.BookDelta{
				Bids: []model.Level{{Price: px2, Qty: 1}},
				Seq:  1,
			})

			merged := Merge("XUSDT", 20, a.Snapshot(), b.Snapshot())
			bid, ok := merged.BestBid()
			if !ok {
				return false
			}

			want := px1
			if px2 > want {
				want = px2
			}
			return bid.Price == want
		},
		gen.Float64Range(0.01, 100000),
		gen.Float64Range(0.01, 100000),
	))

	properties.TestingRun(t)
}
