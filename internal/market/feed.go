package market

import (
	"context"
	"fmt"
	"sort"
)

// 中文说明：
// Feed 是单次竞赛的内存行情视图：每个 symbol 两种粒度的 K 线。
// 回放循环只读这里的数据，保证同一份输入产出完全相同的结果。

type Feed struct {
	decisionTF Timeframe
	intradayTF Timeframe

	decision map[string][]Candle
	intraday map[string][]Candle
	byOpen   map[string]map[int64]Candle

	timeline []int64
}

// LoadFeed 从本地库读出 [start,end] 的 K 线并构建回放视图。
func LoadFeed(ctx context.Context, store *Store, symbols []string, decisionTF, intradayTF Timeframe, start, end int64) (*Feed, error) {
	if store == nil {
		return nil, fmt.Errorf("candle store is required")
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	start, end = decisionTF.AlignRange(start, end)
	f := &Feed{
		decisionTF: decisionTF,
		intradayTF: intradayTF,
		decision:   make(map[string][]Candle, len(symbols)),
		intraday:   make(map[string][]Candle, len(symbols)),
		byOpen:     make(map[string]map[int64]Candle, len(symbols)),
	}
	tlSeen := make(map[int64]bool)
	for _, sym := range symbols {
		dec, err := store.RangeCandles(ctx, sym, decisionTF.Key, start, end)
		if err != nil {
			return nil, fmt.Errorf("load %s %s failed: %w", sym, decisionTF.Key, err)
		}
		if len(dec) == 0 {
			return nil, fmt.Errorf("no %s candles for %s in window", decisionTF.Key, sym)
		}
		f.decision[sym] = dec
		idx := make(map[int64]Candle, len(dec))
		for _, c := range dec {
			idx[c.OpenTime] = c
			tlSeen[c.OpenTime] = true
		}
		f.byOpen[sym] = idx

		intra, err := store.RangeCandles(ctx, sym, intradayTF.Key, start, end)
		if err != nil {
			return nil, fmt.Errorf("load %s %s failed: %w", sym, intradayTF.Key, err)
		}
		f.intraday[sym] = intra
	}
	f.timeline = make([]int64, 0, len(tlSeen))
	for ts := range tlSeen {
		f.timeline = append(f.timeline, ts)
	}
	sort.Slice(f.timeline, func(i, j int) bool { return f.timeline[i] < f.timeline[j] })
	return f, nil
}

// NewFeedFromCandles 直接从内存数据构建（测试与导入场景）。
func NewFeedFromCandles(decisionTF, intradayTF Timeframe, decision, intraday map[string][]Candle) *Feed {
	f := &Feed{
		decisionTF: decisionTF,
		intradayTF: intradayTF,
		decision:   make(map[string][]Candle, len(decision)),
		intraday:   make(map[string][]Candle, len(intraday)),
		byOpen:     make(map[string]map[int64]Candle, len(decision)),
	}
	tlSeen := make(map[int64]bool)
	for sym, list := range decision {
		sorted := append([]Candle(nil), list...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime < sorted[j].OpenTime })
		f.decision[sym] = sorted
		idx := make(map[int64]Candle, len(sorted))
		for _, c := range sorted {
			idx[c.OpenTime] = c
			tlSeen[c.OpenTime] = true
		}
		f.byOpen[sym] = idx
	}
	for sym, list := range intraday {
		sorted := append([]Candle(nil), list...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].OpenTime < sorted[j].OpenTime })
		f.intraday[sym] = sorted
	}
	f.timeline = make([]int64, 0, len(tlSeen))
	for ts := range tlSeen {
		f.timeline = append(f.timeline, ts)
	}
	sort.Slice(f.timeline, func(i, j int) bool { return f.timeline[i] < f.timeline[j] })
	return f
}

// Timeline 返回所有 symbol 决策周期开盘时间的并集（升序）。
func (f *Feed) Timeline() []int64 {
	out := make([]int64, len(f.timeline))
	copy(out, f.timeline)
	return out
}

func (f *Feed) Symbols() []string {
	out := make([]string, 0, len(f.decision))
	for sym := range f.decision {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (f *Feed) DecisionTimeframe() Timeframe { return f.decisionTF }
func (f *Feed) IntradayTimeframe() Timeframe { return f.intradayTF }

// CandleAt 返回 symbol 在该开盘时间的决策周期 K 线；缺失返回 false（数据缺口）。
func (f *Feed) CandleAt(symbol string, openTime int64) (Candle, bool) {
	idx, ok := f.byOpen[symbol]
	if !ok {
		return Candle{}, false
	}
	c, ok := idx[openTime]
	return c, ok
}

// History 返回截至 openTime（含）的最近 n 根决策周期 K 线。
func (f *Feed) History(symbol string, openTime int64, n int) []Candle {
	return tailUpTo(f.decision[symbol], openTime, n)
}

// IntradaySlice 返回截至 openTime（含）的最近 n 根细粒度 K 线。
func (f *Feed) IntradaySlice(symbol string, openTime int64, n int) []Candle {
	return tailUpTo(f.intraday[symbol], openTime, n)
}

func tailUpTo(list []Candle, openTime int64, n int) []Candle {
	if len(list) == 0 || n <= 0 {
		return nil
	}
	// 第一个 openTime 之后的位置
	hi := sort.Search(len(list), func(i int) bool { return list[i].OpenTime > openTime })
	lo := hi - n
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return nil
	}
	out := make([]Candle, hi-lo)
	copy(out, list[lo:hi])
	return out
}
