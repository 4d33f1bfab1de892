package metrics

import (
	"math"
	"sort"

	"arena/internal/account"

	"github.com/montanaflynn/stats"
)

// 中文说明：
// 从权益曲线与成交记录计算单账户绩效。夏普/波动率按决策周期年化；
// 盈亏比在毛亏为零且毛盈为正时取 +Inf 哨兵，归一化阶段再截断。

// Performance 单账户的绩效汇总。
type Performance struct {
	InitialBalance float64 `json:"initial_balance"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturnPct float64 `json:"total_return_pct"`
	TotalReturnUSD float64 `json:"total_return_usd"`
	CAGR           float64 `json:"cagr"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Volatility     float64 `json:"volatility"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
	GrossProfit   float64 `json:"gross_profit"`
	GrossLoss     float64 `json:"gross_loss"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`

	BestSymbol  string `json:"best_symbol,omitempty"`
	WorstSymbol string `json:"worst_symbol,omitempty"`

	Liquidations int     `json:"liquidations"`
	FeesPaid     float64 `json:"fees_paid"`
	RealizedPnL  float64 `json:"realized_pnl"`

	PerSymbol map[string]SymbolStats `json:"per_symbol,omitempty"`
}

// SymbolStats 按 symbol 的平仓统计。
type SymbolStats struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	RealizedPnL float64 `json:"realized_pnl"`
	WinRate     float64 `json:"win_rate"`
}

// Compute 汇总一条权益曲线与成交历史。periodsPerYear 由决策周期推出。
func Compute(initialBalance float64, equity []account.EquityPoint, trades []account.TradeEvent, periodsPerYear float64) Performance {
	p := Performance{InitialBalance: initialBalance, FinalEquity: initialBalance}
	if initialBalance <= 0 {
		return p
	}
	if len(equity) > 0 {
		p.FinalEquity = equity[len(equity)-1].Equity
	}
	p.TotalReturnUSD = p.FinalEquity - initialBalance
	p.TotalReturnPct = p.TotalReturnUSD / initialBalance * 100

	returns := periodReturns(equity)
	p.SharpeRatio = sharpe(returns, periodsPerYear)
	p.Volatility = annualizedVolatility(returns, periodsPerYear)
	p.MaxDrawdownPct = maxDrawdown(equity)
	p.CAGR = cagr(initialBalance, p.FinalEquity, len(returns), periodsPerYear)

	p.applyTradeStats(trades)
	return p
}

func periodReturns(equity []account.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, (equity[i].Equity-prev)/prev)
	}
	return out
}

func sharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}
	std, err := stats.StandardDeviationSample(returns)
	if err != nil || std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

func annualizedVolatility(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	std, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return 0
	}
	return std * math.Sqrt(periodsPerYear)
}

func maxDrawdown(equity []account.EquityPoint) float64 {
	peak := 0.0
	maxDD := 0.0
	for _, pt := range equity {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - pt.Equity) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	if maxDD < 0 {
		return 0
	}
	if maxDD > 100 {
		return 100
	}
	return maxDD
}

func cagr(initial, final float64, periods int, periodsPerYear float64) float64 {
	if initial <= 0 || periods <= 0 || periodsPerYear <= 0 {
		return 0
	}
	years := float64(periods) / periodsPerYear
	if years <= 0 {
		return 0
	}
	if final <= 0 {
		return -1
	}
	return math.Pow(final/initial, 1/years) - 1
}

func (p *Performance) applyTradeStats(trades []account.TradeEvent) {
	perSymbol := make(map[string]SymbolStats)
	for _, t := range trades {
		if t.RealizedPnL == nil {
			continue
		}
		pnl := *t.RealizedPnL
		p.TotalTrades++
		p.RealizedPnL += pnl
		switch {
		case pnl > 0:
			p.WinningTrades++
			p.GrossProfit += pnl
		case pnl < 0:
			p.LosingTrades++
			p.GrossLoss += -pnl
		}
		if t.Kind == account.TradeLiquidation {
			p.Liquidations++
		}
		st := perSymbol[t.Symbol]
		st.Trades++
		st.RealizedPnL += pnl
		if pnl > 0 {
			st.Wins++
		}
		perSymbol[t.Symbol] = st
	}
	for _, t := range trades {
		p.FeesPaid += t.Fee
	}
	if p.TotalTrades > 0 {
		p.WinRate = float64(p.WinningTrades) / float64(p.TotalTrades) * 100
	}
	switch {
	case p.GrossLoss > 0:
		p.ProfitFactor = p.GrossProfit / p.GrossLoss
	case p.GrossProfit > 0:
		p.ProfitFactor = math.Inf(1)
	default:
		p.ProfitFactor = 0
	}
	if p.WinningTrades > 0 {
		p.AvgWin = p.GrossProfit / float64(p.WinningTrades)
	}
	if p.LosingTrades > 0 {
		p.AvgLoss = p.GrossLoss / float64(p.LosingTrades)
	}
	if len(perSymbol) > 0 {
		symbols := make([]string, 0, len(perSymbol))
		for sym := range perSymbol {
			st := perSymbol[sym]
			if st.Trades > 0 {
				st.WinRate = float64(st.Wins) / float64(st.Trades) * 100
			}
			perSymbol[sym] = st
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		best, worst := symbols[0], symbols[0]
		for _, sym := range symbols {
			if perSymbol[sym].RealizedPnL > perSymbol[best].RealizedPnL {
				best = sym
			}
			if perSymbol[sym].RealizedPnL < perSymbol[worst].RealizedPnL {
				worst = sym
			}
		}
		p.BestSymbol = best
		p.WorstSymbol = worst
		p.PerSymbol = perSymbol
	}
}
