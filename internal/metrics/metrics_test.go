package metrics

import (
	"math"
	"testing"

	"arena/internal/account"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func equityCurve(values ...float64) []account.EquityPoint {
	out := make([]account.EquityPoint, len(values))
	for i, v := range values {
		out[i] = account.EquityPoint{Timestamp: int64(i) * 1000, Cycle: i, Balance: v, Equity: v}
	}
	return out
}

func pnlPtr(v float64) *float64 { return &v }

func closeTrade(symbol string, pnl float64) account.TradeEvent {
	return account.TradeEvent{Symbol: symbol, Kind: account.TradeClose, RealizedPnL: pnlPtr(pnl), Fee: 1}
}

func TestComputeFlatCurveZeroSharpe(t *testing.T) {
	p := Compute(10000, equityCurve(10000, 10000, 10000, 10000), nil, 2190)
	assert.Zero(t, p.SharpeRatio, "zero variance must not divide by zero")
	assert.Zero(t, p.Volatility)
	assert.Zero(t, p.MaxDrawdownPct)
	assert.Zero(t, p.TotalReturnPct)
	assert.Zero(t, p.ProfitFactor, "no closed trades")
}

func TestComputeDrawdownBounds(t *testing.T) {
	p := Compute(10000, equityCurve(10000, 12000, 6000, 9000), nil, 2190)
	assert.InDelta(t, 50, p.MaxDrawdownPct, 1e-9)
	assert.GreaterOrEqual(t, p.MaxDrawdownPct, 0.0)
	assert.LessOrEqual(t, p.MaxDrawdownPct, 100.0)

	wiped := Compute(10000, equityCurve(10000, 0), nil, 2190)
	assert.InDelta(t, 100, wiped.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, -1, wiped.CAGR, 1e-9)
}

func TestProfitFactorSentinels(t *testing.T) {
	onlyWins := Compute(10000, equityCurve(10000, 10100), []account.TradeEvent{
		closeTrade("BTCUSDT", 50), closeTrade("BTCUSDT", 50),
	}, 2190)
	assert.True(t, math.IsInf(onlyWins.ProfitFactor, 1), "no losses with profit -> +Inf")
	assert.InDelta(t, 100, onlyWins.WinRate, 1e-9)

	mixed := Compute(10000, equityCurve(10000, 10050), []account.TradeEvent{
		closeTrade("BTCUSDT", 100), closeTrade("ETHUSDT", -50),
	}, 2190)
	assert.InDelta(t, 2, mixed.ProfitFactor, 1e-9)
	assert.InDelta(t, 50, mixed.WinRate, 1e-9)
	assert.Equal(t, "BTCUSDT", mixed.BestSymbol)
	assert.Equal(t, "ETHUSDT", mixed.WorstSymbol)
	assert.InDelta(t, 100, mixed.AvgWin, 1e-9)
	assert.InDelta(t, 50, mixed.AvgLoss, 1e-9)
}

func TestOpensDoNotCountAsTrades(t *testing.T) {
	trades := []account.TradeEvent{
		{Symbol: "BTCUSDT", Kind: account.TradeOpen, Fee: 2.5},
		closeTrade("BTCUSDT", 94.95),
		{Symbol: "ETHUSDT", Kind: account.TradeLiquidation, RealizedPnL: pnlPtr(-500), Fee: 2},
	}
	p := Compute(10000, equityCurve(10000, 9600), trades, 2190)
	assert.Equal(t, 2, p.TotalTrades)
	assert.Equal(t, 1, p.Liquidations)
	assert.InDelta(t, 5.5, p.FeesPaid, 1e-9, "fees include the open leg")
	assert.InDelta(t, 94.95-500, p.RealizedPnL, 1e-9)
}

func TestSharpeAnnualization(t *testing.T) {
	// 每期 1% 与 -1% 交替
	curve := equityCurve(10000, 10100, 9999, 10099, 9998)
	p := Compute(10000, curve, nil, 2190)
	require.NotZero(t, p.SharpeRatio)
	daily := Compute(10000, curve, nil, 365)
	assert.InDelta(t, p.SharpeRatio/daily.SharpeRatio, math.Sqrt(2190.0/365.0), 1e-9)
	assert.Greater(t, p.Volatility, 0.0)
}

func TestCAGRGrowth(t *testing.T) {
	// 一年整的周期数，终值翻倍 -> CAGR = 100%
	curve := equityCurve(10000, 20000)
	p := Compute(10000, curve, nil, 1)
	assert.InDelta(t, 1.0, p.CAGR, 1e-9)
}

func TestPerSymbolBreakdown(t *testing.T) {
	p := Compute(10000, equityCurve(10000, 10010), []account.TradeEvent{
		closeTrade("BTCUSDT", 30),
		closeTrade("BTCUSDT", -10),
		closeTrade("ETHUSDT", -5),
	}, 2190)
	require.Contains(t, p.PerSymbol, "BTCUSDT")
	btc := p.PerSymbol["BTCUSDT"]
	assert.Equal(t, 2, btc.Trades)
	assert.InDelta(t, 20, btc.RealizedPnL, 1e-9)
	assert.InDelta(t, 50, btc.WinRate, 1e-9)
}
