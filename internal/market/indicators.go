package market

import (
	"math"

	"github.com/markcheno/go-talib"
)

// IndicatorSnapshot 是交给决策方上下文的一组常用指标终值。
type IndicatorSnapshot struct {
	Price      float64 `json:"price"`
	EMA20      float64 `json:"ema20"`
	EMA50      float64 `json:"ema50"`
	RSI7       float64 `json:"rsi7"`
	RSI14      float64 `json:"rsi14"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	ATR14      float64 `json:"atr14"`
}

const minIndicatorBars = 52

// ComputeIndicators 从升序 K 线序列计算快照；样本不足时返回 false。
func ComputeIndicators(candles []Candle) (IndicatorSnapshot, bool) {
	if len(candles) < minIndicatorBars {
		return IndicatorSnapshot{}, false
	}
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	ema20 := talib.Ema(closes, 20)
	ema50 := talib.Ema(closes, 50)
	rsi7 := talib.Rsi(closes, 7)
	rsi14 := talib.Rsi(closes, 14)
	macd, signal, hist := talib.Macd(closes, 12, 26, 9)
	atr14 := talib.Atr(highs, lows, closes, 14)

	snap := IndicatorSnapshot{
		Price:      closes[n-1],
		EMA20:      lastFinite(ema20),
		EMA50:      lastFinite(ema50),
		RSI7:       lastFinite(rsi7),
		RSI14:      lastFinite(rsi14),
		MACD:       lastFinite(macd),
		MACDSignal: lastFinite(signal),
		MACDHist:   lastFinite(hist),
		ATR14:      lastFinite(atr14),
	}
	return snap, true
}

func lastFinite(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	}
	return 0
}
