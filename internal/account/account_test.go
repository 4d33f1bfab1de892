package account

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccount(t *testing.T, balance, fee, slip float64) *Account {
	t.Helper()
	acc, err := New(balance, fee, slip)
	require.NoError(t, err)
	return acc
}

func TestOpenCloseLongReference(t *testing.T) {
	// 0.1 BTC @ 50000, 5x, fee 5bps, slippage 2bps, close @ 51000
	acc := newTestAccount(t, 10000, 0.0005, 0.0002)

	ev, err := acc.Open("BTCUSDT", SideLong, 0.1, 5, 50000, 1000, 0)
	require.NoError(t, err)
	assert.InDelta(t, 50010, ev.ExecPrice, 1e-9)
	assert.InDelta(t, 2.5005, ev.Fee, 1e-9)
	assert.Nil(t, ev.RealizedPnL)

	pos := acc.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 50000, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 1000.2, pos.Margin, 1e-9)
	assert.InDelta(t, 40000, pos.LiquidationPrice, 1e-9)

	closeEv, err := acc.Close("BTCUSDT", 0.1, 51000, 2000, 1, "signal")
	require.NoError(t, err)
	require.NotNil(t, closeEv.RealizedPnL)
	assert.InDelta(t, 94.95, *closeEv.RealizedPnL, 0.01)
	assert.InDelta(t, 10000+*closeEv.RealizedPnL, acc.Cash(), 1e-6)
	assert.Nil(t, acc.Position("BTCUSDT"))
	assert.InDelta(t, acc.RealizedPnL(), *closeEv.RealizedPnL, 1e-9)
}

func TestShortSymmetry(t *testing.T) {
	acc := newTestAccount(t, 10000, 0.0005, 0.0002)

	ev, err := acc.Open("BTCUSDT", SideShort, 0.1, 5, 50000, 1000, 0)
	require.NoError(t, err)
	assert.InDelta(t, 49990, ev.ExecPrice, 1e-9, "short opens below reference")

	pos := acc.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 60000, pos.LiquidationPrice, 1e-9)

	closeEv, err := acc.Close("BTCUSDT", 0.1, 49000, 2000, 1, "signal")
	require.NoError(t, err)
	assert.Greater(t, closeEv.ExecPrice, 49000.0, "covering pushes price up")
	assert.InDelta(t, 95.05, *closeEv.RealizedPnL, 0.01)
}

func TestZeroFeesNoValueLeakage(t *testing.T) {
	acc := newTestAccount(t, 10000, 0, 0)

	_, err := acc.Open("ETHUSDT", SideLong, 1, 2, 100, 0, 0)
	require.NoError(t, err)
	equity, _, _ := acc.TotalEquity(map[string]float64{"ETHUSDT": 100})
	assert.InDelta(t, 10000, equity, 1e-9, "opening at flat price must not change equity")

	_, err = acc.Close("ETHUSDT", 1, 100, 0, 0, "")
	require.NoError(t, err)
	assert.InDelta(t, 10000, acc.Cash(), 1e-9)
	assert.Zero(t, acc.RealizedPnL())
}

func TestEquityIdentity(t *testing.T) {
	acc := newTestAccount(t, 10000, 0.0005, 0.0002)
	_, err := acc.Open("BTCUSDT", SideLong, 0.1, 5, 50000, 0, 0)
	require.NoError(t, err)
	_, err = acc.Open("ETHUSDT", SideShort, 1, 3, 3000, 0, 0)
	require.NoError(t, err)

	prices := map[string]float64{"BTCUSDT": 50500, "ETHUSDT": 2900}
	equity, unrealized, perSymbol := acc.TotalEquity(prices)
	assert.InDelta(t, equity, acc.Balance()+unrealized, 1e-9)
	assert.InDelta(t, 50, perSymbol["BTCUSDT"], 1e-9)
	assert.InDelta(t, 100, perSymbol["ETHUSDT"], 1e-9)
	assert.GreaterOrEqual(t, acc.Cash(), 0.0)

	pt := acc.MarkEquity(prices, 500, 3)
	assert.Equal(t, equity, pt.Equity)
	require.Len(t, acc.EquityHistory(), 1)
}

func TestWeightedAverageIncrease(t *testing.T) {
	acc := newTestAccount(t, 10000, 0, 0)
	_, err := acc.Open("BTCUSDT", SideLong, 1, 2, 100, 0, 0)
	require.NoError(t, err)
	_, err = acc.Open("BTCUSDT", SideLong, 1, 2, 110, 10, 1)
	require.NoError(t, err)

	pos := acc.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 2, pos.Quantity, 1e-9)
	assert.InDelta(t, 105, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 105, pos.Margin, 1e-9)
	assert.InDelta(t, 52.5, pos.LiquidationPrice, 1e-9, "liquidation follows new entry")
}

func TestOppositeSideRejected(t *testing.T) {
	acc := newTestAccount(t, 10000, 0, 0)
	_, err := acc.Open("BTCUSDT", SideLong, 1, 2, 100, 0, 0)
	require.NoError(t, err)
	_, err = acc.Open("BTCUSDT", SideShort, 1, 2, 100, 0, 0)
	assert.True(t, errors.Is(err, ErrConflictingSide))
}

func TestInsufficientBalance(t *testing.T) {
	acc := newTestAccount(t, 100, 0.0005, 0)
	_, err := acc.Open("BTCUSDT", SideLong, 1, 1, 200, 0, 0)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.InDelta(t, 100, acc.Cash(), 1e-9, "failed open must not touch cash")
}

func TestPartialClose(t *testing.T) {
	acc := newTestAccount(t, 10000, 0.001, 0)
	_, err := acc.Open("BTCUSDT", SideLong, 2, 2, 100, 0, 0)
	require.NoError(t, err)

	ev, err := acc.Close("BTCUSDT", 1, 110, 10, 1, "")
	require.NoError(t, err)
	// gross 10 - entry fee share 0.1 - close fee 0.11
	assert.InDelta(t, 9.79, *ev.RealizedPnL, 1e-9)

	pos := acc.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.InDelta(t, 1, pos.Quantity, 1e-9)
	assert.InDelta(t, 50, pos.Margin, 1e-9)
	assert.InDelta(t, 0.1, pos.EntryFee, 1e-9)

	_, err = acc.Close("BTCUSDT", 5, 110, 20, 2, "")
	assert.True(t, errors.Is(err, ErrInvalidQuantity))
	_, err = acc.Close("ETHUSDT", 1, 110, 20, 2, "")
	assert.True(t, errors.Is(err, ErrNoPosition))
}

func TestLiquidationSweep(t *testing.T) {
	acc := newTestAccount(t, 10000, 0.0005, 0.0002)
	_, err := acc.Open("BTCUSDT", SideLong, 0.1, 5, 50000, 0, 0)
	require.NoError(t, err)

	// 未越过强平价不动
	events := acc.CheckLiquidations(map[string]float64{"BTCUSDT": 41000}, 100, 1)
	assert.Empty(t, events)

	events = acc.CheckLiquidations(map[string]float64{"BTCUSDT": 39000}, 200, 2)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, TradeLiquidation, ev.Kind)
	assert.InDelta(t, 40000, ev.Price, 1e-9, "fill at liquidation price, not mark")
	assert.Equal(t, ev.Price, ev.ExecPrice, "no extra slippage on liquidation")
	require.NotNil(t, ev.RealizedPnL)
	assert.Less(t, *ev.RealizedPnL, -1000.0)
	assert.Nil(t, acc.Position("BTCUSDT"))
	assert.Equal(t, 1, acc.LiquidationCount())
	assert.GreaterOrEqual(t, acc.Cash(), 0.0)
}

func TestLiquidationNeverDrivesCashNegative(t *testing.T) {
	acc := newTestAccount(t, 10, 0.4, 0)
	_, err := acc.Open("BTCUSDT", SideLong, 1, 2, 10, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1, acc.Cash(), 1e-9)

	events := acc.CheckLiquidations(map[string]float64{"BTCUSDT": 4}, 100, 1)
	require.Len(t, events, 1)
	assert.InDelta(t, 0, acc.Cash(), 1e-9, "proceeds capped at cash floor")
}

func TestMaxOpenNotional(t *testing.T) {
	// notional*(1+slip)*(1/lev + fee) == cash
	n := MaxOpenNotional(1000, 5, 0.0005, 0.0002)
	assert.InDelta(t, 1000, n*1.0002*(1.0/5+0.0005), 1e-6)
	assert.Zero(t, MaxOpenNotional(0, 5, 0.0005, 0.0002))
	assert.Zero(t, MaxOpenNotional(1000, 0, 0.0005, 0.0002))

	// 按上限开仓后保证金加手续费吃满现金
	acct, err := New(1000, 0.0005, 0.0002)
	require.NoError(t, err)
	qty := n / 100
	_, err = acct.Open("BTCUSDT", SideLong, qty, 5, 100, 1, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0, acct.Cash(), 1e-6)
}
