package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourTF(t *testing.T) Timeframe {
	t.Helper()
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	return tf
}

func makeCandles(start int64, step int64, closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		ts := start + int64(i)*step
		out[i] = Candle{
			OpenTime:  ts,
			CloseTime: ts + step - 1,
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    10,
		}
	}
	return out
}

func TestTimeframeAlignRange(t *testing.T) {
	tf := hourTF(t)
	start, end := tf.AlignRange(3_600_500, 10_900_000)
	assert.EqualValues(t, 3_600_000, start)
	assert.EqualValues(t, 10_800_000, end)
	assert.EqualValues(t, 3, tf.ExpectedCandles(start, end))
}

func TestParseTimeframeRejectsUnknown(t *testing.T) {
	_, err := ParseTimeframe("7x")
	assert.Error(t, err)
}

func TestFeedTimelineIsUnionOfOpenTimes(t *testing.T) {
	tf := hourTF(t)
	step := tf.durationMillis()
	feed := NewFeedFromCandles(tf, tf, map[string][]Candle{
		"BTCUSDT": makeCandles(0, step, 100, 101, 102),
		"ETHUSDT": makeCandles(step, step, 50, 51, 52),
	}, nil)

	tl := feed.Timeline()
	require.Len(t, tl, 4)
	assert.EqualValues(t, 0, tl[0])
	assert.EqualValues(t, 3*step, tl[3])

	_, ok := feed.CandleAt("ETHUSDT", 0)
	assert.False(t, ok, "missing candle must read as a gap")
	c, ok := feed.CandleAt("BTCUSDT", 2*step)
	require.True(t, ok)
	assert.Equal(t, float64(102), c.Close)
}

func TestFeedHistoryTail(t *testing.T) {
	tf := hourTF(t)
	step := tf.durationMillis()
	feed := NewFeedFromCandles(tf, tf, map[string][]Candle{
		"BTCUSDT": makeCandles(0, step, 100, 101, 102, 103),
	}, map[string][]Candle{
		"BTCUSDT": makeCandles(0, step, 1, 2, 3, 4),
	})

	hist := feed.History("BTCUSDT", 2*step, 2)
	require.Len(t, hist, 2)
	assert.Equal(t, float64(101), hist[0].Close)
	assert.Equal(t, float64(102), hist[1].Close)

	intra := feed.IntradaySlice("BTCUSDT", 3*step, 10)
	require.Len(t, intra, 4)
	assert.Equal(t, float64(4), intra[3].Close)

	assert.Nil(t, feed.History("BTCUSDT", -1, 2))
	assert.Nil(t, feed.History("UNKNOWN", step, 2))
}

func TestStoreIntegrityGaps(t *testing.T) {
	tf := hourTF(t)
	step := tf.durationMillis()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := t.Context()
	candles := makeCandles(0, step, 100, 101, 102, 103, 104)
	// 挖掉中间两根
	partial := []Candle{candles[0], candles[3], candles[4]}
	n, err := store.InsertCandles(ctx, "BTCUSDT", tf.Key, partial)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	report, err := store.CheckIntegrity(ctx, "BTCUSDT", tf.Key, tf, 0, 4*step)
	require.NoError(t, err)
	assert.EqualValues(t, 5, report.Expected)
	assert.EqualValues(t, 3, report.Present)
	require.Len(t, report.Gaps, 1)
	assert.EqualValues(t, step, report.Gaps[0].From)
	assert.EqualValues(t, 2*step, report.Gaps[0].To)
	assert.False(t, report.Complete())

	_, err = store.InsertCandles(ctx, "BTCUSDT", tf.Key, candles[1:3])
	require.NoError(t, err)
	report, err = store.CheckIntegrity(ctx, "BTCUSDT", tf.Key, tf, 0, 4*step)
	require.NoError(t, err)
	assert.True(t, report.Complete())

	loaded, err := store.RangeCandles(ctx, "BTCUSDT", tf.Key, 1, 4*step)
	require.NoError(t, err)
	assert.Len(t, loaded, 4)
}

func TestComputeIndicatorsNeedsEnoughBars(t *testing.T) {
	tf := hourTF(t)
	step := tf.durationMillis()
	short := makeCandles(0, step, 100, 101)
	_, ok := ComputeIndicators(short)
	assert.False(t, ok)

	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + float64(i%7)
	}
	long := makeCandles(0, step, closes...)
	snap, ok := ComputeIndicators(long)
	require.True(t, ok)
	assert.Equal(t, closes[len(closes)-1], snap.Price)
	assert.Greater(t, snap.EMA20, 0.0)
	assert.Greater(t, snap.RSI14, 0.0)
	assert.Greater(t, snap.ATR14, 0.0)
}
