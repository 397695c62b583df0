package indicator

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentryfx/internal/core"
)

// syntheticBars builds a deterministic, mildly oscillating OHLCV series so
// every indicator has enough history to exercise its steady-state branch.
func syntheticBars(n int) []Bar {
	bars := make([]Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		delta := math.Sin(float64(i)) * 2
		open := price
		close := price + delta
		high := math.Max(open, close) + 0.5
		low := math.Min(open, close) - 0.5
		bars[i] = Bar{
			TimestampMs: int64(i) * 60_000,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       close,
			Volume:      1000 + float64(i),
		}
		price = close
	}
	return bars
}

func TestCleanDropsNaNRows(t *testing.T) {
	bars := syntheticBars(5)
	bars[2].Close = math.NaN()
	clean := Clean(bars)
	assert.Len(t, clean, 4)
}

func TestSMAInsufficientData(t *testing.T) {
	_, err := SMA(syntheticBars(3), 14)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestSMAHappyPath(t *testing.T) {
	v, err := SMA(syntheticBars(30), 14)
	require.NoError(t, err)
	assert.Greater(t, v, 0.0)
}

func TestEMAHappyPath(t *testing.T) {
	v, err := EMA(syntheticBars(30), 14)
	require.NoError(t, err)
	assert.Greater(t, v, 0.0)
}

func TestRSIBounds(t *testing.T) {
	v, err := RSI(syntheticBars(60), 14)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 100.0)
}

func TestRSIAllGainsReturns100(t *testing.T) {
	bars := make([]Bar, 20)
	price := 10.0
	for i := range bars {
		price += 1
		bars[i] = Bar{Open: price - 1, High: price + 0.1, Low: price - 1.1, Close: price, Volume: 1}
	}
	v, err := RSI(bars, 14)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)
}

func TestRSIInsufficientData(t *testing.T) {
	_, err := RSI(syntheticBars(10), 14)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestATRHappyPath(t *testing.T) {
	v, err := ATR(syntheticBars(30), 14)
	require.NoError(t, err)
	assert.Greater(t, v, 0.0)
}

func TestATRPercentHappyPath(t *testing.T) {
	v, err := ATRPercent(syntheticBars(30), 14)
	require.NoError(t, err)
	assert.Greater(t, v, 0.0)
	assert.Less(t, v, 100.0)
}

func TestATRInsufficientData(t *testing.T) {
	_, err := ATR(syntheticBars(5), 14)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestADXHappyPath(t *testing.T) {
	v, err := ADX(syntheticBars(60), 14)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 100.0)
}

func TestADXInsufficientData(t *testing.T) {
	_, err := ADX(syntheticBars(20), 14)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestBollingerHappyPath(t *testing.T) {
	bb, err := Bollinger(syntheticBars(30), 20, 2)
	require.NoError(t, err)
	assert.Greater(t, bb.Upper, bb.Middle)
	assert.Greater(t, bb.Middle, bb.Lower)
}

func TestBollingerInsufficientData(t *testing.T) {
	_, err := Bollinger(syntheticBars(10), 20, 2)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestMACDHappyPath(t *testing.T) {
	v, err := MACD(syntheticBars(80), 12, 26, 9)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(v.MACD))
	assert.False(t, math.IsNaN(v.Signal))
	assert.InDelta(t, v.MACD-v.Signal, v.Histogram, 1e-9)
}

func TestMACDInsufficientData(t *testing.T) {
	_, err := MACD(syntheticBars(20), 12, 26, 9)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestStochasticHappyPath(t *testing.T) {
	v, err := Stochastic(syntheticBars(40), 14, 3, 3)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v.K, 0.0)
	assert.LessOrEqual(t, v.K, 100.0)
	assert.GreaterOrEqual(t, v.D, 0.0)
	assert.LessOrEqual(t, v.D, 100.0)
}

func TestStochasticInsufficientData(t *testing.T) {
	_, err := Stochastic(syntheticBars(10), 14, 3, 3)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestErrIndicatorNaNIsDistinctFromInsufficientData(t *testing.T) {
	assert.False(t, errors.Is(core.ErrIndicatorNaN, core.ErrInsufficientData))
}
