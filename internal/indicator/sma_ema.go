package indicator

import (
	"math"

	"sentryfx/internal/core"
)

// SMA returns the simple moving average of the last `period` closes.
func SMA(bars []Bar, period int) (float64, error) {
	c := Clean(bars)
	if len(c) < period+1 {
		return 0, core.ErrInsufficientData
	}
	vals := closes(c)
	window := vals[len(vals)-period:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	result := sum / float64(period)
	if math.IsNaN(result) {
		return 0, core.ErrIndicatorNaN
	}
	return result, nil
}

// EMA returns the exponential moving average of the last `period` closes,
// seeded with an SMA of the first `period` values and walked forward
// through the remainder.
func EMA(bars []Bar, period int) (float64, error) {
	c := Clean(bars)
	if len(c) < period+1 {
		return 0, core.ErrInsufficientData
	}
	vals := closes(c)
	return emaSeries(vals, period)
}

// emaSeries computes the EMA at the last element of vals, seeding with the
// SMA of the first `period` values.
func emaSeries(vals []float64, period int) (float64, error) {
	if len(vals) < period {
		return 0, core.ErrInsufficientData
	}
	seed := 0.0
	for _, v := range vals[:period] {
		seed += v
	}
	ema := seed / float64(period)

	k := 2.0 / (float64(period) + 1.0)
	for _, v := range vals[period:] {
		ema = v*k + ema*(1-k)
	}
	if math.IsNaN(ema) {
		return 0, core.ErrIndicatorNaN
	}
	return ema, nil
}
