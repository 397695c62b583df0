package indicator

import (
	"math"

	"sentryfx/internal/core"
)

// BollingerBands holds the upper/middle/lower band values for a period.
type BollingerBands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes Bollinger Bands: a `period`-bar SMA middle band and
// upper/lower bands at `mult` standard deviations from it (new indicator,
// not present in the teacher; written in the same pure-function style as
// SMA/EMA/RSI above).
func Bollinger(bars []Bar, period int, mult float64) (BollingerBands, error) {
	c := Clean(bars)
	if len(c) < period+1 {
		return BollingerBands{}, core.ErrInsufficientData
	}
	vals := closes(c)
	window := vals[len(vals)-period:]

	mean := average(window)
	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(period)
	stddev := math.Sqrt(variance)

	bands := BollingerBands{
		Upper:  mean + mult*stddev,
		Middle: mean,
		Lower:  mean - mult*stddev,
	}
	if math.IsNaN(bands.Upper) || math.IsNaN(bands.Lower) {
		return BollingerBands{}, core.ErrIndicatorNaN
	}
	return bands, nil
}
