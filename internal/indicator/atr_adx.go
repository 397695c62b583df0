package indicator

import (
	"math"

	"sentryfx/internal/core"
)

// trueRanges returns the true-range series for bars (length len(bars)-1,
// since TR needs the previous close).
func trueRanges(bars []Bar) []float64 {
	tr := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		high, low, prevClose := bars[i].High, bars[i].Low, bars[i-1].Close
		hl := high - low
		hc := math.Abs(high - prevClose)
		lc := math.Abs(low - prevClose)
		tr = append(tr, math.Max(hl, math.Max(hc, lc)))
	}
	return tr
}

// wilderSmooth applies Wilder's running-sum smoothing to vals, seeded with
// the sum of the first `period` values; ADX uses it to seed its TR and
// directional movement series.
func wilderSmooth(vals []float64, period int) float64 {
	smoothed := average(vals[:period]) * float64(period)
	for i := period; i < len(vals); i++ {
		smoothed = smoothed - (smoothed / float64(period)) + vals[i]
	}
	return smoothed
}

// ATR computes the Average True Range over `period`, Wilder-smoothed.
func ATR(bars []Bar, period int) (float64, error) {
	c := Clean(bars)
	if len(c) < period+1 {
		return 0, core.ErrInsufficientData
	}
	tr := trueRanges(c)
	if len(tr) < period {
		return 0, core.ErrInsufficientData
	}

	atr := average(tr[:period])
	for i := period; i < len(tr); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
	}
	if math.IsNaN(atr) {
		return 0, core.ErrIndicatorNaN
	}
	return atr, nil
}

// ATRPercent returns ATR/close*100 at the last cleaned bar (spec.md §4.2).
func ATRPercent(bars []Bar, period int) (float64, error) {
	c := Clean(bars)
	atr, err := ATR(c, period)
	if err != nil {
		return 0, err
	}
	lastClose := c[len(c)-1].Close
	if lastClose == 0 {
		return 0, core.ErrIndicatorNaN
	}
	result := atr / lastClose * 100
	if math.IsNaN(result) {
		return 0, core.ErrIndicatorNaN
	}
	return result, nil
}

// ADX computes the Average Directional Index over `period` using Wilder
// smoothing of +DI/-DI and the DX series, per the standard Wilder
// definition (the teacher has no ADX implementation at all; this is new,
// grounded on that standard definition and written in the teacher's
// pure-function, no-dependency style).
func ADX(bars []Bar, period int) (float64, error) {
	c := Clean(bars)
	// Need period+1 bars for TR/DM, then period more to smooth the DX
	// series into ADX.
	if len(c) < 2*period+1 {
		return 0, core.ErrInsufficientData
	}

	tr := trueRanges(c)
	plusDM := make([]float64, 0, len(c)-1)
	minusDM := make([]float64, 0, len(c)-1)
	for i := 1; i < len(c); i++ {
		upMove := c[i].High - c[i-1].High
		downMove := c[i-1].Low - c[i].Low
		switch {
		case upMove > downMove && upMove > 0:
			plusDM = append(plusDM, upMove)
			minusDM = append(minusDM, 0)
		case downMove > upMove && downMove > 0:
			plusDM = append(plusDM, 0)
			minusDM = append(minusDM, downMove)
		default:
			plusDM = append(plusDM, 0)
			minusDM = append(minusDM, 0)
		}
	}

	dxSeries := make([]float64, 0, len(tr)-period+1)
	smoothedTR := wilderSmooth(tr[:period], period)
	smoothedPlusDM := wilderSmooth(plusDM[:period], period)
	smoothedMinusDM := wilderSmooth(minusDM[:period], period)
	dxSeries = append(dxSeries, dxFrom(smoothedPlusDM, smoothedMinusDM, smoothedTR))

	for i := period; i < len(tr); i++ {
		smoothedTR = smoothedTR - (smoothedTR / float64(period)) + tr[i]
		smoothedPlusDM = smoothedPlusDM - (smoothedPlusDM / float64(period)) + plusDM[i]
		smoothedMinusDM = smoothedMinusDM - (smoothedMinusDM / float64(period)) + minusDM[i]
		dxSeries = append(dxSeries, dxFrom(smoothedPlusDM, smoothedMinusDM, smoothedTR))
	}

	if len(dxSeries) < period {
		return 0, core.ErrInsufficientData
	}
	adx := average(dxSeries[:period])
	for i := period; i < len(dxSeries); i++ {
		adx = (adx*float64(period-1) + dxSeries[i]) / float64(period)
	}
	if math.IsNaN(adx) {
		return 0, core.ErrIndicatorNaN
	}
	return adx, nil
}

func dxFrom(plusDM, minusDM, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plusDM / tr
	minusDI := 100 * minusDM / tr
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}
