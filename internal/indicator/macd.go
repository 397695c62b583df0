package indicator

import (
	"math"

	"sentryfx/internal/core"
)

// MACDResult holds the MACD line, its signal line, and their difference.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD computes the Moving Average Convergence/Divergence indicator with
// the standard (fast, slow, signal) periods, reusing emaSeries for each of
// the three EMAs involved (new indicator; the teacher has no MACD, so this
// follows the standard definition in the same style as EMA above).
func MACD(bars []Bar, fast, slow, signal int) (MACDResult, error) {
	c := Clean(bars)
	if len(c) < slow+signal+1 {
		return MACDResult{}, core.ErrInsufficientData
	}
	vals := closes(c)

	macdLine := make([]float64, 0, len(vals)-slow+1)
	for i := slow; i <= len(vals); i++ {
		fastEMA, err := emaSeries(vals[:i], fast)
		if err != nil {
			return MACDResult{}, err
		}
		slowEMA, err := emaSeries(vals[:i], slow)
		if err != nil {
			return MACDResult{}, err
		}
		macdLine = append(macdLine, fastEMA-slowEMA)
	}
	if len(macdLine) < signal {
		return MACDResult{}, core.ErrInsufficientData
	}

	signalLine, err := emaSeries(macdLine, signal)
	if err != nil {
		return MACDResult{}, err
	}

	macd := macdLine[len(macdLine)-1]
	result := MACDResult{
		MACD:      macd,
		Signal:    signalLine,
		Histogram: macd - signalLine,
	}
	if math.IsNaN(result.MACD) || math.IsNaN(result.Signal) {
		return MACDResult{}, core.ErrIndicatorNaN
	}
	return result, nil
}
