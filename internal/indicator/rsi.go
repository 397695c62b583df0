package indicator

import (
	"math"

	"sentryfx/internal/core"
)

// RSI computes the Relative Strength Index over `period` using Wilder
// smoothing (spec.md §4.2 requires this explicitly; the teacher's
// market/feature_engine.go calculateRSI takes a plain average of the last
// `period` gain/loss deltas instead, which drifts from the standard
// definition as the series grows — corrected here).
func RSI(bars []Bar, period int) (float64, error) {
	c := Clean(bars)
	if len(c) < period+1 {
		return 0, core.ErrInsufficientData
	}
	vals := closes(c)

	gains := make([]float64, 0, len(vals)-1)
	losses := make([]float64, 0, len(vals)-1)
	for i := 1; i < len(vals); i++ {
		change := vals[i] - vals[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	avgGain := average(gains[:period])
	avgLoss := average(losses[:period])

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 && avgGain == 0 {
		// No price movement at all: neutral.
		return 50, nil
	}
	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	result := 100 - (100 / (1 + rs))
	if math.IsNaN(result) {
		return 0, core.ErrIndicatorNaN
	}
	return result, nil
}

func average(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
