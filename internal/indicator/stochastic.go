package indicator

import (
	"math"

	"sentryfx/internal/core"
)

// StochasticResult holds the %K and %D (signal) lines.
type StochasticResult struct {
	K float64
	D float64
}

// Stochastic computes the slow stochastic oscillator: raw %K over
// `kPeriod`, smoothed by `kSmooth`, with %D as a further `dPeriod` SMA of
// %K (new indicator; grounded on the standard definition since the teacher
// does not compute one).
func Stochastic(bars []Bar, kPeriod, kSmooth, dPeriod int) (StochasticResult, error) {
	c := Clean(bars)
	needed := kPeriod + kSmooth + dPeriod
	if len(c) < needed {
		return StochasticResult{}, core.ErrInsufficientData
	}

	rawK := make([]float64, 0, len(c)-kPeriod+1)
	for i := kPeriod - 1; i < len(c); i++ {
		window := c[i-kPeriod+1 : i+1]
		hi := windowHigh(window)
		lo := windowLow(window)
		denom := hi - lo
		if denom == 0 {
			rawK = append(rawK, 50)
			continue
		}
		rawK = append(rawK, (c[i].Close-lo)/denom*100)
	}

	smoothedK := smaSeries(rawK, kSmooth)
	if len(smoothedK) < dPeriod {
		return StochasticResult{}, core.ErrInsufficientData
	}
	dLine := smaSeries(smoothedK, dPeriod)

	result := StochasticResult{
		K: smoothedK[len(smoothedK)-1],
		D: dLine[len(dLine)-1],
	}
	if math.IsNaN(result.K) || math.IsNaN(result.D) {
		return StochasticResult{}, core.ErrIndicatorNaN
	}
	return result, nil
}

func windowHigh(bars []Bar) float64 {
	hi := bars[0].High
	for _, b := range bars[1:] {
		if b.High > hi {
			hi = b.High
		}
	}
	return hi
}

func windowLow(bars []Bar) float64 {
	lo := bars[0].Low
	for _, b := range bars[1:] {
		if b.Low < lo {
			lo = b.Low
		}
	}
	return lo
}

// smaSeries returns the trailing simple moving average of vals over
// `period`, one output per input index once enough history exists.
func smaSeries(vals []float64, period int) []float64 {
	if len(vals) < period {
		return nil
	}
	out := make([]float64, 0, len(vals)-period+1)
	sum := 0.0
	for i, v := range vals {
		sum += v
		if i >= period {
			sum -= vals[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}
