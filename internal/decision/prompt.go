// Package decision builds LLM prompts from indicator/market data and
// parses the tagged Recommendation back out of free-form model output,
// grounded on the teacher's decision/engine.go prompt-assembly and
// parseFullDecisionResponse pipeline.
package decision

import (
	"fmt"
	"strings"

	"sentryfx/internal/indicator"
)

// Indicators is the flattened indicator snapshot embedded in every prompt.
type Indicators struct {
	Price      float64
	SMA        float64
	EMA        float64
	RSI        float64
	ADX        float64
	ATR        float64
	ATRPercent float64
	Bollinger  indicator.BollingerBands
	MACD       indicator.MACDResult
	Stochastic indicator.StochasticResult
}

func (ind Indicators) describe() string {
	return fmt.Sprintf(
		"price=%.8f sma=%.8f ema=%.8f rsi=%.2f adx=%.2f atr=%.8f atr_pct=%.2f "+
			"bollinger(upper=%.8f mid=%.8f lower=%.8f) macd(macd=%.6f signal=%.6f hist=%.6f) "+
			"stochastic(k=%.2f d=%.2f)",
		ind.Price, ind.SMA, ind.EMA, ind.RSI, ind.ADX, ind.ATR, ind.ATRPercent,
		ind.Bollinger.Upper, ind.Bollinger.Middle, ind.Bollinger.Lower,
		ind.MACD.MACD, ind.MACD.Signal, ind.MACD.Histogram,
		ind.Stochastic.K, ind.Stochastic.D,
	)
}

// TimeframeSnapshot pairs a timeframe label with its indicator snapshot,
// used by MTA prompts.
type TimeframeSnapshot struct {
	Timeframe string
	Indicators
}

const jsonFieldContract = `Respond with a single JSON object (no surrounding prose) shaped exactly as:
{"symbol": string, "timeframe": string, "recommendation": "AL"|"SAT"|"BEKLE", "reason": string, "analysis_type": string, "data": {...}}`

// BuildSinglePrompt builds the single-timeframe analysis prompt
// (spec.md §4.4, analysis_type "Single").
func BuildSinglePrompt(symbol, timeframe string, ind Indicators) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Analyze %s on the %s timeframe.\n\n", symbol, timeframe))
	sb.WriteString("Indicators: " + ind.describe() + "\n\n")
	sb.WriteString(jsonFieldContract)
	sb.WriteString(fmt.Sprintf("\nSet analysis_type to \"Single\" and data.price to %.8f.\n", ind.Price))
	return sb.String()
}

// BuildMTAPrompt builds the two-timeframe analysis prompt, naming the
// timeframe with the higher ADX as dominant (spec.md §4.4, analysis_type
// "MTA").
func BuildMTAPrompt(symbol string, a, b TimeframeSnapshot) string {
	dominant, secondary := a, b
	if b.ADX > a.ADX {
		dominant, secondary = b, a
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Analyze %s across two timeframes.\n\n", symbol))
	sb.WriteString(fmt.Sprintf("%s timeframe (dominant, ADX=%.2f): %s\n\n", dominant.Timeframe, dominant.ADX, dominant.describe()))
	sb.WriteString(fmt.Sprintf("%s timeframe (secondary, ADX=%.2f): %s\n\n", secondary.Timeframe, secondary.ADX, secondary.describe()))
	sb.WriteString(fmt.Sprintf("The %s timeframe has the higher ADX and is dominant for trend direction; weigh it accordingly.\n\n", dominant.Timeframe))
	sb.WriteString(jsonFieldContract)
	sb.WriteString(fmt.Sprintf("\nSet analysis_type to \"MTA\", trend_timeframe to %q, and data.price to %.8f.\n", dominant.Timeframe, dominant.Price))
	return sb.String()
}

// NewsItem is one headline supplied to the holistic prompt.
type NewsItem struct {
	Headline string
	Source   string
}

// BuildHolisticPrompt builds the news+sentiment-aware prompt (spec.md
// §4.4, analysis_type "Holistic").
func BuildHolisticPrompt(symbol, timeframe string, ind Indicators, news []NewsItem, sentimentScore float64) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Analyze %s on the %s timeframe, incorporating recent news sentiment.\n\n", symbol, timeframe))
	sb.WriteString("Indicators: " + ind.describe() + "\n\n")

	if len(news) == 0 {
		sb.WriteString("Recent news: none available.\n\n")
	} else {
		sb.WriteString("Recent news:\n")
		for _, n := range news {
			sb.WriteString(fmt.Sprintf("- %s (%s)\n", n.Headline, n.Source))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("Aggregate sentiment score: %.2f (-1 very negative, +1 very positive)\n\n", sentimentScore))

	sb.WriteString(jsonFieldContract)
	sb.WriteString(fmt.Sprintf("\nSet analysis_type to \"Holistic\", data.price to %.8f, and data.sentiment_score to %.2f.\n", ind.Price, sentimentScore))
	return sb.String()
}

const managementFieldContract = `Respond with a single JSON object (no surrounding prose) shaped exactly as:
{"recommendation": "TUT"|"KAPAT", "reason": string}`

// PositionSummary is the subset of an open position's state relevant to
// reanalysis/bailout prompts.
type PositionSummary struct {
	Symbol        string
	Side          string // "buy" or "sell"
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
	PnLPercentage float64
}

// BuildReanalysisPrompt builds the periodic open-position reanalysis
// prompt (spec.md §4.4).
func BuildReanalysisPrompt(pos PositionSummary, ind Indicators) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Reanalyze the open %s position on %s.\n\n", pos.Side, pos.Symbol))
	sb.WriteString(fmt.Sprintf("Entry=%.8f StopLoss=%.8f TakeProfit=%.8f PnL%%=%.2f\n\n", pos.EntryPrice, pos.StopLoss, pos.TakeProfit, pos.PnLPercentage))
	sb.WriteString("Current indicators: " + ind.describe() + "\n\n")
	sb.WriteString("Decide whether to hold or close this position given the current market.\n\n")
	sb.WriteString(managementFieldContract)
	return sb.String()
}

// BuildBailoutPrompt builds the losing-position-with-a-bounce prompt
// (spec.md §4.4), asking the model whether the bounce is a genuine exit
// opportunity or a dead-cat bounce.
func BuildBailoutPrompt(pos PositionSummary, ind Indicators) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("The %s position on %s is losing money and has just shown a price bounce.\n\n", pos.Side, pos.Symbol))
	sb.WriteString(fmt.Sprintf("Entry=%.8f StopLoss=%.8f PnL%%=%.2f\n\n", pos.EntryPrice, pos.StopLoss, pos.PnLPercentage))
	sb.WriteString("Current indicators: " + ind.describe() + "\n\n")
	sb.WriteString("Decide whether this bounce is a genuine exit opportunity to close now at reduced loss, or a dead-cat bounce to hold through.\n\n")
	sb.WriteString(managementFieldContract)
	return sb.String()
}
