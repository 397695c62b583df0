package core

import "errors"

// Exchange Adapter errors (spec.md §4.1, §7).
var (
	ErrNetwork      = errors.New("exchange: transient network error")
	ErrAuth         = errors.New("exchange: authentication failed")
	ErrBadSymbol    = errors.New("exchange: unknown or unsupported symbol")
	ErrNotSupported = errors.New("exchange: operation not supported by this adapter")
	ErrRateLimit    = errors.New("exchange: rate limit exceeded")
)

// Indicator Engine errors (spec.md §4.2).
var (
	ErrInsufficientData = errors.New("indicator: insufficient bars for requested period")
	ErrIndicatorNaN     = errors.New("indicator: computed value is NaN")
)

// Trader errors (spec.md §4.5, §7).
var (
	ErrPositionExists      = errors.New("trader: a position already exists for this symbol")
	ErrMaxConcurrentTrades = errors.New("trader: maximum concurrent trades reached")
	ErrBadStopDistance     = errors.New("trader: stop-loss distance is zero or negative")
	ErrInsufficientMargin  = errors.New("trader: required margin exceeds available balance")
	ErrNotFound            = errors.New("trader: no managed position for this symbol")
)

// LLM Client errors (spec.md §4.4, §7).
var (
	ErrQuotaExhausted     = errors.New("llm: quota exhausted for this model")
	ErrAllModelsExhausted = errors.New("llm: all models in the fallback list are exhausted")
)
