// Package core holds the domain types and sentinel errors shared by every
// component of the trading agent. It has no process-wide Core value: the
// settings, LLM client and exchange adapter are constructed in
// cmd/agent/main.go and passed to each component explicitly.
package core

import "time"

// Side is a position direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Recommendation is the tagged variant every LLM response is parsed into
// exactly once, at the response boundary (spec.md §9 "duck-typed prompt
// responses" redesign).
type Recommendation string

const (
	RecommendationBuy  Recommendation = "Buy"
	RecommendationSell Recommendation = "Sell"
	RecommendationWait Recommendation = "Wait"
	RecommendationHold Recommendation = "Hold"
	RecommendationClose Recommendation = "Close"
)

// IsOpenSignal reports whether the recommendation calls for opening a new
// position.
func (r Recommendation) IsOpenSignal() bool {
	return r == RecommendationBuy || r == RecommendationSell
}

// Position is an open, managed trade. Mutated only by the Position Manager
// once created by the Trader.
type Position struct {
	// Identity.
	Symbol string // canonical "BASE/QUOTE" form, unique

	// Immutable after open.
	Side              Side
	EntryPrice        float64
	InitialAmount     float64
	InitialStopLoss   float64
	Leverage          int
	Timeframe         string
	Reason            string
	CreatedAt         time.Time

	// Mutable.
	Amount                   float64 // shrinks on partial TP
	StopLoss                 float64 // raised by trailing or partial-TP breakeven
	TakeProfit               float64
	PnL                      float64
	PnLPercentage            float64
	PartialTPExecuted        bool // write-once latch
	BailoutArmed             bool
	ExtremumPrice            float64 // worst price seen since arming
	BailoutAnalysisTriggered bool

	UpdatedAt time.Time
}

// FavorableSLMove reports whether candidate is a strictly more favorable
// stop-loss than the position's current one (buy: higher is better, sell:
// lower is better). Used to enforce the monotone stop-loss invariant.
func (p *Position) FavorableSLMove(candidate float64) bool {
	if p.Side == SideBuy {
		return candidate > p.StopLoss
	}
	return candidate < p.StopLoss
}

// TradeHistoryEntry is an append-only record of a closed position.
type TradeHistoryEntry struct {
	ID            string
	Symbol        string
	Side          Side
	InitialAmount float64
	EntryPrice    float64
	ClosePrice    float64
	PnL           float64
	Status        string // close reason
	Timeframe     string
	OpenedAt      time.Time
	ClosedAt      time.Time
}

// EventLevel is the severity of a logged Event.
type EventLevel string

const (
	EventDebug    EventLevel = "DEBUG"
	EventInfo     EventLevel = "INFO"
	EventSuccess  EventLevel = "SUCCESS"
	EventWarning  EventLevel = "WARNING"
	EventError    EventLevel = "ERROR"
	EventCritical EventLevel = "CRITICAL"
)

// Event is an append-only log row surfaced to both the event log and the
// Notifier.
type Event struct {
	ID        string
	Timestamp time.Time
	Level     EventLevel
	Category  string
	Message   string
}

// ScannerCandidate is one row of the scanner's discovery table; the whole
// table is overwritten on each interactive scan.
type ScannerCandidate struct {
	Symbol      string
	Source      string
	Timeframe   string
	Indicators  map[string]float64
	LastUpdated time.Time
}

// Preset is a named, read-only (from the core's perspective) bundle of
// settings values.
type Preset struct {
	ID        string
	Name      string // unique
	Settings  map[string]string
	CreatedAt time.Time
}
