// Package exchange defines the unified Adapter interface every derivatives
// exchange implementation (binance, hyperliquid) satisfies, generalizing
// the teacher's per-exchange trader.Trader interface to spec.md §4.1's
// OHLCV/ticker/balance/position/order surface.
package exchange

import "context"

// Bar is a single OHLCV candle.
type Bar struct {
	TimestampMs int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// OrderType enumerates the order kinds the agent submits.
type OrderType string

const (
	OrderMarket          OrderType = "MARKET"
	OrderLimit           OrderType = "LIMIT"
	OrderStopMarket      OrderType = "STOP_MARKET"
	OrderTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderSide is buy or sell, exchange-wire spelling.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderParams carries the optional fields only some order types need.
type OrderParams struct {
	StopPrice   float64
	ReduceOnly  bool
}

// Order is a submitted or fetched exchange order.
type Order struct {
	ID          string
	Symbol      string
	Type        OrderType
	Side        OrderSide
	Amount      float64
	Price       float64
	AvgPrice    float64
	ExecutedQty float64
	Status      string // NEW | FILLED | CANCELED | PARTIALLY_FILLED
}

// Ticker is one row of a 24h ticker snapshot.
type Ticker struct {
	Symbol            string
	QuoteVolume       float64
	PriceChangePercent float64
}

// ExchangePosition is a position as reported directly by the exchange
// (distinct from core.Position, which is the agent's managed view).
type ExchangePosition struct {
	Symbol        string
	Side          string // long | short
	Contracts     float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// Adapter is the exchange-agnostic surface the Scanner, Trader, and
// Position Manager depend on (spec.md §4.1). The Binance adapter retries
// transient network errors with backoff inside FetchPrice/LoadMarkets; the
// Hyperliquid adapter does not retry them and makes a single attempt.
// Every other method propagates on first failure.
type Adapter interface {
	LoadMarkets(ctx context.Context) error

	FetchPrice(ctx context.Context, symbol string) (float64, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error)
	FetchBalance(ctx context.Context, quote string) (float64, error)
	FetchOpenPositions(ctx context.Context) ([]ExchangePosition, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	FetchTickers24h(ctx context.Context) ([]Ticker, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	CreateOrder(ctx context.Context, symbol string, orderType OrderType, side OrderSide, amount, price float64, params OrderParams) (Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	CancelAllOrders(ctx context.Context, symbol string) error

	AmountToPrecision(symbol string, amount float64) (string, error)
	PriceToPrecision(symbol string, price float64) (string, error)
}
