// Package trader implements position opening/closing, grounded on the
// teacher's trader/interface.go Trader contract and on the original
// Python implementation's risk-sizing and bracket-order logic
// (core/trader.py).
package trader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sentryfx/internal/config"
	"sentryfx/internal/core"
	"sentryfx/internal/exchange"
	"sentryfx/internal/indicator"
	"sentryfx/internal/logger"
)

// PositionStore is the persistence seam Trader depends on.
type PositionStore interface {
	Get(symbol string) (*core.Position, error)
	Upsert(p *core.Position) error
	Delete(symbol string) error
	All() ([]*core.Position, error)
}

// TradeHistoryStore is the persistence seam for closed trades.
type TradeHistoryStore interface {
	Append(e *core.TradeHistoryEntry) error
}

// EventStore is the persistence seam for the event log.
type EventStore interface {
	Append(e *core.Event) error
}

// Trader opens and closes managed positions (spec.md §4.5).
type Trader struct {
	adapter   exchange.Adapter
	positions PositionStore
	history   TradeHistoryStore
	events    EventStore
	settings  *config.Settings
}

// New constructs a Trader.
func New(adapter exchange.Adapter, positions PositionStore, history TradeHistoryStore, events EventStore, settings *config.Settings) *Trader {
	return &Trader{
		adapter:   adapter,
		positions: positions,
		history:   history,
		events:    events,
		settings:  settings,
	}
}

func (t *Trader) emit(level core.EventLevel, category, message string) {
	if t.events == nil {
		return
	}
	if err := t.events.Append(&core.Event{
		Timestamp: time.Now(), Level: level, Category: category, Message: message,
	}); err != nil {
		logger.Warnf("trader: failed to persist event: %v", err)
	}
}

// roundAmount applies the adapter's exchange-precision step size to an
// order amount (spec.md §10 decision 1), falling back to the raw value
// if the adapter can't round it (e.g. unknown symbol).
func (t *Trader) roundAmount(symbol string, amount float64) float64 {
	rounded, err := t.adapter.AmountToPrecision(symbol, amount)
	if err != nil {
		logger.Warnf("trader: rounding amount to precision failed for %s: %v", symbol, err)
		return amount
	}
	v, err := strconv.ParseFloat(rounded, 64)
	if err != nil {
		logger.Warnf("trader: parsing rounded amount for %s: %v", symbol, err)
		return amount
	}
	return v
}

// roundPrice applies the adapter's exchange-precision tick size to an
// order price, falling back to the raw value if the adapter can't round
// it.
func (t *Trader) roundPrice(symbol string, price float64) float64 {
	rounded, err := t.adapter.PriceToPrecision(symbol, price)
	if err != nil {
		logger.Warnf("trader: rounding price to precision failed for %s: %v", symbol, err)
		return price
	}
	v, err := strconv.ParseFloat(rounded, 64)
	if err != nil {
		logger.Warnf("trader: parsing rounded price for %s: %v", symbol, err)
		return price
	}
	return v
}

// sideFromRecommendation maps an LLM recommendation to a trade side
// (spec.md §4.5 step 2: side = buy if recommendation contains "AL").
func sideFromRecommendation(rec core.Recommendation) core.Side {
	if rec == core.RecommendationBuy {
		return core.SideBuy
	}
	return core.SideSell
}

// Open opens a new managed position for symbol (spec.md §4.5 Open).
func (t *Trader) Open(ctx context.Context, symbol string, rec core.Recommendation, timeframe string, currentPrice float64, reason string) (*core.Position, error) {
	symbol = exchange.Canon(symbol)
	settings := t.settings.Snapshot()

	if existing, err := t.positions.Get(symbol); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrPositionExists, symbol)
	}

	if settings.LiveTrading {
		open, err := t.positions.All()
		if err != nil {
			return nil, err
		}
		if len(open) >= settings.MaxConcurrentTrades {
			return nil, core.ErrMaxConcurrentTrades
		}
	}

	side := sideFromRecommendation(rec)

	bars, err := t.adapter.FetchOHLCV(ctx, symbol, timeframe, 100)
	if err != nil {
		return nil, fmt.Errorf("fetching bars for ATR: %w", err)
	}
	atrValue, err := indicator.ATR(toIndicatorBars(bars), 14)
	if err != nil {
		return nil, fmt.Errorf("computing ATR: %w", err)
	}

	var balance float64
	if settings.LiveTrading {
		balance, err = t.adapter.FetchBalance(ctx, "USDT")
		if err != nil {
			return nil, fmt.Errorf("fetching balance: %w", err)
		}
	} else {
		balance = settings.VirtualBalance
	}

	riskPercent := dynamicRiskPercent(settings, atrValue, currentPrice)

	slDistance := atrValue * settings.ATRMultiplierSL
	if slDistance <= 1e-9 {
		return nil, core.ErrBadStopDistance
	}
	tpDistance := slDistance * settings.RiskRewardRatioTP

	var stopLoss, takeProfit float64
	if side == core.SideBuy {
		stopLoss = currentPrice - slDistance
		takeProfit = currentPrice + tpDistance
	} else {
		stopLoss = currentPrice + slDistance
		takeProfit = currentPrice - tpDistance
	}

	riskUSD := balance * (riskPercent / 100)
	amount := riskUSD / slDistance

	if settings.LiveTrading {
		notional := amount * currentPrice
		requiredMargin := notional / float64(settings.Leverage)
		if requiredMargin > balance {
			return nil, core.ErrInsufficientMargin
		}
	}

	if err := t.adapter.SetLeverage(ctx, symbol, settings.Leverage); err != nil {
		logger.Warnf("trader: set leverage failed for %s: %v", symbol, err)
	}

	orderSide := exchange.OrderSideBuy
	if side == core.SideSell {
		orderSide = exchange.OrderSideSell
	}
	orderType := exchange.OrderMarket
	orderPrice := 0.0
	if strings.EqualFold(settings.DefaultOrderType, "LIMIT") {
		orderType = exchange.OrderLimit
		orderPrice = t.roundPrice(symbol, currentPrice)
	}
	amount = t.roundAmount(symbol, amount)

	order, err := t.adapter.CreateOrder(ctx, symbol, orderType, orderSide, amount, orderPrice, exchange.OrderParams{})
	if err != nil {
		return nil, fmt.Errorf("submitting entry order: %w", err)
	}

	fillPrice := t.resolveFillPrice(ctx, symbol, order, currentPrice)

	// Re-derive SL/TP distances from the actual fill price so the
	// risk/reward ratio holds even when LIMIT orders fill off-target.
	if side == core.SideBuy {
		stopLoss = fillPrice - slDistance
		takeProfit = fillPrice + tpDistance
	} else {
		stopLoss = fillPrice + slDistance
		takeProfit = fillPrice - tpDistance
	}

	t.submitBrackets(ctx, symbol, side, amount, stopLoss, takeProfit)

	now := time.Now()
	position := &core.Position{
		Symbol:          symbol,
		Side:            side,
		EntryPrice:      fillPrice,
		InitialAmount:   amount,
		InitialStopLoss: stopLoss,
		Leverage:        settings.Leverage,
		Timeframe:       timeframe,
		Reason:          reason,
		CreatedAt:       now,
		Amount:          amount,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		ExtremumPrice:   fillPrice,
		UpdatedAt:       now,
	}

	if err := t.positions.Upsert(position); err != nil {
		return nil, fmt.Errorf("persisting new position: %w", err)
	}

	t.emit(core.EventSuccess, "Trade", fmt.Sprintf("opened %s %s @ %.8f", side, symbol, fillPrice))
	return position, nil
}

// dynamicRiskPercent implements the volatility bucketing in spec.md §4.5
// step 4, grounded verbatim on original_source/backend/core/trader.py's
// open_new_trade.
func dynamicRiskPercent(settings config.Settings, atr, currentPrice float64) float64 {
	if !settings.UseDynamicRisk {
		return settings.RiskPerTradePercent
	}

	volatilityPercent := (atr / currentPrice) * 100
	risk := settings.DynamicRiskBaseRisk
	switch {
	case volatilityPercent < settings.DynamicRiskLowVolThreshold:
		risk *= settings.DynamicRiskLowVolMultiplier
	case volatilityPercent > settings.DynamicRiskHighVolThreshold:
		risk *= settings.DynamicRiskHighVolMultiplier
	}
	return risk
}

// submitBrackets submits the STOP_MARKET/TAKE_PROFIT_MARKET reduce-only
// pair. Failures are logged, not unwound (spec.md §4.5 step 9).
func (t *Trader) submitBrackets(ctx context.Context, symbol string, side core.Side, amount, stopLoss, takeProfit float64) {
	closingSide := exchange.OrderSideSell
	if side == core.SideSell {
		closingSide = exchange.OrderSideBuy
	}

	amount = t.roundAmount(symbol, amount)
	stopLoss = t.roundPrice(symbol, stopLoss)
	takeProfit = t.roundPrice(symbol, takeProfit)

	if _, err := t.adapter.CreateOrder(ctx, symbol, exchange.OrderStopMarket, closingSide, amount, 0, exchange.OrderParams{StopPrice: stopLoss, ReduceOnly: true}); err != nil {
		logger.Warnf("trader: stop-loss bracket failed for %s: %v", symbol, err)
	}
	if _, err := t.adapter.CreateOrder(ctx, symbol, exchange.OrderTakeProfitMarket, closingSide, amount, 0, exchange.OrderParams{StopPrice: takeProfit, ReduceOnly: true}); err != nil {
		logger.Warnf("trader: take-profit bracket failed for %s: %v", symbol, err)
	}
}

// resolveFillPrice prefers the order's reported average fill price,
// falling back to the last trade price, then the price quoted at submit
// time (spec.md §4.5 step 8).
func (t *Trader) resolveFillPrice(ctx context.Context, symbol string, order exchange.Order, submittedPrice float64) float64 {
	if order.AvgPrice > 0 {
		return order.AvgPrice
	}
	if price, err := t.adapter.FetchPrice(ctx, symbol); err == nil && price > 0 {
		return price
	}
	return submittedPrice
}

// Close closes a managed position (spec.md §4.5 Close).
func (t *Trader) Close(ctx context.Context, symbol, reason string) error {
	symbol = exchange.Canon(symbol)
	settings := t.settings.Snapshot()

	position, err := t.positions.Get(symbol)
	if err != nil {
		return err
	}
	if position == nil {
		return fmt.Errorf("%w: %s", core.ErrNotFound, symbol)
	}

	if settings.LiveTrading {
		if err := t.adapter.CancelAllOrders(ctx, symbol); err != nil {
			logger.Warnf("trader: cancel all orders failed for %s: %v", symbol, err)
		}
	}

	closingSide := exchange.OrderSideSell
	if position.Side == core.SideSell {
		closingSide = exchange.OrderSideBuy
	}

	closeAmount := t.roundAmount(symbol, position.Amount)
	order, err := t.adapter.CreateOrder(ctx, symbol, exchange.OrderMarket, closingSide, closeAmount, 0, exchange.OrderParams{ReduceOnly: true})
	if err != nil {
		return fmt.Errorf("submitting close order: %w", err)
	}

	closePrice := t.resolveFillPrice(ctx, symbol, order, position.EntryPrice)

	var pnl float64
	if position.Side == core.SideBuy {
		pnl = (closePrice - position.EntryPrice) * position.InitialAmount
	} else {
		pnl = (position.EntryPrice - closePrice) * position.InitialAmount
	}

	if err := t.positions.Delete(symbol); err != nil {
		return fmt.Errorf("removing closed position: %w", err)
	}

	if t.history != nil {
		if err := t.history.Append(&core.TradeHistoryEntry{
			Symbol:        symbol,
			Side:          position.Side,
			InitialAmount: position.InitialAmount,
			EntryPrice:    position.EntryPrice,
			ClosePrice:    closePrice,
			PnL:           pnl,
			Status:        reason,
			Timeframe:     position.Timeframe,
			OpenedAt:      position.CreatedAt,
			ClosedAt:      time.Now(),
		}); err != nil {
			logger.Warnf("trader: failed to append trade history for %s: %v", symbol, err)
		}
	}

	t.emit(core.EventInfo, "Trade", fmt.Sprintf("closed %s %s @ %.8f reason=%s pnl=%.2f", position.Side, symbol, closePrice, reason, pnl))
	return nil
}

func toIndicatorBars(bars []exchange.Bar) []indicator.Bar {
	out := make([]indicator.Bar, len(bars))
	for i, b := range bars {
		out[i] = indicator.Bar{
			TimestampMs: b.TimestampMs, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
		}
	}
	return out
}
