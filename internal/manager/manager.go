// Package manager implements the Position Manager: periodic PnL refresh,
// the SL/TP/partial/trailing/bailout exit state machine, exchange-ledger
// reconciliation, and the orphan-order sweep (spec.md §4.6). Grounded on
// the teacher's manager.TraderManager map-guarded-by-mutex shape (visible
// via manager/trader_manager_test.go) and on the original Python
// core/position_manager.py for the exact per-tick arithmetic and
// ordering.
package manager

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"sentryfx/internal/config"
	"sentryfx/internal/core"
	"sentryfx/internal/decision"
	"sentryfx/internal/exchange"
	"sentryfx/internal/indicator"
	"sentryfx/internal/llm"
	"sentryfx/internal/logger"
	"sentryfx/internal/trader"
)

// reconciliationTimeframe is the default timeframe used to reconstruct
// SL/TP for an unmanaged position found on the exchange (spec.md §4.6).
const reconciliationTimeframe = "15m"

// Notifier is the opaque sink for pre-formatted trade messages (spec.md
// §6 Notifier contract). Defined locally so manager doesn't import the
// concrete telegram implementation.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// EventStore is the persistence seam for the event log.
type EventStore interface {
	Append(e *core.Event) error
}

// Closer is the subset of Trader the manager drives exits through.
type Closer interface {
	Close(ctx context.Context, symbol, reason string) error
}

// Manager owns the position-management loop.
type Manager struct {
	adapter   exchange.Adapter
	positions trader.PositionStore
	trader    Closer
	llmClient *llm.Client
	events    EventStore
	notifier  Notifier
	settings  *config.Settings
}

// New constructs a Manager. notifier may be nil (no outbound notifications).
func New(adapter exchange.Adapter, positions trader.PositionStore, tr Closer, llmClient *llm.Client, events EventStore, notifier Notifier, settings *config.Settings) *Manager {
	return &Manager{
		adapter:   adapter,
		positions: positions,
		trader:    tr,
		llmClient: llmClient,
		events:    events,
		notifier:  notifier,
		settings:  settings,
	}
}

func (m *Manager) emit(level core.EventLevel, category, message string) {
	if m.events == nil {
		return
	}
	if err := m.events.Append(&core.Event{
		Timestamp: time.Now(), Level: level, Category: category, Message: message,
	}); err != nil {
		logger.Warnf("manager: failed to persist event: %v", err)
	}
}

func (m *Manager) notify(ctx context.Context, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, message); err != nil {
		logger.Warnf("manager: notify failed: %v", err)
	}
}

// roundAmount applies the adapter's exchange-precision step size to an
// order amount (spec.md §10 decision 1), falling back to the raw value
// if the adapter can't round it.
func (m *Manager) roundAmount(symbol string, amount float64) float64 {
	rounded, err := m.adapter.AmountToPrecision(symbol, amount)
	if err != nil {
		logger.Warnf("manager: rounding amount to precision failed for %s: %v", symbol, err)
		return amount
	}
	v, err := strconv.ParseFloat(rounded, 64)
	if err != nil {
		logger.Warnf("manager: parsing rounded amount for %s: %v", symbol, err)
		return amount
	}
	return v
}

// roundPrice applies the adapter's exchange-precision tick size to an
// order price, falling back to the raw value if the adapter can't round
// it.
func (m *Manager) roundPrice(symbol string, price float64) float64 {
	rounded, err := m.adapter.PriceToPrecision(symbol, price)
	if err != nil {
		logger.Warnf("manager: rounding price to precision failed for %s: %v", symbol, err)
		return price
	}
	v, err := strconv.ParseFloat(rounded, 64)
	if err != nil {
		logger.Warnf("manager: parsing rounded price for %s: %v", symbol, err)
		return price
	}
	return v
}

// fetchExchangePositionsWithRetry retries up to 3 times, 2s apart
// (spec.md §4.6 reconciliation).
func (m *Manager) fetchExchangePositionsWithRetry(ctx context.Context) ([]exchange.ExchangePosition, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		positions, err := m.adapter.FetchOpenPositions(ctx)
		if err == nil {
			return positions, nil
		}
		lastErr = err
		if attempt < 3 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("fetching exchange positions after 3 attempts: %w", lastErr)
}

// Reconcile classifies Ghost (ledger-only) and Unmanaged (exchange-only)
// positions and repairs the ledger (spec.md §4.6 Reconciliation).
func (m *Manager) Reconcile(ctx context.Context) error {
	exchangePositions, err := m.fetchExchangePositionsWithRetry(ctx)
	if err != nil {
		return err
	}
	byExchangeSymbol := make(map[string]exchange.ExchangePosition, len(exchangePositions))
	for _, p := range exchangePositions {
		byExchangeSymbol[exchange.Canon(p.Symbol)] = p
	}

	ledger, err := m.positions.All()
	if err != nil {
		return fmt.Errorf("loading ledger positions: %w", err)
	}
	byLedgerSymbol := make(map[string]*core.Position, len(ledger))
	for _, p := range ledger {
		byLedgerSymbol[p.Symbol] = p
	}

	for symbol := range byLedgerSymbol {
		if _, onExchange := byExchangeSymbol[symbol]; onExchange {
			continue
		}
		if err := m.positions.Delete(symbol); err != nil {
			logger.Warnf("manager: failed to remove ghost position %s: %v", symbol, err)
			continue
		}
		m.emit(core.EventCritical, "Reconciliation", fmt.Sprintf("ghost position %s removed from ledger", symbol))
	}

	settings := m.settings.Snapshot()
	for symbol, exPos := range byExchangeSymbol {
		if _, managed := byLedgerSymbol[symbol]; managed {
			continue
		}
		if err := m.importUnmanagedPosition(ctx, symbol, exPos, settings); err != nil {
			logger.Warnf("manager: failed to import unmanaged position %s: %v", symbol, err)
		}
	}

	return nil
}

func (m *Manager) importUnmanagedPosition(ctx context.Context, symbol string, exPos exchange.ExchangePosition, settings config.Settings) error {
	side := core.SideBuy
	if exPos.Side == "short" {
		side = core.SideSell
	}

	bars, err := m.adapter.FetchOHLCV(ctx, symbol, reconciliationTimeframe, 100)
	if err != nil {
		return fmt.Errorf("fetching bars for reconstructed SL/TP: %w", err)
	}
	atrValue, err := indicator.ATR(toIndicatorBars(bars), 14)
	if err != nil {
		return fmt.Errorf("computing ATR for reconstructed SL/TP: %w", err)
	}

	slDistance := atrValue * settings.ATRMultiplierSL
	tpDistance := slDistance * settings.RiskRewardRatioTP

	var stopLoss, takeProfit float64
	if side == core.SideBuy {
		stopLoss = exPos.EntryPrice - slDistance
		takeProfit = exPos.EntryPrice + tpDistance
	} else {
		stopLoss = exPos.EntryPrice + slDistance
		takeProfit = exPos.EntryPrice - tpDistance
	}

	now := time.Now()
	position := &core.Position{
		Symbol:          symbol,
		Side:            side,
		EntryPrice:      exPos.EntryPrice,
		InitialAmount:   exPos.Contracts,
		InitialStopLoss: stopLoss,
		Leverage:        exPos.Leverage,
		Timeframe:       reconciliationTimeframe,
		Reason:          "reconciliation: imported unmanaged exchange position",
		CreatedAt:       now,
		Amount:          exPos.Contracts,
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		ExtremumPrice:   exPos.EntryPrice,
		UpdatedAt:       now,
	}
	if err := m.positions.Upsert(position); err != nil {
		return fmt.Errorf("inserting reconstructed position: %w", err)
	}
	m.emit(core.EventWarning, "Reconciliation", fmt.Sprintf("unmanaged position %s imported, SL=%.8f TP=%.8f", symbol, stopLoss, takeProfit))
	return nil
}

// TickAll runs Tick for every managed position, continuing past per-symbol
// errors (spec.md §4.6: "different positions may be interleaved").
func (m *Manager) TickAll(ctx context.Context) {
	positions, err := m.positions.All()
	if err != nil {
		logger.Errorf("manager: loading positions for tick: %v", err)
		return
	}
	for _, p := range positions {
		if err := m.Tick(ctx, p.Symbol); err != nil {
			logger.Warnf("manager: tick failed for %s: %v", p.Symbol, err)
		}
	}
}

// Tick runs the per-position exit state machine for one symbol (spec.md
// §4.6 per-position tick, steps 1-5).
func (m *Manager) Tick(ctx context.Context, symbol string) error {
	position, err := m.positions.Get(symbol)
	if err != nil {
		return err
	}
	if position == nil {
		return nil
	}

	price, err := m.adapter.FetchPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetching price: %w", err)
	}

	m.refreshPnL(position, price)
	if err := m.positions.Upsert(position); err != nil {
		return fmt.Errorf("persisting refreshed pnl: %w", err)
	}

	if closed, err := m.checkHardExits(ctx, position, price); closed || err != nil {
		return err
	}

	settings := m.settings.Snapshot()

	if settings.UseBailoutExit {
		closed, err := m.checkBailoutExit(ctx, position, price, settings)
		if err != nil {
			logger.Warnf("manager: bailout check failed for %s: %v", symbol, err)
		}
		if closed {
			return nil
		}
	}

	if settings.UsePartialTP && !position.PartialTPExecuted {
		if err := m.checkPartialTP(ctx, position, price, settings); err != nil {
			logger.Warnf("manager: partial TP failed for %s: %v", symbol, err)
		}
	}

	if settings.UseTrailingStopLoss {
		if err := m.checkTrailingStop(ctx, position, price, settings); err != nil {
			logger.Warnf("manager: trailing stop failed for %s: %v", symbol, err)
		}
	}

	return nil
}

// refreshPnL recomputes pnl/pnl_percentage in place (spec.md §4.6 step 1).
func (m *Manager) refreshPnL(position *core.Position, price float64) {
	var pnl float64
	if position.Side == core.SideBuy {
		pnl = (price - position.EntryPrice) * position.Amount
	} else {
		pnl = (position.EntryPrice - price) * position.Amount
	}
	position.PnL = pnl

	margin := 0.0
	if position.Leverage > 0 {
		margin = (position.EntryPrice * position.Amount) / float64(position.Leverage)
	}
	pnlPercentage := 0.0
	if margin > 0 {
		pnlPercentage = (pnl / margin) * 100
	}
	position.PnLPercentage = pnlPercentage
	position.UpdatedAt = time.Now()
}

// checkHardExits closes the position if price has crossed stop_loss or
// take_profit (spec.md §4.6 step 2).
func (m *Manager) checkHardExits(ctx context.Context, position *core.Position, price float64) (bool, error) {
	var reason string
	switch {
	case position.StopLoss > 0 && ((position.Side == core.SideBuy && price <= position.StopLoss) ||
		(position.Side == core.SideSell && price >= position.StopLoss)):
		reason = "SL"
	case position.TakeProfit > 0 && ((position.Side == core.SideBuy && price >= position.TakeProfit) ||
		(position.Side == core.SideSell && price <= position.TakeProfit)):
		reason = "TP"
	default:
		return false, nil
	}

	if err := m.trader.Close(ctx, position.Symbol, reason); err != nil {
		return false, fmt.Errorf("closing on hard exit %s: %w", reason, err)
	}
	m.notify(ctx, fmt.Sprintf("%s closed: %s hit @ %.8f", position.Symbol, reason, price))
	return true, nil
}

// checkBailoutExit implements the arm/track/recover state machine (spec.md
// §4.6 step 3). Returns true if the position was closed.
func (m *Manager) checkBailoutExit(ctx context.Context, position *core.Position, price float64, settings config.Settings) (bool, error) {
	if position.PnLPercentage > 0 && position.BailoutArmed {
		position.BailoutArmed = false
		position.BailoutAnalysisTriggered = false
		position.ExtremumPrice = 0
		return false, m.positions.Upsert(position)
	}

	if !position.BailoutArmed {
		if position.PnLPercentage < settings.BailoutArmLossPercent {
			position.BailoutArmed = true
			position.ExtremumPrice = price
			return false, m.positions.Upsert(position)
		}
		return false, nil
	}

	worseForBuy := position.Side == core.SideBuy && price < position.ExtremumPrice
	worseForSell := position.Side == core.SideSell && price > position.ExtremumPrice
	if worseForBuy || worseForSell {
		position.ExtremumPrice = price
	}

	var recoveryTarget float64
	if position.Side == core.SideBuy {
		recoveryTarget = position.ExtremumPrice * (1 + settings.BailoutRecoveryPercent/100)
	} else {
		recoveryTarget = position.ExtremumPrice * (1 - settings.BailoutRecoveryPercent/100)
	}

	recovered := (position.Side == core.SideBuy && price >= recoveryTarget) ||
		(position.Side == core.SideSell && price <= recoveryTarget)
	if !recovered || position.BailoutAnalysisTriggered {
		return false, m.positions.Upsert(position)
	}

	position.BailoutAnalysisTriggered = true
	if !settings.UseAIBailoutConfirmation {
		if err := m.trader.Close(ctx, position.Symbol, "BAILOUT_EXIT"); err != nil {
			return false, fmt.Errorf("closing on bailout exit: %w", err)
		}
		m.notify(ctx, fmt.Sprintf("%s bailed out at %.8f", position.Symbol, price))
		return true, nil
	}

	return m.confirmBailoutWithAI(ctx, position, price, settings)
}

func (m *Manager) confirmBailoutWithAI(ctx context.Context, position *core.Position, price float64, settings config.Settings) (bool, error) {
	bars, err := m.adapter.FetchOHLCV(ctx, position.Symbol, position.Timeframe, 100)
	if err != nil {
		return false, fmt.Errorf("fetching bars for bailout confirmation: %w", err)
	}
	ind := snapshotIndicators(bars, price)
	summary := decision.PositionSummary{
		Symbol: position.Symbol, Side: string(position.Side), EntryPrice: position.EntryPrice,
		StopLoss: position.StopLoss, PnLPercentage: position.PnLPercentage,
	}
	prompt := decision.BuildBailoutPrompt(summary, ind)

	response, err := m.llmClient.Invoke(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("invoking LLM for bailout confirmation: %w", err)
	}
	parsed, err := decision.ParseManagementResponse(response.Content)
	if err != nil {
		return false, fmt.Errorf("parsing bailout confirmation: %w", err)
	}

	if parsed.Recommendation != core.RecommendationClose {
		return false, m.positions.Upsert(position)
	}

	if err := m.trader.Close(ctx, position.Symbol, "AI_BAILOUT_EXIT"); err != nil {
		return false, fmt.Errorf("closing on AI-confirmed bailout exit: %w", err)
	}
	m.notify(ctx, fmt.Sprintf("%s AI-confirmed bailout exit at %.8f: %s", position.Symbol, price, parsed.Reason))
	return true, nil
}

// checkPartialTP closes PARTIAL_TP_CLOSE_PERCENT of the position at 1R
// and moves the remaining stop to breakeven (spec.md §4.6 step 4).
func (m *Manager) checkPartialTP(ctx context.Context, position *core.Position, price float64, settings config.Settings) error {
	risk := absFloat(position.EntryPrice - position.InitialStopLoss)
	if risk <= 0 {
		return nil
	}

	var partialTarget float64
	if position.Side == core.SideBuy {
		partialTarget = position.EntryPrice + risk*settings.PartialTPTargetRR
	} else {
		partialTarget = position.EntryPrice - risk*settings.PartialTPTargetRR
	}

	crossed := (position.Side == core.SideBuy && price >= partialTarget) ||
		(position.Side == core.SideSell && price <= partialTarget)
	if !crossed {
		return nil
	}

	amountToClose := m.roundAmount(position.Symbol, position.InitialAmount*(settings.PartialTPClosePercent/100))
	remainingAmount := position.Amount - amountToClose
	if remainingAmount <= 0 {
		return nil
	}

	closingSide := exchange.OrderSideSell
	if position.Side == core.SideSell {
		closingSide = exchange.OrderSideBuy
	}
	if _, err := m.adapter.CreateOrder(ctx, position.Symbol, exchange.OrderMarket, closingSide, amountToClose, 0, exchange.OrderParams{ReduceOnly: true}); err != nil {
		return fmt.Errorf("submitting partial close order: %w", err)
	}

	position.Amount = remainingAmount
	position.StopLoss = position.EntryPrice
	position.PartialTPExecuted = true

	if err := m.replaceBrackets(ctx, position, remainingAmount, position.EntryPrice, position.TakeProfit); err != nil {
		logger.Warnf("manager: replacing brackets after partial TP failed for %s: %v", position.Symbol, err)
	}
	if err := m.positions.Upsert(position); err != nil {
		return fmt.Errorf("persisting partial TP state: %w", err)
	}

	m.notify(ctx, fmt.Sprintf("%s partial TP: closed %.8f, %.8f remains, SL moved to breakeven %.8f", position.Symbol, amountToClose, remainingAmount, position.EntryPrice))
	return nil
}

// checkTrailingStop moves the stop loss if activation and favorability
// both hold (spec.md §4.6 step 5).
func (m *Manager) checkTrailingStop(ctx context.Context, position *core.Position, price float64, settings config.Settings) error {
	profitPercent := ((price - position.EntryPrice) / position.EntryPrice) * 100
	if position.Side == core.SideSell {
		profitPercent = -profitPercent
	}
	if profitPercent <= settings.TrailingStopActivationPercent {
		return nil
	}

	originalSLDistance := absFloat(position.EntryPrice - position.InitialStopLoss)
	var candidate float64
	if position.Side == core.SideBuy {
		candidate = price - originalSLDistance
	} else {
		candidate = price + originalSLDistance
	}

	if !position.FavorableSLMove(candidate) {
		return nil
	}

	if err := m.replaceBrackets(ctx, position, position.Amount, candidate, position.TakeProfit); err != nil {
		return fmt.Errorf("replacing stop order for trailing SL: %w", err)
	}
	position.StopLoss = candidate
	if err := m.positions.Upsert(position); err != nil {
		return fmt.Errorf("persisting trailing SL: %w", err)
	}
	m.notify(ctx, fmt.Sprintf("%s trailing SL moved to %.8f", position.Symbol, candidate))
	return nil
}

// replaceBrackets cancels all open orders for the symbol and resubmits
// the STOP_MARKET/TAKE_PROFIT_MARKET reduce-only pair for the given
// amount. Used whenever the stop price changes (partial TP, trailing).
func (m *Manager) replaceBrackets(ctx context.Context, position *core.Position, amount, stopLoss, takeProfit float64) error {
	if err := m.adapter.CancelAllOrders(ctx, position.Symbol); err != nil {
		logger.Warnf("manager: cancel all orders before bracket replacement failed for %s: %v", position.Symbol, err)
	}

	closingSide := exchange.OrderSideSell
	if position.Side == core.SideSell {
		closingSide = exchange.OrderSideBuy
	}

	amount = m.roundAmount(position.Symbol, amount)
	stopLoss = m.roundPrice(position.Symbol, stopLoss)
	takeProfit = m.roundPrice(position.Symbol, takeProfit)

	var firstErr error
	if _, err := m.adapter.CreateOrder(ctx, position.Symbol, exchange.OrderStopMarket, closingSide, amount, 0, exchange.OrderParams{StopPrice: stopLoss, ReduceOnly: true}); err != nil {
		firstErr = fmt.Errorf("resubmitting stop order: %w", err)
	}
	if _, err := m.adapter.CreateOrder(ctx, position.Symbol, exchange.OrderTakeProfitMarket, closingSide, amount, 0, exchange.OrderParams{StopPrice: takeProfit, ReduceOnly: true}); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("resubmitting take-profit order: %w", err)
	}
	return firstErr
}

// SweepOrphanOrders cancels the open orders of every ledger position that
// has no matching exchange position (spec.md §4.6 orphan-order sweep).
// Only symbols in the ledger are examined: open orders for symbols with
// no ledger entry are not cancelled. It runs whatever LiveTrading and
// DefaultMarketType are set to.
func (m *Manager) SweepOrphanOrders(ctx context.Context) error {
	exchangePositions, err := m.adapter.FetchOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching exchange positions for orphan sweep: %w", err)
	}
	withPosition := make(map[string]struct{}, len(exchangePositions))
	for _, p := range exchangePositions {
		withPosition[exchange.Canon(p.Symbol)] = struct{}{}
	}

	ledger, err := m.positions.All()
	if err != nil {
		return fmt.Errorf("loading ledger for orphan sweep: %w", err)
	}

	for _, position := range ledger {
		if _, ok := withPosition[position.Symbol]; ok {
			continue
		}
		orders, err := m.adapter.FetchOpenOrders(ctx, position.Symbol)
		if err != nil {
			logger.Warnf("manager: fetching open orders for orphan sweep failed for %s: %v", position.Symbol, err)
			continue
		}
		for _, order := range orders {
			if err := m.adapter.CancelOrder(ctx, order.ID, position.Symbol); err != nil {
				logger.Warnf("manager: cancelling orphan order %s for %s failed: %v", order.ID, position.Symbol, err)
				continue
			}
			m.emit(core.EventInfo, "OrphanSweep", fmt.Sprintf("cancelled orphan order %s for %s", order.ID, position.Symbol))
		}
	}
	return nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
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

// snapshotIndicators computes the indicator set fed into a management
// prompt, tolerating individual indicator failures on thin bar windows.
func snapshotIndicators(bars []exchange.Bar, price float64) decision.Indicators {
	ind := indicator.Clean(toIndicatorBars(bars))
	out := decision.Indicators{Price: price}

	if v, err := indicator.SMA(ind, 20); err == nil {
		out.SMA = v
	}
	if v, err := indicator.EMA(ind, 20); err == nil {
		out.EMA = v
	}
	if v, err := indicator.RSI(ind, 14); err == nil {
		out.RSI = v
	}
	if v, err := indicator.ADX(ind, 14); err == nil {
		out.ADX = v
	}
	if v, err := indicator.ATR(ind, 14); err == nil {
		out.ATR = v
	}
	if v, err := indicator.ATRPercent(ind, 14); err == nil {
		out.ATRPercent = v
	}
	if bb, err := indicator.Bollinger(ind, 20, 2); err == nil {
		out.Bollinger = bb
	}
	if macd, err := indicator.MACD(ind, 12, 26, 9); err == nil {
		out.MACD = macd
	}
	if stoch, err := indicator.Stochastic(ind, 14, 3, 3); err == nil {
		out.Stochastic = stoch
	}
	return out
}
