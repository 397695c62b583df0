// Package binance adapts github.com/adshao/go-binance/v2/futures to the
// exchange.Adapter interface, generalizing the teacher's per-exchange
// trader (trader/bybit_trader.go's cache fields, trader/binance_futures_test.go's
// client wiring) into a single adapter that carries its own retry policy.
package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"sentryfx/internal/cache"
	"sentryfx/internal/core"
	"sentryfx/internal/exchange"
	"sentryfx/internal/logger"
)

const (
	priceCacheTTL  = 5 * time.Second // spec.md §4.3: price_{symbol} cache TTL
	marketCacheTTL = 5 * time.Minute
)

type symbolFilter struct {
	tickSize float64
	stepSize float64
}

// Adapter wraps a futures.Client with the retry-on-transient-error policy
// spec.md §4.1 requires for FetchPrice/LoadMarkets, plus TTL caches for
// price and market-metadata lookups so hot scanner loops don't hammer the
// exchange (the teacher achieves the same effect with ad hoc
// cachedBalance/balanceCacheTime fields per adapter; here it is the
// reusable generic cache).
type Adapter struct {
	client *futures.Client

	priceCache  *cache.Cache[float64]
	marketCache *cache.Cache[symbolFilter]
}

// New creates a binance futures adapter. testnet selects the futures
// testnet base URL.
func New(apiKey, apiSecret string, testnet bool) *Adapter {
	client := futures.NewClient(apiKey, apiSecret)
	client.HTTPClient = &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 50,
		},
	}
	if testnet {
		client.BaseURL = "https://testnet.binancefuture.com"
	}

	return &Adapter{
		client:      client,
		priceCache:  cache.New[float64](),
		marketCache: cache.New[symbolFilter](),
	}
}

// withRetry retries fn up to 3 attempts total with exponential backoff
// (base 1-2s, cap 10-30s) on transient errors, per spec.md §4.1 — scoped
// to FetchPrice and LoadMarkets only; every other adapter call propagates
// its first error untouched.
func withRetry(ctx context.Context, fn func() error) error {
	const maxAttempts = 3
	backoff := time.Second

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		logger.Warnf("exchange call failed (attempt %d/%d), retrying in %s: %v", attempt, maxAttempts, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
	return fmt.Errorf("%w: %v", core.ErrNetwork, err)
}

// LoadMarkets fetches exchange info for every symbol's tick/step size and
// warms the market cache.
func (a *Adapter) LoadMarkets(ctx context.Context) error {
	return withRetry(ctx, func() error {
		info, err := a.client.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return err
		}
		for _, sym := range info.Symbols {
			filter := symbolFilter{}
			for _, f := range sym.Filters {
				switch f["filterType"] {
				case "PRICE_FILTER":
					filter.tickSize, _ = strconv.ParseFloat(fmt.Sprint(f["tickSize"]), 64)
				case "LOT_SIZE":
					filter.stepSize, _ = strconv.ParseFloat(fmt.Sprint(f["stepSize"]), 64)
				}
			}
			a.marketCache.Set(sym.Symbol, filter, marketCacheTTL)
		}
		return nil
	})
}

// FetchPrice returns the last trade price for symbol, cached for 5s.
func (a *Adapter) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	wire := exchange.ToBinanceWire(symbol)
	if v, ok := a.priceCache.Get(wire); ok {
		return v, nil
	}

	var price float64
	err := withRetry(ctx, func() error {
		prices, err := a.client.NewListPricesService().Symbol(wire).Do(ctx)
		if err != nil {
			return err
		}
		if len(prices) == 0 {
			return fmt.Errorf("%w: no price for %s", core.ErrBadSymbol, wire)
		}
		price, err = strconv.ParseFloat(prices[0].Price, 64)
		return err
	})
	if err != nil {
		return 0, err
	}

	a.priceCache.Set(wire, price, priceCacheTTL)
	return price, nil
}

// FetchOHLCV returns the most recent `limit` candles for symbol at the
// given timeframe.
func (a *Adapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Bar, error) {
	wire := exchange.ToBinanceWire(symbol)
	klines, err := a.client.NewKlinesService().
		Symbol(wire).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	bars := make([]exchange.Bar, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		close_, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		bars = append(bars, exchange.Bar{
			TimestampMs: k.OpenTime,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       close_,
			Volume:      volume,
		})
	}
	return bars, nil
}

// FetchBalance returns total wallet balance for quote (e.g. "USDT").
func (a *Adapter) FetchBalance(ctx context.Context, quote string) (float64, error) {
	balances, err := a.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == quote {
			v, err := strconv.ParseFloat(b.Balance, 64)
			return v, err
		}
	}
	return 0, fmt.Errorf("%w: no balance entry for %s", core.ErrBadSymbol, quote)
}

// FetchOpenPositions returns every position with nonzero contracts.
func (a *Adapter) FetchOpenPositions(ctx context.Context) ([]exchange.ExchangePosition, error) {
	risks, err := a.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}

	var out []exchange.ExchangePosition
	for _, r := range risks {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		leverage, _ := strconv.Atoi(r.Leverage)

		side := "long"
		if amt < 0 {
			side = "short"
			amt = -amt
		}

		out = append(out, exchange.ExchangePosition{
			Symbol:        exchange.Canon(r.Symbol),
			Side:          side,
			Contracts:     amt,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: pnl,
			Leverage:      leverage,
		})
	}
	return out, nil
}

// FetchOpenOrders returns open orders, optionally filtered to one symbol.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	svc := a.client.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(exchange.ToBinanceWire(symbol))
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]exchange.Order, 0, len(orders))
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		avgPrice, _ := strconv.ParseFloat(o.AvgPrice, 64)
		origQty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		execQty, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
		out = append(out, exchange.Order{
			ID:          strconv.FormatInt(o.OrderID, 10),
			Symbol:      exchange.Canon(o.Symbol),
			Type:        exchange.OrderType(o.Type),
			Side:        exchange.OrderSide(o.Side),
			Amount:      origQty,
			Price:       price,
			AvgPrice:    avgPrice,
			ExecutedQty: execQty,
			Status:      string(o.Status),
		})
	}
	return out, nil
}

// FetchTickers24h returns the 24h ticker snapshot for every symbol.
func (a *Adapter) FetchTickers24h(ctx context.Context) ([]exchange.Ticker, error) {
	tickers, err := a.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]exchange.Ticker, 0, len(tickers))
	for _, t := range tickers {
		quoteVol, _ := strconv.ParseFloat(t.QuoteVolume, 64)
		changePct, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
		out = append(out, exchange.Ticker{
			Symbol:             exchange.Canon(t.Symbol),
			QuoteVolume:        quoteVol,
			PriceChangePercent: changePct,
		})
	}
	return out, nil
}

// SetLeverage sets the leverage bracket for symbol.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := a.client.NewChangeLeverageService().
		Symbol(exchange.ToBinanceWire(symbol)).
		Leverage(leverage).
		Do(ctx)
	return err
}

// CreateOrder submits an order of the given type/side/amount.
func (a *Adapter) CreateOrder(ctx context.Context, symbol string, orderType exchange.OrderType, side exchange.OrderSide, amount, price float64, params exchange.OrderParams) (exchange.Order, error) {
	wire := exchange.ToBinanceWire(symbol)
	svc := a.client.NewCreateOrderService().
		Symbol(wire).
		Side(futures.SideType(side)).
		Type(futures.OrderType(orderType)).
		Quantity(strconv.FormatFloat(amount, 'f', -1, 64))

	if params.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	switch orderType {
	case exchange.OrderLimit:
		svc = svc.Price(strconv.FormatFloat(price, 'f', -1, 64)).TimeInForce(futures.TimeInForceTypeGTC)
	case exchange.OrderStopMarket, exchange.OrderTakeProfitMarket:
		svc = svc.StopPrice(strconv.FormatFloat(params.StopPrice, 'f', -1, 64))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.Order{}, err
	}

	avgPrice, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(resp.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)

	return exchange.Order{
		ID:          strconv.FormatInt(resp.OrderID, 10),
		Symbol:      exchange.Canon(resp.Symbol),
		Type:        exchange.OrderType(resp.Type),
		Side:        exchange.OrderSide(resp.Side),
		Amount:      origQty,
		AvgPrice:    avgPrice,
		ExecutedQty: execQty,
		Status:      string(resp.Status),
	}, nil
}

// CancelOrder cancels a single order by ID.
func (a *Adapter) CancelOrder(ctx context.Context, id, symbol string) error {
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed order id %q", core.ErrBadSymbol, id)
	}
	_, err = a.client.NewCancelOrderService().
		Symbol(exchange.ToBinanceWire(symbol)).
		OrderID(orderID).
		Do(ctx)
	return err
}

// CancelAllOrders cancels every open order for symbol.
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) error {
	return a.client.NewCancelAllOpenOrdersService().
		Symbol(exchange.ToBinanceWire(symbol)).
		Do(ctx)
}

// AmountToPrecision rounds amount down to symbol's lot step size.
func (a *Adapter) AmountToPrecision(symbol string, amount float64) (string, error) {
	filter, ok := a.marketCache.Get(exchange.ToBinanceWire(symbol))
	if !ok || filter.stepSize == 0 {
		return strconv.FormatFloat(amount, 'f', -1, 64), nil
	}
	return strconv.FormatFloat(roundToStep(amount, filter.stepSize), 'f', -1, 64), nil
}

// PriceToPrecision rounds price down to symbol's tick size.
func (a *Adapter) PriceToPrecision(symbol string, price float64) (string, error) {
	filter, ok := a.marketCache.Get(exchange.ToBinanceWire(symbol))
	if !ok || filter.tickSize == 0 {
		return strconv.FormatFloat(price, 'f', -1, 64), nil
	}
	return strconv.FormatFloat(roundToStep(price, filter.tickSize), 'f', -1, 64), nil
}

func roundToStep(value, step float64) float64 {
	if step == 0 {
		return value
	}
	return math.Floor(value/step) * step
}

