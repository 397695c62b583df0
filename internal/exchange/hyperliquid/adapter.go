// Package hyperliquid adapts github.com/sonirico/go-hyperliquid to the
// exchange.Adapter interface, grounded on the teacher's
// trader/hyperliquid_trader.go (Agent Wallet setup, szDecimals/sigfigs
// rounding, IOC-limit-as-market orders, Trigger orders for SL/TP).
package hyperliquid

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gohyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/ethereum/go-ethereum/crypto"

	"sentryfx/internal/core"
	"sentryfx/internal/exchange"
	"sentryfx/internal/logger"
)

// Adapter wraps a hyperliquid.Exchange client. It requires the Agent
// Wallet pattern: the signing key must differ from the funds-holding
// wallet address, or a loud warning is logged (the teacher treats this as
// a severe but non-fatal misconfiguration).
type Adapter struct {
	exchange   *gohyperliquid.Exchange
	walletAddr string

	metaMu sync.RWMutex
	meta   *gohyperliquid.Meta
}

// New parses privateKeyHex, derives its signing address, and opens an
// Exchange client against walletAddr's funds. testnet selects the
// Hyperliquid testnet API URL.
func New(ctx context.Context, privateKeyHex, walletAddr string, testnet bool) (*Adapter, error) {
	privateKeyHex = strings.TrimPrefix(strings.ToLower(privateKeyHex), "0x")
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	apiURL := gohyperliquid.MainnetAPIURL
	if testnet {
		apiURL = gohyperliquid.TestnetAPIURL
	}

	agentAddr := crypto.PubkeyToAddress(*privateKey.Public().(*ecdsa.PublicKey)).Hex()
	if walletAddr == "" {
		return nil, fmt.Errorf("hyperliquid wallet address not configured; create an Agent Wallet " +
			"at https://app.hyperliquid.xyz/ -> Settings -> API Wallets and set the main wallet address here")
	}
	if strings.EqualFold(walletAddr, agentAddr) {
		logger.Warnf("hyperliquid: wallet address matches the signing key's own address, " +
			"meaning the main wallet's private key is being used directly; create a dedicated Agent Wallet instead")
	} else {
		logger.Infof("hyperliquid: Agent Wallet mode (signer=%s, funds=%s)", agentAddr, walletAddr)
	}

	ex := gohyperliquid.NewExchange(ctx, privateKey, apiURL, nil, "", walletAddr, nil)

	meta, err := ex.Info().Meta(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching meta: %w", err)
	}

	// The Agent wallet should only ever be used for signing and hold
	// near-zero balance; a funded Agent key is a security risk if it leaks.
	if !strings.EqualFold(walletAddr, agentAddr) {
		if agentState, err := ex.Info().UserState(ctx, agentAddr); err == nil && agentState != nil && agentState.CrossMarginSummary.AccountValue != "" {
			agentBalance, _ := strconv.ParseFloat(agentState.CrossMarginSummary.AccountValue, 64)
			switch {
			case agentBalance > 100:
				return nil, fmt.Errorf("agent wallet %s holds %.2f USDC, exceeding the 100 USDC safety threshold; "+
					"transfer funds to the main wallet and keep the agent wallet near zero", agentAddr, agentBalance)
			case agentBalance > 10:
				logger.Warnf("hyperliquid: agent wallet %s holds %.2f USDC; recommended to keep it near zero", agentAddr, agentBalance)
			default:
				logger.Infof("hyperliquid: agent wallet balance is safe (%.2f USDC)", agentBalance)
			}
		} else if err != nil {
			logger.Warnf("hyperliquid: could not verify agent wallet balance: %v", err)
		}
	}

	return &Adapter{exchange: ex, walletAddr: walletAddr, meta: meta}, nil
}

func coinOf(symbol string) string {
	return strings.SplitN(exchange.Canon(symbol), "/", 2)[0]
}

// LoadMarkets refreshes the cached asset metadata (precision) used by
// AmountToPrecision/PriceToPrecision.
func (a *Adapter) LoadMarkets(ctx context.Context) error {
	meta, err := a.exchange.Info().Meta(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	a.metaMu.Lock()
	a.meta = meta
	a.metaMu.Unlock()
	return nil
}

// FetchPrice returns the current mid price for symbol.
func (a *Adapter) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	coin := coinOf(symbol)
	mids, err := a.exchange.Info().AllMids(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	priceStr, ok := mids[coin]
	if !ok {
		return 0, fmt.Errorf("%w: no mid price for %s", core.ErrBadSymbol, coin)
	}
	return strconv.ParseFloat(priceStr, 64)
}

// FetchOHLCV returns the most recent `limit` candles for symbol at the
// given timeframe via Hyperliquid's candle snapshot endpoint.
func (a *Adapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Bar, error) {
	coin := coinOf(symbol)
	end := time.Now()
	start := candleWindowStart(end, timeframe, limit)

	candles, err := a.exchange.Info().CandleSnapshot(ctx, coin, timeframe, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}

	bars := make([]exchange.Bar, 0, len(candles))
	for _, c := range candles {
		open, _ := strconv.ParseFloat(c.Open, 64)
		high, _ := strconv.ParseFloat(c.High, 64)
		low, _ := strconv.ParseFloat(c.Low, 64)
		close_, _ := strconv.ParseFloat(c.Close, 64)
		volume, _ := strconv.ParseFloat(c.Volume, 64)
		bars = append(bars, exchange.Bar{
			TimestampMs: c.TimeOpen,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       close_,
			Volume:      volume,
		})
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func candleWindowStart(end time.Time, timeframe string, limit int) time.Time {
	d := timeframeDuration(timeframe)
	return end.Add(-d * time.Duration(limit+1))
}

func timeframeDuration(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// FetchBalance returns the account's total equity in quote ("USDC" is
// Hyperliquid's native margin asset and "USDT" is accepted as an alias;
// other quotes return ErrNotSupported).
func (a *Adapter) FetchBalance(ctx context.Context, quote string) (float64, error) {
	if !strings.EqualFold(quote, "USDC") && !strings.EqualFold(quote, "USDT") {
		return 0, fmt.Errorf("%w: hyperliquid settles in USDC, got %s", core.ErrNotSupported, quote)
	}
	state, err := a.exchange.Info().UserState(ctx, a.walletAddr)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(state.CrossMarginSummary.AccountValue, 64)
}

// FetchOpenPositions returns every position with nonzero size.
func (a *Adapter) FetchOpenPositions(ctx context.Context) ([]exchange.ExchangePosition, error) {
	state, err := a.exchange.Info().UserState(ctx, a.walletAddr)
	if err != nil {
		return nil, err
	}

	var out []exchange.ExchangePosition
	for _, ap := range state.AssetPositions {
		size, _ := strconv.ParseFloat(ap.Position.Szi, 64)
		if size == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(ap.Position.EntryPx, 64)
		pnl, _ := strconv.ParseFloat(ap.Position.UnrealizedPnl, 64)
		leverage, _ := strconv.Atoi(ap.Position.Leverage.Value)

		side := "long"
		if size < 0 {
			side = "short"
			size = -size
		}

		out = append(out, exchange.ExchangePosition{
			Symbol:        exchange.Canon(ap.Position.Coin),
			Side:          side,
			Contracts:     size,
			EntryPrice:    entry,
			UnrealizedPnL: pnl,
			Leverage:      leverage,
		})
	}
	return out, nil
}

// FetchOpenOrders returns open orders, optionally filtered to one symbol.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	orders, err := a.exchange.Info().OpenOrders(ctx, a.walletAddr)
	if err != nil {
		return nil, err
	}

	coin := ""
	if symbol != "" {
		coin = coinOf(symbol)
	}

	out := make([]exchange.Order, 0, len(orders))
	for _, o := range orders {
		if coin != "" && o.Coin != coin {
			continue
		}
		side := exchange.OrderSideSell
		if o.Side == "B" {
			side = exchange.OrderSideBuy
		}
		size, _ := strconv.ParseFloat(o.Sz, 64)
		price, _ := strconv.ParseFloat(o.LimitPx, 64)
		out = append(out, exchange.Order{
			ID:     strconv.FormatInt(o.Oid, 10),
			Symbol: exchange.Canon(o.Coin),
			Side:   side,
			Amount: size,
			Price:  price,
			Status: "NEW",
		})
	}
	return out, nil
}

// FetchTickers24h is not supported: Hyperliquid's public API exposes mid
// prices and per-coin metadata, not a Binance-style 24h ticker digest, and
// nothing in this system's scanner currently needs it from this adapter
// since candidate discovery always runs against Binance market data.
func (a *Adapter) FetchTickers24h(ctx context.Context) ([]exchange.Ticker, error) {
	return nil, core.ErrNotSupported
}

// SetLeverage updates the leverage and margin mode for symbol.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := a.exchange.UpdateLeverage(ctx, leverage, coinOf(symbol), true)
	return err
}

// CreateOrder submits an order. MARKET orders are implemented as
// aggressively-priced IOC limit orders (Hyperliquid has no native market
// order type); STOP_MARKET/TAKE_PROFIT_MARKET become reduce-only Trigger
// orders, exactly as the teacher's SetStopLoss/SetTakeProfit do.
func (a *Adapter) CreateOrder(ctx context.Context, symbol string, orderType exchange.OrderType, side exchange.OrderSide, amount, price float64, params exchange.OrderParams) (exchange.Order, error) {
	coin := coinOf(symbol)
	isBuy := side == exchange.OrderSideBuy
	size := a.roundToSzDecimals(coin, amount)

	var req gohyperliquid.CreateOrderRequest
	switch orderType {
	case exchange.OrderStopMarket, exchange.OrderTakeProfitMarket:
		triggerPrice := a.roundPriceToSigfigs(params.StopPrice)
		tpsl := "sl"
		if orderType == exchange.OrderTakeProfitMarket {
			tpsl = "tp"
		}
		req = gohyperliquid.CreateOrderRequest{
			Coin: coin, IsBuy: isBuy, Size: size, Price: triggerPrice,
			OrderType:  gohyperliquid.OrderType{Trigger: &gohyperliquid.TriggerOrderType{TriggerPx: triggerPrice, IsMarket: true, Tpsl: tpsl}},
			ReduceOnly: true,
		}
	case exchange.OrderLimit:
		limitPrice := a.roundPriceToSigfigs(price)
		req = gohyperliquid.CreateOrderRequest{
			Coin: coin, IsBuy: isBuy, Size: size, Price: limitPrice,
			OrderType:  gohyperliquid.OrderType{Limit: &gohyperliquid.LimitOrderType{Tif: gohyperliquid.TifGtc}},
			ReduceOnly: params.ReduceOnly,
		}
	default: // MARKET: aggressive IOC limit 1% through the current mid
		mid, err := a.FetchPrice(ctx, symbol)
		if err != nil {
			return exchange.Order{}, err
		}
		aggressive := mid * 1.01
		if !isBuy {
			aggressive = mid * 0.99
		}
		limitPrice := a.roundPriceToSigfigs(aggressive)
		req = gohyperliquid.CreateOrderRequest{
			Coin: coin, IsBuy: isBuy, Size: size, Price: limitPrice,
			OrderType:  gohyperliquid.OrderType{Limit: &gohyperliquid.LimitOrderType{Tif: gohyperliquid.TifIoc}},
			ReduceOnly: params.ReduceOnly,
		}
	}

	if _, err := a.exchange.Order(ctx, req, nil); err != nil {
		return exchange.Order{}, fmt.Errorf("submitting order: %w", err)
	}

	return exchange.Order{
		Symbol: exchange.Canon(symbol),
		Type:   orderType,
		Side:   side,
		Amount: size,
		Status: "FILLED",
	}, nil
}

// CancelOrder cancels a single order by ID.
func (a *Adapter) CancelOrder(ctx context.Context, id, symbol string) error {
	oid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed order id %q", core.ErrBadSymbol, id)
	}
	_, err = a.exchange.Cancel(ctx, coinOf(symbol), oid)
	return err
}

// CancelAllOrders cancels every open order for symbol (the SDK has no
// per-coin bulk cancel, so every matching order is cancelled individually,
// same as the teacher's CancelAllOrders/CancelStopOrders).
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) error {
	coin := coinOf(symbol)
	orders, err := a.exchange.Info().OpenOrders(ctx, a.walletAddr)
	if err != nil {
		return fmt.Errorf("listing open orders: %w", err)
	}
	for _, o := range orders {
		if o.Coin != coin {
			continue
		}
		if _, err := a.exchange.Cancel(ctx, coin, o.Oid); err != nil {
			logger.Warnf("hyperliquid: failed to cancel order %d for %s: %v", o.Oid, coin, err)
		}
	}
	return nil
}

// AmountToPrecision rounds amount to the coin's szDecimals.
func (a *Adapter) AmountToPrecision(symbol string, amount float64) (string, error) {
	coin := coinOf(symbol)
	rounded := a.roundToSzDecimals(coin, amount)
	return strconv.FormatFloat(rounded, 'f', a.szDecimals(coin), 64), nil
}

// PriceToPrecision rounds price to Hyperliquid's 5-significant-figure rule.
func (a *Adapter) PriceToPrecision(symbol string, price float64) (string, error) {
	return strconv.FormatFloat(a.roundPriceToSigfigs(price), 'f', -1, 64), nil
}

func (a *Adapter) szDecimals(coin string) int {
	a.metaMu.RLock()
	defer a.metaMu.RUnlock()
	if a.meta == nil {
		return 4
	}
	for _, asset := range a.meta.Universe {
		if asset.Name == coin {
			return asset.SzDecimals
		}
	}
	return 4
}

func (a *Adapter) roundToSzDecimals(coin string, quantity float64) float64 {
	decimals := a.szDecimals(coin)
	multiplier := 1.0
	for i := 0; i < decimals; i++ {
		multiplier *= 10
	}
	return float64(int64(quantity*multiplier+0.5)) / multiplier
}

// roundPriceToSigfigs rounds price to Hyperliquid's required 5 significant
// figures, grounded verbatim on the teacher's roundPriceToSigfigs.
func (a *Adapter) roundPriceToSigfigs(price float64) float64 {
	if price == 0 {
		return 0
	}
	const sigfigs = 5

	magnitude := price
	if magnitude < 0 {
		magnitude = -magnitude
	}
	multiplier := 1.0
	for magnitude >= 10 {
		magnitude /= 10
		multiplier /= 10
	}
	for magnitude < 1 {
		magnitude *= 10
		multiplier *= 10
	}
	for i := 0; i < sigfigs-1; i++ {
		multiplier *= 10
	}
	return float64(int64(price*multiplier+0.5)) / multiplier
}
