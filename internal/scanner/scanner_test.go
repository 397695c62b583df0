package scanner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sentryfx/internal/config"
	"sentryfx/internal/core"
	"sentryfx/internal/exchange"
	"sentryfx/internal/llm"
)

type fakeAdapter struct {
	price   map[string]float64
	bars    map[string][]exchange.Bar
	tickers []exchange.Ticker

	createCalls int
}

func (f *fakeAdapter) LoadMarkets(ctx context.Context) error { return nil }

func (f *fakeAdapter) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price[symbol], nil
}

func (f *fakeAdapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Bar, error) {
	bars := f.bars[symbol]
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (f *fakeAdapter) FetchBalance(ctx context.Context, quote string) (float64, error) { return 0, nil }

func (f *fakeAdapter) FetchOpenPositions(ctx context.Context) ([]exchange.ExchangePosition, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchTickers24h(ctx context.Context) ([]exchange.Ticker, error) {
	return f.tickers, nil
}

func (f *fakeAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

func (f *fakeAdapter) CreateOrder(ctx context.Context, symbol string, orderType exchange.OrderType, side exchange.OrderSide, amount, price float64, params exchange.OrderParams) (exchange.Order, error) {
	f.createCalls++
	return exchange.Order{Symbol: symbol, Type: orderType, Side: side, Amount: amount, Status: "FILLED"}, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, id, symbol string) error { return nil }
func (f *fakeAdapter) CancelAllOrders(ctx context.Context, symbol string) error { return nil }

func (f *fakeAdapter) AmountToPrecision(symbol string, amount float64) (string, error) {
	return "", nil
}
func (f *fakeAdapter) PriceToPrecision(symbol string, price float64) (string, error) { return "", nil }

// trendingCandles builds a bar sequence trending strongly in one direction,
// so RSI/ADX clear the pre-filter thresholds.
func trendingCandles(start float64, up bool, n int) []exchange.Bar {
	bars := make([]exchange.Bar, n)
	price := start
	for i := range bars {
		bars[i] = exchange.Bar{
			TimestampMs: int64(i) * 3600000,
			Open:        price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: 1000,
		}
		if up {
			price *= 1.02
		} else {
			price *= 0.98
		}
	}
	return bars
}

type fakeOpener struct {
	opened []string
	err    error
}

func (o *fakeOpener) Open(ctx context.Context, symbol string, rec core.Recommendation, timeframe string, currentPrice float64, reason string) (*core.Position, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.opened = append(o.opened, symbol)
	return &core.Position{Symbol: symbol}, nil
}

type fakeCandidateStore struct {
	replaced []*core.ScannerCandidate
}

func (c *fakeCandidateStore) Replace(candidates []*core.ScannerCandidate) error {
	c.replaced = candidates
	return nil
}

type fakeEvents struct {
	events []*core.Event
}

func (e *fakeEvents) Append(evt *core.Event) error {
	e.events = append(e.events, evt)
	return nil
}

type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) Notify(ctx context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

type listSymbols struct {
	symbols []string
}

func (l listSymbols) ListSymbols(ctx context.Context) ([]string, error) {
	return l.symbols, nil
}

func testSettings() *config.Settings {
	s := config.Defaults()
	s.ProactiveScanEnabled = true
	s.ProactiveScanAutoConfirm = false
	s.ProactiveScanEntryTimeframe = "1h"
	s.ProactiveScanTrendTimeframe = "4h"
	s.ProactiveScanWhitelist = []string{"BTC"}
	s.ProactiveScanBlacklist = []string{"SHIB"}
	s.ProactiveScanUseGainersLosers = false
	s.ProactiveScanUseVolumeSpike = false
	s.ProactiveScanPrefilterEnabled = true
	s.ProactiveScanRSILower = 38
	s.ProactiveScanRSIUpper = 62
	s.ProactiveScanADXThreshold = 10
	s.ProactiveScanUseVolatilityFilter = false
	s.ProactiveScanUseVolumeFilter = false
	s.UseMTAAnalysis = false
	return s
}

func newLLMClient(t *testing.T, content string) *llm.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionResponse(content))
	}))
	t.Cleanup(server.Close)

	client, err := llm.New([]llm.ModelConfig{{Name: "model-a", BaseURL: server.URL, APIKey: "k"}})
	if err != nil {
		t.Fatalf("unexpected error constructing llm client: %v", err)
	}
	return client
}

func completionResponse(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1730366400, "model": "model-a",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return b
}

func TestDiscoverCandidatesUnionsWhitelistAndSubtractsBlacklist(t *testing.T) {
	adapter := &fakeAdapter{price: map[string]float64{}, bars: map[string][]exchange.Bar{}}
	settings := testSettings()
	settings.ProactiveScanWhitelist = []string{"BTC", "SHIB"}

	s := New(adapter, nil, nil, nil, nil, nil, settings)
	candidates, err := s.DiscoverCandidates(context.Background(), *settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Symbol != "BTC/USDT" {
		t.Fatalf("expected only BTC/USDT to survive the blacklist, got %+v", candidates)
	}
}

func TestDiscoverCandidatesFirstSourceWinsOnCollision(t *testing.T) {
	adapter := &fakeAdapter{price: map[string]float64{}, bars: map[string][]exchange.Bar{}}
	settings := testSettings()
	settings.ProactiveScanWhitelist = []string{"BTC"}

	s := New(adapter, nil, nil, nil, nil, nil, settings, WithExternalScreener(listSymbols{symbols: []string{"BTC/USDT"}}))
	candidates, err := s.DiscoverCandidates(context.Background(), *settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Source != sourceWhitelist {
		t.Fatalf("expected whitelist source to win, got %+v", candidates)
	}
}

func TestDiscoverCandidatesUsesExternalAndSocialSources(t *testing.T) {
	adapter := &fakeAdapter{price: map[string]float64{}, bars: map[string][]exchange.Bar{}}
	settings := testSettings()
	settings.ProactiveScanWhitelist = nil

	s := New(adapter, nil, nil, nil, nil, nil, settings,
		WithExternalScreener(listSymbols{symbols: []string{"ETH/USDT"}}),
		WithSocialTrending(listSymbols{symbols: []string{"SOL/USDT"}}),
	)
	candidates, err := s.DiscoverCandidates(context.Background(), *settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", candidates)
	}
}

func TestPreFilterRejectsNeutralRSI(t *testing.T) {
	flat := make([]exchange.Bar, 100)
	for i := range flat {
		flat[i] = exchange.Bar{TimestampMs: int64(i) * 3600000, Open: 100, High: 100.5, Low: 99.5, Close: 100, Volume: 1000}
	}
	adapter := &fakeAdapter{bars: map[string][]exchange.Bar{"BTC/USDT": flat}}
	settings := testSettings()
	s := New(adapter, nil, nil, nil, nil, nil, settings)

	survivors := s.preFilter(context.Background(), []Candidate{{Symbol: "BTC/USDT", Source: sourceWhitelist}}, *settings)
	if len(survivors) != 0 {
		t.Errorf("expected flat/neutral RSI candidate to be filtered out, got %+v", survivors)
	}
}

func TestPreFilterKeepsTrendingCandidate(t *testing.T) {
	adapter := &fakeAdapter{bars: map[string][]exchange.Bar{"BTC/USDT": trendingCandles(100, true, 100)}}
	settings := testSettings()
	s := New(adapter, nil, nil, nil, nil, nil, settings)

	survivors := s.preFilter(context.Background(), []Candidate{{Symbol: "BTC/USDT", Source: sourceWhitelist}}, *settings)
	if len(survivors) != 1 {
		t.Fatalf("expected trending candidate to survive the pre-filter, got %+v", survivors)
	}
}

func TestRunFullScanAutoOpensOnBuySignal(t *testing.T) {
	bars := trendingCandles(100, true, 100)
	adapter := &fakeAdapter{
		price: map[string]float64{"BTC/USDT": 150},
		bars:  map[string][]exchange.Bar{"BTC/USDT": bars},
	}
	settings := testSettings()
	settings.ProactiveScanAutoConfirm = true

	client := newLLMClient(t, `{"symbol":"BTC/USDT","timeframe":"1h","recommendation":"AL","reason":"strong uptrend","analysis_type":"Single","data":{"price":150}}`)
	opener := &fakeOpener{}
	events := &fakeEvents{}
	notifier := &fakeNotifier{}

	s := New(adapter, client, opener, nil, events, notifier, settings)
	result, err := s.RunFullScan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AutoTrades != 1 {
		t.Errorf("auto trades = %d, want 1", result.AutoTrades)
	}
	if len(opener.opened) != 1 || opener.opened[0] != "BTC/USDT" {
		t.Errorf("expected BTC/USDT to be auto-opened, got %+v", opener.opened)
	}
	if len(notifier.messages) != 1 {
		t.Errorf("expected one notification, got %d", len(notifier.messages))
	}
}

func TestRunFullScanRecordsOpportunityWithoutAutoConfirm(t *testing.T) {
	bars := trendingCandles(100, false, 100)
	adapter := &fakeAdapter{
		price: map[string]float64{"BTC/USDT": 50},
		bars:  map[string][]exchange.Bar{"BTC/USDT": bars},
	}
	settings := testSettings()
	settings.ProactiveScanAutoConfirm = false

	client := newLLMClient(t, `{"symbol":"BTC/USDT","timeframe":"1h","recommendation":"SAT","reason":"strong downtrend","analysis_type":"Single","data":{"price":50}}`)
	opener := &fakeOpener{}
	events := &fakeEvents{}
	notifier := &fakeNotifier{}

	s := New(adapter, client, opener, nil, events, notifier, settings)
	result, err := s.RunFullScan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Opportunities != 1 {
		t.Errorf("opportunities = %d, want 1", result.Opportunities)
	}
	if len(opener.opened) != 0 {
		t.Errorf("expected no auto-open, got %+v", opener.opened)
	}
	if len(events.events) != 1 {
		t.Errorf("expected one opportunity event, got %d", len(events.events))
	}
}

func TestRunFullScanRecordsNeutralOnWait(t *testing.T) {
	bars := trendingCandles(100, true, 100)
	adapter := &fakeAdapter{
		price: map[string]float64{"BTC/USDT": 150},
		bars:  map[string][]exchange.Bar{"BTC/USDT": bars},
	}
	settings := testSettings()

	client := newLLMClient(t, `{"symbol":"BTC/USDT","timeframe":"1h","recommendation":"BEKLE","reason":"no edge","analysis_type":"Single","data":{"price":150}}`)
	s := New(adapter, client, &fakeOpener{}, nil, &fakeEvents{}, nil, settings)

	result, err := s.RunFullScan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Analyzed != 1 || result.Opportunities != 0 || result.AutoTrades != 0 {
		t.Errorf("expected one neutral analysis, got %+v", result)
	}
}

func TestRunInteractiveScanPersistsCandidatesWithoutLLMCall(t *testing.T) {
	adapter := &fakeAdapter{
		price: map[string]float64{"BTC/USDT": 100},
		bars:  map[string][]exchange.Bar{"BTC/USDT": trendingCandles(100, true, 100)},
	}
	settings := testSettings()
	store := &fakeCandidateStore{}

	s := New(adapter, nil, nil, store, nil, nil, settings)
	count, err := s.RunInteractiveScan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 || len(store.replaced) != 1 {
		t.Fatalf("expected 1 candidate persisted, got count=%d replaced=%+v", count, store.replaced)
	}
	if store.replaced[0].Symbol != "BTC/USDT" {
		t.Errorf("symbol = %s, want BTC/USDT", store.replaced[0].Symbol)
	}
}
