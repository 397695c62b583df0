package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"sentryfx/internal/config"
	"sentryfx/internal/core"
	"sentryfx/internal/exchange"
	"sentryfx/internal/llm"
)

type fakeAdapter struct {
	price            float64
	bars             []exchange.Bar
	exchangePositions []exchange.ExchangePosition
	openOrders       map[string][]exchange.Order
	cancelledOrders  []string
	createCalls      []exchange.OrderType
}

func (f *fakeAdapter) LoadMarkets(ctx context.Context) error { return nil }
func (f *fakeAdapter) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, nil
}
func (f *fakeAdapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Bar, error) {
	return f.bars, nil
}
func (f *fakeAdapter) FetchBalance(ctx context.Context, quote string) (float64, error) { return 0, nil }
func (f *fakeAdapter) FetchOpenPositions(ctx context.Context) ([]exchange.ExchangePosition, error) {
	return f.exchangePositions, nil
}
func (f *fakeAdapter) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	return f.openOrders[symbol], nil
}
func (f *fakeAdapter) FetchTickers24h(ctx context.Context) ([]exchange.Ticker, error) { return nil, nil }
func (f *fakeAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (f *fakeAdapter) CreateOrder(ctx context.Context, symbol string, orderType exchange.OrderType, side exchange.OrderSide, amount, price float64, params exchange.OrderParams) (exchange.Order, error) {
	f.createCalls = append(f.createCalls, orderType)
	return exchange.Order{Symbol: symbol, Type: orderType, Side: side, Amount: amount, Status: "FILLED"}, nil
}
func (f *fakeAdapter) CancelOrder(ctx context.Context, id, symbol string) error {
	f.cancelledOrders = append(f.cancelledOrders, id)
	return nil
}
func (f *fakeAdapter) CancelAllOrders(ctx context.Context, symbol string) error { return nil }
func (f *fakeAdapter) AmountToPrecision(symbol string, amount float64) (string, error) {
	return fmt.Sprintf("%.8f", amount), nil
}
func (f *fakeAdapter) PriceToPrecision(symbol string, price float64) (string, error) {
	return fmt.Sprintf("%.8f", price), nil
}

func makeFlatBars(price float64, n int) []exchange.Bar {
	bars := make([]exchange.Bar, n)
	p := price
	for i := range bars {
		bars[i] = exchange.Bar{TimestampMs: int64(i) * 60000, Open: p, High: p * 1.01, Low: p * 0.99, Close: p, Volume: 10}
		p += 1
	}
	return bars
}

type fakePositions struct {
	positions map[string]*core.Position
}

func newFakePositions(positions ...*core.Position) *fakePositions {
	p := &fakePositions{positions: make(map[string]*core.Position)}
	for _, pos := range positions {
		p.positions[pos.Symbol] = pos
	}
	return p
}

func (p *fakePositions) Get(symbol string) (*core.Position, error) { return p.positions[symbol], nil }
func (p *fakePositions) Upsert(pos *core.Position) error {
	p.positions[pos.Symbol] = pos
	return nil
}
func (p *fakePositions) Delete(symbol string) error {
	delete(p.positions, symbol)
	return nil
}
func (p *fakePositions) All() ([]*core.Position, error) {
	out := make([]*core.Position, 0, len(p.positions))
	for _, v := range p.positions {
		out = append(out, v)
	}
	return out, nil
}

type fakeCloser struct {
	closedSymbols []string
	closedReasons []string
}

func (f *fakeCloser) Close(ctx context.Context, symbol, reason string) error {
	f.closedSymbols = append(f.closedSymbols, symbol)
	f.closedReasons = append(f.closedReasons, reason)
	return nil
}

type fakeEvents struct {
	events []*core.Event
}

func (f *fakeEvents) Append(e *core.Event) error {
	f.events = append(f.events, e)
	return nil
}

func testSettings() *config.Settings {
	s := config.Defaults()
	s.ATRMultiplierSL = 1.5
	s.RiskRewardRatioTP = 2
	s.UseBailoutExit = true
	s.BailoutArmLossPercent = -2.0
	s.BailoutRecoveryPercent = 1.0
	s.UseAIBailoutConfirmation = false
	s.UsePartialTP = true
	s.PartialTPTargetRR = 1.0
	s.PartialTPClosePercent = 50
	s.UseTrailingStopLoss = true
	s.TrailingStopActivationPercent = 1.5
	return s
}

func TestReconcileRemovesGhostPosition(t *testing.T) {
	adapter := &fakeAdapter{exchangePositions: nil}
	positions := newFakePositions(&core.Position{Symbol: "BTC/USDT"})
	events := &fakeEvents{}
	mgr := New(adapter, positions, &fakeCloser{}, nil, events, nil, testSettings())

	if err := mgr.Reconcile(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored, _ := positions.Get("BTC/USDT"); stored != nil {
		t.Error("expected ghost position to be removed")
	}
	if len(events.events) != 1 || events.events[0].Level != core.EventCritical {
		t.Errorf("expected one CRITICAL event, got %+v", events.events)
	}
}

func TestReconcileImportsUnmanagedPosition(t *testing.T) {
	adapter := &fakeAdapter{
		bars: makeFlatBars(100, 30),
		exchangePositions: []exchange.ExchangePosition{
			{Symbol: "ETH/USDT", Side: "long", Contracts: 5, EntryPrice: 3000, Leverage: 10},
		},
	}
	positions := newFakePositions()
	mgr := New(adapter, positions, &fakeCloser{}, nil, &fakeEvents{}, nil, testSettings())

	if err := mgr.Reconcile(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := positions.Get("ETH/USDT")
	if stored == nil {
		t.Fatal("expected unmanaged position to be imported")
	}
	if stored.Side != core.SideBuy {
		t.Errorf("side = %v, want buy", stored.Side)
	}
	if stored.StopLoss >= stored.EntryPrice {
		t.Errorf("reconstructed stop loss %v should be below entry %v", stored.StopLoss, stored.EntryPrice)
	}
}

func TestTickClosesOnHardStopLoss(t *testing.T) {
	adapter := &fakeAdapter{price: 95}
	positions := newFakePositions(&core.Position{
		Symbol: "BTC/USDT", Side: core.SideBuy, EntryPrice: 100, Amount: 1, InitialAmount: 1,
		StopLoss: 96, TakeProfit: 110, Leverage: 10, InitialStopLoss: 96,
	})
	closer := &fakeCloser{}
	mgr := New(adapter, positions, closer, nil, &fakeEvents{}, nil, testSettings())

	if err := mgr.Tick(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closer.closedSymbols) != 1 || closer.closedReasons[0] != "SL" {
		t.Errorf("expected a single SL close, got %+v / %+v", closer.closedSymbols, closer.closedReasons)
	}
}

func TestTickClosesOnHardTakeProfit(t *testing.T) {
	adapter := &fakeAdapter{price: 111}
	positions := newFakePositions(&core.Position{
		Symbol: "BTC/USDT", Side: core.SideBuy, EntryPrice: 100, Amount: 1, InitialAmount: 1,
		StopLoss: 96, TakeProfit: 110, Leverage: 10, InitialStopLoss: 96,
	})
	closer := &fakeCloser{}
	mgr := New(adapter, positions, closer, nil, &fakeEvents{}, nil, testSettings())

	if err := mgr.Tick(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closer.closedSymbols) != 1 || closer.closedReasons[0] != "TP" {
		t.Errorf("expected a single TP close, got %+v / %+v", closer.closedSymbols, closer.closedReasons)
	}
}

func TestTickArmsBailoutAtLossThreshold(t *testing.T) {
	adapter := &fakeAdapter{price: 97.4}
	positions := newFakePositions(&core.Position{
		Symbol: "BTC/USDT", Side: core.SideBuy, EntryPrice: 100, Amount: 1, InitialAmount: 1,
		StopLoss: 90, TakeProfit: 120, Leverage: 1, InitialStopLoss: 90,
	})
	mgr := New(adapter, positions, &fakeCloser{}, nil, &fakeEvents{}, nil, testSettings())

	if err := mgr.Tick(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := positions.Get("BTC/USDT")
	if !stored.BailoutArmed {
		t.Error("expected bailout to arm once pnl% crosses BAILOUT_ARM_LOSS_PERCENT")
	}
	if stored.ExtremumPrice != 97.4 {
		t.Errorf("extremum price = %v, want 97.4", stored.ExtremumPrice)
	}
}

func TestTickBailoutClosesAfterRecoveryWithoutAI(t *testing.T) {
	adapter := &fakeAdapter{price: 96.96}
	positions := newFakePositions(&core.Position{
		Symbol: "BTC/USDT", Side: core.SideBuy, EntryPrice: 100, Amount: 1, InitialAmount: 1,
		StopLoss: 90, TakeProfit: 120, Leverage: 1, InitialStopLoss: 90,
		BailoutArmed: true, ExtremumPrice: 96,
	})
	closer := &fakeCloser{}
	mgr := New(adapter, positions, closer, nil, &fakeEvents{}, nil, testSettings())

	if err := mgr.Tick(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closer.closedSymbols) != 1 || closer.closedReasons[0] != "BAILOUT_EXIT" {
		t.Errorf("expected a single BAILOUT_EXIT close, got %+v / %+v", closer.closedSymbols, closer.closedReasons)
	}
}

func TestTickBailoutAIConfirmationClosesOnKapat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionResponse(`{"recommendation":"KAPAT","reason":"no bounce strength"}`))
	}))
	defer server.Close()

	client, err := llm.New([]llm.ModelConfig{{Name: "model-a", BaseURL: server.URL, APIKey: "k"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	adapter := &fakeAdapter{price: 96.96, bars: makeFlatBars(96, 30)}
	positions := newFakePositions(&core.Position{
		Symbol: "BTC/USDT", Side: core.SideBuy, EntryPrice: 100, Amount: 1, InitialAmount: 1,
		StopLoss: 90, TakeProfit: 120, Leverage: 1, InitialStopLoss: 90,
		BailoutArmed: true, ExtremumPrice: 96, Timeframe: "15m",
	})
	closer := &fakeCloser{}
	settings := testSettings()
	settings.UseAIBailoutConfirmation = true
	mgr := New(adapter, positions, closer, client, &fakeEvents{}, nil, settings)

	if err := mgr.Tick(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closer.closedSymbols) != 1 || closer.closedReasons[0] != "AI_BAILOUT_EXIT" {
		t.Errorf("expected a single AI_BAILOUT_EXIT close, got %+v / %+v", closer.closedSymbols, closer.closedReasons)
	}
}

func completionResponse(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1730366400, "model": "model-a",
		"choices": []map[string]any{
			{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": content}},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return b
}

func TestTickPartialTPClosesHalfAndMovesStopToBreakeven(t *testing.T) {
	adapter := &fakeAdapter{price: 104}
	positions := newFakePositions(&core.Position{
		Symbol: "BTC/USDT", Side: core.SideBuy, EntryPrice: 100, Amount: 25, InitialAmount: 25,
		StopLoss: 96, TakeProfit: 120, Leverage: 1, InitialStopLoss: 96,
	})
	mgr := New(adapter, positions, &fakeCloser{}, nil, &fakeEvents{}, nil, testSettings())

	if err := mgr.Tick(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := positions.Get("BTC/USDT")
	if !stored.PartialTPExecuted {
		t.Error("expected partial_tp_executed to be set")
	}
	if stored.Amount != 12.5 {
		t.Errorf("remaining amount = %v, want 12.5", stored.Amount)
	}
	if stored.StopLoss != 100 {
		t.Errorf("stop loss after partial TP = %v, want breakeven 100", stored.StopLoss)
	}
}

func TestTickTrailingStopMovesWhenFavorable(t *testing.T) {
	adapter := &fakeAdapter{price: 101.6}
	positions := newFakePositions(&core.Position{
		Symbol: "BTC/USDT", Side: core.SideBuy, EntryPrice: 100, Amount: 25, InitialAmount: 25,
		StopLoss: 96, TakeProfit: 120, Leverage: 1, InitialStopLoss: 96, PartialTPExecuted: true,
	})
	mgr := New(adapter, positions, &fakeCloser{}, nil, &fakeEvents{}, nil, testSettings())

	if err := mgr.Tick(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := positions.Get("BTC/USDT")
	if stored.StopLoss != 97.6 {
		t.Errorf("stop loss = %v, want 97.6", stored.StopLoss)
	}
}

func TestTickTrailingStopDoesNotMoveAtExactActivation(t *testing.T) {
	adapter := &fakeAdapter{price: 101.5}
	positions := newFakePositions(&core.Position{
		Symbol: "BTC/USDT", Side: core.SideBuy, EntryPrice: 100, Amount: 25, InitialAmount: 25,
		StopLoss: 96, TakeProfit: 120, Leverage: 1, InitialStopLoss: 96, PartialTPExecuted: true,
	})
	mgr := New(adapter, positions, &fakeCloser{}, nil, &fakeEvents{}, nil, testSettings())

	if err := mgr.Tick(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := positions.Get("BTC/USDT")
	if stored.StopLoss != 96 {
		t.Errorf("stop loss should stay at 96 when profit%% equals activation exactly, got %v", stored.StopLoss)
	}
}

func TestSweepOrphanOrdersCancelsOrdersWithoutPosition(t *testing.T) {
	adapter := &fakeAdapter{
		exchangePositions: nil,
		openOrders: map[string][]exchange.Order{
			"BTC/USDT": {{ID: "order-1", Symbol: "BTC/USDT"}},
		},
	}
	positions := newFakePositions(&core.Position{Symbol: "BTC/USDT"})
	mgr := New(adapter, positions, &fakeCloser{}, nil, &fakeEvents{}, nil, testSettings())

	if err := mgr.SweepOrphanOrders(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(adapter.cancelledOrders) != 1 || adapter.cancelledOrders[0] != "order-1" {
		t.Errorf("expected order-1 to be cancelled, got %+v", adapter.cancelledOrders)
	}
}
