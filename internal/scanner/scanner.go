// Package scanner implements proactive candidate discovery, pre-filtering,
// and the bounded LLM analysis fan-out (spec.md §4.7), grounded on the
// teacher's decision/strategy_engine.go GetCandidateCoins source-union
// switch and pool/coin_pool.go's retry-and-fallback resilience style.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"sentryfx/internal/config"
	"sentryfx/internal/core"
	"sentryfx/internal/decision"
	"sentryfx/internal/exchange"
	"sentryfx/internal/indicator"
	"sentryfx/internal/llm"
	"sentryfx/internal/logger"
)

// analysisConcurrency is the global cap on simultaneous exchange/LLM calls
// during the analysis fan-out (spec.md §5).
const analysisConcurrency = 10

// Candidate source tags, used to report which DiscoverCandidates source
// first surfaced a symbol.
const (
	sourceWhitelist        = "whitelist"
	sourceGainer           = "gainer"
	sourceLoser            = "loser"
	sourceVolumeSpike      = "volume_spike"
	sourceExternalScreener = "external_screener"
	sourceSocialTrending   = "social_trending"
)

// Outcome tags for a single symbol's analysis result.
const (
	OutcomeAutoTrade   = "auto_trade"
	OutcomeOpportunity = "opportunity"
	OutcomeNeutral     = "neutral"
	OutcomeError       = "error"
)

// Candidate is a discovered symbol plus the source that first surfaced it.
type Candidate struct {
	Symbol string
	Source string
}

// SymbolResult is one candidate's outcome from the analysis fan-out.
type SymbolResult struct {
	Symbol         string
	AnalysisType   string
	Recommendation core.Recommendation
	Reason         string
	Outcome        string
	Err            error
}

// ScanResult summarizes a full proactive scan (spec.md §4.7 "Summary
// return").
type ScanResult struct {
	Scanned       int
	PreFiltered   int
	Analyzed      int
	Opportunities int
	AutoTrades    int
	Errors        int
	Details       []SymbolResult
}

// SymbolLister is the opaque shape of a third-party screener or trending
// feed (spec.md §4.7 steps 4-5): just a flat symbol list, no semantics
// attached.
type SymbolLister interface {
	ListSymbols(ctx context.Context) ([]string, error)
}

// NewsProvider supplies recent headlines for the holistic prompt.
type NewsProvider interface {
	FetchNews(ctx context.Context, symbol string) ([]decision.NewsItem, error)
}

// SentimentProvider supplies an aggregate sentiment score in [-1, 1].
type SentimentProvider interface {
	FetchSentiment(ctx context.Context, symbol string) (float64, error)
}

// Opener is the subset of Trader the scanner auto-opens positions through.
type Opener interface {
	Open(ctx context.Context, symbol string, rec core.Recommendation, timeframe string, currentPrice float64, reason string) (*core.Position, error)
}

// CandidateStore persists the interactive scan's truncate-and-reload table.
type CandidateStore interface {
	Replace(candidates []*core.ScannerCandidate) error
}

// EventStore is the persistence seam for the event log.
type EventStore interface {
	Append(e *core.Event) error
}

// Notifier is the opaque sink for pre-formatted scan messages.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Scanner discovers and analyzes proactive trade candidates.
type Scanner struct {
	adapter    exchange.Adapter
	llmClient  *llm.Client
	trader     Opener
	candidates CandidateStore
	events     EventStore
	notifier   Notifier
	settings   *config.Settings

	news             NewsProvider
	sentiment        SentimentProvider
	externalScreener SymbolLister
	socialTrending   SymbolLister
}

// Option configures optional Scanner dependencies absent from the pack's
// concrete data sources (news/sentiment/third-party screeners).
type Option func(*Scanner)

// WithNewsProvider injects a news source for the holistic prompt.
func WithNewsProvider(p NewsProvider) Option {
	return func(s *Scanner) { s.news = p }
}

// WithSentimentProvider injects a sentiment source for the holistic prompt.
func WithSentimentProvider(p SentimentProvider) Option {
	return func(s *Scanner) { s.sentiment = p }
}

// WithExternalScreener injects a third-party technical screener feed
// (spec.md §4.7 step 4).
func WithExternalScreener(l SymbolLister) Option {
	return func(s *Scanner) { s.externalScreener = l }
}

// WithSocialTrending injects a third-party trending feed (spec.md §4.7
// step 5).
func WithSocialTrending(l SymbolLister) Option {
	return func(s *Scanner) { s.socialTrending = l }
}

// New constructs a Scanner. notifier and candidates may be nil if the
// caller never runs the interactive variant / wants no notifications.
func New(adapter exchange.Adapter, llmClient *llm.Client, trader Opener, candidates CandidateStore, events EventStore, notifier Notifier, settings *config.Settings, opts ...Option) *Scanner {
	s := &Scanner{
		adapter:    adapter,
		llmClient:  llmClient,
		trader:     trader,
		candidates: candidates,
		events:     events,
		notifier:   notifier,
		settings:   settings,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) emit(level core.EventLevel, category, message string) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(&core.Event{
		Timestamp: time.Now(), Level: level, Category: category, Message: message,
	}); err != nil {
		logger.Warnf("scanner: failed to persist event: %v", err)
	}
}

func (s *Scanner) notify(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, message); err != nil {
		logger.Warnf("scanner: notify failed: %v", err)
	}
}

// DiscoverCandidates unions the five candidate sources, deduplicated by
// canonical symbol on a first-source-wins basis, then subtracts the
// blacklist (spec.md §4.7 DiscoverCandidates).
func (s *Scanner) DiscoverCandidates(ctx context.Context, settings config.Settings) ([]Candidate, error) {
	seen := make(map[string]struct{})
	var union []Candidate
	add := func(c Candidate) {
		if _, ok := seen[c.Symbol]; ok {
			return
		}
		seen[c.Symbol] = struct{}{}
		union = append(union, c)
	}

	for _, base := range settings.ProactiveScanWhitelist {
		add(Candidate{Symbol: exchange.Canon(base), Source: sourceWhitelist})
	}

	var tickers []exchange.Ticker
	if settings.ProactiveScanUseGainersLosers || settings.ProactiveScanUseVolumeSpike {
		fetched, err := s.adapter.FetchTickers24h(ctx)
		if err != nil {
			logger.Warnf("scanner: fetching 24h tickers failed, skipping gainers/losers and volume-spike sources: %v", err)
		} else {
			tickers = fetched
		}
	}

	if settings.ProactiveScanUseGainersLosers {
		for _, c := range gainersLosersCandidates(tickers, settings) {
			add(c)
		}
	}

	if settings.ProactiveScanUseVolumeSpike {
		for _, c := range s.volumeSpikeCandidates(ctx, tickers, settings) {
			add(c)
		}
	}

	if s.externalScreener != nil {
		symbols, err := s.externalScreener.ListSymbols(ctx)
		if err != nil {
			logger.Warnf("scanner: external screener failed: %v", err)
		}
		for _, sym := range symbols {
			add(Candidate{Symbol: exchange.Canon(sym), Source: sourceExternalScreener})
		}
	}

	if s.socialTrending != nil {
		symbols, err := s.socialTrending.ListSymbols(ctx)
		if err != nil {
			logger.Warnf("scanner: social trending failed: %v", err)
		}
		for _, sym := range symbols {
			add(Candidate{Symbol: exchange.Canon(sym), Source: sourceSocialTrending})
		}
	}

	blacklist := make(map[string]struct{}, len(settings.ProactiveScanBlacklist))
	for _, base := range settings.ProactiveScanBlacklist {
		blacklist[strings.ToUpper(strings.TrimSpace(base))] = struct{}{}
	}

	out := union[:0]
	for _, c := range union {
		if _, blocked := blacklist[baseSymbol(c.Symbol)]; blocked {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func baseSymbol(canon string) string {
	base, _, _ := strings.Cut(canon, "/")
	return base
}

// gainersLosersCandidates picks the top-N and bottom-N tickers by
// priceChangePercent among tickers above the volume floor (spec.md §4.7
// step 2).
func gainersLosersCandidates(tickers []exchange.Ticker, settings config.Settings) []Candidate {
	eligible := make([]exchange.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if t.QuoteVolume > settings.ProactiveScanMinVolumeUSDT {
			eligible = append(eligible, t)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].PriceChangePercent > eligible[j].PriceChangePercent
	})

	n := settings.ProactiveScanTopN
	var out []Candidate
	for i := 0; i < n && i < len(eligible); i++ {
		out = append(out, Candidate{Symbol: exchange.Canon(eligible[i].Symbol), Source: sourceGainer})
	}
	for i := 0; i < n && i < len(eligible); i++ {
		loser := eligible[len(eligible)-1-i]
		out = append(out, Candidate{Symbol: exchange.Canon(loser.Symbol), Source: sourceLoser})
	}
	return out
}

// volumeSpikeCandidates flags tickers whose latest bar volume exceeds the
// prior period's average by the configured multiplier (spec.md §4.7 step
// 3).
func (s *Scanner) volumeSpikeCandidates(ctx context.Context, tickers []exchange.Ticker, settings config.Settings) []Candidate {
	var out []Candidate
	for _, t := range tickers {
		if t.QuoteVolume <= settings.ProactiveScanMinVolumeUSDT {
			continue
		}
		symbol := exchange.Canon(t.Symbol)
		bars, err := s.adapter.FetchOHLCV(ctx, symbol, settings.ProactiveScanVolumeTimeframe, settings.ProactiveScanVolumePeriod+1)
		if err != nil || len(bars) < settings.ProactiveScanVolumePeriod+1 {
			continue
		}
		previous := bars[:settings.ProactiveScanVolumePeriod]
		last := bars[len(bars)-1]
		avg := averageVolume(previous)
		if avg > 0 && last.Volume > avg*settings.ProactiveScanVolumeMultiplier {
			out = append(out, Candidate{Symbol: symbol, Source: sourceVolumeSpike})
		}
	}
	return out
}

func averageVolume(bars []exchange.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range bars {
		sum += b.Volume
	}
	return sum / float64(len(bars))
}

// preFilter keeps only candidates whose entry-timeframe indicators show a
// non-neutral RSI with a trending ADX, plus optional volatility/volume
// confirmation (spec.md §4.7 Pre-filter).
func (s *Scanner) preFilter(ctx context.Context, candidates []Candidate, settings config.Settings) []Candidate {
	var survivors []Candidate
	for _, c := range candidates {
		bars, err := s.adapter.FetchOHLCV(ctx, c.Symbol, settings.ProactiveScanEntryTimeframe, 100)
		if err != nil {
			logger.Warnf("scanner: prefilter fetching bars failed for %s: %v", c.Symbol, err)
			continue
		}
		clean := indicator.Clean(toIndicatorBars(bars))

		rsi, err := indicator.RSI(clean, 14)
		if err != nil {
			continue
		}
		adx, err := indicator.ADX(clean, 14)
		if err != nil {
			continue
		}
		if !(rsi < settings.ProactiveScanRSILower || rsi > settings.ProactiveScanRSIUpper) {
			continue
		}
		if adx <= settings.ProactiveScanADXThreshold {
			continue
		}

		if settings.ProactiveScanUseVolatilityFilter {
			atrPercent, err := indicator.ATRPercent(clean, settings.ProactiveScanATRPeriod)
			if err != nil || atrPercent < settings.ProactiveScanATRThresholdPercent {
				continue
			}
		}

		if settings.ProactiveScanUseVolumeFilter {
			volEMA := volumeEMA(clean, settings.ProactiveScanVolumeAvgPeriod)
			if volEMA <= 0 || clean[len(clean)-1].Volume < volEMA*settings.ProactiveScanVolumeConfirmMultiplier {
				continue
			}
		}

		survivors = append(survivors, c)
	}
	return survivors
}

// volumeEMA computes the exponential moving average of bar volumes,
// seeded with an SMA of the first `period` values, mirroring
// indicator.EMA's algorithm over volume instead of close price.
func volumeEMA(bars []indicator.Bar, period int) float64 {
	if len(bars) < period {
		return 0
	}
	seed := 0.0
	for _, b := range bars[:period] {
		seed += b.Volume
	}
	ema := seed / float64(period)
	k := 2.0 / (float64(period) + 1.0)
	for _, b := range bars[period:] {
		ema = b.Volume*k + ema*(1-k)
	}
	return ema
}

// RunFullScan discovers, pre-filters, and analyzes candidates, opening or
// recording opportunities per the auto-confirm setting (spec.md §4.7
// Analysis fan-out). Callers decide whether to invoke this based on
// PROACTIVE_SCAN_ENABLED (spec.md §4.8's scanner_job gate).
func (s *Scanner) RunFullScan(ctx context.Context) (*ScanResult, error) {
	settings := s.settings.Snapshot()

	candidates, err := s.DiscoverCandidates(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("discovering candidates: %w", err)
	}
	result := &ScanResult{Scanned: len(candidates)}

	survivors := candidates
	if settings.ProactiveScanPrefilterEnabled {
		survivors = s.preFilter(ctx, candidates, settings)
	}
	result.PreFiltered = len(survivors)

	sem := semaphore.NewWeighted(analysisConcurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range survivors {
		c := c
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			detail := s.analyze(ctx, c, settings)

			mu.Lock()
			defer mu.Unlock()
			result.Details = append(result.Details, detail)
			result.Analyzed++
			switch detail.Outcome {
			case OutcomeAutoTrade:
				result.AutoTrades++
			case OutcomeOpportunity:
				result.Opportunities++
			case OutcomeError:
				result.Errors++
			}
		}()
	}
	wg.Wait()

	return result, nil
}

// analyze runs the per-candidate fan-out body: fetch data, build the
// appropriate prompt, call the LLM, and act on the recommendation
// (spec.md §4.7 Analysis fan-out steps 1-4).
func (s *Scanner) analyze(ctx context.Context, c Candidate, settings config.Settings) SymbolResult {
	result := SymbolResult{Symbol: c.Symbol}

	price, err := s.adapter.FetchPrice(ctx, c.Symbol)
	if err != nil {
		result.Outcome = OutcomeError
		result.Err = fmt.Errorf("fetching price: %w", err)
		return result
	}

	entryBars, err := s.adapter.FetchOHLCV(ctx, c.Symbol, settings.ProactiveScanEntryTimeframe, 100)
	if err != nil {
		result.Outcome = OutcomeError
		result.Err = fmt.Errorf("fetching entry-timeframe bars: %w", err)
		return result
	}
	entryIndicators := snapshotIndicators(entryBars, price)

	var news []decision.NewsItem
	if s.news != nil {
		if n, err := s.news.FetchNews(ctx, c.Symbol); err != nil {
			logger.Warnf("scanner: fetching news failed for %s: %v", c.Symbol, err)
		} else {
			news = n
		}
	}
	sentimentScore, haveSentiment := 0.0, false
	if s.sentiment != nil {
		if score, err := s.sentiment.FetchSentiment(ctx, c.Symbol); err != nil {
			logger.Warnf("scanner: fetching sentiment failed for %s: %v", c.Symbol, err)
		} else {
			sentimentScore, haveSentiment = score, true
		}
	}

	var prompt string
	switch {
	case len(news) > 0 || haveSentiment:
		prompt = decision.BuildHolisticPrompt(c.Symbol, settings.ProactiveScanEntryTimeframe, entryIndicators, news, sentimentScore)
	case settings.UseMTAAnalysis && settings.ProactiveScanEntryTimeframe != settings.ProactiveScanTrendTimeframe:
		trendBars, err := s.adapter.FetchOHLCV(ctx, c.Symbol, settings.ProactiveScanTrendTimeframe, 100)
		if err != nil {
			result.Outcome = OutcomeError
			result.Err = fmt.Errorf("fetching trend-timeframe bars: %w", err)
			return result
		}
		trendIndicators := snapshotIndicators(trendBars, price)
		prompt = decision.BuildMTAPrompt(c.Symbol,
			decision.TimeframeSnapshot{Timeframe: settings.ProactiveScanEntryTimeframe, Indicators: entryIndicators},
			decision.TimeframeSnapshot{Timeframe: settings.ProactiveScanTrendTimeframe, Indicators: trendIndicators},
		)
	default:
		prompt = decision.BuildSinglePrompt(c.Symbol, settings.ProactiveScanEntryTimeframe, entryIndicators)
	}

	response, err := s.llmClient.Invoke(ctx, prompt)
	if err != nil {
		result.Outcome = OutcomeError
		result.Err = fmt.Errorf("invoking LLM: %w", err)
		return result
	}
	parsed, err := decision.ParseAnalysisResponse(response.Content)
	if err != nil {
		result.Outcome = OutcomeError
		result.Err = fmt.Errorf("parsing analysis response: %w", err)
		return result
	}
	result.Recommendation = parsed.Recommendation
	result.Reason = parsed.Reason
	result.AnalysisType = parsed.AnalysisType

	if !parsed.Recommendation.IsOpenSignal() {
		result.Outcome = OutcomeNeutral
		return result
	}

	if settings.ProactiveScanAutoConfirm {
		if _, err := s.trader.Open(ctx, c.Symbol, parsed.Recommendation, settings.ProactiveScanEntryTimeframe, price, parsed.Reason); err != nil {
			result.Outcome = OutcomeError
			result.Err = fmt.Errorf("auto-opening position: %w", err)
			return result
		}
		result.Outcome = OutcomeAutoTrade
		s.notify(ctx, fmt.Sprintf("auto-trade opened on %s (%s): %s", c.Symbol, parsed.Recommendation, parsed.Reason))
		return result
	}

	result.Outcome = OutcomeOpportunity
	s.emit(core.EventInfo, "Opportunity", fmt.Sprintf("%s: %s recommended (%s) - %s", c.Symbol, parsed.Recommendation, parsed.AnalysisType, parsed.Reason))
	s.notify(ctx, fmt.Sprintf("opportunity on %s: %s - %s", c.Symbol, parsed.Recommendation, parsed.Reason))
	return result
}

// RunInteractiveScan discovers candidates and persists them with a current
// indicator snapshot, with no pre-filter and no LLM call (spec.md §4.7
// Interactive variant).
func (s *Scanner) RunInteractiveScan(ctx context.Context) (int, error) {
	settings := s.settings.Snapshot()

	candidates, err := s.DiscoverCandidates(ctx, settings)
	if err != nil {
		return 0, fmt.Errorf("discovering candidates: %w", err)
	}

	now := time.Now()
	rows := make([]*core.ScannerCandidate, 0, len(candidates))
	for _, c := range candidates {
		price, err := s.adapter.FetchPrice(ctx, c.Symbol)
		if err != nil {
			logger.Warnf("scanner: interactive scan price failed for %s: %v", c.Symbol, err)
			continue
		}
		bars, err := s.adapter.FetchOHLCV(ctx, c.Symbol, settings.ProactiveScanEntryTimeframe, 100)
		if err != nil {
			logger.Warnf("scanner: interactive scan bars failed for %s: %v", c.Symbol, err)
			continue
		}
		ind := snapshotIndicators(bars, price)

		rows = append(rows, &core.ScannerCandidate{
			Symbol:    c.Symbol,
			Source:    c.Source,
			Timeframe: settings.ProactiveScanEntryTimeframe,
			Indicators: map[string]float64{
				"price": ind.Price, "rsi": ind.RSI, "adx": ind.ADX, "atr_percent": ind.ATRPercent,
			},
			LastUpdated: now,
		})
	}

	if err := s.candidates.Replace(rows); err != nil {
		return 0, fmt.Errorf("persisting scanner candidates: %w", err)
	}
	return len(rows), nil
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

// snapshotIndicators computes the indicator set fed into an analysis
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
