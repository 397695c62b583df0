// Package config holds the mutable, reloadable Settings map (spec.md §3,
// §6) and the process-wide Core value's configuration surface. It mirrors
// the teacher's config.Database / GetSystemConfig / SetSystemConfig
// pattern, backed here by internal/store's system_config table through the
// KVStore interface instead of a bespoke settings table.
package config

import (
	"encoding/json"
	"strconv"
	"sync"
)

// Settings is the process-wide, reloadable configuration snapshot
// (spec.md §9's "global mutable state" redesign: a typed struct behind a
// read-write lock, not a raw map[string]interface{}).
type Settings struct {
	mu sync.RWMutex

	// Trading.
	LiveTrading         bool
	VirtualBalance      float64
	DefaultOrderType    string // LIMIT | MARKET
	DefaultMarketType   string // future | spot
	Leverage            int
	MaxConcurrentTrades int
	ExchangeID          string // binance | hyperliquid [AMBIENT]

	// Risk.
	RiskPerTradePercent         float64
	UseDynamicRisk              bool
	DynamicRiskATRPeriod        int
	DynamicRiskBaseRisk         float64
	DynamicRiskLowVolThreshold  float64
	DynamicRiskLowVolMultiplier float64
	DynamicRiskHighVolThreshold float64
	DynamicRiskHighVolMultiplier float64

	// SL/TP.
	UseATRForSLTP      bool
	ATRMultiplierSL    float64
	RiskRewardRatioTP  float64

	// Advanced exits.
	UseTrailingStopLoss           bool
	TrailingStopActivationPercent float64
	UsePartialTP                  bool
	PartialTPTargetRR             float64
	PartialTPClosePercent         float64
	UseBailoutExit                bool
	BailoutArmLossPercent         float64
	BailoutRecoveryPercent        float64
	UseAIBailoutConfirmation      bool

	// MTA.
	UseMTAAnalysis    bool
	MTATrendTimeframe string

	// Scheduler.
	PositionCheckIntervalSeconds      int
	OrphanOrderCheckIntervalSeconds   int
	PositionSyncIntervalSeconds       int

	// Scanner.
	ProactiveScanEnabled           bool
	ProactiveScanIntervalSeconds   int
	ProactiveScanAutoConfirm       bool
	ProactiveScanEntryTimeframe    string
	ProactiveScanTrendTimeframe    string
	ProactiveScanMinVolumeUSDT     float64
	ProactiveScanTopN              int
	ProactiveScanUseGainersLosers  bool
	ProactiveScanUseVolumeSpike    bool
	ProactiveScanVolumeTimeframe   string
	ProactiveScanVolumeMultiplier  float64
	ProactiveScanVolumePeriod      int
	ProactiveScanWhitelist         []string
	ProactiveScanBlacklist         []string

	// Pre-filter.
	ProactiveScanPrefilterEnabled        bool
	ProactiveScanRSILower                float64
	ProactiveScanRSIUpper                float64
	ProactiveScanADXThreshold            float64
	ProactiveScanUseVolatilityFilter     bool
	ProactiveScanATRPeriod               int
	ProactiveScanATRThresholdPercent     float64
	ProactiveScanUseVolumeFilter         bool
	ProactiveScanVolumeAvgPeriod         int
	ProactiveScanVolumeConfirmMultiplier float64

	// LLM.
	GeminiModel               string
	GeminiModelFallbackOrder  []string

	// Notifications.
	TelegramEnabled bool

	// Ambient.
	LogLevel string
}

// Defaults returns a Settings populated with spec.md §6's defaults.
func Defaults() *Settings {
	return &Settings{
		LiveTrading:         false,
		VirtualBalance:      10000,
		DefaultOrderType:    "LIMIT",
		DefaultMarketType:   "future",
		Leverage:            10,
		MaxConcurrentTrades: 5,
		ExchangeID:          "binance",

		RiskPerTradePercent:          5,
		UseDynamicRisk:               true,
		DynamicRiskATRPeriod:         14,
		DynamicRiskBaseRisk:          1.5,
		DynamicRiskLowVolThreshold:   1.5,
		DynamicRiskLowVolMultiplier:  1.5,
		DynamicRiskHighVolThreshold:  4.0,
		DynamicRiskHighVolMultiplier: 0.75,

		UseATRForSLTP:     true,
		ATRMultiplierSL:   2.0,
		RiskRewardRatioTP: 2.0,

		UseTrailingStopLoss:           true,
		TrailingStopActivationPercent: 1.5,
		UsePartialTP:                  true,
		PartialTPTargetRR:             1.0,
		PartialTPClosePercent:         50,
		UseBailoutExit:                true,
		BailoutArmLossPercent:         -2.0,
		BailoutRecoveryPercent:        1.0,
		UseAIBailoutConfirmation:      true,

		UseMTAAnalysis:    true,
		MTATrendTimeframe: "4h",

		PositionCheckIntervalSeconds:    60,
		OrphanOrderCheckIntervalSeconds: 300,
		PositionSyncIntervalSeconds:     300,

		ProactiveScanEnabled:          false,
		ProactiveScanIntervalSeconds:  900,
		ProactiveScanAutoConfirm:      false,
		ProactiveScanEntryTimeframe:   "15m",
		ProactiveScanTrendTimeframe:   "4h",
		ProactiveScanMinVolumeUSDT:    750000,
		ProactiveScanTopN:             10,
		ProactiveScanUseGainersLosers: true,
		ProactiveScanUseVolumeSpike:   true,
		ProactiveScanVolumeTimeframe:  "1h",
		ProactiveScanVolumeMultiplier: 5.0,
		ProactiveScanVolumePeriod:     24,
		ProactiveScanWhitelist:        []string{"BTC", "ETH", "SOL"},
		ProactiveScanBlacklist:        []string{"SHIB", "PEPE"},

		ProactiveScanPrefilterEnabled:        true,
		ProactiveScanRSILower:                38,
		ProactiveScanRSIUpper:                62,
		ProactiveScanADXThreshold:            18,
		ProactiveScanUseVolatilityFilter:     true,
		ProactiveScanATRPeriod:               14,
		ProactiveScanATRThresholdPercent:     0.4,
		ProactiveScanUseVolumeFilter:         true,
		ProactiveScanVolumeAvgPeriod:         20,
		ProactiveScanVolumeConfirmMultiplier: 1.2,

		GeminiModel:              "gemini-1.5-flash",
		GeminiModelFallbackOrder: []string{},

		TelegramEnabled: true,
		LogLevel:        "info",
	}
}

// Snapshot returns a value copy of the Settings safe to read without
// holding the lock further — callers (scheduler jobs) take one of these at
// the start of each run, per spec.md §5/§7.
func (s *Settings) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s
	cp.mu = sync.RWMutex{}
	return cp
}

// kv is one row of the field<->store-key<->typed-accessor table (table())
// used by Load and Save. Keeping it centralized avoids a 60-case switch drifting out of
// sync between the two directions.
type kv struct {
	key string
	get func(*Settings) string
	set func(*Settings, string)
}

func boolKV(key string, get func(*Settings) bool, set func(*Settings, bool)) kv {
	return kv{
		key: key,
		get: func(s *Settings) string { return strconv.FormatBool(get(s)) },
		set: func(s *Settings, v string) { set(s, v == "true") },
	}
}

func intKV(key string, get func(*Settings) int, set func(*Settings, int)) kv {
	return kv{
		key: key,
		get: func(s *Settings) string { return strconv.Itoa(get(s)) },
		set: func(s *Settings, v string) {
			if n, err := strconv.Atoi(v); err == nil {
				set(s, n)
			}
		},
	}
}

func floatKV(key string, get func(*Settings) float64, set func(*Settings, float64)) kv {
	return kv{
		key: key,
		get: func(s *Settings) string { return strconv.FormatFloat(get(s), 'f', -1, 64) },
		set: func(s *Settings, v string) {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				set(s, f)
			}
		},
	}
}

func stringKV(key string, get func(*Settings) string, set func(*Settings, string)) kv {
	return kv{key: key, get: get, set: set}
}

func listKV(key string, get func(*Settings) []string, set func(*Settings, []string)) kv {
	return kv{
		key: key,
		get: func(s *Settings) string {
			b, _ := json.Marshal(get(s))
			return string(b)
		},
		set: func(s *Settings, v string) {
			var list []string
			if err := json.Unmarshal([]byte(v), &list); err == nil {
				set(s, list)
			}
		},
	}
}

func table() []kv {
	return []kv{
		boolKV("LIVE_TRADING", func(s *Settings) bool { return s.LiveTrading }, func(s *Settings, v bool) { s.LiveTrading = v }),
		floatKV("VIRTUAL_BALANCE", func(s *Settings) float64 { return s.VirtualBalance }, func(s *Settings, v float64) { s.VirtualBalance = v }),
		stringKV("DEFAULT_ORDER_TYPE", func(s *Settings) string { return s.DefaultOrderType }, func(s *Settings, v string) { s.DefaultOrderType = v }),
		stringKV("DEFAULT_MARKET_TYPE", func(s *Settings) string { return s.DefaultMarketType }, func(s *Settings, v string) { s.DefaultMarketType = v }),
		intKV("LEVERAGE", func(s *Settings) int { return s.Leverage }, func(s *Settings, v int) { s.Leverage = v }),
		intKV("MAX_CONCURRENT_TRADES", func(s *Settings) int { return s.MaxConcurrentTrades }, func(s *Settings, v int) { s.MaxConcurrentTrades = v }),
		stringKV("EXCHANGE_ID", func(s *Settings) string { return s.ExchangeID }, func(s *Settings, v string) { s.ExchangeID = v }),

		floatKV("RISK_PER_TRADE_PERCENT", func(s *Settings) float64 { return s.RiskPerTradePercent }, func(s *Settings, v float64) { s.RiskPerTradePercent = v }),
		boolKV("USE_DYNAMIC_RISK", func(s *Settings) bool { return s.UseDynamicRisk }, func(s *Settings, v bool) { s.UseDynamicRisk = v }),
		intKV("DYNAMIC_RISK_ATR_PERIOD", func(s *Settings) int { return s.DynamicRiskATRPeriod }, func(s *Settings, v int) { s.DynamicRiskATRPeriod = v }),
		floatKV("DYNAMIC_RISK_BASE_RISK", func(s *Settings) float64 { return s.DynamicRiskBaseRisk }, func(s *Settings, v float64) { s.DynamicRiskBaseRisk = v }),
		floatKV("DYNAMIC_RISK_LOW_VOL_THRESHOLD", func(s *Settings) float64 { return s.DynamicRiskLowVolThreshold }, func(s *Settings, v float64) { s.DynamicRiskLowVolThreshold = v }),
		floatKV("DYNAMIC_RISK_LOW_VOL_MULTIPLIER", func(s *Settings) float64 { return s.DynamicRiskLowVolMultiplier }, func(s *Settings, v float64) { s.DynamicRiskLowVolMultiplier = v }),
		floatKV("DYNAMIC_RISK_HIGH_VOL_THRESHOLD", func(s *Settings) float64 { return s.DynamicRiskHighVolThreshold }, func(s *Settings, v float64) { s.DynamicRiskHighVolThreshold = v }),
		floatKV("DYNAMIC_RISK_HIGH_VOL_MULTIPLIER", func(s *Settings) float64 { return s.DynamicRiskHighVolMultiplier }, func(s *Settings, v float64) { s.DynamicRiskHighVolMultiplier = v }),

		boolKV("USE_ATR_FOR_SLTP", func(s *Settings) bool { return s.UseATRForSLTP }, func(s *Settings, v bool) { s.UseATRForSLTP = v }),
		floatKV("ATR_MULTIPLIER_SL", func(s *Settings) float64 { return s.ATRMultiplierSL }, func(s *Settings, v float64) { s.ATRMultiplierSL = v }),
		floatKV("RISK_REWARD_RATIO_TP", func(s *Settings) float64 { return s.RiskRewardRatioTP }, func(s *Settings, v float64) { s.RiskRewardRatioTP = v }),

		boolKV("USE_TRAILING_STOP_LOSS", func(s *Settings) bool { return s.UseTrailingStopLoss }, func(s *Settings, v bool) { s.UseTrailingStopLoss = v }),
		floatKV("TRAILING_STOP_ACTIVATION_PERCENT", func(s *Settings) float64 { return s.TrailingStopActivationPercent }, func(s *Settings, v float64) { s.TrailingStopActivationPercent = v }),
		boolKV("USE_PARTIAL_TP", func(s *Settings) bool { return s.UsePartialTP }, func(s *Settings, v bool) { s.UsePartialTP = v }),
		floatKV("PARTIAL_TP_TARGET_RR", func(s *Settings) float64 { return s.PartialTPTargetRR }, func(s *Settings, v float64) { s.PartialTPTargetRR = v }),
		floatKV("PARTIAL_TP_CLOSE_PERCENT", func(s *Settings) float64 { return s.PartialTPClosePercent }, func(s *Settings, v float64) { s.PartialTPClosePercent = v }),
		boolKV("USE_BAILOUT_EXIT", func(s *Settings) bool { return s.UseBailoutExit }, func(s *Settings, v bool) { s.UseBailoutExit = v }),
		floatKV("BAILOUT_ARM_LOSS_PERCENT", func(s *Settings) float64 { return s.BailoutArmLossPercent }, func(s *Settings, v float64) { s.BailoutArmLossPercent = v }),
		floatKV("BAILOUT_RECOVERY_PERCENT", func(s *Settings) float64 { return s.BailoutRecoveryPercent }, func(s *Settings, v float64) { s.BailoutRecoveryPercent = v }),
		boolKV("USE_AI_BAILOUT_CONFIRMATION", func(s *Settings) bool { return s.UseAIBailoutConfirmation }, func(s *Settings, v bool) { s.UseAIBailoutConfirmation = v }),

		boolKV("USE_MTA_ANALYSIS", func(s *Settings) bool { return s.UseMTAAnalysis }, func(s *Settings, v bool) { s.UseMTAAnalysis = v }),
		stringKV("MTA_TREND_TIMEFRAME", func(s *Settings) string { return s.MTATrendTimeframe }, func(s *Settings, v string) { s.MTATrendTimeframe = v }),

		intKV("POSITION_CHECK_INTERVAL_SECONDS", func(s *Settings) int { return s.PositionCheckIntervalSeconds }, func(s *Settings, v int) { s.PositionCheckIntervalSeconds = v }),
		intKV("ORPHAN_ORDER_CHECK_INTERVAL_SECONDS", func(s *Settings) int { return s.OrphanOrderCheckIntervalSeconds }, func(s *Settings, v int) { s.OrphanOrderCheckIntervalSeconds = v }),
		intKV("POSITION_SYNC_INTERVAL_SECONDS", func(s *Settings) int { return s.PositionSyncIntervalSeconds }, func(s *Settings, v int) { s.PositionSyncIntervalSeconds = v }),

		boolKV("PROACTIVE_SCAN_ENABLED", func(s *Settings) bool { return s.ProactiveScanEnabled }, func(s *Settings, v bool) { s.ProactiveScanEnabled = v }),
		intKV("PROACTIVE_SCAN_INTERVAL_SECONDS", func(s *Settings) int { return s.ProactiveScanIntervalSeconds }, func(s *Settings, v int) { s.ProactiveScanIntervalSeconds = v }),
		boolKV("PROACTIVE_SCAN_AUTO_CONFIRM", func(s *Settings) bool { return s.ProactiveScanAutoConfirm }, func(s *Settings, v bool) { s.ProactiveScanAutoConfirm = v }),
		stringKV("PROACTIVE_SCAN_ENTRY_TIMEFRAME", func(s *Settings) string { return s.ProactiveScanEntryTimeframe }, func(s *Settings, v string) { s.ProactiveScanEntryTimeframe = v }),
		stringKV("PROACTIVE_SCAN_TREND_TIMEFRAME", func(s *Settings) string { return s.ProactiveScanTrendTimeframe }, func(s *Settings, v string) { s.ProactiveScanTrendTimeframe = v }),
		floatKV("PROACTIVE_SCAN_MIN_VOLUME_USDT", func(s *Settings) float64 { return s.ProactiveScanMinVolumeUSDT }, func(s *Settings, v float64) { s.ProactiveScanMinVolumeUSDT = v }),
		intKV("PROACTIVE_SCAN_TOP_N", func(s *Settings) int { return s.ProactiveScanTopN }, func(s *Settings, v int) { s.ProactiveScanTopN = v }),
		boolKV("PROACTIVE_SCAN_USE_GAINERS_LOSERS", func(s *Settings) bool { return s.ProactiveScanUseGainersLosers }, func(s *Settings, v bool) { s.ProactiveScanUseGainersLosers = v }),
		boolKV("PROACTIVE_SCAN_USE_VOLUME_SPIKE", func(s *Settings) bool { return s.ProactiveScanUseVolumeSpike }, func(s *Settings, v bool) { s.ProactiveScanUseVolumeSpike = v }),
		stringKV("PROACTIVE_SCAN_VOLUME_TIMEFRAME", func(s *Settings) string { return s.ProactiveScanVolumeTimeframe }, func(s *Settings, v string) { s.ProactiveScanVolumeTimeframe = v }),
		floatKV("PROACTIVE_SCAN_VOLUME_MULTIPLIER", func(s *Settings) float64 { return s.ProactiveScanVolumeMultiplier }, func(s *Settings, v float64) { s.ProactiveScanVolumeMultiplier = v }),
		intKV("PROACTIVE_SCAN_VOLUME_PERIOD", func(s *Settings) int { return s.ProactiveScanVolumePeriod }, func(s *Settings, v int) { s.ProactiveScanVolumePeriod = v }),
		listKV("PROACTIVE_SCAN_WHITELIST", func(s *Settings) []string { return s.ProactiveScanWhitelist }, func(s *Settings, v []string) { s.ProactiveScanWhitelist = v }),
		listKV("PROACTIVE_SCAN_BLACKLIST", func(s *Settings) []string { return s.ProactiveScanBlacklist }, func(s *Settings, v []string) { s.ProactiveScanBlacklist = v }),

		boolKV("PROACTIVE_SCAN_PREFILTER_ENABLED", func(s *Settings) bool { return s.ProactiveScanPrefilterEnabled }, func(s *Settings, v bool) { s.ProactiveScanPrefilterEnabled = v }),
		floatKV("PROACTIVE_SCAN_RSI_LOWER", func(s *Settings) float64 { return s.ProactiveScanRSILower }, func(s *Settings, v float64) { s.ProactiveScanRSILower = v }),
		floatKV("PROACTIVE_SCAN_RSI_UPPER", func(s *Settings) float64 { return s.ProactiveScanRSIUpper }, func(s *Settings, v float64) { s.ProactiveScanRSIUpper = v }),
		floatKV("PROACTIVE_SCAN_ADX_THRESHOLD", func(s *Settings) float64 { return s.ProactiveScanADXThreshold }, func(s *Settings, v float64) { s.ProactiveScanADXThreshold = v }),
		boolKV("PROACTIVE_SCAN_USE_VOLATILITY_FILTER", func(s *Settings) bool { return s.ProactiveScanUseVolatilityFilter }, func(s *Settings, v bool) { s.ProactiveScanUseVolatilityFilter = v }),
		intKV("PROACTIVE_SCAN_ATR_PERIOD", func(s *Settings) int { return s.ProactiveScanATRPeriod }, func(s *Settings, v int) { s.ProactiveScanATRPeriod = v }),
		floatKV("PROACTIVE_SCAN_ATR_THRESHOLD_PERCENT", func(s *Settings) float64 { return s.ProactiveScanATRThresholdPercent }, func(s *Settings, v float64) { s.ProactiveScanATRThresholdPercent = v }),
		boolKV("PROACTIVE_SCAN_USE_VOLUME_FILTER", func(s *Settings) bool { return s.ProactiveScanUseVolumeFilter }, func(s *Settings, v bool) { s.ProactiveScanUseVolumeFilter = v }),
		intKV("PROACTIVE_SCAN_VOLUME_AVG_PERIOD", func(s *Settings) int { return s.ProactiveScanVolumeAvgPeriod }, func(s *Settings, v int) { s.ProactiveScanVolumeAvgPeriod = v }),
		floatKV("PROACTIVE_SCAN_VOLUME_CONFIRM_MULTIPLIER", func(s *Settings) float64 { return s.ProactiveScanVolumeConfirmMultiplier }, func(s *Settings, v float64) { s.ProactiveScanVolumeConfirmMultiplier = v }),

		stringKV("GEMINI_MODEL", func(s *Settings) string { return s.GeminiModel }, func(s *Settings, v string) { s.GeminiModel = v }),
		listKV("GEMINI_MODEL_FALLBACK_ORDER", func(s *Settings) []string { return s.GeminiModelFallbackOrder }, func(s *Settings, v []string) { s.GeminiModelFallbackOrder = v }),

		boolKV("TELEGRAM_ENABLED", func(s *Settings) bool { return s.TelegramEnabled }, func(s *Settings, v bool) { s.TelegramEnabled = v }),
		stringKV("LOG_LEVEL", func(s *Settings) string { return s.LogLevel }, func(s *Settings, v string) { s.LogLevel = v }),
	}
}
