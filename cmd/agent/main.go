// Command agent is the sentryfx process entrypoint: it wires the
// exchange adapter, store, LLM client, trader, manager, scanner, and
// scheduler together and runs until SIGTERM/SIGINT, grounded on the
// teacher's main.go goroutine + os/signal shutdown idiom.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sentryfx/internal/config"
	"sentryfx/internal/exchange"
	"sentryfx/internal/exchange/binance"
	"sentryfx/internal/exchange/hyperliquid"
	"sentryfx/internal/llm"
	"sentryfx/internal/logger"
	"sentryfx/internal/manager"
	"sentryfx/internal/notifier"
	"sentryfx/internal/scanner"
	"sentryfx/internal/scheduler"
	"sentryfx/internal/store"
	"sentryfx/internal/trader"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment variables")
	}

	if err := logger.Init(&logger.Config{Level: os.Getenv("LOG_LEVEL")}); err != nil {
		log.Fatalf("initializing logger: %v", err)
	}

	dbPath := os.Getenv("SENTRYFX_DB_PATH")
	if dbPath == "" {
		dbPath = "sentryfx.db"
	}
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	settings := config.Defaults()
	if err := settings.Load(db); err != nil {
		log.Fatalf("loading settings: %v", err)
	}

	adapter, err := newExchangeAdapter(context.Background(), settings.Snapshot())
	if err != nil {
		log.Fatalf("connecting to exchange: %v", err)
	}

	llmClient, err := newLLMClient(settings.Snapshot())
	if err != nil {
		log.Fatalf("configuring LLM client: %v", err)
	}

	notify, err := newNotifier(settings.Snapshot())
	if err != nil {
		log.Fatalf("configuring notifier: %v", err)
	}

	tr := trader.New(adapter, db.Position(), db.TradeHistory(), db.Event(), settings)
	mgr := manager.New(adapter, db.Position(), tr, llmClient, db.Event(), notify, settings)
	scan := scanner.New(adapter, llmClient, tr, db.Scanner(), db.Event(), notify, settings)

	sched := scheduler.New(db.Event(), llmClient)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	snap := settings.Snapshot()
	sched.AddJob(ctx, scheduler.JobPositionSync, time.Duration(snap.PositionSyncIntervalSeconds)*time.Second,
		func(ctx context.Context) error { return mgr.Reconcile(ctx) })
	sched.AddJob(ctx, scheduler.JobPositionChecker, time.Duration(snap.PositionCheckIntervalSeconds)*time.Second,
		func(ctx context.Context) error { mgr.TickAll(ctx); return nil })
	sched.AddJob(ctx, scheduler.JobOrphanOrder, time.Duration(snap.OrphanOrderCheckIntervalSeconds)*time.Second,
		func(ctx context.Context) error { return mgr.SweepOrphanOrders(ctx) })
	if snap.ProactiveScanEnabled {
		sched.AddJob(ctx, scheduler.JobScanner, time.Duration(snap.ProactiveScanIntervalSeconds)*time.Second,
			func(ctx context.Context) error { _, err := scan.RunFullScan(ctx); return err })
	}

	fmt.Println("sentryfx agent running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutdown signal received, stopping scheduled jobs...")
	sched.Stop()
	stop()
	log.Println("sentryfx agent stopped")
}

// newExchangeAdapter selects and connects the exchange adapter named by
// Settings.ExchangeID (spec.md §6), reading its credentials from the
// environment since secrets never live in the reloadable Settings KV
// store.
func newExchangeAdapter(ctx context.Context, settings config.Settings) (exchange.Adapter, error) {
	testnet := os.Getenv("SENTRYFX_TESTNET") == "true"
	switch settings.ExchangeID {
	case "hyperliquid":
		privateKey := os.Getenv("HYPERLIQUID_PRIVATE_KEY")
		wallet := os.Getenv("HYPERLIQUID_WALLET_ADDRESS")
		return hyperliquid.New(ctx, privateKey, wallet, testnet)
	case "binance", "":
		apiKey := os.Getenv("BINANCE_API_KEY")
		apiSecret := os.Getenv("BINANCE_API_SECRET")
		return binance.New(apiKey, apiSecret, testnet), nil
	default:
		return nil, fmt.Errorf("unknown exchange id %q", settings.ExchangeID)
	}
}

// newLLMClient builds the fallback-rotating LLM client from
// Settings.GeminiModel/GeminiModelFallbackOrder, pairing each model name
// with an API key and base URL read from the environment
// (<MODEL>_API_KEY / <MODEL>_BASE_URL, upper-cased and "-"/"."
// normalized to "_").
func newLLMClient(settings config.Settings) (*llm.Client, error) {
	names := append([]string{settings.GeminiModel}, settings.GeminiModelFallbackOrder...)
	seen := make(map[string]bool, len(names))
	models := make([]llm.ModelConfig, 0, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		models = append(models, llm.ModelConfig{
			Name:    name,
			BaseURL: envOrDefault(envKey(name, "BASE_URL"), "https://generativelanguage.googleapis.com/v1beta/openai/"),
			APIKey:  os.Getenv(envKey(name, "API_KEY")),
		})
	}
	return llm.New(models)
}

func envKey(model, suffix string) string {
	normalized := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(model))
	return normalized + "_" + suffix
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newNotifier builds the Telegram notifier, disabled (a no-op) unless
// both Settings.TelegramEnabled and the bot credentials are present.
func newNotifier(settings config.Settings) (*notifier.TelegramNotifier, error) {
	enabled := settings.TelegramEnabled
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	var chatID int64
	if chatIDStr != "" {
		parsed, err := strconv.ParseInt(chatIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing TELEGRAM_CHAT_ID: %w", err)
		}
		chatID = parsed
	}
	if token == "" || chatIDStr == "" {
		enabled = false
	}
	return notifier.NewTelegramNotifier(token, chatID, enabled)
}
