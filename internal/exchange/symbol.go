package exchange

import "strings"

// defaultQuote is assumed when a bare base symbol ("BTC") is canonicalized
// with no quote asset present.
const defaultQuote = "USDT"

// Canon normalizes a symbol to "BASE/QUOTE" form regardless of input style
// ("btc", "BTCUSDT", "BTC/USDT", "BTC-USDT" all canonicalize identically).
// Idempotent: Canon(Canon(x)) == Canon(x) (spec.md §8).
func Canon(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "-", "/")
	s = strings.ReplaceAll(s, "_", "/")

	if strings.Contains(s, "/") {
		return s
	}

	for _, quote := range []string{"USDT", "USDC", "USD", "BUSD"} {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			base := strings.TrimSuffix(s, quote)
			return base + "/" + quote
		}
	}

	return s + "/" + defaultQuote
}

// ToBinanceWire converts a canonical "BASE/QUOTE" symbol to Binance
// futures' unseparated wire form ("BTCUSDT").
func ToBinanceWire(symbol string) string {
	return strings.ReplaceAll(Canon(symbol), "/", "")
}
