package exchange

import "testing"

func TestCanonIsIdempotent(t *testing.T) {
	inputs := []string{"btc", "BTCUSDT", "BTC/USDT", "BTC-USDT", "eth_usdc"}
	for _, in := range inputs {
		once := Canon(in)
		twice := Canon(once)
		if once != twice {
			t.Errorf("Canon(%q) = %q, Canon(that) = %q, want idempotent", in, once, twice)
		}
	}
}

func TestCanonNormalizesVariants(t *testing.T) {
	cases := map[string]string{
		"btc":       "BTC/USDT",
		"BTCUSDT":   "BTC/USDT",
		"BTC/USDT":  "BTC/USDT",
		"BTC-USDT":  "BTC/USDT",
		"eth_usdc":  "ETH/USDC",
	}
	for in, want := range cases {
		if got := Canon(in); got != want {
			t.Errorf("Canon(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToBinanceWire(t *testing.T) {
	if got := ToBinanceWire("BTC/USDT"); got != "BTCUSDT" {
		t.Errorf("ToBinanceWire(BTC/USDT) = %q, want BTCUSDT", got)
	}
	if got := ToBinanceWire("btc"); got != "BTCUSDT" {
		t.Errorf("ToBinanceWire(btc) = %q, want BTCUSDT", got)
	}
}
