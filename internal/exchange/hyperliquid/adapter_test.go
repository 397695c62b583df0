package hyperliquid

import "testing"

func TestCoinOfStripsQuote(t *testing.T) {
	cases := map[string]string{
		"BTC/USDT": "BTC",
		"btc":      "BTC",
		"eth_usdc": "ETH",
	}
	for in, want := range cases {
		if got := coinOf(in); got != want {
			t.Errorf("coinOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRoundPriceToSigfigsKeepsFiveSignificantDigits(t *testing.T) {
	a := &Adapter{}
	cases := []struct {
		in, want float64
	}{
		{123456.789, 123460},
		{1.23456789, 1.2346},
		{0.00012345678, 0.00012346},
	}
	for _, c := range cases {
		got := a.roundPriceToSigfigs(c.in)
		if diff := got - c.want; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("roundPriceToSigfigs(%v) = %v, want ~%v", c.in, got, c.want)
		}
	}
}

func TestRoundPriceToSigfigsZero(t *testing.T) {
	a := &Adapter{}
	if got := a.roundPriceToSigfigs(0); got != 0 {
		t.Errorf("roundPriceToSigfigs(0) = %v, want 0", got)
	}
}

func TestSzDecimalsDefaultsWithoutMeta(t *testing.T) {
	a := &Adapter{}
	if got := a.szDecimals("BTC"); got != 4 {
		t.Errorf("szDecimals with nil meta = %v, want 4", got)
	}
}

func TestTimeframeDurationKnownAndUnknown(t *testing.T) {
	if timeframeDuration("1h").Hours() != 1 {
		t.Errorf("1h mapping wrong")
	}
	if timeframeDuration("bogus").Hours() != 1 {
		t.Errorf("unknown timeframe should fall back to 1h")
	}
}
