package decision

import (
	"testing"

	"sentryfx/internal/core"
)

func TestParseAnalysisResponsePlainJSON(t *testing.T) {
	raw := `{"symbol":"BTC/USDT","timeframe":"1h","recommendation":"AL","reason":"strong trend","analysis_type":"Single","data":{"price":65000.5}}`
	resp, err := ParseAnalysisResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Recommendation != core.RecommendationBuy {
		t.Errorf("recommendation = %v, want Buy", resp.Recommendation)
	}
	if resp.Price != 65000.5 {
		t.Errorf("price = %v, want 65000.5", resp.Price)
	}
}

func TestParseAnalysisResponseStripsFence(t *testing.T) {
	raw := "Here is my analysis.\n```json\n{\"symbol\":\"ETH/USDT\",\"timeframe\":\"4h\",\"recommendation\":\"SAT\",\"reason\":\"bearish\",\"analysis_type\":\"MTA\",\"trend_timeframe\":\"4h\",\"data\":{\"price\":3000}}\n```"
	resp, err := ParseAnalysisResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Recommendation != core.RecommendationSell {
		t.Errorf("recommendation = %v, want Sell", resp.Recommendation)
	}
	if resp.TrendTimeframe != "4h" {
		t.Errorf("trend_timeframe = %q, want 4h", resp.TrendTimeframe)
	}
}

func TestParseAnalysisResponseNormalizesFullWidthPunctuation(t *testing.T) {
	raw := "｛“symbol”：“BTC/USDT”，“timeframe”：“1h”，“recommendation”：“BEKLE”，“reason”：“no edge”，“analysis_type”：“Single”，“data”：｛“price”：1｝｝"
	resp, err := ParseAnalysisResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Recommendation != core.RecommendationWait {
		t.Errorf("recommendation = %v, want Wait", resp.Recommendation)
	}
}

func TestParseAnalysisResponseUnknownTokenDefaultsToWait(t *testing.T) {
	raw := `{"symbol":"BTC/USDT","timeframe":"1h","recommendation":"MAYBE","reason":"unsure","analysis_type":"Single","data":{"price":1}}`
	resp, err := ParseAnalysisResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Recommendation != core.RecommendationWait {
		t.Errorf("recommendation = %v, want Wait (fallback)", resp.Recommendation)
	}
}

func TestParseAnalysisResponseNoJSONErrors(t *testing.T) {
	_, err := ParseAnalysisResponse("I could not decide on anything today.")
	if err == nil {
		t.Fatal("expected error for response with no JSON")
	}
}

func TestParseManagementResponseHold(t *testing.T) {
	resp, err := ParseManagementResponse(`{"recommendation":"TUT","reason":"still above support"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Recommendation != core.RecommendationHold {
		t.Errorf("recommendation = %v, want Hold", resp.Recommendation)
	}
}

func TestParseManagementResponseClose(t *testing.T) {
	resp, err := ParseManagementResponse("```\n{\"recommendation\":\"KAPAT\",\"reason\":\"broke support\"}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Recommendation != core.RecommendationClose {
		t.Errorf("recommendation = %v, want Close", resp.Recommendation)
	}
}
