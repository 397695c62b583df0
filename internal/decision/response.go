package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"sentryfx/internal/core"
	"sentryfx/internal/logger"
)

var (
	reJSONFence      = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")
	reInvisibleRunes = regexp.MustCompile("[​‌‍﻿]")
)

// fullWidthReplacements maps CJK/full-width punctuation the model
// sometimes emits to their ASCII JSON equivalents, grounded on
// decision/engine.go's fixMissingQuotes.
var fullWidthReplacements = strings.NewReplacer(
	"“", `"`, "”", `"`, "‘", "'", "’", "'",
	"［", "[", "］", "]", "｛", "{", "｝", "}",
	"：", ":", "，", ",",
	"【", "[", "】", "]", "〔", "[", "〕", "]", "、", ",",
	"　", " ",
)

func normalize(s string) string {
	s = reInvisibleRunes.ReplaceAllString(s, "")
	return fullWidthReplacements.Replace(s)
}

// extractJSON finds the JSON object to decode: a fenced ```json block's
// contents first (the fence precisely delimits the object, so no brace
// matching is needed there), else the outermost brace-delimited span in
// the full text.
func extractJSON(response string) (string, error) {
	s := normalize(strings.TrimSpace(response))

	if m := reJSONFence.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1]), nil
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("decision: no JSON object found in response")
	}
	return strings.TrimSpace(s[start : end+1]), nil
}

// analysisResponse mirrors the wire shape of Single/MTA/Holistic
// responses (spec.md §4.4).
type analysisResponse struct {
	Symbol         string  `json:"symbol"`
	Timeframe      string  `json:"timeframe"`
	Recommendation string  `json:"recommendation"`
	Reason         string  `json:"reason"`
	AnalysisType   string  `json:"analysis_type"`
	TrendTimeframe string  `json:"trend_timeframe"`
	Data           struct {
		Price          float64  `json:"price"`
		SentimentScore *float64 `json:"sentiment_score"`
	} `json:"data"`
}

// AnalysisResponse is the parsed result of a Single/MTA/Holistic prompt.
type AnalysisResponse struct {
	Symbol         string
	Timeframe      string
	TrendTimeframe string
	Recommendation core.Recommendation
	Reason         string
	AnalysisType   string
	Price          float64
	SentimentScore *float64
}

// openRecommendationVocabulary maps the model's Turkish-vocabulary tokens
// to the tagged Recommendation type (spec.md §4.4: AL/SAT/BEKLE).
var openRecommendationVocabulary = map[string]core.Recommendation{
	"AL":    core.RecommendationBuy,
	"SAT":   core.RecommendationSell,
	"BEKLE": core.RecommendationWait,
}

// managementRecommendationVocabulary maps the open-position management
// vocabulary (spec.md §4.4: TUT/KAPAT).
var managementRecommendationVocabulary = map[string]core.Recommendation{
	"TUT":   core.RecommendationHold,
	"KAPAT": core.RecommendationClose,
}

// ParseAnalysisResponse parses a Single/MTA/Holistic prompt's response.
func ParseAnalysisResponse(raw string) (AnalysisResponse, error) {
	jsonPart, err := extractJSON(raw)
	if err != nil {
		return AnalysisResponse{}, err
	}

	var parsed analysisResponse
	if err := json.Unmarshal([]byte(jsonPart), &parsed); err != nil {
		return AnalysisResponse{}, fmt.Errorf("decision: parsing analysis response: %w\ncontent: %s", err, jsonPart)
	}

	token := strings.ToUpper(strings.TrimSpace(parsed.Recommendation))
	rec, ok := openRecommendationVocabulary[token]
	if !ok {
		logger.Warnf("decision: unrecognized recommendation token %q, defaulting to Wait", parsed.Recommendation)
		rec = core.RecommendationWait
	}

	return AnalysisResponse{
		Symbol:         parsed.Symbol,
		Timeframe:      parsed.Timeframe,
		TrendTimeframe: parsed.TrendTimeframe,
		Recommendation: rec,
		Reason:         parsed.Reason,
		AnalysisType:   parsed.AnalysisType,
		Price:          parsed.Data.Price,
		SentimentScore: parsed.Data.SentimentScore,
	}, nil
}

// managementResponse mirrors the wire shape of Reanalysis/Bailout
// responses (spec.md §4.4).
type managementResponse struct {
	Recommendation string `json:"recommendation"`
	Reason         string `json:"reason"`
}

// ManagementResponse is the parsed result of a Reanalysis/Bailout prompt.
type ManagementResponse struct {
	Recommendation core.Recommendation
	Reason         string
}

// ParseManagementResponse parses a Reanalysis/Bailout prompt's response.
func ParseManagementResponse(raw string) (ManagementResponse, error) {
	jsonPart, err := extractJSON(raw)
	if err != nil {
		return ManagementResponse{}, err
	}

	var parsed managementResponse
	if err := json.Unmarshal([]byte(jsonPart), &parsed); err != nil {
		return ManagementResponse{}, fmt.Errorf("decision: parsing management response: %w\ncontent: %s", err, jsonPart)
	}

	token := strings.ToUpper(strings.TrimSpace(parsed.Recommendation))
	rec, ok := managementRecommendationVocabulary[token]
	if !ok {
		logger.Warnf("decision: unrecognized management recommendation token %q, defaulting to Hold", parsed.Recommendation)
		rec = core.RecommendationHold
	}

	return ManagementResponse{Recommendation: rec, Reason: parsed.Reason}, nil
}
