package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"marketplace-responder/backend/internal/models"
)

// ParseAnalysis decodes a model's JSON analysis; markdown code fences are stripped
func ParseAnalysis(raw string) (*models.Analysis, error) {
	clean := stripCodeFence(raw)

	var payload struct {
		Type          models.MessageType `json:"message_type"`
		Confidence    *float64           `json:"confidence"`
		Intent        string             `json:"intent"`
		Sentiment     models.Sentiment   `json:"sentiment"`
		Urgency       models.Urgency     `json:"urgency"`
		Keywords      []string           `json:"keywords_found"`
		RequiresHuman bool               `json:"requires_human"`
	}
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !payload.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown message_type %q", ErrMalformedResponse, payload.Type)
	}
	switch payload.Sentiment {
	case "", models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral:
	default:
		return nil, fmt.Errorf("%w: unknown sentiment %q", ErrMalformedResponse, payload.Sentiment)
	}
	switch payload.Urgency {
	case "", models.UrgencyLow, models.UrgencyMedium, models.UrgencyHigh:
	default:
		return nil, fmt.Errorf("%w: unknown urgency %q", ErrMalformedResponse, payload.Urgency)
	}

	analysis := models.DefaultAnalysis()
	analysis.Type = payload.Type
	if payload.Confidence != nil {
		analysis.Confidence = *payload.Confidence
	}
	if payload.Intent != "" {
		analysis.Intent = payload.Intent
	}
	if payload.Sentiment != "" {
		analysis.Sentiment = payload.Sentiment
	}
	if payload.Urgency != "" {
		analysis.Urgency = payload.Urgency
	}
	analysis.Keywords = payload.Keywords
	analysis.RequiresHuman = payload.RequiresHuman
	analysis.Normalize()
	return &analysis, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
