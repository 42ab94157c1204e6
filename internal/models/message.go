package models

import (
	"time"
)

// IncomingMessage is a buyer message as received from the marketplace
type IncomingMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	ListingID string    `json:"listing_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// Status is the outcome of processing a message
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusBlocked   Status = "blocked"
	StatusError     Status = "error"
)

// Stage is a step of the message pipeline
type Stage string

const (
	StageReceived    Stage = "received"
	StageValidated   Stage = "validated"
	StageRateChecked Stage = "rate_checked"
	StageSpamChecked Stage = "spam_checked"
	StageClassified  Stage = "classified"
	StageAnalyzed    Stage = "analyzed"
	StageComposed    Stage = "composed"
	StageDone        Stage = "done"
	StageBlocked     Stage = "blocked"
	StageError       Stage = "error"
)

// QualityMetrics scores a final reply
type QualityMetrics struct {
	Length                  int     `json:"length"`
	Readability             float64 `json:"readability"`
	Politeness              float64 `json:"politeness"`
	UrgencyMatch            float64 `json:"urgency_match"`
	Personalization         float64 `json:"personalization"`
	PredictedResponseRate   float64 `json:"predicted_response_rate"`
	PredictedConversionRate float64 `json:"predicted_conversion_rate"`
}

// ProcessedMessage is the pipeline's verdict on one IncomingMessage
type ProcessedMessage struct {
	Original          IncomingMessage `json:"original"`
	Analysis          *Analysis       `json:"analysis,omitempty"`
	Response          string          `json:"response,omitempty"`
	ProcessingTime    time.Duration   `json:"processing_time"`
	Status            Status          `json:"status"`
	Stage             Stage           `json:"stage"`
	ErrorCode         string          `json:"error_code,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	IsSpam            bool            `json:"is_spam"`
	SpamScore         float64         `json:"spam_score"`
	IsDuplicate       bool            `json:"is_duplicate"`
	RequiresHuman     bool            `json:"requires_human"`
	RetryAfterSeconds int             `json:"retry_after_seconds,omitempty"`
	TemplateUsed      bool            `json:"template_used"`
	Quality           *QualityMetrics `json:"quality,omitempty"`
}

// HasResponse reports whether there is text to deliver to the buyer
func (p ProcessedMessage) HasResponse() bool {
	return p.Response != ""
}
