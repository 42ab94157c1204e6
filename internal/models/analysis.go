package models

// MessageType is the classified purpose of a buyer message
type MessageType string

const (
	PriceQuestion    MessageType = "price_question"
	Availability     MessageType = "availability"
	ProductInfo      MessageType = "product_info"
	MeetingRequest   MessageType = "meeting_request"
	DeliveryQuestion MessageType = "delivery_question"
	GeneralQuestion  MessageType = "general_question"
	Greeting         MessageType = "greeting"
	Complaint        MessageType = "complaint"
	Spam             MessageType = "spam"
)

// MessageTypes lists every type in a fixed order
var MessageTypes = []MessageType{
	PriceQuestion,
	Availability,
	ProductInfo,
	MeetingRequest,
	DeliveryQuestion,
	GeneralQuestion,
	Greeting,
	Complaint,
	Spam,
}

// Valid reports whether t is a known message type
func (t MessageType) Valid() bool {
	for _, known := range MessageTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Sentiment is the emotional tone of a message
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Urgency is how soon the buyer expects an answer
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Analysis is the combined understanding of a single message
type Analysis struct {
	Type          MessageType `json:"message_type"`
	Confidence    float64     `json:"confidence"`
	Intent        string      `json:"intent"`
	Sentiment     Sentiment   `json:"sentiment"`
	Urgency       Urgency     `json:"urgency"`
	Keywords      []string    `json:"keywords_found"`
	RequiresHuman bool        `json:"requires_human"`
}

// DefaultAnalysis is used when nothing better is known about a message
func DefaultAnalysis() Analysis {
	return Analysis{
		Type:       GeneralQuestion,
		Confidence: 0.5,
		Intent:     "unclear",
		Sentiment:  SentimentNeutral,
		Urgency:    UrgencyMedium,
		Keywords:   []string{},
	}
}

// Normalize clamps the confidence and replaces unknown enum values with defaults
func (a *Analysis) Normalize() {
	a.Confidence = Clamp01(a.Confidence)
	if !a.Type.Valid() {
		a.Type = GeneralQuestion
	}
	switch a.Sentiment {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
	default:
		a.Sentiment = SentimentNeutral
	}
	switch a.Urgency {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
	default:
		a.Urgency = UrgencyMedium
	}
	if a.Keywords == nil {
		a.Keywords = []string{}
	}
}

// Clamp01 limits v to [0,1]
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
