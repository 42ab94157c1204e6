package ws

import (
	"encoding/json"
	"time"
)

// Frame types exchanged over the results stream
const (
	TypeResult   = "result"
	TypeMessage  = "message"
	TypeAccepted = "accepted"
	TypePing     = "ping"
	TypePong     = "pong"
	TypeError    = "error"
)

// Frame is the envelope of every websocket message
type Frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// Filter selects which results a subscriber receives; empty fields match everything
type Filter struct {
	SenderID  string `json:"sender_id,omitempty"`
	ListingID string `json:"listing_id,omitempty"`
}

// Matches reports whether a result for senderID and listingID passes the filter
func (f Filter) Matches(senderID, listingID string) bool {
	if f.SenderID != "" && f.SenderID != senderID {
		return false
	}
	if f.ListingID != "" && f.ListingID != listingID {
		return false
	}
	return true
}

// NewFrame encodes content into a frame of the given type
func NewFrame(typ string, content any) ([]byte, error) {
	f := Frame{Type: typ, SentAt: time.Now().UTC()}
	if content != nil {
		raw, err := json.Marshal(content)
		if err != nil {
			return nil, err
		}
		f.Content = raw
	}
	return json.Marshal(f)
}
