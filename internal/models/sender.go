package models

import "time"

// HistoryEntry is one exchange with a sender
type HistoryEntry struct {
	Text     string    `json:"text"`
	Response string    `json:"response,omitempty"`
	At       time.Time `json:"at"`
}

// SenderContext is what the assistant remembers about a buyer
type SenderContext struct {
	SenderID        string         `json:"sender_id"`
	Name            string         `json:"name,omitempty"`
	History         []HistoryEntry `json:"history"`
	LastInteraction time.Time      `json:"last_interaction"`
	SeriousBuyer    bool           `json:"serious_buyer"`
	PreferredStyle  ResponseStyle  `json:"preferred_style,omitempty"`
	Flagged         bool           `json:"flagged"`
}

// NewSenderContext returns the context for a sender seen for the first time
func NewSenderContext(senderID string) *SenderContext {
	return &SenderContext{
		SenderID:     senderID,
		History:      []HistoryEntry{},
		SeriousBuyer: true,
	}
}

// Remember appends an exchange and keeps at most limit entries
func (s *SenderContext) Remember(entry HistoryEntry, limit int) {
	s.History = append(s.History, entry)
	if limit > 0 && len(s.History) > limit {
		trimmed := make([]HistoryEntry, limit)
		copy(trimmed, s.History[len(s.History)-limit:])
		s.History = trimmed
	}
	s.LastInteraction = entry.At
}

// LastMessage returns the most recent buyer text, if any
func (s *SenderContext) LastMessage() (string, bool) {
	if len(s.History) == 0 {
		return "", false
	}
	return s.History[len(s.History)-1].Text, true
}

// Clone returns a deep copy that can be mutated independently
func (s *SenderContext) Clone() *SenderContext {
	if s == nil {
		return nil
	}
	c := *s
	c.History = append([]HistoryEntry(nil), s.History...)
	return &c
}
