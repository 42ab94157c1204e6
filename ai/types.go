package ai

import "strings"

// Role identifies who spoke a conversation turn
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message of a conversation prompt
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Prompt is either a TextPrompt or a ConversationPrompt
type Prompt interface {
	// content renders the prompt for cache keys
	content() string
}

// TextPrompt is a single standalone prompt
type TextPrompt string

func (p TextPrompt) content() string { return "text:" + string(p) }

// ConversationPrompt is an ordered list of turns ending with a user turn
type ConversationPrompt []Turn

func (p ConversationPrompt) content() string {
	var b strings.Builder
	b.WriteString("conversation:")
	for _, t := range p {
		b.WriteString(string(t.Role))
		b.WriteByte(0)
		b.WriteString(t.Text)
		b.WriteByte(0)
	}
	return b.String()
}

// split returns the turns before the last one and the last user message
func (p ConversationPrompt) split() ([]Turn, string, bool) {
	if len(p) == 0 || p[len(p)-1].Role != RoleUser {
		return nil, "", false
	}
	return p[:len(p)-1], p[len(p)-1].Text, true
}

// Text wraps s as a TextPrompt
func Text(s string) Prompt { return TextPrompt(s) }

// Conversation builds a ConversationPrompt from turns
func Conversation(turns ...Turn) Prompt { return ConversationPrompt(turns) }

// Options are the model parameters of a request
type Options struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int32   `json:"max_tokens"`
	// JSON asks the model for a JSON document
	JSON bool `json:"json"`
}

// Request is one text-generation call
type Request struct {
	Prompt            Prompt
	SessionID         string
	SystemInstruction string
	Options           Options
}

// TokenUsage is the token accounting of a single generation
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// SafetyRating is a provider's safety verdict for one category
type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
	Blocked     bool   `json:"blocked"`
}

// GeneratedText is a provider's answer
type GeneratedText struct {
	Text          string         `json:"text"`
	Usage         TokenUsage     `json:"usage"`
	FinishReason  string         `json:"finish_reason"`
	SafetyRatings []SafetyRating `json:"safety_ratings,omitempty"`
	Cached        bool           `json:"cached"`
}
