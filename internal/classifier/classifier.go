package classifier

import (
	"strings"
	"unicode"

	"marketplace-responder/backend/internal/models"
)

const (
	wholeWordScore = 1.0
	substringScore = 0.5
	fallbackScore  = 0.5
)

// Result is the keyword classifier's verdict
type Result struct {
	Type       models.MessageType `json:"message_type"`
	Confidence float64            `json:"confidence"`
	Keywords   []string           `json:"keywords"`
}

type table struct {
	messageType models.MessageType
	keywords    []string
}

// Classifier assigns a message type from keyword tables
type Classifier struct {
	tables []table
}

// New builds a classifier over keywords; types are tried in models.MessageTypes order
func New(keywords map[models.MessageType][]string) *Classifier {
	c := &Classifier{}
	for _, mt := range models.MessageTypes {
		kws := keywords[mt]
		if len(kws) == 0 {
			continue
		}
		lowered := make([]string, len(kws))
		for i, kw := range kws {
			lowered[i] = strings.ToLower(kw)
		}
		c.tables = append(c.tables, table{messageType: mt, keywords: lowered})
	}
	return c
}

// NewDefault builds a classifier over DefaultKeywords
func NewDefault() *Classifier {
	return New(DefaultKeywords)
}

// Classify scores every type and returns the best one; ties go to the earlier type
func (c *Classifier) Classify(text string) Result {
	lowered := strings.ToLower(text)
	padded := " " + tokenize(lowered) + " "

	best := Result{Type: models.GeneralQuestion, Confidence: fallbackScore, Keywords: []string{}}
	bestScore := 0.0

	for _, t := range c.tables {
		var score float64
		var matched []string
		for _, kw := range t.keywords {
			switch {
			case strings.Contains(padded, " "+kw+" "):
				score += wholeWordScore
			case strings.Contains(lowered, kw):
				score += substringScore
			default:
				continue
			}
			matched = append(matched, kw)
		}
		if score > bestScore {
			bestScore = score
			best = Result{
				Type:       t.messageType,
				Confidence: models.Clamp01(score / float64(len(t.keywords))),
				Keywords:   matched,
			}
		}
	}
	return best
}

// tokenize replaces everything except letters, digits and '/' with single spaces
func tokenize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '/' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
