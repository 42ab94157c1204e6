package responder

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"marketplace-responder/backend/internal/models"
)

var toneEmoji = regexp.MustCompile(`[😊👋✅💰📦🚚📅]`)

var politeWords = map[string]struct{}{
	"спасибо": {}, "пожалуйста": {}, "извините": {}, "здравствуйте": {},
	"рад": {}, "готов": {}, "помочь": {},
}

var politePhrases = []string{"добро пожаловать"}

var complexWords = map[string]struct{}{
	"необходимо": {}, "осуществить": {}, "предоставить": {},
	"реализовать": {}, "функционировать": {}, "продемонстрировать": {},
}

var urgencyWords = []string{"срочно", "быстро", "скорее", "немедленно"}

var detailWords = []string{"цена", "состояние", "доставка", "встреча", "осмотр"}

// QualityScorer estimates how well a reply will land
type QualityScorer struct{}

// NewQualityScorer creates a scorer
func NewQualityScorer() *QualityScorer {
	return &QualityScorer{}
}

// Score rates text against the analysis, the sender and the listing
func (q *QualityScorer) Score(text string, analysis *models.Analysis, sender *models.SenderContext, listing *models.ListingContext) models.QualityMetrics {
	lower := strings.ToLower(text)
	tokens := words(lower)

	readability := 1.0
	politeness := 0.0
	if len(tokens) > 0 {
		var complexCount, politeCount int
		for _, w := range tokens {
			if _, ok := complexWords[w]; ok {
				complexCount++
			}
			if _, ok := politeWords[w]; ok {
				politeCount++
			}
		}
		for _, phrase := range politePhrases {
			politeCount += strings.Count(lower, phrase)
		}
		readability = max(0, 1-float64(complexCount)/float64(len(tokens))*2)
		politeness = min(float64(politeCount)*0.3, 1)
	}

	urgencyMatch := 1.0
	hasUrgency := containsAny(lower, urgencyWords)
	if analysis != nil {
		switch {
		case analysis.Urgency == models.UrgencyHigh && !hasUrgency:
			urgencyMatch = 0.5
		case analysis.Urgency == models.UrgencyLow && hasUrgency:
			urgencyMatch = 0.7
		}
	}

	personalization := q.personalization(text, lower, tokens, sender, listing)

	response := readability*0.3 + politeness*0.2 + urgencyMatch*0.2 + personalization*0.3
	return models.QualityMetrics{
		Length:                  utf8.RuneCountInString(text),
		Readability:             readability,
		Politeness:              politeness,
		UrgencyMatch:            urgencyMatch,
		Personalization:         personalization,
		PredictedResponseRate:   response,
		PredictedConversionRate: response * 0.7,
	}
}

func (q *QualityScorer) personalization(text, lower string, replyWords []string, sender *models.SenderContext, listing *models.ListingContext) float64 {
	var score float64

	if sender != nil && sender.Name != "" && strings.Contains(lower, strings.ToLower(sender.Name)) {
		score += 0.4
	}
	if sender != nil {
		if last, ok := sender.LastMessage(); ok && sharedWords(words(strings.ToLower(last)), replyWords) > 2 {
			score += 0.3
		}
	}
	if toneEmoji.MatchString(text) {
		score += 0.2
	}
	if containsAny(lower, detailWords) || mentionsListing(text, lower, listing) {
		score += 0.1
	}
	return models.Clamp01(score)
}

func mentionsListing(text, lower string, listing *models.ListingContext) bool {
	if listing == nil {
		return false
	}
	if listing.HasPrice() && strings.Contains(text, listing.PriceString()) {
		return true
	}
	return listing.Title != "" && strings.Contains(lower, strings.ToLower(listing.Title))
}

// words splits s on whitespace and trims punctuation from each token
func words(s string) []string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func sharedWords(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, w := range a {
		set[w] = struct{}{}
	}
	seen := make(map[string]struct{}, len(b))
	for _, w := range b {
		if _, ok := set[w]; ok {
			seen[w] = struct{}{}
		}
	}
	return len(seen)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
