package antispam

import (
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/pkg/cache"
)

// SpamThreshold is the score above which a message is spam
const SpamThreshold = 0.7

const (
	patternWeight   = 0.3
	keywordWeight   = 0.2
	lengthWeight    = 0.1
	repeatWeight    = 0.2
	flaggedWeight   = 0.5
	minSaneLength   = 3
	maxSaneLength   = 1000
	minUniqueRatio  = 0.3
	defaultCacheCap = 10000
)

var spamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|[^\p{L}])(?:зараб|доход|инвест|криптовалют|биткоин|invest|crypto|bitcoin)`),
	regexp.MustCompile(`(?:^|[^\p{L}])(?:займ|кредит|деньги|loan)\s+(?:быстро|срочно|fast|now)`),
	regexp.MustCompile(`(?:^|[^\p{L}])mlm(?:$|[^\p{L}])|сетевой\s+маркетинг`),
	regexp.MustCompile(`(?:https?://|www\.)\w+`),
	regexp.MustCompile(`(?:^|[^\p{L}])(?:пирамид|схем)`),
	regexp.MustCompile(`(?:телеграм|telegram|whatsapp|viber)\s*:?\s*@?\w+`),
}

var spamKeywords = []string{
	"заработок", "инвестиции", "криптовалюта", "биткоин",
	"займ", "кредит", "быстрые деньги", "млм", "пирамида",
	"схема", "телеграм", "whatsapp", "viber",
}

// SpamDetector scores messages with regex and keyword heuristics and caches verdicts by text
type SpamDetector struct {
	verdicts    *cache.Cache[string, float64]
	evaluations atomic.Uint64
}

// NewSpamDetector creates a detector whose verdict cache holds up to capacity texts
func NewSpamDetector(capacity int) (*SpamDetector, error) {
	if capacity <= 0 {
		capacity = defaultCacheCap
	}
	verdicts, err := cache.New[string, float64](cache.Options{MaxSize: capacity})
	if err != nil {
		return nil, err
	}
	return &SpamDetector{verdicts: verdicts}, nil
}

// IsSpam scores text; senderFlagged adds the penalty for senders caught before
func (d *SpamDetector) IsSpam(text string, senderFlagged bool) (bool, float64) {
	key := Normalize(text)

	score, ok := d.verdicts.Get(key)
	if !ok {
		score = d.score(key)
		d.verdicts.Set(key, score)
	}

	if senderFlagged {
		score += flaggedWeight
	}
	score = models.Clamp01(score)
	return score > SpamThreshold, score
}

// Evaluations returns how many times the scoring rules actually ran
func (d *SpamDetector) Evaluations() uint64 {
	return d.evaluations.Load()
}

// ClearCache drops all cached verdicts
func (d *SpamDetector) ClearCache() {
	d.verdicts.Purge()
}

// CacheStats exposes verdict cache counters
func (d *SpamDetector) CacheStats() cache.Stats {
	return d.verdicts.Stats()
}

// score computes the text-only part of the spam score, before clamping
func (d *SpamDetector) score(text string) float64 {
	d.evaluations.Add(1)

	var score float64
	for _, p := range spamPatterns {
		if p.MatchString(text) {
			score += patternWeight
		}
	}
	for _, kw := range spamKeywords {
		if strings.Contains(text, kw) {
			score += keywordWeight
		}
	}

	length := utf8.RuneCountInString(text)
	if length < minSaneLength || length > maxSaneLength {
		score += lengthWeight
	}
	if length > 0 && float64(uniqueRunes(text)) < float64(length)*minUniqueRatio {
		score += repeatWeight
	}
	return score
}

// Normalize lower-cases and trims text for cache lookups
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func uniqueRunes(s string) int {
	seen := make(map[rune]struct{}, len(s))
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}
