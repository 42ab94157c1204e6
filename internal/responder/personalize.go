package responder

import (
	"strings"
	"unicode/utf8"

	"marketplace-responder/backend/internal/models"
)

const (
	nameProbability    = 0.7
	emojiProbability   = 0.4
	closingProbability = 0.3
	closingMinLength   = 100
)

var namePatterns = []string{
	"%s, ",
	"%s! ",
	"Здравствуйте, %s! ",
	"%s, добро пожаловать! ",
}

var typeEmoji = map[models.MessageType][]string{
	models.Greeting:         {"👋", "😊", "🤝"},
	models.PriceQuestion:    {"💰", "💵", "💳"},
	models.Availability:     {"✅", "👍", "📦"},
	models.MeetingRequest:   {"📅", "🏠", "🚗"},
	models.ProductInfo:      {"📋", "ℹ️", "📝"},
	models.DeliveryQuestion: {"🚚", "📦", "🏠"},
}

var closingPhrases = []string{
	"Буду рад помочь!",
	"Жду ваших вопросов!",
	"Обращайтесь, если что!",
	"Всегда на связи!",
	"Готов ответить на вопросы!",
}

// PersonalizationEngine adds a name greeting, a type emoji and a closing phrase at random
type PersonalizationEngine struct {
	rnd Source
}

// NewPersonalizationEngine creates an engine drawing from rnd
func NewPersonalizationEngine(rnd Source) *PersonalizationEngine {
	if rnd == nil {
		rnd = NewSource(0)
	}
	return &PersonalizationEngine{rnd: rnd}
}

// Personalize decorates text for sender
func (p *PersonalizationEngine) Personalize(text string, sender *models.SenderContext, mt models.MessageType, style models.ResponseStyle) string {
	out := text

	if sender != nil && sender.Name != "" && p.rnd.Float64() < nameProbability {
		pattern := pick(p.rnd, namePatterns)
		out = strings.Replace(pattern, "%s", sender.Name, 1) + out
	}

	if style == models.StyleFriendly || style == models.StyleCasual {
		if emoji, ok := typeEmoji[mt]; ok && p.rnd.Float64() < emojiProbability {
			out = pick(p.rnd, emoji) + " " + out
		}
	}

	if utf8.RuneCountInString(out) > closingMinLength && p.rnd.Float64() < closingProbability {
		out = out + " " + pick(p.rnd, closingPhrases)
	}
	return out
}

// Level estimates how personal a variant text is
func (p *PersonalizationEngine) Level(text string, sender *models.SenderContext, listing *models.ListingContext) float64 {
	lower := strings.ToLower(text)
	var score float64

	if sender != nil && sender.Name != "" && strings.Contains(lower, strings.ToLower(sender.Name)) {
		score += 0.3
	}
	if listing != nil && listing.Title != "" && strings.Contains(lower, strings.ToLower(listing.Title)) {
		score += 0.2
	}
	if listing.HasPrice() && strings.Contains(text, listing.PriceString()) {
		score += 0.2
	}
	if sender != nil && len(sender.History) > 1 {
		score += 0.1
	}
	if n := len(toneEmoji.FindAllString(text, -1)); n > 0 {
		score += min(float64(n)*0.1, 0.2)
	}
	return models.Clamp01(score)
}
