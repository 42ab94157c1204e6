package responder

import (
	"context"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/pkg/config"
	"marketplace-responder/backend/pkg/logger"
)

const shortReplyPadding = "Буду рад ответить на ваши вопросы!"

// GenerateFunc produces model text in the given style; it is only called when needed
type GenerateFunc func(ctx context.Context, style models.ResponseStyle) (string, error)

// ComposerConfig tunes reply composition
type ComposerConfig struct {
	TemplateProbability float64
	Style               models.ResponseStyle
	MinLength           int
	MaxLength           int
}

// ComposerConfigFrom derives composer settings from the application config
func ComposerConfigFrom(cfg *config.Config) ComposerConfig {
	style, err := models.ParseStyle(cfg.Responder.ResponseStyle)
	if err != nil {
		style = models.StyleFriendly
	}
	return ComposerConfig{
		TemplateProbability: cfg.Responder.TemplateProbability,
		Style:               style,
		MinLength:           cfg.Responder.MinResponseLength,
		MaxLength:           cfg.Responder.MaxResponseLength,
	}
}

// Composition is a finished reply
type Composition struct {
	Text         string                `json:"text"`
	Metrics      models.QualityMetrics `json:"metrics"`
	TemplateUsed bool                  `json:"template_used"`
	TemplateName string                `json:"template_name,omitempty"`
	Fallback     bool                  `json:"fallback"`
	Style        models.ResponseStyle  `json:"style"`
	// GenerationErr is the generation failure that led to a fallback, if any
	GenerationErr error `json:"-"`
}

// Variant is one candidate reply of an A/B experiment
type Variant struct {
	Text                 string               `json:"text"`
	Style                models.ResponseStyle `json:"style"`
	TemplateUsed         bool                 `json:"template_used"`
	TemplateName         string               `json:"template_name,omitempty"`
	Fallback             bool                 `json:"fallback"`
	PersonalizationLevel float64              `json:"personalization_level"`
	Engagement           float64              `json:"estimated_engagement"`
}

// ComposerStats counts where replies came from
type ComposerStats struct {
	Composed  uint64 `json:"composed"`
	Templates uint64 `json:"templates_used"`
	Generated uint64 `json:"generated_used"`
	Fallbacks uint64 `json:"fallbacks_used"`
}

// VariantStyles are the styles ComposeVariants walks through, in order
var VariantStyles = []models.ResponseStyle{
	models.StyleFriendly,
	models.StyleProfessional,
	models.StyleSales,
	models.StyleCasual,
}

// Composer turns an analysis into a final reply
type Composer struct {
	cfg          ComposerConfig
	templates    *TemplateEngine
	personalizer *PersonalizationEngine
	scorer       *QualityScorer
	rnd          Source
	log          *logger.Logger

	composed  atomic.Uint64
	templated atomic.Uint64
	generated atomic.Uint64
	fallbacks atomic.Uint64
}

// NewComposer wires the composer's engines; they all draw from rnd
func NewComposer(cfg ComposerConfig, templates *TemplateEngine, rnd Source, log *logger.Logger) *Composer {
	if rnd == nil {
		rnd = NewSource(0)
	}
	if templates == nil {
		templates = NewTemplateEngine(rnd)
	}
	if cfg.Style == "" {
		cfg.Style = models.StyleFriendly
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Composer{
		cfg:          cfg,
		templates:    templates,
		personalizer: NewPersonalizationEngine(rnd),
		scorer:       NewQualityScorer(),
		rnd:          rnd,
		log:          log.With("component", "composer"),
	}
}

// Templates returns the template engine the composer selects from
func (c *Composer) Templates() *TemplateEngine {
	return c.templates
}

// Compose builds the reply for analysis; generate is called only when no template is used
func (c *Composer) Compose(ctx context.Context, analysis *models.Analysis, sender *models.SenderContext, listing *models.ListingContext, generate GenerateFunc) Composition {
	c.composed.Add(1)
	comp := Composition{Style: c.styleFor(sender)}

	var base string
	if c.rnd.Float64() < c.cfg.TemplateProbability {
		base, comp.TemplateName = c.fromTemplate(analysis.Type, listing, sender)
		comp.TemplateUsed = base != ""
	}
	if base == "" {
		base, comp.GenerationErr = c.fromModel(ctx, comp.Style, generate)
	}
	if base == "" {
		base = Fallback(analysis.Type, listing)
		comp.Fallback = true
	}
	c.count(comp.TemplateUsed, comp.Fallback)

	personalized := c.personalizer.Personalize(base, sender, analysis.Type, comp.Style)
	comp.Text = Format(personalized, c.cfg.MinLength, c.cfg.MaxLength)
	comp.Metrics = c.scorer.Score(comp.Text, analysis, sender, listing)
	return comp
}

// ComposeVariants builds up to len(VariantStyles) replies; even positions try a template first
func (c *Composer) ComposeVariants(ctx context.Context, n int, analysis *models.Analysis, sender *models.SenderContext, listing *models.ListingContext, generate GenerateFunc) []Variant {
	n = min(n, len(VariantStyles))
	if n <= 0 {
		return nil
	}

	variants := make([]Variant, 0, n)
	for i := 0; i < n; i++ {
		style := VariantStyles[i]
		v := Variant{Style: style}

		var base string
		if i%2 == 0 {
			base, v.TemplateName = c.fromTemplate(analysis.Type, listing, sender)
			v.TemplateUsed = base != ""
		}
		if base == "" {
			base, _ = c.fromModel(ctx, style, generate)
		}
		if base == "" {
			base = Fallback(analysis.Type, listing)
			v.Fallback = true
		}

		personalized := c.personalizer.Personalize(base, sender, analysis.Type, style)
		v.Text = Format(personalized, c.cfg.MinLength, c.cfg.MaxLength)
		v.PersonalizationLevel = c.personalizer.Level(v.Text, sender, listing)
		v.Engagement = Engagement(v.Text, analysis, style)
		variants = append(variants, v)
	}
	return variants
}

// Stats returns composition counters
func (c *Composer) Stats() ComposerStats {
	return ComposerStats{
		Composed:  c.composed.Load(),
		Templates: c.templated.Load(),
		Generated: c.generated.Load(),
		Fallbacks: c.fallbacks.Load(),
	}
}

func (c *Composer) count(template, fallback bool) {
	switch {
	case template:
		c.templated.Add(1)
	case fallback:
		c.fallbacks.Add(1)
	default:
		c.generated.Add(1)
	}
}

func (c *Composer) styleFor(sender *models.SenderContext) models.ResponseStyle {
	if sender != nil && sender.PreferredStyle != "" {
		return sender.PreferredStyle
	}
	return c.cfg.Style
}

func (c *Composer) fromTemplate(mt models.MessageType, listing *models.ListingContext, sender *models.SenderContext) (string, string) {
	t, ok := c.templates.Select(mt, listing, sender)
	if !ok {
		return "", ""
	}
	text, err := c.templates.Fill(t, listing, sender)
	if err != nil {
		c.log.Warn("Template fill failed", "template", t.Name, "error", err)
		return "", ""
	}
	return text, t.Name
}

func (c *Composer) fromModel(ctx context.Context, style models.ResponseStyle, generate GenerateFunc) (string, error) {
	if generate == nil {
		return "", nil
	}
	text, err := generate(ctx, style)
	if err != nil {
		c.log.Warn("Reply generation failed, using fallback", "style", style, "error", err)
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Format collapses whitespace, enforces the length bounds, ends the text with punctuation and capitalizes it
func Format(text string, minLength, maxLength int) string {
	out := strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(out) < minLength {
		if out == "" {
			out = shortReplyPadding
		} else {
			out += " " + shortReplyPadding
		}
	}

	if maxLength > 3 && utf8.RuneCountInString(out) > maxLength {
		runes := []rune(out)
		out = string(runes[:maxLength-3]) + "..."
	}

	if !strings.HasSuffix(out, ".") && !strings.HasSuffix(out, "!") && !strings.HasSuffix(out, "?") {
		if maxLength > 0 && utf8.RuneCountInString(out) >= maxLength {
			runes := []rune(out)
			out = string(runes[:len(runes)-1])
		}
		out += "."
	}

	first, size := utf8.DecodeRuneInString(out)
	return string(unicode.ToUpper(first)) + out[size:]
}

// Engagement is a rough estimate of how likely a reply keeps the buyer talking
func Engagement(text string, analysis *models.Analysis, style models.ResponseStyle) float64 {
	score := 0.5
	if n := utf8.RuneCountInString(text); n >= 50 && n <= 200 {
		score += 0.2
	}
	switch {
	case style == models.StyleFriendly && analysis.Sentiment == models.SentimentPositive:
		score += 0.2
	case style == models.StyleSales && analysis.Type == models.PriceQuestion:
		score += 0.2
	}
	if strings.Contains(text, "?") {
		score += 0.1
	}
	if toneEmoji.MatchString(text) {
		score += 0.1
	}
	return models.Clamp01(score)
}
