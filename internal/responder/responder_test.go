package responder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-responder/backend/internal/models"
	apperrors "marketplace-responder/backend/pkg/errors"
)

// seqSource replays fixed draws; once exhausted Float64 returns 0.99 and Intn returns 0
type seqSource struct {
	floats []float64
	ints   []int
}

func (s *seqSource) Float64() float64 {
	if len(s.floats) == 0 {
		return 0.99
	}
	f := s.floats[0]
	s.floats = s.floats[1:]
	return f
}

func (s *seqSource) Intn(n int) int {
	if len(s.ints) == 0 {
		return 0
	}
	i := s.ints[0]
	s.ints = s.ints[1:]
	return i % n
}

func bikeListing() *models.ListingContext {
	return &models.ListingContext{ID: "l1", Title: "Велосипед", Price: 1000, Condition: "отличное"}
}

func TestTemplateSelectAndFill(t *testing.T) {
	e := NewTemplateEngine(&seqSource{})
	require.NoError(t, e.Register(models.Template{
		Name:     "price_title",
		Category: models.PriceQuestion,
		Text:     "Цена {price} рублей за {title}",
	}))

	tpl, ok := e.Select(models.PriceQuestion, bikeListing(), models.NewSenderContext("b1"))
	require.True(t, ok)
	assert.Equal(t, []string{"price", "title"}, tpl.Variables)

	text, err := e.Fill(tpl, bikeListing(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Цена 1000 рублей за Велосипед", text)

	stored, _ := e.Get("price_title")
	assert.Equal(t, 1, stored.UsageCount, "selection counts as a use")
}

func TestTemplateFillMissingVariable(t *testing.T) {
	e := NewTemplateEngine(&seqSource{})
	tpl := &models.Template{Name: "price", Category: models.PriceQuestion, Text: "Цена {price} рублей", Variables: []string{"price"}}

	_, err := e.Fill(tpl, models.DefaultListing("l1"), nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeMissingVariable))
}

func TestTemplateSelectSkipsUnfillableTemplates(t *testing.T) {
	e := NewTemplateEngine(&seqSource{})
	require.NoError(t, e.Restore(DefaultTemplates()))

	_, ok := e.Select(models.PriceQuestion, models.DefaultListing("l1"), nil)
	assert.False(t, ok, "every price template needs {price}")

	_, ok = e.Select(models.Complaint, bikeListing(), nil)
	assert.False(t, ok, "no complaint templates")

	tpl, ok := e.Select(models.Greeting, models.DefaultListing("l1"), nil)
	require.True(t, ok)
	assert.Equal(t, models.Greeting, tpl.Category)
}

func TestTemplateWeights(t *testing.T) {
	assert.Equal(t, 1.0, Weight(0))
	assert.InDelta(t, 0.5, Weight(5), 1e-9)
	assert.InDelta(t, 0.1, Weight(9), 1e-9)
	assert.Equal(t, 0.1, Weight(20))
}

func TestTemplateSelectFavorsLessUsed(t *testing.T) {
	e := NewTemplateEngine(&seqSource{floats: []float64{0.5}})
	require.NoError(t, e.Restore([]models.Template{
		{Name: "a_worn", Category: models.Greeting, Text: "Привет!", UsageCount: 9, Active: true},
		{Name: "b_fresh", Category: models.Greeting, Text: "Здравствуйте!", UsageCount: 0, Active: true},
	}))

	tpl, ok := e.Select(models.Greeting, nil, nil)
	require.True(t, ok)
	assert.Equal(t, "b_fresh", tpl.Name)
}

func TestTemplateRegisterValidates(t *testing.T) {
	e := NewTemplateEngine(&seqSource{})
	err := e.Register(models.Template{
		Name:      "bad",
		Category:  models.PriceQuestion,
		Text:      "Цена {price}",
		Variables: []string{"title"},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	err = e.Register(models.Template{Name: "bad", Category: "haggle", Text: "Торг"})
	assert.Error(t, err)
}

func TestTemplateDeactivateAndOutcomes(t *testing.T) {
	e := NewTemplateEngine(&seqSource{})
	require.NoError(t, e.Register(models.Template{Name: "hi", Category: models.Greeting, Text: "Привет!"}))

	require.NoError(t, e.RecordOutcome("hi", true))
	require.NoError(t, e.RecordOutcome("hi", false))
	require.NoError(t, e.RecordOutcome("hi", true))
	tpl, _ := e.Get("hi")
	assert.Equal(t, 3, tpl.Outcomes)
	assert.InDelta(t, 2.0/3.0, tpl.SuccessRate, 1e-9)

	require.NoError(t, e.Deactivate("hi"))
	_, ok := e.Select(models.Greeting, nil, nil)
	assert.False(t, ok)

	assert.True(t, apperrors.HasCode(e.Deactivate("nope"), apperrors.CodeNotFound))
	assert.True(t, apperrors.HasCode(e.RecordOutcome("nope", true), apperrors.CodeNotFound))
}

func TestDefaultTemplates(t *testing.T) {
	templates := DefaultTemplates()
	require.Len(t, templates, 12)
	for _, tpl := range templates {
		assert.True(t, tpl.Active, tpl.Name)
		assert.NoError(t, tpl.Validate())
		if tpl.Category == models.PriceQuestion {
			assert.Equal(t, []string{"price"}, tpl.Variables, tpl.Name)
		}
	}
}

func TestTemplatesYAMLRoundTrip(t *testing.T) {
	in := []models.Template{{Name: "meet", Category: models.MeetingRequest, Text: "Жду в {location}", Variables: []string{"location"}}}
	data, err := MarshalTemplatesYAML(in)
	require.NoError(t, err)

	out, err := ParseTemplatesYAML(data)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in[0].Name, out[0].Name)
	assert.Equal(t, in[0].Text, out[0].Text)
	assert.Equal(t, in[0].Variables, out[0].Variables)
}

func TestPersonalize(t *testing.T) {
	sender := models.NewSenderContext("b1")
	sender.Name = "Анна"

	p := NewPersonalizationEngine(&seqSource{floats: []float64{0.1, 0.1}, ints: []int{2, 0}})
	out := p.Personalize("Цена 1000 руб.", sender, models.PriceQuestion, models.StyleFriendly)
	assert.Equal(t, "💰 Здравствуйте, Анна! Цена 1000 руб.", out)

	p = NewPersonalizationEngine(&seqSource{floats: []float64{0.1, 0.1}})
	out = p.Personalize("Цена 1000 руб.", sender, models.PriceQuestion, models.StyleProfessional)
	assert.Equal(t, "Анна, Цена 1000 руб.", out, "no emoji in professional style")

	p = NewPersonalizationEngine(&seqSource{floats: []float64{0.8}})
	out = p.Personalize("Цена 1000 руб.", sender, models.PriceQuestion, models.StyleProfessional)
	assert.Equal(t, "Цена 1000 руб.", out)
}

func TestPersonalizeClosingPhrase(t *testing.T) {
	long := strings.Repeat("Отличный велосипед. ", 6)
	p := NewPersonalizationEngine(&seqSource{floats: []float64{0.2}, ints: []int{3}})

	out := p.Personalize(long, models.NewSenderContext("b1"), models.GeneralQuestion, models.StyleFriendly)
	assert.Equal(t, long+" Всегда на связи!", out)
}

func TestQualityScore(t *testing.T) {
	q := NewQualityScorer()
	sender := models.NewSenderContext("b1")
	sender.Name = "Анна"
	high := models.Analysis{Type: models.PriceQuestion, Urgency: models.UrgencyHigh}

	m := q.Score("Анна, спасибо! Цена 1000 руб, рад помочь 💰", &high, sender, bikeListing())
	assert.Equal(t, 1.0, m.Readability)
	assert.InDelta(t, 0.9, m.Politeness, 1e-9)
	assert.Equal(t, 0.5, m.UrgencyMatch)
	assert.InDelta(t, 0.7, m.Personalization, 1e-9)
	assert.InDelta(t, 0.3+0.18+0.1+0.21, m.PredictedResponseRate, 1e-9)
	assert.InDelta(t, m.PredictedResponseRate*0.7, m.PredictedConversionRate, 1e-9)

	low := models.Analysis{Urgency: models.UrgencyLow}
	m = q.Score("Необходимо осуществить доставку срочно", &low, nil, nil)
	assert.Equal(t, 0.0, m.Readability)
	assert.Equal(t, 0.7, m.UrgencyMatch)
}

func TestQualityScoreRewardsEchoingTheBuyer(t *testing.T) {
	q := NewQualityScorer()
	sender := models.NewSenderContext("b1")
	sender.Remember(models.HistoryEntry{Text: "можно забрать велосипед завтра вечером?"}, 10)
	analysis := models.DefaultAnalysis()

	m := q.Score("Да, забрать велосипед завтра вечером можно", &analysis, sender, nil)
	assert.InDelta(t, 0.3, m.Personalization, 1e-9)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "Привет мир.", Format("  привет \n  мир ", 10, 500))
	assert.Equal(t, "Ок Буду рад ответить на ваши вопросы!", Format("ок", 10, 500))
	assert.Equal(t, "Буду рад ответить на ваши вопросы!", Format("   ", 10, 500))
	assert.Equal(t, "Цена 1000 руб?", Format("цена 1000 руб?", 10, 500))

	long := Format(strings.Repeat("а", 600), 10, 500)
	assert.Equal(t, 500, utf8.RuneCountInString(long))
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.True(t, strings.HasPrefix(long, "А"))

	exact := Format(strings.Repeat("б", 500), 10, 500)
	assert.Equal(t, 500, utf8.RuneCountInString(exact))
	assert.True(t, strings.HasSuffix(exact, "."))
}

func TestEngagement(t *testing.T) {
	positive := models.Analysis{Type: models.Greeting, Sentiment: models.SentimentPositive}
	text := "Здравствуйте! Велосипед ещё в продаже, когда удобно посмотреть?"
	assert.InDelta(t, 1.0, Engagement(text, &positive, models.StyleFriendly), 1e-9)

	price := models.Analysis{Type: models.PriceQuestion, Sentiment: models.SentimentNeutral}
	assert.InDelta(t, 0.7, Engagement("Цена 1000.", &price, models.StyleSales), 1e-9)
	assert.InDelta(t, 0.5, Engagement("Цена 1000.", &price, models.StyleProfessional), 1e-9)
}

type generateRecorder struct {
	calls []models.ResponseStyle
	text  string
	err   error
}

func (g *generateRecorder) Generate(_ context.Context, style models.ResponseStyle) (string, error) {
	g.calls = append(g.calls, style)
	return g.text, g.err
}

func newTestComposer(prob float64) *Composer {
	rnd := &seqSource{}
	templates := NewTemplateEngine(rnd)
	if err := templates.Restore(DefaultTemplates()); err != nil {
		panic(err)
	}
	return NewComposer(ComposerConfig{
		TemplateProbability: prob,
		Style:               models.StyleFriendly,
		MinLength:           10,
		MaxLength:           500,
	}, templates, rnd, nil)
}

func TestComposeUsesTemplateWithoutGenerating(t *testing.T) {
	c := newTestComposer(1)
	gen := &generateRecorder{text: "сгенерировано"}
	analysis := models.Analysis{Type: models.PriceQuestion, Urgency: models.UrgencyMedium}

	comp := c.Compose(context.Background(), &analysis, models.NewSenderContext("b1"), bikeListing(), gen.Generate)
	assert.True(t, comp.TemplateUsed)
	assert.NotEmpty(t, comp.TemplateName)
	assert.Contains(t, comp.Text, "1000")
	assert.Empty(t, gen.calls, "generation is lazy")
	assert.Equal(t, uint64(1), c.Stats().Templates)
}

func TestComposeGeneratesInPreferredStyle(t *testing.T) {
	c := newTestComposer(0)
	gen := &generateRecorder{text: "  велосипед   в наличии  "}
	sender := models.NewSenderContext("b1")
	sender.PreferredStyle = models.StyleSales
	analysis := models.Analysis{Type: models.Availability}

	comp := c.Compose(context.Background(), &analysis, sender, bikeListing(), gen.Generate)
	assert.Equal(t, []models.ResponseStyle{models.StyleSales}, gen.calls)
	assert.Equal(t, "Велосипед в наличии.", comp.Text)
	assert.False(t, comp.TemplateUsed)
	assert.Equal(t, models.StyleSales, comp.Style)
	assert.Equal(t, utf8.RuneCountInString(comp.Text), comp.Metrics.Length)
}

func TestComposeFallsBackWhenGenerationFails(t *testing.T) {
	c := newTestComposer(0)
	gen := &generateRecorder{err: errors.New("provider down")}
	analysis := models.Analysis{Type: models.PriceQuestion}

	comp := c.Compose(context.Background(), &analysis, models.NewSenderContext("b1"), bikeListing(), gen.Generate)
	assert.True(t, comp.Fallback)
	assert.Equal(t, "Цена 1000 руб. Торг возможен!", comp.Text)
	assert.Error(t, comp.GenerationErr)
	assert.Equal(t, uint64(1), c.Stats().Fallbacks)
}

func TestComposeVariants(t *testing.T) {
	c := newTestComposer(0)
	gen := &generateRecorder{text: "Велосипед в отличном состоянии, приезжайте посмотреть"}
	analysis := models.Analysis{Type: models.PriceQuestion, Sentiment: models.SentimentNeutral}

	variants := c.ComposeVariants(context.Background(), 10, &analysis, models.NewSenderContext("b1"), bikeListing(), gen.Generate)
	require.Len(t, variants, 4)
	for i, v := range variants {
		assert.Equal(t, VariantStyles[i], v.Style)
		assert.Equal(t, i%2 == 0, v.TemplateUsed, "variant %d", i)
		assert.GreaterOrEqual(t, v.Engagement, 0.5)
		assert.LessOrEqual(t, v.Engagement, 1.0)
	}
	assert.Equal(t, []models.ResponseStyle{models.StyleProfessional, models.StyleCasual}, gen.calls)

	assert.Nil(t, c.ComposeVariants(context.Background(), 0, &analysis, nil, bikeListing(), gen.Generate))
}
