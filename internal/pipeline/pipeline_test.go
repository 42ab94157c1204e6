package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"marketplace-responder/backend/ai"
	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/internal/responder"
	"marketplace-responder/backend/internal/store"
	apperrors "marketplace-responder/backend/pkg/errors"
	"marketplace-responder/backend/pkg/resilience"
)

const priceAnalysis = `{"message_type":"price_question","confidence":0.9,"intent":"узнать цену","sentiment":"neutral","urgency":"medium","keywords_found":["цена"],"requires_human":false}`

// fakeProvider answers analysis (JSON) requests and reply requests separately
type fakeProvider struct {
	mu            sync.Mutex
	analysisErrs  []error
	analysis      string
	replyErr      error
	reply         string
	calls         int
	analysisCalls int
	replyCalls    int
}

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) Generate(_ context.Context, req ai.Request) (*ai.GeneratedText, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	if req.Options.JSON {
		p.analysisCalls++
		if p.analysisCalls <= len(p.analysisErrs) {
			return nil, p.analysisErrs[p.analysisCalls-1]
		}
		return &ai.GeneratedText{Text: p.analysis, Usage: ai.TokenUsage{TotalTokens: 20}}, nil
	}

	p.replyCalls++
	if p.replyErr != nil {
		return nil, p.replyErr
	}
	return &ai.GeneratedText{Text: p.reply, Usage: ai.TokenUsage{TotalTokens: 10}}, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fixedSource always draws f, which keeps personalization and template choice predictable
type fixedSource struct{ f float64 }

func (s fixedSource) Float64() float64 { return s.f }
func (s fixedSource) Intn(int) int { return 0 }

type testSetup struct {
	templateProbability float64
	provider            ai.Provider
	inference           Inference
	maxRetries          int
	cfg                 func(*Config)
	// now overrides the fixed test clock when set
	now *time.Time
}

func newTestPipeline(t *testing.T, setup testSetup) (*Pipeline, *store.MemoryStore) {
	t.Helper()

	rnd := fixedSource{f: 0.99}
	templates := responder.NewTemplateEngine(rnd)
	require.NoError(t, templates.Restore(responder.DefaultTemplates()))
	composer := responder.NewComposer(responder.ComposerConfig{
		TemplateProbability: setup.templateProbability,
		Style:               models.StyleFriendly,
		MinLength:           10,
		MaxLength:           500,
	}, templates, rnd, nil)

	inference := setup.inference
	if setup.provider != nil {
		retry := resilience.DefaultRetryPolicy()
		retry.MaxRetries = setup.maxRetries
		retry.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
		gateway, err := ai.NewGateway(setup.provider, ai.GatewayConfig{
			Model:     "test-model",
			Timeout:   time.Second,
			Retry:     retry,
			CacheTTL:  time.Hour,
			CacheSize: 100,
		}, nil)
		require.NoError(t, err)
		inference = gateway
	}

	cfg := Config{
		MinMessageLength:     2,
		MaxMessageLength:     1000,
		SpamDetectionEnabled: true,
		HistoryLimit:         10,
		DuplicateWindowSize:  100,
		RateLimitMessages:    5,
		RateLimitWindow:      300 * time.Second,
		SpamCacheSize:        100,
	}
	if setup.cfg != nil {
		setup.cfg(&cfg)
	}

	now := setup.now
	if now == nil {
		fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		now = &fixed
	}
	senders := store.NewMemoryStore()
	require.NoError(t, senders.SaveListing(context.Background(), bike()))
	p, err := New(cfg, Dependencies{
		Inference: inference,
		Composer:  composer,
		Senders:   senders,
		Listings:  senders,
		Now:       func() time.Time { return *now },
	}, nil)
	require.NoError(t, err)
	return p, senders
}

func message(id, sender, text string) models.IncomingMessage {
	return models.IncomingMessage{ID: id, SenderID: sender, ListingID: "bike", Text: text}
}

func bike() *models.ListingContext {
	return &models.ListingContext{ID: "bike", Title: "Велосипед", Price: 1000, Condition: "отличное"}
}

func TestPriceQuestionFallsBackWhenModelRejectsRequests(t *testing.T) {
	provider := &fakeProvider{
		analysisErrs: []error{&ai.StatusError{StatusCode: 401}},
		replyErr:     &ai.StatusError{StatusCode: 401},
	}
	p, _ := newTestPipeline(t, testSetup{provider: provider, maxRetries: 3})

	res := p.HandleMessage(context.Background(), message("m1", "b1", "сколько стоит?"), nil, bike())

	assert.Equal(t, models.StatusProcessed, res.Status)
	assert.Equal(t, models.StageDone, res.Stage)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, models.PriceQuestion, res.Analysis.Type)
	assert.Greater(t, res.Analysis.Confidence, 0.0)
	assert.Contains(t, res.Response, "1000")
	assert.Equal(t, "Цена 1000 руб. Торг возможен!", res.Response)
	assert.True(t, res.RequiresHuman, "analysis failure needs a human look")
	assert.Equal(t, 2, provider.Calls(), "fatal errors are not retried")
}

func TestSixthMessageInWindowIsRateLimited(t *testing.T) {
	p, _ := newTestPipeline(t, testSetup{})

	for i := 1; i <= 5; i++ {
		res := p.HandleMessage(context.Background(), message(fmt.Sprintf("m%d", i), "b1", "Велосипед ещё продаётся?"), nil, bike())
		require.Equal(t, models.StatusProcessed, res.Status, "message %d", i)
	}

	res := p.HandleMessage(context.Background(), message("m6", "b1", "Велосипед ещё продаётся?"), nil, bike())
	assert.Equal(t, models.StatusBlocked, res.Status)
	assert.Equal(t, apperrors.CodeRateLimited, res.ErrorCode)
	assert.Greater(t, res.RetryAfterSeconds, 0)
	assert.Empty(t, res.Response)

	other := p.HandleMessage(context.Background(), message("m7", "b2", "Велосипед ещё продаётся?"), nil, bike())
	assert.Equal(t, models.StatusProcessed, other.Status, "limits are per sender")

	m := p.Metrics()
	assert.Equal(t, uint64(7), m.Received)
	assert.Equal(t, uint64(6), m.Processed)
	assert.Equal(t, uint64(1), m.Blocked)
	assert.Equal(t, uint64(1), m.RateLimited)
}

func TestSpamIsBlockedAndSenderFlagged(t *testing.T) {
	p, senders := newTestPipeline(t, testSetup{})
	text := "Быстрые деньги! Заработок на криптовалюта, пишите в телеграм @moneyguy"

	res := p.HandleMessage(context.Background(), message("m1", "spammer", text), nil, bike())
	assert.Equal(t, models.StatusBlocked, res.Status)
	assert.True(t, res.IsSpam)
	assert.Equal(t, apperrors.CodeSpam, res.ErrorCode)
	assert.Equal(t, 1.0, res.SpamScore)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, models.Spam, res.Analysis.Type)
	assert.Empty(t, res.Response)

	sender, err := senders.GetSender(context.Background(), "spammer")
	require.NoError(t, err)
	assert.True(t, sender.Flagged)
	assert.False(t, sender.SeriousBuyer)
	assert.Empty(t, sender.History, "blocked messages are not remembered")

	m := p.Metrics()
	assert.Equal(t, uint64(1), m.Spam)
	assert.Equal(t, uint64(1), m.Blocked)
}

func TestTransientTimeoutsAreRetried(t *testing.T) {
	provider := &fakeProvider{
		analysisErrs: []error{context.DeadlineExceeded, context.DeadlineExceeded},
		analysis:     priceAnalysis,
	}
	p, _ := newTestPipeline(t, testSetup{provider: provider, maxRetries: 3, templateProbability: 1})

	res := p.HandleMessage(context.Background(), message("m1", "b1", "Какая цена велосипеда?"), nil, bike())

	assert.Equal(t, models.StatusProcessed, res.Status)
	assert.Equal(t, 3, provider.Calls())
	assert.True(t, res.TemplateUsed)
	assert.Contains(t, res.Response, "1000")
	assert.False(t, res.RequiresHuman)
	require.NotNil(t, res.Analysis)
	assert.Equal(t, models.PriceQuestion, res.Analysis.Type)
	assert.Equal(t, 0.9, res.Analysis.Confidence)

	stats := p.Metrics().Gateway
	require.NotNil(t, stats)
	assert.Equal(t, uint64(3), stats.ProviderCalls)
}

func TestLengthBoundsAreCheckedBeforeClassification(t *testing.T) {
	p, _ := newTestPipeline(t, testSetup{cfg: func(c *Config) {
		c.MinMessageLength = 5
		c.MaxMessageLength = 20
	}})

	tooShort := p.HandleMessage(context.Background(), message("m1", "b1", "цена"), nil, bike())
	assert.Equal(t, models.StatusBlocked, tooShort.Status)
	assert.Equal(t, apperrors.CodeValidation, tooShort.ErrorCode)
	assert.Nil(t, tooShort.Analysis)

	tooLong := p.HandleMessage(context.Background(), message("m2", "b1", strings.Repeat("ц", 21)), nil, bike())
	assert.Equal(t, models.StatusBlocked, tooLong.Status)
	assert.Equal(t, apperrors.CodeValidation, tooLong.ErrorCode)
	assert.Nil(t, tooLong.Analysis)

	assert.Equal(t, uint64(0), p.Metrics().SpamEvaluations, "rejected before any later stage ran")

	atMin := p.HandleMessage(context.Background(), message("m3", "b1", "цена?"), nil, bike())
	assert.Equal(t, models.StatusProcessed, atMin.Status)
	atMax := p.HandleMessage(context.Background(), message("m4", "b1", strings.Repeat("ц", 19)+"?"), nil, bike())
	assert.Equal(t, models.StatusProcessed, atMax.Status)
}

func TestMissingIdsAreRejected(t *testing.T) {
	p, _ := newTestPipeline(t, testSetup{})

	res := p.HandleMessage(context.Background(), models.IncomingMessage{ID: "m1", Text: "сколько стоит?"}, nil, nil)
	assert.Equal(t, models.StatusBlocked, res.Status)
	assert.Equal(t, apperrors.CodeValidation, res.ErrorCode)
}

func TestDuplicateMessageIsBlocked(t *testing.T) {
	p, _ := newTestPipeline(t, testSetup{})

	first := p.HandleMessage(context.Background(), message("m1", "b1", "сколько стоит?"), nil, bike())
	require.Equal(t, models.StatusProcessed, first.Status)

	again := p.HandleMessage(context.Background(), message("m1", "b1", "сколько стоит?"), nil, bike())
	assert.Equal(t, models.StatusBlocked, again.Status)
	assert.True(t, again.IsDuplicate)
	assert.Equal(t, apperrors.CodeDuplicate, again.ErrorCode)
	assert.Equal(t, uint64(1), p.Metrics().Duplicates)
}

func TestRateLimitedMessageIsHandledWhenResentAfterWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p, _ := newTestPipeline(t, testSetup{now: &now, cfg: func(c *Config) {
		c.RateLimitMessages = 1
		c.RateLimitWindow = time.Minute
	}})

	first := p.HandleMessage(context.Background(), message("m1", "b1", "сколько стоит?"), nil, bike())
	require.Equal(t, models.StatusProcessed, first.Status)

	limited := p.HandleMessage(context.Background(), message("m2", "b1", "а торг возможен?"), nil, bike())
	require.Equal(t, models.StatusBlocked, limited.Status)
	require.Equal(t, apperrors.CodeRateLimited, limited.ErrorCode)
	assert.Equal(t, 60, limited.RetryAfterSeconds)

	now = now.Add(2 * time.Minute)
	resent := p.HandleMessage(context.Background(), message("m2", "b1", "а торг возможен?"), nil, bike())
	assert.Equal(t, models.StatusProcessed, resent.Status)
	assert.False(t, resent.IsDuplicate)
	assert.NotEmpty(t, resent.Response)

	again := p.HandleMessage(context.Background(), message("m2", "b1", "а торг возможен?"), nil, bike())
	assert.True(t, again.IsDuplicate, "a processed id is remembered")
	assert.Equal(t, uint64(1), p.Metrics().Duplicates)
}

func TestZeroRateLimitFallsBackToDefault(t *testing.T) {
	p, _ := newTestPipeline(t, testSetup{cfg: func(c *Config) {
		c.RateLimitMessages = 0
		c.RateLimitWindow = 0
	}})

	for i := 1; i <= 5; i++ {
		res := p.HandleMessage(context.Background(), message(fmt.Sprintf("m%d", i), "b1", "Велосипед ещё продаётся?"), nil, bike())
		require.Equal(t, models.StatusProcessed, res.Status, "message %d", i)
	}
	res := p.HandleMessage(context.Background(), message("m6", "b1", "Велосипед ещё продаётся?"), nil, bike())
	assert.Equal(t, apperrors.CodeRateLimited, res.ErrorCode)
	assert.Equal(t, 300, res.RetryAfterSeconds)
}

type panickingInference struct{}

func (panickingInference) Analyze(context.Context, string, *models.SenderContext, *models.ListingContext) (*models.Analysis, error) {
	panic("analysis exploded")
}

func (panickingInference) GenerateReply(context.Context, string, *models.Analysis, *models.SenderContext, *models.ListingContext, models.ResponseStyle) (string, error) {
	return "", nil
}

func (panickingInference) ClearCache() {}

func TestPanicBecomesErrorResult(t *testing.T) {
	p, _ := newTestPipeline(t, testSetup{inference: panickingInference{}})

	res := p.HandleMessage(context.Background(), message("m1", "b1", "сколько стоит?"), nil, bike())
	assert.Equal(t, models.StatusError, res.Status)
	assert.Equal(t, models.StageError, res.Stage)
	assert.Equal(t, apperrors.CodeInternal, res.ErrorCode)
	assert.True(t, res.RequiresHuman)
	assert.Equal(t, responder.Fallback(models.GeneralQuestion, nil), res.Response)
	assert.NotContains(t, res.Response, "exploded")

	done := make(chan models.ProcessedMessage, 1)
	go func() {
		done <- p.HandleMessage(context.Background(), message("m2", "b1", "сколько стоит?"), nil, bike())
	}()
	select {
	case next := <-done:
		assert.Equal(t, models.StatusError, next.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("sender lock was not released after a panic")
	}
	assert.Equal(t, uint64(2), p.Metrics().Errors)

	retried := p.HandleMessage(context.Background(), message("m1", "b1", "сколько стоит?"), nil, bike())
	assert.False(t, retried.IsDuplicate, "failed messages can be resent")
	assert.Equal(t, models.StatusError, retried.Status)
}

func TestAnalysisMergePrefersKeywordsWhenMoreConfident(t *testing.T) {
	provider := &fakeProvider{
		analysis: `{"message_type":"general_question","confidence":0.1,"keywords_found":["вопрос"]}`,
		reply:    "Цена 1000 рублей, торг уместен",
	}
	p, _ := newTestPipeline(t, testSetup{provider: provider})

	res := p.HandleMessage(context.Background(), message("m1", "b1", "сколько стоит?"), nil, bike())
	require.Equal(t, models.StatusProcessed, res.Status)
	assert.Equal(t, models.PriceQuestion, res.Analysis.Type)
	assert.InDelta(t, 2.0/14.0, res.Analysis.Confidence, 1e-9)
	assert.Equal(t, []string{"вопрос", "сколько", "стоит"}, res.Analysis.Keywords)
	assert.Equal(t, "Цена 1000 рублей, торг уместен.", res.Response)
	require.NotNil(t, res.Quality)
	assert.Equal(t, len([]rune(res.Response)), res.Quality.Length)
}

func TestSenderContextIsUpdated(t *testing.T) {
	p, senders := newTestPipeline(t, testSetup{})

	res := p.HandleMessage(context.Background(), message("m1", "b1", "сколько стоит?"), nil, bike())
	require.Equal(t, models.StatusProcessed, res.Status)

	sender, err := senders.GetSender(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, sender.History, 1)
	assert.Equal(t, "сколько стоит?", sender.History[0].Text)
	assert.Equal(t, res.Response, sender.History[0].Response)
	assert.True(t, sender.SeriousBuyer)
	assert.False(t, sender.LastInteraction.IsZero())
}

func TestHistoryStaysBounded(t *testing.T) {
	p, senders := newTestPipeline(t, testSetup{cfg: func(c *Config) {
		c.RateLimitMessages = 100
		c.HistoryLimit = 3
	}})

	for i := 0; i < 5; i++ {
		p.HandleMessage(context.Background(), message(fmt.Sprintf("m%d", i), "b1", fmt.Sprintf("вопрос номер %d", i)), nil, bike())
	}
	sender, err := senders.GetSender(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, sender.History, 3)
	assert.Equal(t, "вопрос номер 4", sender.History[2].Text)
}

func TestSameSenderMessagesAreSerialized(t *testing.T) {
	p, senders := newTestPipeline(t, testSetup{cfg: func(c *Config) { c.RateLimitMessages = 100 }})

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.HandleMessage(context.Background(), message(fmt.Sprintf("m%d", i), "b1", fmt.Sprintf("Когда можно посмотреть? %d", i)), nil, bike())
		}(i)
	}
	wg.Wait()

	sender, err := senders.GetSender(context.Background(), "b1")
	require.NoError(t, err)
	assert.Len(t, sender.History, n, "no lost updates")
	assert.Equal(t, 0, p.locks.Len())
}

func TestSpamDetectionCanBeDisabled(t *testing.T) {
	p, _ := newTestPipeline(t, testSetup{cfg: func(c *Config) { c.SpamDetectionEnabled = false }})

	res := p.HandleMessage(context.Background(), message("m1", "b1", "Заработок на криптовалюта, биткоин, пирамида"), nil, bike())
	assert.Equal(t, models.StatusProcessed, res.Status)
	assert.False(t, res.IsSpam)
}

func TestClearCacheForcesSpamReevaluation(t *testing.T) {
	p, _ := newTestPipeline(t, testSetup{cfg: func(c *Config) { c.RateLimitMessages = 100 }})

	p.HandleMessage(context.Background(), message("m1", "b1", "сколько стоит?"), nil, bike())
	p.HandleMessage(context.Background(), message("m2", "b2", "  СКОЛЬКО СТОИТ?  "), nil, bike())
	assert.Equal(t, uint64(1), p.Metrics().SpamEvaluations)

	p.ClearCache()
	p.HandleMessage(context.Background(), message("m3", "b1", "сколько стоит?"), nil, bike())
	assert.Equal(t, uint64(2), p.Metrics().SpamEvaluations)
}

func TestVariantsLeaveLimitsAndHistoryAlone(t *testing.T) {
	provider := &fakeProvider{analysis: priceAnalysis, reply: "Велосипед в отличном состоянии, приезжайте посмотреть"}
	p, senders := newTestPipeline(t, testSetup{provider: provider})

	variants, analysis, err := p.Variants(context.Background(), message("m1", "b1", "сколько стоит?"), 3)
	require.NoError(t, err)
	require.Len(t, variants, 3)
	assert.Equal(t, models.PriceQuestion, analysis.Type)
	assert.Equal(t, models.StyleFriendly, variants[0].Style)
	assert.True(t, variants[0].TemplateUsed)
	assert.False(t, variants[1].TemplateUsed)

	assert.Equal(t, uint64(0), p.Metrics().Received)
	_, err = senders.GetSender(context.Background(), "b1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = p.Variants(context.Background(), message("m2", "b1", "?"), 3)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestListingIsLoadedFromStore(t *testing.T) {
	listings := store.NewMemoryStore()
	require.NoError(t, listings.SaveListing(context.Background(), bike()))

	rnd := fixedSource{f: 0.99}
	composer := responder.NewComposer(responder.ComposerConfig{MinLength: 10, MaxLength: 500}, nil, rnd, nil)
	p, err := New(Config{MinMessageLength: 2, MaxMessageLength: 1000, RateLimitMessages: 5, RateLimitWindow: time.Minute},
		Dependencies{Composer: composer, Listings: listings}, nil)
	require.NoError(t, err)

	res := p.HandleMessage(context.Background(), message("m1", "b1", "сколько стоит?"), nil, nil)
	require.Equal(t, models.StatusProcessed, res.Status)
	assert.Equal(t, "Цена 1000 руб. Торг возможен!", res.Response)

	res = p.HandleMessage(context.Background(), models.IncomingMessage{ID: "m2", SenderID: "b1", ListingID: "unknown", Text: "сколько стоит?"}, nil, nil)
	assert.Equal(t, "Цена указана в объявлении. Готов обсудить детали.", res.Response)
}

func TestStageTransitionsCannotSkip(t *testing.T) {
	r := &run{res: models.ProcessedMessage{Stage: models.StageReceived}}

	require.NoError(t, r.advance(models.StageValidated))
	err := r.advance(models.StageClassified)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInternal))
	assert.Equal(t, models.StageValidated, r.res.Stage)

	assert.Error(t, r.advance(models.StageBlocked), "terminal exits are not transitions")
}

func TestAverageProcessingTimeCoversAllOutcomes(t *testing.T) {
	m, err := newMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.record(ctx, &models.ProcessedMessage{Status: models.StatusProcessed, ProcessingTime: 30 * time.Millisecond})
	m.record(ctx, &models.ProcessedMessage{Status: models.StatusBlocked, ProcessingTime: 10 * time.Millisecond})
	m.received.Add(2)

	s := m.snapshot()
	assert.Equal(t, 20*time.Millisecond, s.AvgProcessingTime)
	assert.Equal(t, 20.0, s.AvgProcessingMs)
	assert.Equal(t, 0.5, s.SuccessRate)
}
