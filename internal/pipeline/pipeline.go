package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"marketplace-responder/backend/ai"
	"marketplace-responder/backend/internal/antispam"
	"marketplace-responder/backend/internal/classifier"
	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/internal/responder"
	"marketplace-responder/backend/internal/store"
	"marketplace-responder/backend/pkg/cache"
	"marketplace-responder/backend/pkg/config"
	apperrors "marketplace-responder/backend/pkg/errors"
	"marketplace-responder/backend/pkg/logger"
)

// Inference is the slice of the inference gateway the pipeline needs
type Inference interface {
	Analyze(ctx context.Context, text string, sender *models.SenderContext, listing *models.ListingContext) (*models.Analysis, error)
	GenerateReply(ctx context.Context, text string, analysis *models.Analysis, sender *models.SenderContext, listing *models.ListingContext, style models.ResponseStyle) (string, error)
	ClearCache()
}

// Config holds the pipeline limits
type Config struct {
	MinMessageLength     int
	MaxMessageLength     int
	SpamDetectionEnabled bool
	HistoryLimit         int
	DuplicateWindowSize  int
	RateLimitMessages    int
	RateLimitWindow      time.Duration
	SpamCacheSize        int
}

// ConfigFrom derives the pipeline settings from the application config
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MinMessageLength:     cfg.Pipeline.MinMessageLength,
		MaxMessageLength:     cfg.Pipeline.MaxMessageLength,
		SpamDetectionEnabled: cfg.Pipeline.SpamDetectionEnabled,
		HistoryLimit:         cfg.Pipeline.HistoryLimit,
		DuplicateWindowSize:  cfg.Pipeline.DuplicateWindowSize,
		RateLimitMessages:    cfg.Pipeline.RateLimitMessages,
		RateLimitWindow:      cfg.Pipeline.RateLimitWindow,
		SpamCacheSize:        cfg.Cache.SpamCacheSize,
	}
}

// Dependencies are the collaborators of a Pipeline; only Composer is required
type Dependencies struct {
	// Inference analyzes messages and generates replies; nil runs on keywords and templates only
	Inference Inference
	Composer  *responder.Composer
	// Senders defaults to an in-memory store
	Senders  store.SenderStore
	Listings store.ListingStore
	// Now drives the rate limiter and timestamps; nil means time.Now
	Now func() time.Time
}

// Pipeline turns incoming buyer messages into replies
type Pipeline struct {
	cfg        Config
	inference  Inference
	composer   *responder.Composer
	senders    store.SenderStore
	listings   store.ListingStore
	limiter    *antispam.RateLimiter
	spam       *antispam.SpamDetector
	classifier *classifier.Classifier
	seen       *cache.Cache[string, struct{}]
	locks      *senderLocks
	metrics    *metrics
	tracer     trace.Tracer
	now        func() time.Time
	log        *logger.Logger
}

// New builds a pipeline that owns its limiter, spam cache and counters
func New(cfg Config, deps Dependencies, log *logger.Logger) (*Pipeline, error) {
	if deps.Composer == nil {
		return nil, fmt.Errorf("response composer is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Senders == nil {
		deps.Senders = store.NewMemoryStore()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.DuplicateWindowSize <= 0 {
		cfg.DuplicateWindowSize = 10000
	}
	if cfg.RateLimitMessages <= 0 {
		cfg.RateLimitMessages = 5
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 300 * time.Second
	}

	spam, err := antispam.NewSpamDetector(cfg.SpamCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create spam detector: %w", err)
	}
	seen, err := cache.New[string, struct{}](cache.Options{MaxSize: cfg.DuplicateWindowSize})
	if err != nil {
		return nil, fmt.Errorf("failed to create duplicate window: %w", err)
	}
	m, err := newMetrics(otel.Meter("marketplace-responder/pipeline"))
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline instruments: %w", err)
	}

	return &Pipeline{
		cfg:        cfg,
		inference:  deps.Inference,
		composer:   deps.Composer,
		senders:    deps.Senders,
		listings:   deps.Listings,
		limiter:    antispam.NewRateLimiter(cfg.RateLimitMessages, cfg.RateLimitWindow, deps.Now),
		spam:       spam,
		classifier: classifier.NewDefault(),
		seen:       seen,
		locks:      newSenderLocks(),
		metrics:    m,
		tracer:     otel.Tracer("marketplace-responder/pipeline"),
		now:        deps.Now,
		log:        log.With("component", "pipeline"),
	}, nil
}

// run carries one message through the stages
type run struct {
	msg      models.IncomingMessage
	sender   *models.SenderContext
	listing  *models.ListingContext
	keywords classifier.Result
	analysis *models.Analysis
	res      models.ProcessedMessage
	log      *logger.Logger
}

var stageOrder = map[models.Stage]int{
	models.StageReceived:    0,
	models.StageValidated:   1,
	models.StageRateChecked: 2,
	models.StageSpamChecked: 3,
	models.StageClassified:  4,
	models.StageAnalyzed:    5,
	models.StageComposed:    6,
	models.StageDone:        7,
}

// advance moves the run to next, which must directly follow the current stage
func (r *run) advance(next models.Stage) error {
	cur, ok := stageOrder[r.res.Stage]
	want, known := stageOrder[next]
	if !ok || !known || want != cur+1 {
		return apperrors.NewInternalError(fmt.Sprintf("invalid stage transition %s -> %s", r.res.Stage, next), nil)
	}
	r.res.Stage = next
	return nil
}

type step struct {
	stage models.Stage
	fn    func(p *Pipeline, ctx context.Context, r *run) error
}

var steps = []step{
	{models.StageValidated, (*Pipeline).validate},
	{models.StageRateChecked, (*Pipeline).checkRate},
	{models.StageSpamChecked, (*Pipeline).checkSpam},
	{models.StageClassified, (*Pipeline).classify},
	{models.StageAnalyzed, (*Pipeline).analyze},
	{models.StageComposed, (*Pipeline).compose},
	{models.StageDone, (*Pipeline).finish},
}

// HandleMessage runs msg through every stage; sender and listing are loaded from the stores when nil.
// It never panics and always returns a terminal result.
func (p *Pipeline) HandleMessage(ctx context.Context, msg models.IncomingMessage, sender *models.SenderContext, listing *models.ListingContext) (result models.ProcessedMessage) {
	start := p.now()
	p.metrics.received.Add(1)

	ctx, span := p.tracer.Start(ctx, "pipeline.HandleMessage", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("sender.id", msg.SenderID),
	))
	r := &run{
		msg:     msg,
		sender:  sender,
		listing: listing,
		res:     models.ProcessedMessage{Original: msg, Status: models.StatusPending, Stage: models.StageReceived},
		log:     p.log.WithMessageID(msg.ID).WithSenderID(msg.SenderID),
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Message processing panicked", "stage", r.res.Stage, "panic", rec)
			result = p.failed(r, apperrors.NewInternalError("message processing failed", fmt.Errorf("panic: %v", rec)))
		}
		result.ProcessingTime = p.now().Sub(start)
		p.metrics.record(ctx, &result)

		span.SetAttributes(
			attribute.String("status", string(result.Status)),
			attribute.String("error.code", result.ErrorCode),
		)
		if result.Status == models.StatusError {
			span.SetStatus(codes.Error, result.ErrorMessage)
		}
		span.End()
	}()

	if msg.SenderID != "" {
		unlock := p.locks.Lock(msg.SenderID)
		defer unlock()
	}
	return p.process(ctx, r)
}

func (p *Pipeline) process(ctx context.Context, r *run) models.ProcessedMessage {
	for _, s := range steps {
		if err := s.fn(p, ctx, r); err != nil {
			if blocking(err) {
				return p.blocked(r, err)
			}
			return p.failed(r, err)
		}
		if err := r.advance(s.stage); err != nil {
			return p.failed(r, err)
		}
	}
	r.log.Info("Message processed",
		"type", r.analysis.Type,
		"template_used", r.res.TemplateUsed,
		"requires_human", r.res.RequiresHuman,
	)
	return r.res
}

func blocking(err error) bool {
	appErr, ok := apperrors.As(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case apperrors.CodeValidation, apperrors.CodeDuplicate, apperrors.CodeRateLimited, apperrors.CodeSpam:
		return true
	}
	return false
}

func (p *Pipeline) blocked(r *run, err error) models.ProcessedMessage {
	appErr := apperrors.FromError(err)
	r.log.Info("Message blocked", "stage", r.res.Stage, "code", appErr.Code)

	r.res.Status = models.StatusBlocked
	r.res.Stage = models.StageBlocked
	r.res.ErrorCode = appErr.Code
	r.res.ErrorMessage = appErr.Message
	if appErr.RetryAfter > 0 {
		r.res.RetryAfterSeconds = int(appErr.RetryAfter / time.Second)
	}
	return r.res
}

func (p *Pipeline) failed(r *run, err error) models.ProcessedMessage {
	appErr := apperrors.FromError(err)
	r.log.LogError(err, "Message processing failed", "stage", r.res.Stage)

	r.res.Status = models.StatusError
	r.res.Stage = models.StageError
	r.res.ErrorCode = appErr.Code
	r.res.ErrorMessage = appErr.Message
	r.res.RequiresHuman = true
	r.res.Response = responder.Fallback(models.GeneralQuestion, nil)
	return r.res
}

// checkShape enforces the length bounds and required ids
func (p *Pipeline) checkShape(msg models.IncomingMessage) error {
	length := utf8.RuneCountInString(msg.Text)
	switch {
	case length < p.cfg.MinMessageLength:
		return apperrors.NewValidationError(fmt.Sprintf("message is too short (minimum %d characters)", p.cfg.MinMessageLength))
	case p.cfg.MaxMessageLength > 0 && length > p.cfg.MaxMessageLength:
		return apperrors.NewValidationError(fmt.Sprintf("message is too long (maximum %d characters)", p.cfg.MaxMessageLength))
	case strings.TrimSpace(msg.Text) == "":
		return apperrors.NewValidationError("message is empty")
	case msg.SenderID == "" || msg.ListingID == "":
		return apperrors.NewValidationError("sender_id and listing_id are required")
	}
	return nil
}

func (p *Pipeline) validate(ctx context.Context, r *run) error {
	if err := p.checkShape(r.msg); err != nil {
		return err
	}
	if _, dup := p.seen.Get(r.msg.ID); dup && r.msg.ID != "" {
		r.res.IsDuplicate = true
		return apperrors.NewDuplicateError(r.msg.ID)
	}
	p.resolve(ctx, r)
	return nil
}

// markSeen records an id once its message reached a final verdict.
// Rate-limited and failed messages stay unrecorded so a resend is handled.
func (p *Pipeline) markSeen(id string) {
	if id != "" {
		p.seen.Set(id, struct{}{})
	}
}

// resolve loads the sender and listing contexts the caller did not supply
func (p *Pipeline) resolve(ctx context.Context, r *run) {
	if r.sender == nil {
		sender, err := p.senders.GetSender(ctx, r.msg.SenderID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.log.Warn("Failed to load sender context", "error", err)
		}
		if sender == nil {
			sender = models.NewSenderContext(r.msg.SenderID)
		}
		r.sender = sender
	}

	if r.listing == nil {
		if p.listings != nil {
			listing, err := p.listings.GetListing(ctx, r.msg.ListingID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				r.log.Warn("Failed to load listing", "listing_id", r.msg.ListingID, "error", err)
			}
			r.listing = listing
		}
		if r.listing == nil {
			r.listing = models.DefaultListing(r.msg.ListingID)
		}
	}
}

func (p *Pipeline) checkRate(_ context.Context, r *run) error {
	if p.limiter.Allow(r.msg.SenderID) {
		return nil
	}
	wait := p.limiter.RemainingBlockSeconds(r.msg.SenderID)
	return apperrors.NewRateLimitedError(time.Duration(wait) * time.Second)
}

func (p *Pipeline) checkSpam(ctx context.Context, r *run) error {
	if !p.cfg.SpamDetectionEnabled {
		return nil
	}
	isSpam, score := p.spam.IsSpam(r.msg.Text, r.sender.Flagged)
	r.res.SpamScore = score
	if !isSpam {
		return nil
	}

	r.log.Warn("Spam detected", "score", score)
	r.res.IsSpam = true
	r.res.Analysis = &models.Analysis{
		Type:       models.Spam,
		Confidence: score,
		Intent:     "spam",
		Sentiment:  models.SentimentNegative,
		Urgency:    models.UrgencyLow,
		Keywords:   []string{},
	}
	r.sender.Flagged = true
	r.sender.SeriousBuyer = false
	p.saveSender(ctx, r)
	p.markSeen(r.msg.ID)
	return apperrors.NewSpamError(score)
}

func (p *Pipeline) classify(_ context.Context, r *run) error {
	r.keywords = p.classifier.Classify(r.msg.Text)
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, r *run) error {
	r.analysis = p.analysis(ctx, r)
	r.res.Analysis = r.analysis
	return nil
}

// analysis merges the model's analysis with the keyword result; without a usable model it degrades to keywords
func (p *Pipeline) analysis(ctx context.Context, r *run) *models.Analysis {
	kw := r.keywords
	fromKeywords := func() *models.Analysis {
		a := models.DefaultAnalysis()
		a.Type = kw.Type
		a.Confidence = kw.Confidence
		a.Keywords = append([]string{}, kw.Keywords...)
		return &a
	}

	if p.inference == nil {
		return fromKeywords()
	}
	analysis, err := p.inference.Analyze(ctx, r.msg.Text, r.sender, r.listing)
	if err != nil {
		r.log.Warn("Analysis failed, using keyword classification", "error", err)
		a := fromKeywords()
		a.RequiresHuman = true
		return a
	}

	if kw.Confidence > analysis.Confidence {
		analysis.Type = kw.Type
		analysis.Confidence = kw.Confidence
	}
	analysis.Keywords = union(analysis.Keywords, kw.Keywords)
	analysis.Normalize()
	return analysis
}

func (p *Pipeline) compose(ctx context.Context, r *run) error {
	comp := p.composer.Compose(ctx, r.analysis, r.sender, r.listing, p.generator(r))
	r.res.Response = comp.Text
	r.res.TemplateUsed = comp.TemplateUsed
	r.res.Quality = &comp.Metrics
	if comp.GenerationErr != nil && apperrors.HasCode(comp.GenerationErr, apperrors.CodeSafetyBlocked) {
		r.analysis.RequiresHuman = true
	}
	return nil
}

// generator lazily asks the model for a reply; nil when no model is configured
func (p *Pipeline) generator(r *run) responder.GenerateFunc {
	if p.inference == nil {
		return nil
	}
	return func(ctx context.Context, style models.ResponseStyle) (string, error) {
		return p.inference.GenerateReply(ctx, r.msg.Text, r.analysis, r.sender, r.listing, style)
	}
}

func (p *Pipeline) finish(ctx context.Context, r *run) error {
	r.sender.Remember(models.HistoryEntry{
		Text:     r.msg.Text,
		Response: r.res.Response,
		At:       p.now(),
	}, p.cfg.HistoryLimit)

	switch r.analysis.Type {
	case models.Spam:
		r.sender.SeriousBuyer = false
	case models.PriceQuestion, models.MeetingRequest:
		r.sender.SeriousBuyer = true
	}
	p.saveSender(ctx, r)
	p.markSeen(r.msg.ID)

	r.res.Status = models.StatusProcessed
	r.res.RequiresHuman = r.analysis.RequiresHuman
	return nil
}

func (p *Pipeline) saveSender(ctx context.Context, r *run) {
	if err := p.senders.SaveSender(ctx, r.sender); err != nil {
		r.log.Warn("Failed to save sender context", "error", err)
	}
}

// Variants composes up to n alternative replies for an A/B test without touching limits or history
func (p *Pipeline) Variants(ctx context.Context, msg models.IncomingMessage, n int) ([]responder.Variant, *models.Analysis, error) {
	if err := p.checkShape(msg); err != nil {
		return nil, nil, err
	}

	unlock := p.locks.Lock(msg.SenderID)
	defer unlock()

	r := &run{msg: msg, log: p.log.WithMessageID(msg.ID).WithSenderID(msg.SenderID)}
	p.resolve(ctx, r)
	r.keywords = p.classifier.Classify(msg.Text)
	r.analysis = p.analysis(ctx, r)

	variants := p.composer.ComposeVariants(ctx, n, r.analysis, r.sender, r.listing, p.generator(r))
	return variants, r.analysis, nil
}

// Metrics returns the running counters together with the cache and gateway views
func (p *Pipeline) Metrics() Snapshot {
	s := p.metrics.snapshot()
	s.SpamEvaluations = p.spam.Evaluations()
	s.SpamCache = p.spam.CacheStats()
	s.Composer = p.composer.Stats()
	s.TrackedSenders = p.limiter.Tracked()
	if counter, ok := p.senders.(interface{ Senders() int }); ok {
		s.TrackedSenders = counter.Senders()
	}
	if g, ok := p.inference.(interface{ Stats() ai.Stats }); ok {
		stats := g.Stats()
		s.Gateway = &stats
	}
	return s
}

// ClearCache drops cached spam verdicts, cached model responses and template usage counts
func (p *Pipeline) ClearCache() {
	p.spam.ClearCache()
	if p.inference != nil {
		p.inference.ClearCache()
	}
	p.composer.Templates().ResetUsage()
	p.log.Info("Caches cleared")
}

// Sweep forgets rate-limit windows of idle senders
func (p *Pipeline) Sweep() int {
	return p.limiter.Sweep()
}

// Templates exposes the composer's template engine
func (p *Pipeline) Templates() *responder.TemplateEngine {
	return p.composer.Templates()
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
