package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"marketplace-responder/backend/ai"
	"marketplace-responder/backend/internal/models"
	"marketplace-responder/backend/internal/pipeline"
	"marketplace-responder/backend/internal/responder"
	"marketplace-responder/backend/internal/store"
	"marketplace-responder/backend/internal/ws"
	"marketplace-responder/backend/pkg/config"
	"marketplace-responder/backend/pkg/health"
	"marketplace-responder/backend/pkg/logger"
	"marketplace-responder/backend/pkg/resilience"
	"marketplace-responder/backend/shared/observability"
	"marketplace-responder/backend/shared/redis"
)

// Container holds all the dependencies for the application
type Container struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *gorm.DB
	Redis     *goredis.Client
	Gateway   *ai.Gateway
	Templates *responder.TemplateEngine
	Composer  *responder.Composer
	Pipeline  *pipeline.Pipeline
	Queue     *pipeline.Queue
	Hub       *ws.Hub
	Health    *health.Checker
	Metrics   *observability.Metrics

	Senders      store.SenderStore
	Listings     store.ListingRepository
	TemplateRepo store.TemplateRepository

	closers []func(context.Context) error
}

// Options overrides parts of the wiring; zero values build everything from the config
type Options struct {
	// Provider replaces the provider named in the config
	Provider ai.Provider
	// DB replaces the database connection opened from the config
	DB *gorm.DB
	// Sink receives queued results; nil logs them and publishes them to stream subscribers
	Sink pipeline.ResultSink
	// Metrics replaces the Prometheus-backed meter provider
	Metrics *observability.Metrics
}

// New wires the application from cfg
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Container, error) {
	if log == nil {
		log = logger.Nop()
	}
	c := &Container{
		Config: cfg,
		Logger: log,
		Health: health.NewChecker(log, 30*time.Second),
	}

	if err := c.setupMetrics(opts); err != nil {
		return nil, err
	}
	if err := c.setupStores(ctx, opts); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	if err := c.setupGateway(ctx, opts); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	if err := c.setupTemplates(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	if err := c.setupPipeline(opts); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return c, nil
}

func (c *Container) setupMetrics(opts Options) error {
	if opts.Metrics != nil {
		c.Metrics = opts.Metrics
		return nil
	}
	m, err := observability.SetupMetrics("marketplace-responder")
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}
	c.Metrics = m
	c.closers = append(c.closers, m.Shutdown)
	return nil
}

func (c *Container) setupStores(ctx context.Context, opts Options) error {
	cfg := c.Config
	mem := store.NewMemoryStore()
	c.Senders = mem
	c.Listings = mem
	c.TemplateRepo = mem

	db := opts.DB
	if db == nil && cfg.Database.Enabled {
		var err error
		if db, err = config.NewDB(ctx, cfg); err != nil {
			return err
		}
		c.closers = append(c.closers, func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}
	if db != nil {
		if err := store.Migrate(db); err != nil {
			return err
		}
		c.DB = db
		c.Listings = store.NewGormListingRepository(db)
		c.TemplateRepo = store.NewGormTemplateRepository(db)
		c.Health.RegisterDatabaseCheck(func(ctx context.Context) error { return config.PingDB(ctx, db) })
		c.Logger.Info("Listings and templates are stored in PostgreSQL")
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(cfg)
		senders := redis.NewSenderStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL)
		c.Redis = client
		c.Senders = senders
		c.Health.RegisterRedisCheck(senders)
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		c.Logger.Info("Sender contexts are stored in Redis", "addr", cfg.Redis.Addr)
	}
	return nil
}

func (c *Container) setupGateway(ctx context.Context, opts Options) error {
	provider := opts.Provider
	if provider == nil {
		var err error
		provider, err = ai.NewProvider(ctx, c.Config, c.Logger)
		if err != nil {
			if c.Config.AI.APIKey == "" {
				c.Logger.Warn("No inference credentials, replies come from keywords and templates only", "provider", c.Config.AI.Provider)
				return nil
			}
			return fmt.Errorf("failed to create inference provider: %w", err)
		}
	}

	gateway, err := ai.NewGateway(provider, ai.GatewayConfigFrom(c.Config), c.Logger)
	if err != nil {
		return err
	}
	c.Gateway = gateway
	c.Health.RegisterBreakerCheck("inference", func() resilience.CircuitBreakerState {
		return gateway.Stats().Breaker.State
	})
	c.closers = append(c.closers, func(context.Context) error { return gateway.Close() })
	return nil
}

// setupTemplates restores persisted templates; an empty repository is seeded from the templates
// file or the built-in set
func (c *Container) setupTemplates(ctx context.Context) error {
	cfg := c.Config
	c.Templates = responder.NewTemplateEngine(responder.NewSource(cfg.Responder.RandomSeed))

	n, err := c.Templates.Load(ctx, c.TemplateRepo)
	if err != nil {
		return err
	}
	if n > 0 {
		c.Logger.Info("Templates loaded", "count", n)
		return nil
	}

	seed := responder.DefaultTemplates()
	if cfg.Responder.TemplatesFile != "" {
		if seed, err = responder.LoadTemplatesFile(cfg.Responder.TemplatesFile); err != nil {
			return err
		}
	}
	for _, t := range seed {
		if err := c.Templates.Register(t); err != nil {
			return fmt.Errorf("failed to register template %q: %w", t.Name, err)
		}
		registered, _ := c.Templates.Get(t.Name)
		if err := c.TemplateRepo.SaveTemplate(ctx, &registered); err != nil {
			return fmt.Errorf("failed to persist template %q: %w", t.Name, err)
		}
	}
	c.Logger.Info("Templates seeded", "count", len(seed))
	return nil
}

func (c *Container) setupPipeline(opts Options) error {
	cfg := c.Config
	rnd := responder.NewSource(cfg.Responder.RandomSeed)
	c.Composer = responder.NewComposer(responder.ComposerConfigFrom(cfg), c.Templates, rnd, c.Logger)

	deps := pipeline.Dependencies{
		Composer: c.Composer,
		Senders:  c.Senders,
		Listings: c.Listings,
	}
	if c.Gateway != nil {
		deps.Inference = c.Gateway
	}

	p, err := pipeline.New(pipeline.ConfigFrom(cfg), deps, c.Logger)
	if err != nil {
		return err
	}
	c.Pipeline = p

	c.Hub = ws.NewHub(c.Logger)
	c.closers = append(c.closers, func(context.Context) error {
		c.Hub.Close()
		return nil
	})

	sink := opts.Sink
	if sink == nil {
		sink = func(ctx context.Context, res models.ProcessedMessage) {
			c.logResult(ctx, res)
			c.Hub.Publish(ctx, res)
		}
	}
	c.Queue = pipeline.NewQueue(p, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, sink, c.Logger)
	c.closers = append(c.closers, c.Queue.Stop)
	return nil
}

// logResult records the outcome of a queued message
func (c *Container) logResult(_ context.Context, res models.ProcessedMessage) {
	log := c.Logger.WithMessageID(res.Original.ID).WithSenderID(res.Original.SenderID)
	if res.Status != models.StatusProcessed {
		log.Info("Queued message not answered", "status", res.Status, "error_code", res.ErrorCode)
		return
	}
	log.Info("Reply ready",
		"requires_human", res.RequiresHuman,
		"template_used", res.TemplateUsed,
		"processing_ms", res.ProcessingTime.Milliseconds(),
	)
}

// Close stops the queue and releases connections in reverse order of creation
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
