package router

import (
	"marketplace-responder/backend/internal/api"
	"marketplace-responder/backend/internal/ws"
	"marketplace-responder/backend/pkg/di"
	"marketplace-responder/backend/pkg/errors"
	"marketplace-responder/backend/pkg/jwt"
	"marketplace-responder/backend/pkg/logger"
	"marketplace-responder/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	RateLimiter *middleware.RateLimiter
}

// New creates a router with the middleware chain installed
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)

	if container.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Request ids first so the request logger picks them up
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(middleware.CORS(container.Config.Security.AllowedOrigins))

	rateLimiter := middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptionsFrom(container.Config))
	engine.Use(rateLimiter.Middleware())

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		RateLimiter: rateLimiter,
	}
}

// SetupRoutes registers all application routes. With JWT_SECRET set, changes to templates,
// listings and caches require an operator token.
func (r *Router) SetupRoutes(version string) error {
	c := r.Container

	var guard []gin.HandlerFunc
	if secret := c.Config.Security.JWTSecret; secret != "" {
		svc, err := jwt.NewService(secret, c.Config.Security.JWTExpiry)
		if err != nil {
			return err
		}
		guard = append(guard, middleware.RequireRole(svc, jwt.RoleOperator))
	} else {
		r.Logger.Warn("JWT_SECRET not set, admin routes are unauthenticated")
	}

	messages := api.NewMessageController(c.Pipeline, c.Queue, c.Listings)
	templates := api.NewTemplateController(c.Templates, c.TemplateRepo)
	contexts := api.NewContextController(c.Listings, c.Senders)
	live := api.NewHealthHandler(version)

	r.Engine.GET("/health", gin.WrapF(c.Health.HTTPHandler()))
	r.Engine.GET("/livez", live.Live)
	if c.Metrics != nil {
		r.Engine.GET("/metrics", gin.WrapH(c.Metrics.Handler))
	}

	v1 := r.Engine.Group("/api/v1")
	messages.RegisterRoutesV1(v1, guard...)
	templates.RegisterRoutesV1(v1, guard...)
	contexts.RegisterRoutesV1(v1, guard...)
	ws.NewHandler(c.Hub, c.Queue, c.Config.Security.AllowedOrigins).RegisterRoutesV1(v1)
	return nil
}
