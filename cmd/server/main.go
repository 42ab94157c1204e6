package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"marketplace-responder/backend/internal/grpc"
	"marketplace-responder/backend/pkg/config"
	"marketplace-responder/backend/pkg/di"
	"marketplace-responder/backend/pkg/logger"
	"marketplace-responder/backend/pkg/router"
	"marketplace-responder/backend/pkg/secrets"
	"marketplace-responder/backend/shared/observability"
)

const serviceName = "marketplace-responder"

func main() {
	if err := run(); err != nil {
		logger.GetGlobal().LogError(err, "Server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	version := os.Getenv("APP_VERSION")
	log.Info("Starting application", "version", version, "env", cfg.Server.Env)

	manager, err := secrets.NewManager(log)
	if err != nil {
		return err
	}
	if err := secrets.Apply(context.Background(), manager, cfg, log); err != nil {
		return err
	}

	shutdownTracing, err := observability.SetupTracing(serviceName, traceOutput())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.New(ctx, cfg, log, di.Options{})
	if err != nil {
		return err
	}

	r := router.New(container)
	if err := r.AddOpenAPIValidation(cfg.Server.OpenAPISchema); err != nil {
		log.LogError(err, "OpenAPI validation disabled")
	}
	if err := r.SetupRoutes(version); err != nil {
		_ = container.Close(context.Background())
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout + cfg.AI.ResponseTimeout,
	}

	grpcServer := grpc.NewServer(log)
	container.Health.OnUpdate(grpcServer.SetServing)

	container.Queue.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	container.Health.Start(gctx)
	g.Go(func() error {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return grpcServer.ListenAndServe(gctx, ":"+cfg.Server.GRPCPort)
	})
	g.Go(func() error {
		r.RateLimiter.Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		sweep(gctx, container, cfg.Pipeline.RateLimitWindow)
		return nil
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := container.Close(closeCtx); err != nil {
		log.LogError(err, "Failed to release resources")
	}
	if err := shutdownTracing(closeCtx); err != nil {
		log.LogError(err, "Failed to flush traces")
	}

	log.Info("Server exited gracefully")
	return runErr
}

// sweep drops idle rate-limit windows once per window
func sweep(ctx context.Context, c *di.Container, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Pipeline.Sweep(); n > 0 {
				c.Logger.Debug("Rate-limit windows swept", "senders", n)
			}
		}
	}
}

func traceOutput() io.Writer {
	if os.Getenv("TRACE_STDOUT") == "true" {
		return os.Stdout
	}
	return nil
}
