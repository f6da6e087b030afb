// Package bootstrap holds the startup and shutdown plumbing shared by the
// service binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pusher/internal/config"
	"pusher/internal/constants"
	"pusher/internal/logger"
	"pusher/pkg/health"
	"pusher/pkg/middleware"
	"pusher/pkg/tracing"
)

type Base struct {
	Config         *config.Config
	Logger         logger.Logger
	TracerProvider *tracing.TracerProvider
	Health         *health.CheckerRegistry
	Server         *http.Server

	serviceName string
}

func NewBase(cfg *config.Config, log logger.Logger, serviceName string) *Base {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &Base{
		Config:      cfg,
		Logger:      log,
		Health:      health.NewCheckerRegistry(serviceName),
		serviceName: serviceName,
	}
}

func (b *Base) InitTracing() error {
	tp, err := tracing.Init(b.Config.Tracing, b.serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	b.TracerProvider = tp
	return nil
}

// NewRouter returns a gin engine with the shared middleware chain and the
// /health and /metrics endpoints.
func (b *Base) NewRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(b.Logger),
		middleware.RequestIDMiddleware(),
		tracing.GinMiddleware(b.serviceName),
		middleware.LoggerMiddleware(b.Logger),
	)

	router.GET("/health", b.Health.Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func (b *Base) InitHTTPServer(handler http.Handler) {
	b.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", b.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  b.Config.Server.ReadTimeout,
		WriteTimeout: b.Config.Server.WriteTimeout,
	}
}

// ServeHTTP blocks until the server stops. A graceful shutdown is not an error.
func (b *Base) ServeHTTP(ctx context.Context) error {
	if b.Server == nil {
		return nil
	}
	b.Logger.InfowCtx(ctx, "HTTP server starting", "port", b.Config.Server.Port)
	if err := b.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server, runs additionalShutdown and flushes traces.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if b.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		if err := b.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
		cancel()
	}

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if b.TracerProvider != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := b.TracerProvider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
		}
		cancel()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
