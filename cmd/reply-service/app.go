package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	"pusher/internal/config"
	"pusher/internal/constants"
	"pusher/internal/hitoko"
	"pusher/internal/logger"
	"pusher/internal/reply"
	"pusher/pkg/bootstrap"
	"pusher/pkg/health"
	"pusher/pkg/metrics"
	"pusher/pkg/ratelimit"
)

const serviceName = constants.ServiceReply

type App struct {
	*bootstrap.Base
	vendor  *hitoko.Client
	handler *reply.Handler
	limiter *ratelimit.Store
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base: bootstrap.NewBase(cfg, log, serviceName),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitTracing(); err != nil {
		return err
	}

	metrics.RegisterReplyMetrics()

	var opts []hitoko.Option
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
		opts = append(opts, hitoko.WithCircuitBreaker(a.Config.CircuitBreaker))
	}
	a.vendor = hitoko.NewClient(a.Config.Hitoko, a.Config.Broker.MarketplaceCode, a.Logger, opts...)
	a.handler = reply.NewHandler(a.vendor, a.Logger)

	a.Health.RegisterOptional(health.NewFuncChecker("hitoko_api", a.vendor.Ping))

	router := a.NewRouter()
	if a.Config.ReplyAPI.RateLimit.Enabled {
		a.limiter = ratelimit.NewStore(ratelimit.FromSettings(a.Config.ReplyAPI.RateLimit))
		router.Use(ratelimit.RateLimitMiddleware(a.limiter))
	}
	a.handler.RegisterRoutes(router)

	a.InitHTTPServer(router)
	a.Logger.InfowCtx(ctx, "Reply API configured",
		"port", a.Config.Server.Port,
		"vendor", a.Config.Hitoko.BaseURL,
		"rate_limit", a.Config.ReplyAPI.RateLimit.Enabled,
	)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ServeHTTP(gCtx)
	})

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.RunCleanup(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.WithoutCancel(gCtx), nil)
	})

	return g.Wait()
}
