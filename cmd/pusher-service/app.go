package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"pusher/internal/broker"
	"pusher/internal/config"
	"pusher/internal/constants"
	"pusher/internal/deduplication"
	"pusher/internal/forwarder"
	"pusher/internal/hitoko"
	"pusher/internal/logger"
	"pusher/internal/pipeline"
	"pusher/pkg/bootstrap"
	"pusher/pkg/health"
	"pusher/pkg/metrics"
)

const (
	serviceName   = constants.ServicePusher
	lookupTimeout = 10 * time.Second
)

type App struct {
	*bootstrap.Base
	redis       *redis.Client
	dedup       *deduplication.Service
	forwarder   *forwarder.Forwarder
	coordinator *pipeline.Coordinator
	broker      *broker.Client
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

	metrics.RegisterPipelineMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initDeduplication(ctx); err != nil {
		return fmt.Errorf("failed to initialize deduplication: %w", err)
	}

	fwd, err := forwarder.NewFromConfig(a.Config.Forwarder, a.Config.CircuitBreaker, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize forwarder: %w", err)
	}
	a.forwarder = fwd
	if dests := fwd.Destinations(); len(dests) == 0 {
		a.Logger.WarnwCtx(ctx, "No webhook destinations configured, events will not be forwarded")
	} else {
		a.Logger.InfowCtx(ctx, "Forwarding destinations configured", "count", len(dests), "destinations", dests)
	}

	filter, err := pipeline.NewFilter(a.Config.Filtering, a.Logger)
	if err != nil {
		return err
	}
	if filter != nil {
		a.Logger.InfowCtx(ctx, "Event filter enabled", "expression", filter.Expression())
	}

	a.coordinator = pipeline.NewCoordinator(a.dedup, a.forwarder, pipeline.OptionsFromConfig(a.Config, filter), a.Logger)

	brokerCfg := a.Config.Broker
	brokerCfg.CompanyID = a.resolveCompanyID(ctx)
	a.broker = broker.NewClient(brokerCfg, a.coordinator.HandleFrame, a.Logger)

	a.Health.Register(health.NewFuncChecker("broker", func(context.Context) error {
		if !a.broker.IsConnected() {
			return fmt.Errorf("broker is %s", a.broker.State())
		}
		return nil
	}))
	if a.redis != nil {
		a.Health.Register(health.NewRedisChecker(a.redis))
	}

	a.InitHTTPServer(a.NewRouter())
	return nil
}

func (a *App) initDeduplication(ctx context.Context) error {
	var client redis.Cmdable
	if a.Config.Deduplication.Store == constants.DedupStoreRedis {
		rdb, err := bootstrap.InitRedis(ctx, a.Config.Database.Redis, a.Logger)
		if err != nil {
			return err
		}
		a.redis = rdb
		client = rdb
	}

	store, err := deduplication.NewStore(a.Config.Deduplication, client)
	if err != nil {
		return err
	}

	a.dedup = deduplication.NewService(store, a.Config.Deduplication, a.Logger)
	a.dedup.StartMetricsUpdater(constants.DedupMetricsInterval)
	return nil
}

// resolveCompanyID asks the vendor API for the shop's company id, used in the
// broker client id. Failures fall back to the configured value.
func (a *App) resolveCompanyID(ctx context.Context) string {
	configured := a.Config.Broker.CompanyID
	if !a.Config.Hitoko.Enabled() {
		return configured
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	vendor := hitoko.NewClient(a.Config.Hitoko, a.Config.Broker.MarketplaceCode, a.Logger)
	shops, err := vendor.GetShops(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to fetch shop information, using configured company id",
			"company_id", configured,
			"error", err,
		)
		return configured
	}

	shop, ok := shops.First()
	if !ok || shop.CompanyID == "" {
		a.Logger.WarnwCtx(ctx, "No shop data available, using configured company id", "company_id", configured)
		return configured
	}

	a.Logger.InfowCtx(ctx, "Shop information loaded",
		"shop_name", shop.MarketplaceShopName,
		"shop_id", shop.MarketplaceShopID,
		"marketplace_code", shop.MarketplaceCode,
		"company_id", shop.CompanyID,
	)

	if sessions, err := vendor.GetSessionList(ctx, a.Config.Broker.ShopID, 1, constants.DefaultSessionPageSize); err == nil && sessions.Code == 0 {
		a.Logger.InfowCtx(ctx, "Chat sessions loaded", "total", int64(sessions.Total))
	}

	return shop.CompanyID.String()
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ServeHTTP(gCtx)
	})

	a.broker.Connect()
	done := a.broker.Done()

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return nil
		case <-done:
			if err := a.broker.Err(); err != nil {
				return fmt.Errorf("broker connection closed: %w", err)
			}
			return nil
		}
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.WithoutCancel(gCtx))
	})

	return g.Wait()
}

// Shutdown stops ingestion first, then drains in-flight forwards.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down pusher service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.broker != nil {
			a.broker.Disconnect()
		}

		if a.coordinator != nil {
			timeout := a.Config.Forwarder.DrainTimeout
			if timeout <= 0 {
				timeout = constants.DefaultDrainTimeout
			}
			drainCtx, cancel := context.WithTimeout(ctx, timeout)
			if err := a.coordinator.Drain(drainCtx); err != nil {
				errs = append(errs, fmt.Errorf("drain in-flight forwards: %w", err))
			}
			cancel()
		}

		if a.forwarder != nil {
			if err := a.forwarder.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		if a.dedup != nil {
			a.dedup.StopMetricsUpdater()
		}

		errs = append(errs, bootstrap.ShutdownRedis(a.redis)...)
		return errs
	}

	err := a.Base.Shutdown(ctx, additionalShutdown)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
