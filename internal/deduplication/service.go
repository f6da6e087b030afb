// Package deduplication suppresses repeated delivery of the same chat message
// within a trailing time window.
package deduplication

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pusher/internal/config"
	"pusher/internal/constants"
	"pusher/internal/logger"
	"pusher/pkg/metrics"
	"pusher/pkg/tracing"
)

// Store records message ids. Claim reports true the first time an id is seen
// within the window and false for repeats.
type Store interface {
	Claim(ctx context.Context, id string) (bool, error)
	Size(ctx context.Context) (int, error)
}

// NewStore picks the backing store from configuration. The Redis client is
// only used for the redis store.
func NewStore(cfg config.DeduplicationConfig, client redis.Cmdable) (Store, error) {
	switch cfg.Store {
	case "", constants.DedupStoreMemory:
		return NewWindow(cfg.Window), nil
	case constants.DedupStoreRedis:
		if client == nil {
			return nil, fmt.Errorf("redis dedup store requires a redis client")
		}
		return NewRedisStore(NewRepository(client), cfg.Window), nil
	default:
		return nil, fmt.Errorf("unknown dedup store %q", cfg.Store)
	}
}

type Service struct {
	store            Store
	cfg              config.DeduplicationConfig
	logger           logger.Logger
	cancelMetricsCtx context.CancelFunc
	metricsDone      chan struct{}
}

func NewService(store Store, cfg config.DeduplicationConfig, log logger.Logger) *Service {
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: log,
	}
}

// ShouldProcess reports whether the event with this message id should be
// forwarded. Events without an id always pass.
func (s *Service) ShouldProcess(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		metrics.DeduplicateMessagesTotal.WithLabelValues("no_id").Inc()
		return true, nil
	}

	ctx, span := tracing.GetTracer(constants.ServicePusher).Start(ctx, "deduplication.check")
	defer span.End()

	unique, err := s.store.Claim(ctx, messageID)
	if err != nil {
		tracing.RecordError(span, err)
		return s.handleStoreError(ctx, err, messageID)
	}

	if unique {
		metrics.DeduplicateMessagesTotal.WithLabelValues("unique").Inc()
	} else {
		metrics.DeduplicateMessagesTotal.WithLabelValues("duplicate").Inc()
	}
	return unique, nil
}

func (s *Service) handleStoreError(ctx context.Context, err error, messageID string) (bool, error) {
	metrics.DeduplicateMessagesTotal.WithLabelValues("error").Inc()

	if s.cfg.OnRedisError == constants.FallbackDeny {
		metrics.FallbackUsageTotal.WithLabelValues("deduplication", "deny_on_error").Inc()
		return false, fmt.Errorf("dedup check failed for message %s: %w", messageID, err)
	}

	metrics.FallbackUsageTotal.WithLabelValues("deduplication", "allow_on_error").Inc()
	s.logger.WarnwCtx(ctx, "Dedup store error, allowing message (fallback: allow)",
		"error", err,
	)
	return true, nil
}

// StartMetricsUpdater publishes the store size every interval until stopped.
func (s *Service) StartMetricsUpdater(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelMetricsCtx = cancel
	s.metricsDone = make(chan struct{})

	go func() {
		defer close(s.metricsDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				size, err := s.store.Size(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Debugw("Failed to get dedup window size", "error", err)
					continue
				}
				metrics.SetDedupWindowSize(size)
			}
		}
	}()
}

func (s *Service) StopMetricsUpdater() {
	if s.cancelMetricsCtx == nil {
		return
	}
	s.cancelMetricsCtx()
	<-s.metricsDone
	s.cancelMetricsCtx = nil
}
