// Package forwarder delivers serialized events to every configured destination
// concurrently, retrying each destination independently.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"pusher/internal/config"
	"pusher/internal/constants"
	"pusher/internal/logger"
	"pusher/pkg/circuitbreaker"
	apperrors "pusher/pkg/errors"
	"pusher/pkg/metrics"
	"pusher/pkg/retry"
	"pusher/pkg/tracing"
)

// ErrNoDestinations means forwarding is disabled; no network call is made.
var ErrNoDestinations = errors.New("no destinations configured")

// Result is the final state of one destination after all attempts.
type Result struct {
	Destination string `json:"destination"`
	Success     bool   `json:"success"`
	StatusCode  int    `json:"statusCode,omitempty"`
	Error       string `json:"error,omitempty"`
	Attempts    int    `json:"attempts"`
}

// Outcome aggregates one event. Success is true when at least one destination
// accepted the event.
type Outcome struct {
	Success    bool     `json:"success"`
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results,omitempty"`
	Error      string   `json:"error,omitempty"`
	Err        error    `json:"-"`
}

func (o *Outcome) AnySucceeded() bool {
	return o.Successful > 0
}

func failedOutcome(err error) *Outcome {
	return &Outcome{Error: err.Error(), Err: err}
}

type BatchOutcome struct {
	Total      int        `json:"total"`
	Successful int        `json:"successful"`
	Failed     int        `json:"failed"`
	Outcomes   []*Outcome `json:"outcomes"`
}

// Keyed events provide the key used by keyed destinations such as Kafka.
type Keyed interface {
	MessageKey() string
}

type Forwarder struct {
	destinations []Destination
	breakers     map[string]*circuitbreaker.Wrapper
	policy       retry.Policy
	timeout      time.Duration
	newTimer     func() backoff.Timer
	logger       logger.Logger
}

type Option func(*Forwarder)

// WithTimerFactory supplies one backoff timer per destination delivery.
func WithTimerFactory(fn func() backoff.Timer) Option {
	return func(f *Forwarder) {
		f.newTimer = fn
	}
}

// WithCircuitBreakers puts each destination behind its own breaker.
func WithCircuitBreakers(cfg config.CircuitBreakerConfig) Option {
	return func(f *Forwarder) {
		f.breakers = make(map[string]*circuitbreaker.Wrapper, len(f.destinations))
		for _, d := range f.destinations {
			name := d.Name()
			f.breakers[name] = circuitbreaker.NewWrapper(circuitbreaker.FromSettings("forward:"+name, cfg))
		}
	}
}

func New(destinations []Destination, cfg config.ForwarderConfig, log logger.Logger, opts ...Option) *Forwarder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	f := &Forwarder{
		destinations: destinations,
		policy: retry.Policy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
		},
		timeout: timeout,
		logger:  log,
	}
	if f.policy.InitialInterval <= 0 {
		f.policy.InitialInterval = retry.DefaultPolicy().InitialInterval
	}

	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewFromConfig parses forwarder.webhook_urls and wires HTTP and Kafka
// destinations, with breakers when enabled.
func NewFromConfig(cfg config.ForwarderConfig, cb config.CircuitBreakerConfig, log logger.Logger, opts ...Option) (*Forwarder, error) {
	destinations, err := NewDestinations(ParseDestinationURLs(cfg.WebhookURLs), NewHTTPClient(), cfg.UserAgent)
	if err != nil {
		return nil, err
	}
	if cb.Enabled {
		opts = append([]Option{WithCircuitBreakers(cb)}, opts...)
	}
	return New(destinations, cfg, log, opts...), nil
}

func (f *Forwarder) Destinations() []string {
	names := make([]string, len(f.destinations))
	for i, d := range f.destinations {
		names[i] = d.Name()
	}
	return names
}

// Forward serializes event once and delivers it to every destination. Byte
// slices are sent unchanged.
func (f *Forwarder) Forward(ctx context.Context, event interface{}) *Outcome {
	if len(f.destinations) == 0 {
		metrics.ForwardOutcomesTotal.WithLabelValues("disabled").Inc()
		f.logger.WarnwCtx(ctx, "No destinations configured, skipping forward")
		return failedOutcome(ErrNoDestinations)
	}

	msg, err := encode(event)
	if err != nil {
		metrics.ForwardOutcomesTotal.WithLabelValues("error").Inc()
		return failedOutcome(err)
	}

	metrics.ForwardsInFlight.Inc()
	defer metrics.ForwardsInFlight.Dec()

	results := make([]Result, len(f.destinations))
	var g errgroup.Group
	for i, d := range f.destinations {
		g.Go(func() error {
			results[i] = f.deliver(ctx, d, msg)
			return nil
		})
	}
	_ = g.Wait()

	outcome := &Outcome{Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			outcome.Successful++
		} else {
			outcome.Failed++
		}
	}
	outcome.Success = outcome.Successful > 0

	status := "success"
	switch {
	case !outcome.Success:
		status = "failed"
		outcome.Error = "all destinations failed"
	case outcome.Failed > 0:
		status = "partial"
	}
	metrics.ForwardOutcomesTotal.WithLabelValues(status).Inc()

	f.logger.InfowCtx(ctx, "Forward complete",
		"successful", outcome.Successful,
		"failed", outcome.Failed,
		"total", outcome.Total,
	)
	return outcome
}

func encode(event interface{}) (Message, error) {
	var msg Message
	if k, ok := event.(Keyed); ok {
		msg.Key = k.MessageKey()
	}

	switch v := event.(type) {
	case []byte:
		msg.Body = v
	case json.RawMessage:
		msg.Body = v
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return msg, fmt.Errorf("failed to encode event: %w", err)
		}
		msg.Body = body
	}
	return msg, nil
}

func (f *Forwarder) deliver(ctx context.Context, d Destination, msg Message) Result {
	name := d.Name()
	ctx, span := tracing.StartForwardSpan(ctx, name)
	defer span.End()

	result := Result{Destination: name}

	opts := []retry.Option{
		retry.WithNotify(func(attempt int, err error, next time.Duration) {
			metrics.RetryAttemptsTotal.WithLabelValues(name).Inc()
			f.logger.WarnwCtx(ctx, "Delivery failed, retrying",
				"destination", name,
				"attempt", attempt,
				"max_attempts", f.policy.MaxAttempts,
				"next_delay", next,
				"error", err,
			)
		}),
	}
	if f.newTimer != nil {
		opts = append(opts, retry.WithTimer(f.newTimer()))
	}

	attempts, err := retry.Do(ctx, f.policy, func(int) error {
		status, err := f.attempt(ctx, d, msg)
		result.StatusCode = status
		return err
	}, opts...)
	result.Attempts = attempts

	if err != nil {
		tracing.RecordError(span, err)
		result.Error = err.Error()
		metrics.ForwardResultsTotal.WithLabelValues(name, "failed").Inc()
		f.logger.ErrorwCtx(ctx, "Delivery failed",
			"destination", name,
			"attempts", attempts,
			"status", result.StatusCode,
			"error", err,
		)
		return result
	}

	result.Success = true
	metrics.ForwardResultsTotal.WithLabelValues(name, "success").Inc()
	f.logger.DebugwCtx(ctx, "Delivered", "destination", name, "status", result.StatusCode, "attempts", attempts)
	return result
}

// attempt runs one delivery under the per-attempt timeout and, when
// configured, the destination's breaker.
func (f *Forwarder) attempt(ctx context.Context, d Destination, msg Message) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	var status int
	call := func(ctx context.Context) error {
		var err error
		status, err = d.Deliver(ctx, msg)
		return err
	}

	var err error
	if cb, ok := f.breakers[d.Name()]; ok {
		err = cb.Run(ctx, call)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = retry.NewFatalError(err)
		}
	} else {
		err = call(ctx)
	}

	label := "success"
	if err != nil {
		label = "error"
	}
	metrics.ObserveForwardAttempt(d.Name(), label, time.Since(start))
	return status, err
}

// ForwardBatch forwards every event concurrently. A panic while forwarding
// one event is recorded as that event's failure.
func (f *Forwarder) ForwardBatch(ctx context.Context, events []interface{}) *BatchOutcome {
	batch := &BatchOutcome{Total: len(events), Outcomes: make([]*Outcome, len(events))}

	var g errgroup.Group
	for i, ev := range events {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					perr := apperrors.RecoverPanic(r)
					f.logger.ErrorwCtx(ctx, "Panic recovered while forwarding batch event", "index", i, "error", perr)
					batch.Outcomes[i] = failedOutcome(perr)
				}
			}()
			batch.Outcomes[i] = f.Forward(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range batch.Outcomes {
		if o != nil && o.Success {
			batch.Successful++
		} else {
			batch.Failed++
		}
	}

	f.logger.InfowCtx(ctx, "Batch forward complete",
		"successful", batch.Successful,
		"failed", batch.Failed,
		"total", batch.Total,
	)
	return batch
}

// Close releases destinations that hold connections.
func (f *Forwarder) Close() error {
	var errs []error
	for _, d := range f.destinations {
		if c, ok := d.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", d.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
