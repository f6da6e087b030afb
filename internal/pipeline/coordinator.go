// Package pipeline wires broker frames through decoding, normalization,
// deduplication and filtering to the forwarder.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"pusher/internal/chat"
	"pusher/internal/config"
	"pusher/internal/forwarder"
	"pusher/internal/frame"
	"pusher/internal/logger"
	"pusher/pkg/logging"
	"pusher/pkg/metrics"
	"pusher/pkg/tracing"
)

// Status is what the pipeline decided for one frame.
type Status string

const (
	StatusForward   Status = "forwarded"
	StatusUnparsed  Status = "unparsed"
	StatusDuplicate Status = "duplicate"
	StatusFiltered  Status = "filtered"
	StatusNonChat   Status = "non_chat"
	StatusError     Status = "error"
)

// Decision carries the body to forward, if any.
type Decision struct {
	Status  Status
	Event   *chat.Event
	Payload interface{}
}

func (d Decision) Forwards() bool {
	return d.Payload != nil
}

type Sender interface {
	Forward(ctx context.Context, event interface{}) *forwarder.Outcome
}

type Deduplicator interface {
	ShouldProcess(ctx context.Context, messageID string) (bool, error)
}

// EventHook observes every accepted chat event before it is forwarded.
type EventHook func(ctx context.Context, ev *chat.Event)

type Options struct {
	ShopID          string
	MarketplaceCode string
	ForwardUnparsed bool
	Filter          *Filter
	OnEvent         EventHook
}

func OptionsFromConfig(cfg *config.Config, filter *Filter) Options {
	return Options{
		ShopID:          cfg.Broker.ShopID,
		MarketplaceCode: cfg.Broker.MarketplaceCode,
		ForwardUnparsed: cfg.Forwarder.ForwardUnparsed,
		Filter:          filter,
	}
}

// Coordinator processes frames synchronously, in delivery order, and forwards
// accepted events in the background.
type Coordinator struct {
	opts   Options
	dedup  Deduplicator
	sender Sender
	logger logger.Logger

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

func NewCoordinator(dedup Deduplicator, sender Sender, opts Options, log logger.Logger) *Coordinator {
	return &Coordinator{
		opts:   opts,
		dedup:  dedup,
		sender: sender,
		logger: log,
	}
}

// HandleFrame is the broker message callback.
func (c *Coordinator) HandleFrame(ctx context.Context, raw frame.Raw) {
	ctx, span := tracing.StartFrameSpan(ctx, raw.Topic, len(raw.Bytes))
	defer span.End()

	start := time.Now()
	d := c.Process(ctx, raw)
	metrics.ObserveFrameProcessing(time.Since(start), string(d.Status))
	metrics.IncEvent(string(d.Status))

	if !d.Forwards() {
		return
	}
	if d.Event != nil {
		ctx = logging.WithMessageID(ctx, d.Event.MessageID)
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(ctx, d.Event)
		}
	}
	c.dispatch(ctx, d.Payload)
}

// Process decides what to do with one frame without forwarding it.
func (c *Coordinator) Process(ctx context.Context, raw frame.Raw) Decision {
	payload := frame.Decode(raw.Bytes)
	metrics.FrameDecodeTotal.WithLabelValues(string(payload.Kind())).Inc()

	if payload.Opaque() {
		c.logger.WarnwCtx(ctx, "Frame is not JSON", "size", len(raw.Bytes))
		return c.unparsed(raw, payload)
	}

	ev, err := chat.Normalize(payload, chat.Meta{
		Topic:           raw.Topic,
		ReceivedAt:      raw.ReceivedAt,
		ShopID:          c.opts.ShopID,
		MarketplaceCode: c.opts.MarketplaceCode,
	})
	if err != nil {
		c.logger.WarnwCtx(ctx, "Failed to normalize frame", "error", err)
		return c.unparsed(raw, payload)
	}
	if ev == nil {
		c.logger.DebugwCtx(ctx, "Frame carries no chat records, skipping")
		return Decision{Status: StatusNonChat}
	}

	ctx = logging.WithMessageID(ctx, ev.MessageID)

	unique, err := c.dedup.ShouldProcess(ctx, ev.MessageID)
	if err != nil {
		c.logger.ErrorwCtx(ctx, "Dedup check failed, dropping event", "error", err)
		return Decision{Status: StatusError, Event: ev}
	}
	if !unique {
		c.logger.DebugwCtx(ctx, "Duplicate message, skipping")
		return Decision{Status: StatusDuplicate, Event: ev}
	}

	body := chat.NewPayload(ev)
	if c.opts.Filter != nil && !c.opts.Filter.Allow(ctx, body) {
		return Decision{Status: StatusFiltered, Event: ev}
	}

	c.logger.InfowCtx(ctx, "Chat event accepted",
		"session_id", ev.SessionID,
		"shop_id", ev.ShopID,
		"from_buyer", ev.FromBuyer,
		"content_type", ev.Content.Type,
	)
	return Decision{Status: StatusForward, Event: ev, Payload: body}
}

func (c *Coordinator) unparsed(raw frame.Raw, p frame.Payload) Decision {
	if !c.opts.ForwardUnparsed {
		return Decision{Status: StatusUnparsed}
	}
	shopID := p.PrefixID
	if shopID == "" {
		shopID = c.opts.ShopID
	}
	return Decision{
		Status:  StatusUnparsed,
		Payload: chat.NewUnparsedPayload(raw.Topic, raw.ReceivedAt, shopID, string(raw.Bytes)),
	}
}

// dispatch forwards in the background. The forward is detached from ctx
// cancellation and tracked for Drain.
func (c *Coordinator) dispatch(ctx context.Context, payload interface{}) {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		c.logger.WarnwCtx(ctx, "Pipeline is draining, dropping event")
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	fctx := context.WithoutCancel(ctx)
	go func() {
		defer c.inflight.Done()
		outcome := c.sender.Forward(fctx, payload)
		if !outcome.Success && !errors.Is(outcome.Err, forwarder.ErrNoDestinations) {
			c.logger.ErrorwCtx(fctx, "Event was not delivered to any destination",
				"failed", outcome.Failed,
				"error", outcome.Error,
			)
		}
	}()
}

// Drain stops accepting new forwards and waits for in-flight ones until ctx
// is done.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
