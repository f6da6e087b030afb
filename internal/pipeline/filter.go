package pipeline

import (
	"context"
	"fmt"

	"pusher/internal/chat"
	"pusher/internal/config"
	"pusher/internal/constants"
	"pusher/internal/logger"
	"pusher/pkg/cel"
	"pusher/pkg/metrics"
	"pusher/pkg/tracing"
)

// Filter gates chat payloads on a CEL expression over the clean payload.
// Evaluation errors let the event through.
type Filter struct {
	compiled *cel.Filter
	logger   logger.Logger
}

// NewFilter returns nil when no expression is configured.
func NewFilter(cfg config.FilteringConfig, log logger.Logger) (*Filter, error) {
	if cfg.Expression == "" {
		return nil, nil
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	compiled, err := evaluator.CompileFilter(cfg.Expression)
	if err != nil {
		return nil, fmt.Errorf("invalid filtering.expression: %w", err)
	}

	return &Filter{compiled: compiled, logger: log}, nil
}

func (f *Filter) Expression() string {
	return f.compiled.Expression()
}

func (f *Filter) Allow(ctx context.Context, p *chat.Payload) bool {
	ctx, span := tracing.GetTracer(constants.ServicePusher).Start(ctx, "pipeline.filter")
	defer span.End()

	doc, err := p.FilterInput()
	if err != nil {
		return f.fallback(ctx, err)
	}

	ok, err := f.compiled.Matches(ctx, doc)
	if err != nil {
		tracing.RecordError(span, err)
		return f.fallback(ctx, err)
	}

	if !ok {
		f.logger.DebugwCtx(ctx, "Event filtered", "expression", f.compiled.Expression())
	}
	return ok
}

func (f *Filter) fallback(ctx context.Context, err error) bool {
	metrics.FallbackUsageTotal.WithLabelValues("filtering", "allow_on_error").Inc()
	f.logger.WarnwCtx(ctx, "Filter evaluation error, allowing event (fallback: allow)",
		"expression", f.compiled.Expression(),
		"error", err,
	)
	return true
}
