package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
	"github.com/barrersoftware/copilot-plugin-system/internal/metrics"
	"github.com/barrersoftware/copilot-plugin-system/internal/registry"
	"github.com/barrersoftware/copilot-plugin-system/internal/telemetry"
	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// Dispatch phases.
const (
	PhaseRequest  = "request"
	PhaseResponse = "response"
)

// Chain supplies the plugins to dispatch over, in order.
type Chain interface {
	Snapshot() []*registry.Entry
}

// Dispatcher walks a Chain for each request and response. It holds no
// per-dispatch state and is safe for concurrent use.
type Dispatcher struct {
	chain  Chain
	events ports.EventPublisher
	logger *slog.Logger
	tracer trace.Tracer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger sets the logger used for hook failures.
func WithDispatchLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDispatchEvents sets the lifecycle event sink.
func WithDispatchEvents(p ports.EventPublisher) DispatcherOption {
	return func(d *Dispatcher) {
		if p != nil {
			d.events = p
		}
	}
}

// NewDispatcher creates a dispatcher over chain.
func NewDispatcher(chain Chain, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		chain:  chain,
		events: ports.NopPublisher{},
		logger: slog.Default(),
		tracer: telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunBefore folds req through every plugin's BeforeRequest. The caller's
// req is never modified. Plugins torn down while the chain runs are skipped.
func (d *Dispatcher) RunBefore(ctx context.Context, req plugin.RequestContext) (plugin.RequestContext, error) {
	ctx, span := d.tracer.Start(ctx, "plugins.before_request")
	defer span.End()
	metrics.Dispatches.WithLabelValues(PhaseRequest).Inc()

	current := req.Clone()
	for _, e := range d.chain.Snapshot() {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return current, err
		}

		if !e.Acquire() {
			// Torn down since the snapshot was taken.
			continue
		}
		next, err := d.callBefore(ctx, e, current.Clone())
		e.Release()
		if err != nil {
			d.hookFailed(ctx, e, domain.HookBeforeRequest, err)
			continue
		}
		if next.Metadata == nil {
			next.Metadata = plugin.Metadata{}
		}
		current = next

		if current.Cancel {
			metrics.Cancellations.WithLabelValues(e.Info.ID).Inc()
			span.SetAttributes(
				attribute.String("plugin.cancelled_by", e.Info.ID),
				attribute.String("plugin.cancel_reason", current.CancelReason))
			d.logger.Info("request cancelled by plugin",
				slog.String("plugin_id", e.Info.ID),
				slog.String("reason", current.CancelReason))
			d.publish(ctx, domain.EventRequestCancelled, e.Info.ID, current.CancelReason)
			return current, nil
		}
	}
	return current, nil
}

// RunAfter folds resp through every plugin's AfterResponse. All plugins run
// regardless of earlier failures.
func (d *Dispatcher) RunAfter(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	ctx, span := d.tracer.Start(ctx, "plugins.after_response")
	defer span.End()
	metrics.Dispatches.WithLabelValues(PhaseResponse).Inc()

	current := resp.Clone()
	for _, e := range d.chain.Snapshot() {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return current, err
		}

		if !e.Acquire() {
			continue
		}
		next, err := d.callAfter(ctx, e, current.Clone())
		e.Release()
		if err != nil {
			d.hookFailed(ctx, e, domain.HookAfterResponse, err)
			continue
		}
		if next.Metadata == nil {
			next.Metadata = plugin.Metadata{}
		}
		current = next
	}
	return current, nil
}

func (d *Dispatcher) callBefore(ctx context.Context, e *registry.Entry, in plugin.RequestContext) (out plugin.RequestContext, err error) {
	ctx, span := d.startHook(ctx, e, domain.HookBeforeRequest)
	start := time.Now()
	err = domain.Guard(func() error {
		var herr error
		out, herr = e.Plugin.BeforeRequest(ctx, in)
		return herr
	})
	d.endHook(span, e, PhaseRequest, start, err)
	return out, err
}

func (d *Dispatcher) callAfter(ctx context.Context, e *registry.Entry, in plugin.ResponseContext) (out plugin.ResponseContext, err error) {
	ctx, span := d.startHook(ctx, e, domain.HookAfterResponse)
	start := time.Now()
	err = domain.Guard(func() error {
		var herr error
		out, herr = e.Plugin.AfterResponse(ctx, in)
		return herr
	})
	d.endHook(span, e, PhaseResponse, start, err)
	return out, err
}

func (d *Dispatcher) startHook(ctx context.Context, e *registry.Entry, hook string) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "plugin."+hook, trace.WithAttributes(
		attribute.String("plugin.id", e.Info.ID),
		attribute.Int("plugin.order", e.Order),
	))
}

func (d *Dispatcher) endHook(span trace.Span, e *registry.Entry, phase string, start time.Time, err error) {
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
		var pe *domain.PanicError
		if errors.As(err, &pe) {
			outcome = metrics.OutcomePanic
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.ObserveHook(e.Info.ID, phase, outcome, time.Since(start))
	span.End()
}

func (d *Dispatcher) hookFailed(ctx context.Context, e *registry.Entry, hook string, err error) {
	he := domain.NewHookError(e.Info.ID, hook, err)
	d.logger.Error("plugin hook failed",
		slog.String("plugin_id", e.Info.ID),
		slog.String("hook", hook),
		slog.Bool("panic", he.Panic),
		slog.String("error", err.Error()))
	d.publish(ctx, domain.EventPluginHookFailed, e.Info.ID, he.Error())
}

func (d *Dispatcher) publish(ctx context.Context, t domain.LifecycleEventType, pluginID, msg string) {
	// Detached so cancelled dispatches still record their events.
	if err := d.events.Publish(context.WithoutCancel(ctx), domain.NewEvent(t, pluginID, "", msg)); err != nil {
		d.logger.Warn("failed to publish lifecycle event",
			slog.String("type", string(t)),
			slog.String("error", err.Error()))
	}
}
