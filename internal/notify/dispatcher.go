package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/tabletopforge/storefront-backend/pkg/enums"
	"github.com/tabletopforge/storefront-backend/pkg/logger"
	"github.com/tabletopforge/storefront-backend/pkg/metrics"
)

const defaultSinkTimeout = 5 * time.Second

// Sink delivers order events to one external system.
type Sink interface {
	Name() string
	Accepts(kind enums.NotificationKind) bool
	Deliver(ctx context.Context, event Event) error
}

// Dispatcher fans an event out to every interested sink. A failing sink does
// not stop the others; their errors are combined.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logg    *logger.Logger
	metrics *metrics.OrderMetrics
}

func NewDispatcher(logg *logger.Logger, m *metrics.OrderMetrics, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if logg == nil {
		logg = logger.Nop()
	}
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	active := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}
	return &Dispatcher{sinks: active, timeout: timeout, logg: logg, metrics: m}
}

// Dispatch delivers event to each sink that accepts its kind, each bounded by
// the dispatcher timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	var errs error
	for _, sink := range d.sinks {
		if !sink.Accepts(event.Kind) {
			continue
		}
		sinkCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Deliver(sinkCtx, event)
		cancel()

		d.metrics.ObserveNotify(sink.Name(), err)
		if err != nil {
			logCtx := d.logg.WithFields(ctx, map[string]any{
				"sink":     sink.Name(),
				"kind":     event.Kind.String(),
				"order_id": event.OrderID.String(),
			})
			d.logg.Error(logCtx, "notification delivery failed", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errs
}

func acceptsAny(kind enums.NotificationKind, allowed ...enums.NotificationKind) bool {
	for _, candidate := range allowed {
		if candidate == kind {
			return true
		}
	}
	return false
}
