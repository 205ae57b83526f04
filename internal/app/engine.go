// Package app assembles the order engine shared by the api and cron-worker
// binaries.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/tabletopforge/storefront-backend/internal/catalog"
	"github.com/tabletopforge/storefront-backend/internal/inventory"
	"github.com/tabletopforge/storefront-backend/internal/notify"
	"github.com/tabletopforge/storefront-backend/internal/orders"
	"github.com/tabletopforge/storefront-backend/internal/pricing"
	"github.com/tabletopforge/storefront-backend/pkg/config"
	"github.com/tabletopforge/storefront-backend/pkg/db"
	"github.com/tabletopforge/storefront-backend/pkg/logger"
	"github.com/tabletopforge/storefront-backend/pkg/metrics"
	"github.com/tabletopforge/storefront-backend/pkg/pubsub"
)

const (
	outboundTimeout    = 10 * time.Second
	outboundRetryCount = 2
)

// OrderEngine is the wired order service plus the resources it owns.
type OrderEngine struct {
	Orders  orders.Service
	Metrics *metrics.OrderMetrics
	// Sinks names the notification sinks that were configured.
	Sinks []string

	closers []func() error
}

// NewOrderEngine builds the order service on dbClient. Notification sinks are
// registered only when their configuration is present; a configured sink that
// cannot start fails the whole build.
func NewOrderEngine(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer) (*OrderEngine, error) {
	if cfg == nil || dbClient == nil {
		return nil, fmt.Errorf("config and database client required")
	}
	if logg == nil {
		logg = logger.Nop()
	}

	engine := &OrderEngine{Metrics: metrics.NewOrderMetrics(reg)}

	calc, err := pricing.NewCalculator(cfg.Pricing)
	if err != nil {
		return nil, err
	}

	sinks, err := engine.buildSinks(ctx, cfg, logg)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	conn := dbClient.DB()
	catalogRepo := catalog.NewRepository(conn)
	svc, err := orders.NewService(orders.ServiceParams{
		Repo:     orders.NewRepository(conn),
		Tx:       dbClient,
		Catalog:  catalogRepo,
		Ledger:   inventory.NewLedger(conn, catalogRepo, logg, engine.Metrics),
		Pricing:  calc,
		Notifier: notify.NewDispatcher(logg, engine.Metrics, 0, sinks...),
		Logger:   logg,
		Metrics:  engine.Metrics,
		Config:   cfg.Orders,
		Currency: cfg.Pricing.Currency,
	})
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	engine.Orders = svc
	return engine, nil
}

func (e *OrderEngine) buildSinks(ctx context.Context, cfg *config.Config, logg *logger.Logger) ([]notify.Sink, error) {
	var sinks []notify.Sink

	if strings.TrimSpace(cfg.PubSub.FulfillmentTopic) != "" {
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, fmt.Errorf("fulfillment sink: %w", err)
		}
		e.closers = append(e.closers, client.Close)
		sinks = append(sinks, notify.NewFulfillmentSink(client.FulfillmentPublisher()))
	}
	if cfg.Sendgrid.APIKey != "" && cfg.Sendgrid.FromEmail != "" {
		sinks = append(sinks, notify.NewEmailSink(cfg.Sendgrid, newOutboundClient()))
	}
	if cfg.Discord.WebhookURL != "" {
		sinks = append(sinks, notify.NewChatSink(cfg.Discord.WebhookURL, newOutboundClient()))
	}

	for _, sink := range sinks {
		e.Sinks = append(e.Sinks, sink.Name())
	}
	logg.Info(logg.WithField(ctx, "sinks", e.Sinks), "notify.sinks.configured")
	return sinks, nil
}

// Close releases owned clients. The database client belongs to the caller.
func (e *OrderEngine) Close() error {
	var errs error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, e.closers[i]())
	}
	e.closers = nil
	return errs
}

func newOutboundClient() *resty.Client {
	return resty.New().
		SetTimeout(outboundTimeout).
		SetRetryCount(outboundRetryCount)
}
