package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tabletopforge/storefront-backend/api/controllers"
	ordercontrollers "github.com/tabletopforge/storefront-backend/api/controllers/orders"
	webhookcontrollers "github.com/tabletopforge/storefront-backend/api/controllers/webhooks"
	"github.com/tabletopforge/storefront-backend/api/middleware"
	"github.com/tabletopforge/storefront-backend/internal/orders"
	stripewebhook "github.com/tabletopforge/storefront-backend/internal/webhooks/stripe"
	"github.com/tabletopforge/storefront-backend/pkg/config"
	"github.com/tabletopforge/storefront-backend/pkg/db"
	"github.com/tabletopforge/storefront-backend/pkg/logger"
	"github.com/tabletopforge/storefront-backend/pkg/redis"
	"github.com/tabletopforge/storefront-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	ordersSvc orders.Service,
	stripeWebhookService *stripewebhook.Service,
	stripeVerifier *stripe.Verifier,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var redisPinger controllers.Pinger
	if redisClient != nil {
		redisPinger = redisClient
	}
	var dbPinger controllers.Pinger
	if dbP != nil {
		dbPinger = dbP
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbPinger, redisPinger))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		if stripeWebhookService != nil && stripeVerifier != nil {
			r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeVerifier, logg))
			return
		}
		r.Post("/stripe", webhookcontrollers.StripeWebhook(nil, nil, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		var store redis.IdempotencyStore
		if redisClient != nil {
			store = redisClient
		}
		r.With(middleware.Idempotency(store, middleware.DefaultIdempotencyTTL, logg)).Post("/", ordercontrollers.Create(ordersSvc, logg))

		// Listing exposes customer contact and address data; operators only.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(cfg.JWT, logg))
			r.Get("/", ordercontrollers.List(ordersSvc, logg))
			r.Put("/", ordercontrollers.UpdateStatus(ordersSvc, logg))
		})
	})

	return r
}
