package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/akkaui/payments/internal/apikey"
	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/gateway"
	"github.com/akkaui/payments/internal/idempotency"
	"github.com/akkaui/payments/internal/logger"
	"github.com/akkaui/payments/internal/metrics"
	"github.com/akkaui/payments/internal/payments"
	"github.com/akkaui/payments/internal/ratelimit"
	"github.com/akkaui/payments/internal/versioning"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Payments    *payments.Service
	Gateways    *gateway.Registry
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
	// MetricsHandler serves the metrics endpoint. Defaults to promhttp.Handler().
	MetricsHandler http.Handler
	// Checks run on every health probe, keyed by dependency name.
	Checks map[string]HealthCheck
}

type handlers struct {
	cfg      *config.Config
	payments *payments.Service
	gateways *gateway.Registry
	metrics  *metrics.Metrics
	checks   map[string]HealthCheck
}

// ConfigureRouter attaches the payment routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Deps, appLogger zerolog.Logger) {
	if router == nil {
		return
	}
	h := &handlers{
		cfg:      cfg,
		payments: deps.Payments,
		gateways: deps.Gateways,
		metrics:  deps.Metrics,
		checks:   deps.Checks,
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(versioning.Negotiation)

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", apikey.HeaderAPIKey, apikey.HeaderUserID, idempotency.HeaderKey},
			ExposedHeaders:   []string{"X-Request-ID", idempotency.HeaderReplay},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	limits := ratelimit.FromConfig(cfg.RateLimit, deps.Metrics)
	router.Use(ratelimit.GlobalLimiter(limits))
	router.NotFound(notFound)

	prefix := cfg.Server.RoutePrefix

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	// Probes and scraping get a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", h.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", metricsHandler)
	})

	// Client endpoints may wait on a provider.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(apikey.Middleware(apikey.FromConfig(cfg.APIKey)))
		// Per-IP runs after the key check so partner backends are exempt.
		r.Use(ratelimit.IPLimiter(limits))
		r.Use(apikey.RequireUser)
		r.Use(ratelimit.UserLimiter(limits))

		idem := func(next http.Handler) http.Handler { return next }
		if deps.Idempotency != nil {
			idem = idempotency.Middleware(deps.Idempotency, cfg.Idempotency.TTL.Duration)
		}

		r.Route(prefix+"/payments/v1", func(r chi.Router) {
			r.With(idem).Post("/intents", h.createIntent)
			r.Get("/intents", h.listIntents)
			r.Post("/intents/status", h.intentStatus)
			if h.payments.SimulationEnabled() {
				r.With(idem).Post("/intents/simulate", h.simulateIntent)
			}
			r.Get("/purchases", h.listPurchases)
			r.Get("/subscription", h.subscription)
		})
	})

	// Provider webhooks authenticate by signature, not API key. The paths stay
	// unversioned so URLs registered with providers never change.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(ratelimit.IPLimiter(limits))
		r.Post(prefix+"/webhook/{provider}", h.webhook)
	})
}
