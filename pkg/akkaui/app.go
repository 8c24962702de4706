// Package akkaui assembles the payment service for standalone serving or for
// embedding its routes in another chi router.
package akkaui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/akkaui/payments/internal/callbacks"
	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/circuitbreaker"
	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/dbpool"
	"github.com/akkaui/payments/internal/gateway"
	"github.com/akkaui/payments/internal/httpserver"
	"github.com/akkaui/payments/internal/idempotency"
	"github.com/akkaui/payments/internal/lifecycle"
	"github.com/akkaui/payments/internal/logger"
	"github.com/akkaui/payments/internal/metrics"
	"github.com/akkaui/payments/internal/payments"
	"github.com/akkaui/payments/internal/storage"
	"github.com/akkaui/payments/internal/subscriptions"
)

const serviceName = "akkaui-payments"

// App wires the payment components.
type App struct {
	Config        *config.Config
	Logger        zerolog.Logger
	Store         storage.Store
	Catalog       catalog.Repository
	Subscriptions subscriptions.Repository
	Gateways      *gateway.Registry
	Notifier      callbacks.Notifier
	Payments      *payments.Service
	Idempotency   idempotency.Store

	router    chi.Router
	resources *lifecycle.Manager
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	pool      *dbpool.SharedPool
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store    storage.Store
	notifier callbacks.Notifier
	gateways []gateway.Gateway
	router   chi.Router
	logger   *zerolog.Logger
	clock    func() time.Time
}

// WithStore replaces the configured ledger backend. The caller keeps ownership.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithNotifier injects a completion notifier.
func WithNotifier(notifier callbacks.Notifier) Option {
	return func(o *options) { o.notifier = notifier }
}

// WithGateways replaces the configured providers.
func WithGateways(gateways ...gateway.Gateway) Option {
	return func(o *options) { o.gateways = gateways }
}

// WithRouter registers routes on an existing router.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithLogger overrides the logger built from the logging section.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithClock overrides the time source of the orchestrator and the granter.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// NewApp assembles the payment service. On error every resource opened so
// far is closed.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("akkaui: config required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     serviceName,
		Environment: cfg.Logging.Environment,
	})
	if o.logger != nil {
		appLogger = *o.logger
	}

	app = &App{
		Config:    cfg,
		Logger:    appLogger,
		resources: lifecycle.NewManager(appLogger),
		registry:  prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = app.resources.Close()
			app = nil
		}
	}()

	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.metrics = metrics.New(app.registry)

	loc, err := time.LoadLocation(cfg.Payments.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	app.pool, err = dbpool.ForConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.resources.Register("postgres-pool", app.pool)

	if o.store != nil {
		app.Store = o.store
	} else {
		app.Store, err = storage.NewStoreWithDB(cfg.Storage, app.pool.DB())
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		storage.Instrument(app.Store, app.metrics)
		app.resources.Register("storage", app.Store)
		if cfg.Storage.Backend == "" || cfg.Storage.Backend == "memory" {
			appLogger.Warn().Msg("akkaui.storage.memory: ledger is lost on restart, do not use in production")
		}
	}

	catalogDB := app.pool.DB()
	if !app.pool.Serves(cfg.Catalog.PostgresURL) {
		catalogDB = nil
	}
	app.Catalog, err = catalog.NewRepositoryWithDB(*cfg, catalogDB, app.metrics)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	app.resources.Register("catalog", app.Catalog)

	app.Subscriptions, err = subscriptions.NewRepositoryWithDB(cfg.Storage, app.pool.DB())
	if err != nil {
		return nil, fmt.Errorf("init entitlements: %w", err)
	}
	app.resources.Register("entitlements", app.Subscriptions)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, appLogger)

	if len(o.gateways) > 0 {
		app.Gateways = gateway.NewRegistry(o.gateways...)
	} else {
		app.Gateways = gateway.NewRegistryFromConfig(cfg.Gateways, breakers, app.metrics)
	}
	if len(app.Gateways.Providers()) == 0 {
		appLogger.Warn().Msg("akkaui.gateways.none: no payment provider configured")
	}

	if o.notifier != nil {
		app.Notifier = o.notifier
	} else {
		app.Notifier, err = callbacks.NewRetryableClient(cfg.Callbacks,
			callbacks.WithRetryLogger(appLogger),
			callbacks.WithMetrics(app.metrics),
			callbacks.WithCircuitBreaker(breakers),
		)
		if err != nil {
			return nil, err
		}
	}

	clock := o.clock
	if clock == nil {
		clock = time.Now
	}
	granter := payments.NewGranter(app.Store, app.Subscriptions, app.Catalog,
		payments.WithGranterMetrics(app.metrics),
		payments.WithGranterClock(clock, loc),
	)
	app.Payments, err = payments.NewService(payments.Deps{
		Store:           app.Store,
		Catalog:         catalog.NewAuthority(app.Catalog),
		Gateways:        app.Gateways,
		Granter:         granter,
		Entitlements:    app.Subscriptions,
		Notifier:        app.Notifier,
		Metrics:         app.metrics,
		Clock:           clock,
		GatewayTimeout:  cfg.Gateways.Timeout.Duration,
		AllowSimulation: cfg.Payments.AllowSimulation,
		HistoryLimit:    cfg.Payments.HistoryLimit,
		Location:        loc,
	})
	if err != nil {
		return nil, err
	}

	app.Idempotency, err = idempotency.NewStore(cfg.Idempotency)
	if err != nil {
		return nil, fmt.Errorf("init idempotency store: %w", err)
	}
	app.resources.Register("idempotency", app.Idempotency)

	app.router = o.router
	if app.router == nil {
		app.router = chi.NewRouter()
	}
	httpserver.ConfigureRouter(app.router, cfg, app.deps(), appLogger)

	appLogger.Info().
		Str("storage", cfg.Storage.Backend).
		Str("catalog", cfg.Catalog.Source).
		Int("providers", len(app.Gateways.Providers())).
		Bool("simulation", cfg.Payments.AllowSimulation).
		Msg("akkaui.app.ready")
	return app, nil
}

func (a *App) deps() httpserver.Deps {
	d := httpserver.Deps{
		Payments:       a.Payments,
		Gateways:       a.Gateways,
		Idempotency:    a.Idempotency,
		Metrics:        a.metrics,
		MetricsHandler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	}
	if db := a.pool.DB(); db != nil {
		d.Checks = map[string]httpserver.HealthCheck{"postgres": db.PingContext}
	}
	return d
}

// Router returns the chi router with the payment routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Server returns an HTTP server for the app's routes, using the server section of the config.
func (a *App) Server() *http.Server {
	return &http.Server{
		Addr:         a.Config.Server.Address,
		ReadTimeout:  a.Config.Server.ReadTimeout.Duration,
		WriteTimeout: a.Config.Server.WriteTimeout.Duration,
		IdleTimeout:  a.Config.Server.IdleTimeout.Duration,
		Handler:      a.router,
	}
}

// Close releases resources owned by the app.
func (a *App) Close() error {
	return a.resources.Close()
}

// Shutdown closes resources, giving up when ctx ends.
func (a *App) Shutdown(ctx context.Context) error {
	return a.resources.Shutdown(ctx)
}

// RegisterRoutes attaches the payment endpoints of an existing App to router.
func RegisterRoutes(router chi.Router, app *App) {
	if router == nil || app == nil {
		return
	}
	httpserver.ConfigureRouter(router, app.Config, app.deps(), app.Logger)
}

// NewHandler constructs an App and returns its handler with a shutdown func.
func NewHandler(ctx context.Context, cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return app.Handler(), app.Shutdown, nil
}

// Config is an exported alias of the internal configuration for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
