package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Gateways.Stripe.Mode == "" {
		c.Gateways.Stripe.Mode = "test"
	}
	if c.Gateways.Timeout.Duration <= 0 {
		c.Gateways.Timeout = Duration{Duration: 10 * time.Second}
	}
	if c.Gateways.AbacatePay.ExpiresIn.Duration <= 0 {
		c.Gateways.AbacatePay.ExpiresIn = Duration{Duration: time.Hour}
	}
	if c.Payments.HistoryLimit <= 0 {
		c.Payments.HistoryLimit = 20
	}
	if c.Payments.Timezone == "" {
		c.Payments.Timezone = "UTC"
	}
	if c.Callbacks.Timeout.Duration == 0 {
		c.Callbacks.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Callbacks.Headers == nil {
		c.Callbacks.Headers = make(map[string]string)
	}
	if c.Idempotency.Backend == "" {
		c.Idempotency.Backend = "memory"
	}
	if c.Idempotency.TTL.Duration <= 0 {
		c.Idempotency.TTL = Duration{Duration: 24 * time.Hour}
	}
	if c.Idempotency.KeyPrefix == "" {
		c.Idempotency.KeyPrefix = "akkaui:idem:"
	}
	c.Catalog.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.Catalog.DefaultCurrency))
	if c.Catalog.DefaultCurrency == "" {
		c.Catalog.DefaultCurrency = "BRL"
	}

	// Catalog source follows the storage backend unless set explicitly, so
	// operators only configure database URLs once.
	if c.Catalog.Source == "" {
		switch c.Storage.Backend {
		case "postgres", "mongodb":
			c.Catalog.Source = c.Storage.Backend
		default:
			c.Catalog.Source = "yaml"
		}
	}
	switch c.Catalog.Source {
	case "postgres":
		if c.Catalog.PostgresURL == "" {
			c.Catalog.PostgresURL = c.Storage.PostgresURL
		}
	case "mongodb":
		if c.Catalog.MongoDBURL == "" {
			c.Catalog.MongoDBURL = c.Storage.MongoDBURL
		}
		if c.Catalog.MongoDBDatabase == "" {
			c.Catalog.MongoDBDatabase = c.Storage.MongoDBDatabase
		}
	}

	for code, plan := range c.Catalog.Plans {
		if plan.Currency == "" {
			plan.Currency = c.Catalog.DefaultCurrency
		}
		plan.Currency = strings.ToUpper(plan.Currency)
		if plan.Months <= 0 {
			plan.Months = DefaultPlanMonths(code)
		}
		if plan.Name == "" {
			plan.Name = code
		}
		c.Catalog.Plans[code] = plan
	}
	for id, asset := range c.Catalog.Assets {
		if asset.Currency == "" {
			asset.Currency = c.Catalog.DefaultCurrency
		}
		asset.Currency = strings.ToUpper(asset.Currency)
		if asset.Title == "" {
			asset.Title = id
		}
		c.Catalog.Assets[id] = asset
	}

	return c.validate()
}

// DefaultPlanMonths derives the extension length from a plan code: yearly
// plans extend by twelve months, everything else by one.
func DefaultPlanMonths(code string) int {
	if strings.Contains(strings.ToLower(code), "year") {
		return 12
	}
	return 1
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when backend is 'postgres'")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required when backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not supported (memory, postgres, mongodb)", c.Storage.Backend))
	}

	switch c.Catalog.Source {
	case "yaml":
	case "postgres":
		if c.Catalog.PostgresURL == "" {
			errs = append(errs, "catalog.postgres_url is required when source is 'postgres'")
		}
	case "mongodb":
		if c.Catalog.MongoDBURL == "" {
			errs = append(errs, "catalog.mongodb_url is required when source is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("catalog.source %q is not supported (yaml, postgres, mongodb)", c.Catalog.Source))
	}

	// Sorted so error messages are stable.
	planCodes := make([]string, 0, len(c.Catalog.Plans))
	for code := range c.Catalog.Plans {
		planCodes = append(planCodes, code)
	}
	sort.Strings(planCodes)
	for _, code := range planCodes {
		price, err := decimal.NewFromString(c.Catalog.Plans[code].Price)
		if err != nil || !price.IsPositive() {
			errs = append(errs, fmt.Sprintf("catalog.plans.%s.price must be a positive decimal", code))
		}
	}
	assetIDs := make([]string, 0, len(c.Catalog.Assets))
	for id := range c.Catalog.Assets {
		assetIDs = append(assetIDs, id)
	}
	sort.Strings(assetIDs)
	for _, id := range assetIDs {
		raw := strings.TrimSpace(c.Catalog.Assets[id].Price)
		if raw == "" {
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil || price.IsNegative() {
			errs = append(errs, fmt.Sprintf("catalog.assets.%s.price must be a non-negative decimal", id))
		}
	}

	if !c.Gateways.AnyConfigured() {
		errs = append(errs, "at least one gateway must be configured (abacatepay, mercadopago, stripe, or sandbox)")
	}
	if c.Gateways.AbacatePay.APIKey != "" {
		if err := validateBaseURL(c.Gateways.AbacatePay.BaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("gateways.abacatepay.base_url: %v", err))
		}
	}
	if c.Gateways.MercadoPago.AccessToken != "" {
		if err := validateBaseURL(c.Gateways.MercadoPago.BaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("gateways.mercadopago.base_url: %v", err))
		}
	}
	switch c.Gateways.Stripe.Mode {
	case "live", "test":
	default:
		errs = append(errs, fmt.Sprintf("gateways.stripe.mode %q must be 'live' or 'test'", c.Gateways.Stripe.Mode))
	}

	if _, err := time.LoadLocation(c.Payments.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("payments.timezone %q: %v", c.Payments.Timezone, err))
	}

	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if c.Idempotency.RedisURL == "" {
			errs = append(errs, "idempotency.redis_url is required when backend is 'redis'")
		}
	default:
		errs = append(errs, fmt.Sprintf("idempotency.backend %q is not supported (memory, redis)", c.Idempotency.Backend))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// AnyConfigured reports whether at least one provider has credentials.
func (g GatewaysConfig) AnyConfigured() bool {
	return g.AbacatePay.APIKey != "" ||
		g.MercadoPago.AccessToken != "" ||
		g.Stripe.SecretKey != "" ||
		g.Sandbox.Enabled
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
