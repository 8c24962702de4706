package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Storage        StorageConfig        `yaml:"storage"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Gateways       GatewaysConfig       `yaml:"gateways"`
	Payments       PaymentsConfig       `yaml:"payments"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	APIKey         APIKeyConfig         `yaml:"api_key"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key protecting /metrics (empty disables protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// StorageConfig holds the ledger and entitlement storage backend configuration.
type StorageConfig struct {
	Backend         string              `yaml:"backend"`          // "memory", "postgres", or "mongodb"
	PostgresURL     string              `yaml:"postgres_url"`     // PostgreSQL connection string
	MongoDBURL      string              `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string              `yaml:"mongodb_database"` // MongoDB database name
	PostgresPool    PostgresPoolConfig  `yaml:"postgres_pool"`    // PostgreSQL connection pool settings
	SchemaMapping   SchemaMappingConfig `yaml:"schema_mapping"`   // Table/collection name mappings
}

// SchemaMappingConfig holds table/collection name mappings for custom schemas.
type SchemaMappingConfig struct {
	Intents      TableMappingConfig `yaml:"intents"`      // Payment intents
	LineItems    TableMappingConfig `yaml:"line_items"`   // Intent line items (postgres only)
	Grants       TableMappingConfig `yaml:"grants"`       // Purchase grants
	Entitlements TableMappingConfig `yaml:"entitlements"` // Subscription entitlements
	Plans        TableMappingConfig `yaml:"plans"`        // Catalog plans
	Assets       TableMappingConfig `yaml:"assets"`       // Catalog assets
}

// TableMappingConfig defines a single table/collection mapping.
type TableMappingConfig struct {
	TableName string `yaml:"table_name"`
}

// CatalogConfig holds the price authority configuration.
type CatalogConfig struct {
	Source          string                 `yaml:"source"`           // "yaml", "postgres", or "mongodb" (default follows storage.backend)
	CacheTTL        Duration               `yaml:"cache_ttl"`        // Read-through cache TTL (0 = no cache)
	DefaultCurrency string                 `yaml:"default_currency"` // Currency applied to entries without one (default: BRL)
	PostgresURL     string                 `yaml:"postgres_url"`     // Copied from storage when empty
	MongoDBURL      string                 `yaml:"mongodb_url"`      // Copied from storage when empty
	MongoDBDatabase string                 `yaml:"mongodb_database"` // Copied from storage when empty
	Plans           map[string]PlanConfig  `yaml:"plans"`            // Only used when Source = "yaml"
	Assets          map[string]AssetConfig `yaml:"assets"`           // Only used when Source = "yaml"
}

// PlanConfig defines a subscription plan. Prices are decimal strings in major units.
type PlanConfig struct {
	Name          string `yaml:"name"`
	Price         string `yaml:"price"`           // e.g. "49.00"
	Currency      string `yaml:"currency"`        // ISO code (default: catalog.default_currency)
	Months        int    `yaml:"months"`          // Entitlement extension per purchase (default: 12 for *year* codes, else 1)
	StripePriceID string `yaml:"stripe_price_id"` // Recurring Stripe price, enables subscription checkout
	Disabled      bool   `yaml:"disabled"`
}

// AssetConfig defines a purchasable catalog asset.
type AssetConfig struct {
	Title    string `yaml:"title"`
	Price    string `yaml:"price"`    // "0" or empty marks the asset as not for sale
	Currency string `yaml:"currency"` // ISO code (default: catalog.default_currency)
	Disabled bool   `yaml:"disabled"`
}

// GatewaysConfig holds payment provider credentials.
// A provider is registered only when its credentials are present.
type GatewaysConfig struct {
	Timeout     Duration          `yaml:"timeout"` // Per-call timeout for provider APIs (default: 10s)
	AbacatePay  AbacatePayConfig  `yaml:"abacatepay"`
	MercadoPago MercadoPagoConfig `yaml:"mercadopago"`
	Stripe      StripeConfig      `yaml:"stripe"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
}

// AbacatePayConfig configures the PIX QR provider.
type AbacatePayConfig struct {
	APIKey        string   `yaml:"api_key"`
	BaseURL       string   `yaml:"base_url"`       // default: https://api.abacatepay.com
	WebhookSecret string   `yaml:"webhook_secret"` // Compared against the webhookSecret query parameter
	DevMode       bool     `yaml:"dev_mode"`       // Enables the simulate-payment endpoint
	ExpiresIn     Duration `yaml:"expires_in"`     // QR code lifetime (default: 1h)
}

// MercadoPagoConfig configures the redirect checkout provider.
type MercadoPagoConfig struct {
	AccessToken     string `yaml:"access_token"`
	BaseURL         string `yaml:"base_url"`       // default: https://api.mercadopago.com
	WebhookSecret   string `yaml:"webhook_secret"` // x-signature HMAC secret
	NotificationURL string `yaml:"notification_url"`
	SuccessURL      string `yaml:"success_url"`
	PendingURL      string `yaml:"pending_url"`
	FailureURL      string `yaml:"failure_url"`
	Sandbox         bool   `yaml:"sandbox"` // Use sandbox_init_point for redirects
}

// StripeConfig holds Stripe payment integration configuration.
type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
	Mode          string `yaml:"mode"` // live | test
}

// SandboxConfig enables the in-process simulated provider.
type SandboxConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PaymentsConfig holds orchestrator settings.
type PaymentsConfig struct {
	AllowSimulation bool   `yaml:"allow_simulation"` // Expose the simulate-confirmation operation
	HistoryLimit    int    `yaml:"history_limit"`    // Intents returned by the history endpoint (default: 20)
	Timezone        string `yaml:"timezone"`         // Calendar used for entitlement dates (default: UTC)
}

// CallbacksConfig holds outbound completion notification configuration.
type CallbacksConfig struct {
	PaymentCompletedURL string            `yaml:"payment_completed_url"`
	Headers             map[string]string `yaml:"headers"`
	BodyTemplate        string            `yaml:"body_template"` // Go template rendered with the payment event
	Timeout             Duration          `yaml:"timeout"`
	Retry               RetryConfig       `yaml:"retry"`
}

// RetryConfig holds callback retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`          // Enable retry with exponential backoff (default: true)
	MaxAttempts     int      `yaml:"max_attempts"`     // Maximum attempts (default: 5)
	InitialInterval Duration `yaml:"initial_interval"` // Initial backoff interval (default: 1s)
	MaxInterval     Duration `yaml:"max_interval"`     // Maximum backoff interval (default: 5m)
	Multiplier      float64  `yaml:"multiplier"`       // Backoff multiplier (default: 2.0)
}

// IdempotencyConfig configures replay protection for intent creation.
type IdempotencyConfig struct {
	Backend   string   `yaml:"backend"`    // "memory" or "redis"
	RedisURL  string   `yaml:"redis_url"`  // redis://host:6379/0
	KeyPrefix string   `yaml:"key_prefix"` // default: akkaui:idem:
	TTL       Duration `yaml:"ttl"`        // default: 24h
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-user limiting keyed by the X-User-ID header.
	PerUserEnabled bool     `yaml:"per_user_enabled"`
	PerUserLimit   int      `yaml:"per_user_limit"`
	PerUserWindow  Duration `yaml:"per_user_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// APIKeyConfig holds client API key configuration.
// Requests carrying a known X-API-Key may assert the acting user via X-User-ID.
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"`
	Keys    map[string]string `yaml:"keys"` // API key -> tier (standard, partner)
}

// CircuitBreakerConfig holds circuit breaker configuration per external service.
type CircuitBreakerConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	AbacatePay  BreakerServiceConfig `yaml:"abacatepay"`
	MercadoPago BreakerServiceConfig `yaml:"mercadopago"`
	Stripe      BreakerServiceConfig `yaml:"stripe"`
	Callbacks   BreakerServiceConfig `yaml:"callbacks"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
