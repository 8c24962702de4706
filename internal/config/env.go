package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the AKKAUI_ prefix.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "AKKAUI_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "AKKAUI_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "AKKAUI_ADMIN_METRICS_API_KEY")
	if v := os.Getenv("AKKAUI_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging
	setIfEnv(&c.Logging.Level, "AKKAUI_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "AKKAUI_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "AKKAUI_ENVIRONMENT")

	// Storage
	setIfEnv(&c.Storage.Backend, "AKKAUI_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "AKKAUI_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "AKKAUI_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "AKKAUI_MONGODB_DATABASE")

	// Catalog
	setIfEnv(&c.Catalog.Source, "AKKAUI_CATALOG_SOURCE")
	setDurationIfEnv(&c.Catalog.CacheTTL, "AKKAUI_CATALOG_CACHE_TTL")
	setIfEnv(&c.Catalog.DefaultCurrency, "AKKAUI_DEFAULT_CURRENCY")

	// Gateways
	setDurationIfEnv(&c.Gateways.Timeout, "AKKAUI_GATEWAY_TIMEOUT")
	setIfEnv(&c.Gateways.AbacatePay.APIKey, "AKKAUI_ABACATEPAY_API_KEY")
	setIfEnv(&c.Gateways.AbacatePay.BaseURL, "AKKAUI_ABACATEPAY_BASE_URL")
	setIfEnv(&c.Gateways.AbacatePay.WebhookSecret, "AKKAUI_ABACATEPAY_WEBHOOK_SECRET")
	setBoolIfEnv(&c.Gateways.AbacatePay.DevMode, "AKKAUI_ABACATEPAY_DEV_MODE")
	setIfEnv(&c.Gateways.MercadoPago.AccessToken, "AKKAUI_MERCADOPAGO_ACCESS_TOKEN")
	setIfEnv(&c.Gateways.MercadoPago.BaseURL, "AKKAUI_MERCADOPAGO_BASE_URL")
	setIfEnv(&c.Gateways.MercadoPago.WebhookSecret, "AKKAUI_MERCADOPAGO_WEBHOOK_SECRET")
	setIfEnv(&c.Gateways.MercadoPago.NotificationURL, "AKKAUI_MERCADOPAGO_NOTIFICATION_URL")
	setIfEnv(&c.Gateways.MercadoPago.SuccessURL, "AKKAUI_MERCADOPAGO_SUCCESS_URL")
	setIfEnv(&c.Gateways.MercadoPago.PendingURL, "AKKAUI_MERCADOPAGO_PENDING_URL")
	setIfEnv(&c.Gateways.MercadoPago.FailureURL, "AKKAUI_MERCADOPAGO_FAILURE_URL")
	setBoolIfEnv(&c.Gateways.MercadoPago.Sandbox, "AKKAUI_MERCADOPAGO_SANDBOX")
	setIfEnv(&c.Gateways.Stripe.SecretKey, "AKKAUI_STRIPE_SECRET_KEY")
	setIfEnv(&c.Gateways.Stripe.WebhookSecret, "AKKAUI_STRIPE_WEBHOOK_SECRET")
	setIfEnv(&c.Gateways.Stripe.SuccessURL, "AKKAUI_STRIPE_SUCCESS_URL")
	setIfEnv(&c.Gateways.Stripe.CancelURL, "AKKAUI_STRIPE_CANCEL_URL")
	setIfEnv(&c.Gateways.Stripe.Mode, "AKKAUI_STRIPE_MODE")
	setBoolIfEnv(&c.Gateways.Sandbox.Enabled, "AKKAUI_SANDBOX_ENABLED")

	// Payments
	setBoolIfEnv(&c.Payments.AllowSimulation, "AKKAUI_ALLOW_SIMULATION")
	setIntIfEnv(&c.Payments.HistoryLimit, "AKKAUI_HISTORY_LIMIT")
	setIfEnv(&c.Payments.Timezone, "AKKAUI_TIMEZONE")

	// Callbacks (CALLBACK_HEADER_* become extra request headers)
	setIfEnv(&c.Callbacks.PaymentCompletedURL, "CALLBACK_PAYMENT_COMPLETED_URL")
	setIfEnv(&c.Callbacks.BodyTemplate, "CALLBACK_BODY_TEMPLATE")
	setDurationIfEnv(&c.Callbacks.Timeout, "CALLBACK_TIMEOUT")
	for name, value := range prefixedEnv("CALLBACK_HEADER_") {
		if c.Callbacks.Headers == nil {
			c.Callbacks.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Callbacks.Headers[headerName] = value
	}

	// Idempotency
	setIfEnv(&c.Idempotency.Backend, "AKKAUI_IDEMPOTENCY_BACKEND")
	setIfEnv(&c.Idempotency.RedisURL, "AKKAUI_REDIS_URL")
	setDurationIfEnv(&c.Idempotency.TTL, "AKKAUI_IDEMPOTENCY_TTL")

	// API Key config
	setBoolIfEnv(&c.APIKey.Enabled, "AKKAUI_API_KEY_ENABLED")
	for name, value := range prefixedEnv("AKKAUI_API_KEY_") {
		if name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		// AKKAUI_API_KEY_WEBAPP_ABC123=partner -> key: "webapp_abc123", tier: "partner"
		c.APIKey.Keys[strings.ToLower(name)] = strings.TrimSpace(value)
	}
}

// prefixedEnv returns all environment variables starting with prefix, keyed by
// the remainder of the variable name.
func prefixedEnv(prefix string) map[string]string {
	out := make(map[string]string)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], prefix)
		if name == "" {
			continue
		}
		out[name] = parts[1]
	}
	return out
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer when the variable parses as an integer.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
