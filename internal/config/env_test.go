package config

import (
	"testing"
	"time"
)

func TestEnvOverrides(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name:    "server address",
			envVars: map[string]string{"AKKAUI_SERVER_ADDRESS": ":3000"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("Expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name:    "route prefix is normalized",
			envVars: map[string]string{"AKKAUI_ROUTE_PREFIX": "api/"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/api" {
					t.Errorf("Expected /api, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
		{
			name:    "cors origins list",
			envVars: map[string]string{"AKKAUI_CORS_ALLOWED_ORIGINS": "https://a.example, https://b.example"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if len(cfg.Server.CORSAllowedOrigins) != 2 || cfg.Server.CORSAllowedOrigins[1] != "https://b.example" {
					t.Errorf("unexpected origins %v", cfg.Server.CORSAllowedOrigins)
				}
			},
		},
		{
			name: "gateway credentials",
			envVars: map[string]string{
				"AKKAUI_ABACATEPAY_API_KEY":       "abc_dev_key",
				"AKKAUI_ABACATEPAY_DEV_MODE":      "1",
				"AKKAUI_MERCADOPAGO_ACCESS_TOKEN": "TEST-token",
				"AKKAUI_STRIPE_SECRET_KEY":        "sk_test_x",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Gateways.AbacatePay.APIKey != "abc_dev_key" || !cfg.Gateways.AbacatePay.DevMode {
					t.Errorf("abacatepay not overridden: %+v", cfg.Gateways.AbacatePay)
				}
				if cfg.Gateways.MercadoPago.AccessToken != "TEST-token" {
					t.Errorf("mercadopago token = %q", cfg.Gateways.MercadoPago.AccessToken)
				}
				if !cfg.Gateways.AnyConfigured() {
					t.Error("expected gateways configured")
				}
			},
		},
		{
			name: "durations and ints",
			envVars: map[string]string{
				"AKKAUI_GATEWAY_TIMEOUT": "2s",
				"AKKAUI_HISTORY_LIMIT":   "5",
				"AKKAUI_IDEMPOTENCY_TTL": "1h",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Gateways.Timeout.Duration != 2*time.Second {
					t.Errorf("timeout = %v", cfg.Gateways.Timeout.Duration)
				}
				if cfg.Payments.HistoryLimit != 5 {
					t.Errorf("history limit = %d", cfg.Payments.HistoryLimit)
				}
				if cfg.Idempotency.TTL.Duration != time.Hour {
					t.Errorf("idempotency ttl = %v", cfg.Idempotency.TTL.Duration)
				}
			},
		},
		{
			name:    "invalid duration is ignored",
			envVars: map[string]string{"AKKAUI_GATEWAY_TIMEOUT": "soon"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Gateways.Timeout.Duration != 10*time.Second {
					t.Errorf("timeout = %v, want default", cfg.Gateways.Timeout.Duration)
				}
			},
		},
		{
			name: "callback headers",
			envVars: map[string]string{
				"CALLBACK_HEADER_X_SHARED_SECRET": "s3cret",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Callbacks.Headers["X-Shared-Secret"] != "s3cret" {
					t.Errorf("headers = %v", cfg.Callbacks.Headers)
				}
			},
		},
		{
			name: "api keys",
			envVars: map[string]string{
				"AKKAUI_API_KEY_ENABLED":        "true",
				"AKKAUI_API_KEY_WEBAPP_ABC123":  "partner",
				"AKKAUI_API_KEY_MOBILE_XYZ":     " standard ",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if !cfg.APIKey.Enabled {
					t.Error("expected api keys enabled")
				}
				if cfg.APIKey.Keys["webapp_abc123"] != "partner" {
					t.Errorf("keys = %v", cfg.APIKey.Keys)
				}
				if cfg.APIKey.Keys["mobile_xyz"] != "standard" {
					t.Errorf("keys = %v", cfg.APIKey.Keys)
				}
				if _, ok := cfg.APIKey.Keys["enabled"]; ok {
					t.Error("ENABLED must not be treated as a key")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	tests := map[string]string{
		"":         "",
		"api":      "/api",
		"/api/":    "/api",
		" /pay ":   "/pay",
		"/a/b/":    "/a/b",
	}
	for in, want := range tests {
		if got := normalizeRoutePrefix(in); got != want {
			t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
