package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load layers the optional YAML file over the defaults, then AKKAUI_*
// environment variables over both, and validates the result. An empty path
// means defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Catalog: CatalogConfig{
			DefaultCurrency: "BRL",
			Plans:           defaultPlans(),
			Assets:          map[string]AssetConfig{},
		},
		Gateways: GatewaysConfig{
			Timeout: Duration{Duration: 10 * time.Second},
			AbacatePay: AbacatePayConfig{
				BaseURL:   "https://api.abacatepay.com",
				ExpiresIn: Duration{Duration: time.Hour},
			},
			MercadoPago: MercadoPagoConfig{
				BaseURL: "https://api.mercadopago.com",
			},
			Stripe: StripeConfig{
				Mode: "test",
			},
		},
		Payments: PaymentsConfig{
			HistoryLimit: 20,
			Timezone:     "UTC",
		},
		Callbacks: CallbacksConfig{
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 3 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: 1 * time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
		},
		Idempotency: IdempotencyConfig{
			Backend:   "memory",
			KeyPrefix: "akkaui:idem:",
			TTL:       Duration{Duration: 24 * time.Hour},
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled:  true,
			GlobalLimit:    1000,
			GlobalWindow:   Duration{Duration: 1 * time.Minute},
			PerUserEnabled: true,
			PerUserLimit:   60,
			PerUserWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:   true,
			PerIPLimit:     120,
			PerIPWindow:    Duration{Duration: 1 * time.Minute},
		},
		APIKey: APIKeyConfig{
			Enabled: false,
			Keys:    make(map[string]string),
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:     true,
			AbacatePay:  defaultProviderBreaker(),
			MercadoPago: defaultProviderBreaker(),
			Stripe:      defaultProviderBreaker(),
			Callbacks: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

func defaultProviderBreaker() BreakerServiceConfig {
	return BreakerServiceConfig{
		MaxRequests:         3,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// defaultPlans is the built-in plan table. A YAML catalog.plans section adds to
// or replaces these entries by code.
func defaultPlans() map[string]PlanConfig {
	return map[string]PlanConfig{
		"pro_month":        {Name: "Pro (monthly)", Price: "49.00"},
		"pro_year":         {Name: "Pro (yearly)", Price: "470.40"},
		"enterprise_month": {Name: "Enterprise (monthly)", Price: "199.00"},
		"enterprise_year":  {Name: "Enterprise (yearly)", Price: "1910.40"},
	}
}

func (c *Config) parseFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml %s: %w", path, err)
	}
	return nil
}
