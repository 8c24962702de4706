package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"

	"github.com/akkaui/payments/internal/apikey"
	"github.com/akkaui/payments/internal/config"
	apierrors "github.com/akkaui/payments/internal/errors"
	"github.com/akkaui/payments/internal/metrics"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global rate limiting (across all clients)
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-user rate limiting, keyed by the asserted X-User-ID
	PerUserEnabled bool
	PerUserLimit   int
	PerUserWindow  time.Duration

	// Per-IP rate limiting (fallback when no user is asserted)
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Metrics *metrics.Metrics
}

// DefaultConfig returns limits generous enough for a browser checkout flow
// that polls status every few seconds.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  time.Minute,

		PerUserEnabled: true,
		PerUserLimit:   60,
		PerUserWindow:  time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  time.Minute,
	}
}

// FromConfig builds limiter settings, keeping defaults for zero limits or windows.
func FromConfig(cfg config.RateLimitConfig, m *metrics.Metrics) Config {
	def := DefaultConfig()
	out := Config{
		GlobalEnabled:  cfg.GlobalEnabled,
		GlobalLimit:    orInt(cfg.GlobalLimit, def.GlobalLimit),
		GlobalWindow:   orDuration(cfg.GlobalWindow.Duration, def.GlobalWindow),
		PerUserEnabled: cfg.PerUserEnabled,
		PerUserLimit:   orInt(cfg.PerUserLimit, def.PerUserLimit),
		PerUserWindow:  orDuration(cfg.PerUserWindow.Duration, def.PerUserWindow),
		PerIPEnabled:   cfg.PerIPEnabled,
		PerIPLimit:     orInt(cfg.PerIPLimit, def.PerIPLimit),
		PerIPWindow:    orDuration(cfg.PerIPWindow.Duration, def.PerIPWindow),
		Metrics:        m,
	}
	return out
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// limitHandler writes the 429 body shared by every limiter.
func limitHandler(limitType string, window time.Duration, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return func(w http.ResponseWriter, r *http.Request) {
		m.ObserveRateLimit(limitType)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		apierrors.WriteError(w, apierrors.ErrCodeRateLimited, "rate limit exceeded, try again later",
			map[string]any{"limit": limitType, "retryAfterSeconds": seconds})
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// GlobalLimiter caps total request volume. No tier bypasses it.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithKeyFuncs(func(*http.Request) (string, error) { return "global", nil }),
		httprate.WithLimitHandler(limitHandler("global", cfg.GlobalWindow, cfg.Metrics)),
	)
}

// UserLimiter limits each asserted user. Requests without a user fall back to the client IP.
// It must run after apikey.Middleware so the user comes from an authenticated client.
func UserLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerUserEnabled {
		return passthrough
	}
	limiter := httprate.Limit(
		cfg.PerUserLimit,
		cfg.PerUserWindow,
		httprate.WithKeyFuncs(userKey),
		httprate.WithLimitHandler(limitHandler("per_user", cfg.PerUserWindow, cfg.Metrics)),
	)
	return exemptPartners(limiter)
}

// IPLimiter limits each client IP.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}
	limiter := httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler("per_ip", cfg.PerIPWindow, cfg.Metrics)),
	)
	return exemptPartners(limiter)
}

func exemptPartners(limiter func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := limiter(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.IsExemptFromRateLimits(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func userKey(r *http.Request) (string, error) {
	if user := userFromRequest(r); user != "" {
		return "user:" + user, nil
	}
	return httprate.KeyByIP(r)
}

func userFromRequest(r *http.Request) string {
	if user := apikey.UserID(r.Context()); user != "" {
		return user
	}
	return strings.TrimSpace(r.Header.Get(apikey.HeaderUserID))
}
