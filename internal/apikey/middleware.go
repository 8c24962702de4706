// Package apikey authenticates client applications and carries the acting
// user they assert through the request context.
package apikey

import (
	"context"
	"net/http"
	"strings"

	"github.com/akkaui/payments/internal/config"
	apierrors "github.com/akkaui/payments/internal/errors"
)

// Tier represents the API key tier level.
type Tier string

const (
	TierAnonymous Tier = "anonymous" // No key presented (only when keys are disabled)
	TierStandard  Tier = "standard"  // Regular client application
	TierPartner   Tier = "partner"   // Trusted backend, exempt from per-user and per-IP limits
)

const (
	HeaderAPIKey = "X-API-Key"
	HeaderUserID = "X-User-ID"
)

type contextKey string

const (
	contextKeyTier   contextKey = "api_key_tier"
	contextKeyUserID contextKey = "user_id"
)

// Config holds API key configuration.
type Config struct {
	// Keys maps API key to tier level.
	Keys map[string]Tier

	// Enabled controls whether a known key is required.
	Enabled bool
}

// FromConfig converts the file/env configuration. Unknown tier names fall back to standard.
func FromConfig(cfg config.APIKeyConfig) Config {
	keys := make(map[string]Tier, len(cfg.Keys))
	for key, tier := range cfg.Keys {
		switch Tier(strings.ToLower(strings.TrimSpace(tier))) {
		case TierPartner:
			keys[key] = TierPartner
		default:
			keys[key] = TierStandard
		}
	}
	return Config{Enabled: cfg.Enabled, Keys: keys}
}

// Middleware validates X-API-Key and stores the tier and the asserted
// X-User-ID in the request context. With keys enabled, a missing or unknown
// key is rejected with 401 before the user header is trusted.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	enabled := cfg.Enabled && len(cfg.Keys) > 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := TierAnonymous
			if enabled {
				key := strings.TrimSpace(r.Header.Get(HeaderAPIKey))
				keyTier, ok := cfg.Keys[key]
				if key == "" || !ok {
					apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "valid X-API-Key required")
					return
				}
				tier = keyTier
			}

			ctx := context.WithValue(r.Context(), contextKeyTier, tier)
			if user := strings.TrimSpace(r.Header.Get(HeaderUserID)); user != "" {
				ctx = context.WithValue(ctx, contextKeyUserID, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests that did not assert a user.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r.Context()) == "" {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "X-User-ID header required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserID returns the user asserted by the authenticated client, or "".
func UserID(ctx context.Context) string {
	user, _ := ctx.Value(contextKeyUserID).(string)
	return user
}

// GetTier extracts the API key tier from request context.
func GetTier(r *http.Request) Tier {
	if tier, ok := r.Context().Value(contextKeyTier).(Tier); ok {
		return tier
	}
	return TierAnonymous
}

// IsExemptFromRateLimits reports whether per-user and per-IP limits are skipped.
func IsExemptFromRateLimits(r *http.Request) bool {
	return GetTier(r) == TierPartner
}
