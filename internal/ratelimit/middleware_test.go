package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/akkaui/payments/internal/apikey"
	"github.com/akkaui/payments/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func send(h http.Handler, remote, user, key string) int {
	req := httptest.NewRequest(http.MethodPost, "/payments/v1/intents/status", nil)
	req.RemoteAddr = remote
	if user != "" {
		req.Header.Set(apikey.HeaderUserID, user)
	}
	if key != "" {
		req.Header.Set(apikey.HeaderAPIKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.GlobalEnabled || cfg.GlobalLimit != 1000 {
		t.Errorf("global = %v/%d", cfg.GlobalEnabled, cfg.GlobalLimit)
	}
	if !cfg.PerUserEnabled || cfg.PerUserLimit != 60 {
		t.Errorf("per user = %v/%d", cfg.PerUserEnabled, cfg.PerUserLimit)
	}
	if !cfg.PerIPEnabled || cfg.PerIPLimit != 120 {
		t.Errorf("per ip = %v/%d", cfg.PerIPEnabled, cfg.PerIPLimit)
	}
}

func TestFromConfigKeepsDefaults(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{
		PerUserEnabled: true,
		PerUserLimit:   5,
		PerUserWindow:  config.Duration{Duration: 10 * time.Second},
	}, nil)
	if cfg.GlobalEnabled {
		t.Error("global should follow the config flag")
	}
	if cfg.PerUserLimit != 5 || cfg.PerUserWindow != 10*time.Second {
		t.Errorf("per user = %d/%s", cfg.PerUserLimit, cfg.PerUserWindow)
	}
	if cfg.PerIPLimit != 120 || cfg.PerIPWindow != time.Minute {
		t.Errorf("per ip defaults lost: %d/%s", cfg.PerIPLimit, cfg.PerIPWindow)
	}
}

func TestDisabledLimitersPassThrough(t *testing.T) {
	cfg := Config{}
	h := GlobalLimiter(cfg)(UserLimiter(cfg)(IPLimiter(cfg)(okHandler())))
	for i := 0; i < 50; i++ {
		if code := send(h, "10.0.0.1:1000", "u1", ""); code != http.StatusOK {
			t.Fatalf("request %d: code %d", i, code)
		}
	}
}

func TestGlobalLimiterEnforcesLimit(t *testing.T) {
	h := GlobalLimiter(Config{GlobalEnabled: true, GlobalLimit: 3, GlobalWindow: time.Minute})(okHandler())

	for i, remote := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		if code := send(h, remote, "", ""); code != http.StatusOK {
			t.Fatalf("request %d: code %d", i, code)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.4:1"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
}

func TestUserLimiterIsolatesUsers(t *testing.T) {
	cfg := Config{PerUserEnabled: true, PerUserLimit: 2, PerUserWindow: time.Minute}
	h := apikey.Middleware(apikey.Config{})(UserLimiter(cfg)(okHandler()))

	// Same IP, different users.
	for i := 0; i < 2; i++ {
		if code := send(h, "10.0.0.1:1", "alice", ""); code != http.StatusOK {
			t.Fatalf("alice %d: code %d", i, code)
		}
	}
	if code := send(h, "10.0.0.1:1", "alice", ""); code != http.StatusTooManyRequests {
		t.Errorf("alice over limit: code %d, want 429", code)
	}
	if code := send(h, "10.0.0.1:1", "bob", ""); code != http.StatusOK {
		t.Errorf("bob: code %d, want 200", code)
	}
}

func TestUserLimiterFallsBackToIP(t *testing.T) {
	cfg := Config{PerUserEnabled: true, PerUserLimit: 1, PerUserWindow: time.Minute}
	h := UserLimiter(cfg)(okHandler())

	if code := send(h, "10.0.0.1:1", "", ""); code != http.StatusOK {
		t.Fatalf("first: code %d", code)
	}
	if code := send(h, "10.0.0.1:2", "", ""); code != http.StatusTooManyRequests {
		t.Errorf("same ip: code %d, want 429", code)
	}
	if code := send(h, "10.0.0.2:1", "", ""); code != http.StatusOK {
		t.Errorf("other ip: code %d, want 200", code)
	}
}

func TestPartnerBypassesPerIP(t *testing.T) {
	keys := apikey.Config{Enabled: true, Keys: map[string]apikey.Tier{"p": apikey.TierPartner, "s": apikey.TierStandard}}
	cfg := Config{PerIPEnabled: true, PerIPLimit: 1, PerIPWindow: time.Minute}
	h := apikey.Middleware(keys)(IPLimiter(cfg)(okHandler()))

	for i := 0; i < 5; i++ {
		if code := send(h, "10.0.0.9:1", "", "p"); code != http.StatusOK {
			t.Fatalf("partner %d: code %d", i, code)
		}
	}
	if code := send(h, "10.0.0.9:1", "", "s"); code != http.StatusOK {
		t.Fatalf("standard first: code %d", code)
	}
	if code := send(h, "10.0.0.9:1", "", "s"); code != http.StatusTooManyRequests {
		t.Errorf("standard second: code %d, want 429", code)
	}
}
