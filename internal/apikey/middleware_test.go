package apikey

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/akkaui/payments/internal/config"
)

type seen struct {
	called bool
	tier   Tier
	user   string
}

func probe(s *seen) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.called = true
		s.tier = GetTier(r)
		s.user = UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware(t *testing.T) {
	keys := Config{Enabled: true, Keys: map[string]Tier{"app_key": TierStandard, "backend_key": TierPartner}}

	tests := []struct {
		name     string
		cfg      Config
		key      string
		user     string
		wantCode int
		wantTier Tier
		wantUser string
	}{
		{name: "disabled trusts user header", cfg: Config{}, user: "u1", wantCode: 200, wantTier: TierAnonymous, wantUser: "u1"},
		{name: "missing key", cfg: keys, user: "u1", wantCode: 401},
		{name: "unknown key", cfg: keys, key: "nope", user: "u1", wantCode: 401},
		{name: "standard key", cfg: keys, key: "app_key", user: " u1 ", wantCode: 200, wantTier: TierStandard, wantUser: "u1"},
		{name: "partner key", cfg: keys, key: "backend_key", wantCode: 200, wantTier: TierPartner},
		{name: "enabled without keys behaves disabled", cfg: Config{Enabled: true}, wantCode: 200, wantTier: TierAnonymous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s seen
			req := httptest.NewRequest(http.MethodGet, "/payments/v1/intents", nil)
			if tt.key != "" {
				req.Header.Set(HeaderAPIKey, tt.key)
			}
			if tt.user != "" {
				req.Header.Set(HeaderUserID, tt.user)
			}
			rec := httptest.NewRecorder()
			Middleware(tt.cfg)(probe(&s)).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != 200 {
				if s.called {
					t.Error("handler must not run for rejected keys")
				}
				return
			}
			if s.tier != tt.wantTier || s.user != tt.wantUser {
				t.Errorf("tier/user = %s/%q, want %s/%q", s.tier, s.user, tt.wantTier, tt.wantUser)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	var s seen
	h := Middleware(Config{})(RequireUser(probe(&s)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusBadRequest || s.called {
		t.Errorf("without user: code %d, called %v", rec.Code, s.called)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "u1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || s.user != "u1" {
		t.Errorf("with user: code %d, user %q", rec.Code, s.user)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.APIKeyConfig{Enabled: true, Keys: map[string]string{"a": "Partner", "b": "standard", "c": "gold"}})
	want := map[string]Tier{"a": TierPartner, "b": TierStandard, "c": TierStandard}
	for k, tier := range want {
		if cfg.Keys[k] != tier {
			t.Errorf("key %s tier = %s, want %s", k, cfg.Keys[k], tier)
		}
	}
}

func TestIsExemptFromRateLimits(t *testing.T) {
	cfg := Config{Enabled: true, Keys: map[string]Tier{"p": TierPartner, "s": TierStandard}}
	for key, want := range map[string]bool{"p": true, "s": false} {
		var exempt bool
		h := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			exempt = IsExemptFromRateLimits(r)
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderAPIKey, key)
		h.ServeHTTP(httptest.NewRecorder(), req)
		if exempt != want {
			t.Errorf("key %s exempt = %v, want %v", key, exempt, want)
		}
	}
}
