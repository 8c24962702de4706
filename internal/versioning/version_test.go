package versioning

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got != DefaultVersion {
		t.Errorf("FromContext(empty) = %v, want %v", got, DefaultVersion)
	}
	if got := FromContext(WithVersion(context.Background(), V1)); got != V1 {
		t.Errorf("FromContext(v1) = %v", got)
	}
}

func TestVersionString(t *testing.T) {
	tests := []struct {
		version  Version
		expected string
	}{
		{V1, "v1"},
		{Version(3), "v3"},
		{Version(0), "v1"},
		{Version(-1), "v1"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.version.String(); got != tt.expected {
				t.Errorf("String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNegotiation(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "no version requested"},
		{name: "explicit header", headers: map[string]string{"X-API-Version": "1"}},
		{name: "vendor media type", headers: map[string]string{"Accept": "application/vnd.akkaui.v1+json"}},
		{name: "accept parameter", headers: map[string]string{"Accept": "application/json; version=1"}},
		{name: "future version falls back", headers: map[string]string{"X-API-Version": "v9"}},
		{name: "garbage falls back", headers: map[string]string{"Accept": "application/vnd.akkaui.vx+json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen Version
			h := Negotiation(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = FromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/payments/v1/intents", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen != V1 {
				t.Errorf("negotiated %v, want v1", seen)
			}
			if got := rec.Header().Get(Header); got != "v1" {
				t.Errorf("%s = %q, want v1", Header, got)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := map[string]Version{"1": V1, "v1": V1, " V1 ": V1, "2": 0, "0": 0, "": 0, "one": 0}
	for in, want := range tests {
		if got := parse(in); got != want {
			t.Errorf("parse(%q) = %v, want %v", in, got, want)
		}
	}
}
