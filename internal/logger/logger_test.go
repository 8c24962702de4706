package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTruncateID(t *testing.T) {
	id := strings.Repeat("a", 56) + "12345678"
	if got := TruncateID(id); got != "aaaaaaaa...5678" {
		t.Errorf("TruncateID = %s", got)
	}
	if got := TruncateID("short"); got != "short" {
		t.Errorf("TruncateID(short) = %s", got)
	}
}

func TestFromContextFallback(t *testing.T) {
	l := FromContext(context.Background())
	// Nop logger must not panic
	l.Info().Msg("ignored")
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Service: "test", Output: &buf})

	var seenID string
	h := Middleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		lg := FromContext(r.Context())
		lg.Info().Msg("handler.ran")
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if !strings.HasPrefix(seenID, "req_") {
		t.Errorf("request id = %q", seenID)
	}
	if rec.Header().Get("X-Request-ID") != seenID {
		t.Errorf("response header = %q, want %q", rec.Header().Get("X-Request-ID"), seenID)
	}
	out := buf.String()
	for _, want := range []string{"handler.ran", "request.completed", `"status":418`, `"level":"warn"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestMiddlewareKeepsClientRequestID(t *testing.T) {
	h := Middleware(New(Config{Output: &bytes.Buffer{}}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req_client")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "req_client" {
		t.Errorf("got %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestMiddlewareQuietsProbes(t *testing.T) {
	var buf bytes.Buffer
	h := Middleware(New(Config{Level: "info", Format: "json", Output: &buf}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if strings.Contains(buf.String(), "request.completed") {
		t.Errorf("health probe logged at info: %s", buf.String())
	}
}

func TestNewLevelIsPerLogger(t *testing.T) {
	var quiet, loud bytes.Buffer
	q := New(Config{Level: "error", Output: &quiet})
	l := New(Config{Level: "debug", Output: &loud})
	q.Info().Msg("dropped")
	l.Debug().Msg("kept")
	if quiet.Len() != 0 {
		t.Errorf("error-level logger wrote info: %s", quiet.String())
	}
	if !strings.Contains(loud.String(), "kept") {
		t.Errorf("debug logger missing entry: %s", loud.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{"": "info", "warning": "warn", "debug": "debug", "error": "error", "bogus": "info"}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
