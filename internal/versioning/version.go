// Package versioning negotiates the client API version. Only v1 exists; the
// negotiation keeps clients that pin a version working once v2 ships.
package versioning

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Version is an API major version.
type Version int

const (
	V1 Version = 1

	LatestVersion  = V1
	DefaultVersion = V1
)

// Header carries an explicit version request and is echoed on every response.
const Header = "X-API-Version"

const vendorPrefix = "application/vnd.akkaui."

func (v Version) String() string {
	if v <= 0 {
		return "v1"
	}
	return "v" + strconv.Itoa(int(v))
}

type contextKey struct{}

// FromContext returns the negotiated version, or DefaultVersion.
func FromContext(ctx context.Context) Version {
	if v, ok := ctx.Value(contextKey{}).(Version); ok {
		return v
	}
	return DefaultVersion
}

func WithVersion(ctx context.Context, v Version) context.Context {
	return context.WithValue(ctx, contextKey{}, v)
}

// Negotiation resolves the version from, in order, X-API-Version, a vendor
// media type (application/vnd.akkaui.v1+json) or an Accept version
// parameter. Unknown versions fall back to the default.
func Negotiation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := negotiate(r)
		w.Header().Set(Header, v.String())
		w.Header().Add("Vary", "Accept, "+Header)
		next.ServeHTTP(w, r.WithContext(WithVersion(r.Context(), v)))
	})
}

func negotiate(r *http.Request) Version {
	if v := parse(r.Header.Get(Header)); v > 0 {
		return v
	}

	accept := r.Header.Get("Accept")
	if i := strings.Index(accept, vendorPrefix); i >= 0 {
		rest := accept[i+len(vendorPrefix):]
		if end := strings.IndexAny(rest, "+;, "); end >= 0 {
			rest = rest[:end]
		}
		if v := parse(rest); v > 0 {
			return v
		}
	}
	if i := strings.Index(accept, "version="); i >= 0 {
		rest := accept[i+len("version="):]
		if end := strings.IndexAny(rest, ";, "); end >= 0 {
			rest = rest[:end]
		}
		if v := parse(rest); v > 0 {
			return v
		}
	}
	return DefaultVersion
}

// parse accepts "1", "v1" and "V1". Versions newer than LatestVersion are rejected.
func parse(s string) Version {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || Version(n) > LatestVersion {
		return 0
	}
	return Version(n)
}
