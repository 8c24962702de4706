package idempotency

import (
	"bytes"
	"net/http"
	"time"

	"github.com/akkaui/payments/internal/apikey"
	apierrors "github.com/akkaui/payments/internal/errors"
	"github.com/akkaui/payments/internal/logger"
)

const (
	// HeaderKey is the standard idempotency key header.
	HeaderKey = "Idempotency-Key"

	// HeaderReplay marks a response served from the cache.
	HeaderReplay = "X-Idempotency-Replay"

	DefaultTTL = 24 * time.Hour

	// inFlightTTL bounds how long a crashed request can hold a key.
	inFlightTTL = time.Minute

	maxKeyLength = 255
)

// recorder tees the response into a buffer.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Middleware replays 2xx responses for repeated Idempotency-Key values.
// Keys are scoped by user, method and path, so one user's key never
// replays another user's payment. A second request arriving while the
// first is still running gets 409. Store errors fail open.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(rawKey) > maxKeyLength {
				apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "Idempotency-Key too long", "field", HeaderKey)
				return
			}

			ctx := r.Context()
			log := logger.FromContext(ctx)
			key := apikey.UserID(ctx) + ":" + r.Method + ":" + r.URL.Path + ":" + rawKey

			cached, found, err := store.Get(ctx, key)
			if err != nil {
				log.Warn().Err(err).Msg("idempotency.lookup_failed")
				next.ServeHTTP(w, r)
				return
			}
			if found {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(HeaderReplay, "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			reserved, err := store.Reserve(ctx, key, inFlightTTL)
			if err != nil {
				log.Warn().Err(err).Msg("idempotency.reserve_failed")
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInProgress, "a request with this Idempotency-Key is already in progress")
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				headers := make(map[string]string, len(w.Header()))
				for k := range w.Header() {
					headers[k] = w.Header().Get(k)
				}
				resp := &Response{StatusCode: rec.status, Headers: headers, Body: rec.body.Bytes(), CachedAt: time.Now()}
				if err := store.Set(ctx, key, resp, ttl); err != nil {
					log.Warn().Err(err).Msg("idempotency.store_failed")
				}
				return
			}
			// Failed attempts may be retried with the same key.
			if err := store.Delete(ctx, key); err != nil {
				log.Warn().Err(err).Msg("idempotency.release_failed")
			}
		})
	}
}
