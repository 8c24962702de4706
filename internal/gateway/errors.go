package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/akkaui/payments/internal/circuitbreaker"
	"github.com/akkaui/payments/internal/httputil"
)

var (
	ErrUnsupportedProvider = errors.New("gateway: unsupported provider")
	ErrInvalidSignature    = errors.New("gateway: invalid webhook signature")
	ErrMalformedPayload    = errors.New("gateway: malformed webhook payload")
	ErrNotSupported        = errors.New("gateway: operation not supported")
)

// ErrorKind separates failures the caller may retry from definitive rejections.
type ErrorKind string

const (
	KindUnreachable ErrorKind = "unreachable"
	KindRejected    ErrorKind = "rejected"
)

// Error describes a failed provider call.
type Error struct {
	Provider   Provider
	Op         string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %v", e.Provider, e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsUnreachable reports whether err is a provider error of kind unreachable.
func IsUnreachable(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == KindUnreachable
}

// wrapErr classifies err: open breakers, timeouts, network errors and 5xx
// responses are unreachable; everything else is a rejection.
func wrapErr(provider Provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		if already.Op == "" {
			already.Op = op
		}
		if already.Provider == "" {
			already.Provider = provider
		}
		return already
	}

	gwErr := &Error{Provider: provider, Op: op, Kind: KindRejected, Err: err}

	var statusErr *httputil.StatusError
	var netErr net.Error
	switch {
	case errors.As(err, &statusErr):
		gwErr.StatusCode = statusErr.StatusCode
		if statusErr.StatusCode >= 500 || statusErr.StatusCode == 429 {
			gwErr.Kind = KindUnreachable
		}
	case errors.Is(err, circuitbreaker.ErrOpen),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		gwErr.Kind = KindUnreachable
	}
	return gwErr
}
