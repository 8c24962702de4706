package gateway

import (
	"context"
	"sort"
	"time"

	"github.com/akkaui/payments/internal/circuitbreaker"
	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/httputil"
	"github.com/akkaui/payments/internal/metrics"
)

// Registry holds the configured gateways keyed by provider.
type Registry struct {
	gateways map[Provider]Gateway
}

// NewRegistry creates a registry from already constructed gateways.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[Provider]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Provider()] = g
	}
	return r
}

// NewRegistryFromConfig builds every provider whose credentials are present.
func NewRegistryFromConfig(cfg config.GatewaysConfig, breakers *circuitbreaker.Manager, m *metrics.Metrics) *Registry {
	client := httputil.NewClient(cfg.Timeout.Duration)
	var gateways []Gateway

	if cfg.AbacatePay.APIKey != "" {
		gateways = append(gateways, NewAbacatePay(cfg.AbacatePay, client, caller{
			provider: ProviderAbacatePay, service: circuitbreaker.ServiceAbacatePay, breakers: breakers, metrics: m,
		}))
	}
	if cfg.MercadoPago.AccessToken != "" {
		gateways = append(gateways, NewMercadoPago(cfg.MercadoPago, client, caller{
			provider: ProviderMercadoPago, service: circuitbreaker.ServiceMercadoPago, breakers: breakers, metrics: m,
		}))
	}
	if cfg.Stripe.SecretKey != "" {
		gateways = append(gateways, NewStripe(cfg.Stripe, caller{
			provider: ProviderStripe, service: circuitbreaker.ServiceStripe, breakers: breakers, metrics: m,
		}))
	}
	if cfg.Sandbox.Enabled {
		gateways = append(gateways, NewSandbox())
	}
	return NewRegistry(gateways...)
}

// Get returns the gateway for p or ErrUnsupportedProvider.
func (r *Registry) Get(p Provider) (Gateway, error) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	return g, nil
}

// Providers lists the registered providers in name order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// caller wraps outbound provider calls with the circuit breaker, metrics and
// error classification. The zero value calls through directly.
type caller struct {
	provider Provider
	service  circuitbreaker.ServiceType
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

func invoke[T any](ctx context.Context, c caller, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	res, err := c.breakers.Execute(c.service, func() (interface{}, error) {
		return fn(ctx)
	})
	c.metrics.ObserveGatewayCall(string(c.provider), op, time.Since(start), err)

	var zero T
	if err != nil {
		return zero, wrapErr(c.provider, op, err)
	}
	v, _ := res.(T)
	return v, nil
}
