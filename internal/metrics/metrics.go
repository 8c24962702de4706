package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payments service.
type Metrics struct {
	// Intent lifecycle
	IntentsCreatedTotal   *prometheus.CounterVec
	IntentTransitionTotal *prometheus.CounterVec
	FinalizeTotal         *prometheus.CounterVec
	PaymentAmountTotal    *prometheus.CounterVec
	TimeToCompletion      *prometheus.HistogramVec

	// Provider calls
	GatewayCallsTotal   *prometheus.CounterVec
	GatewayCallDuration *prometheus.HistogramVec

	// Inbound provider webhooks
	WebhooksReceivedTotal *prometheus.CounterVec
	AmountMismatchTotal   *prometheus.CounterVec

	// Entitlements
	GrantsTotal             *prometheus.CounterVec
	SubscriptionExtendTotal *prometheus.CounterVec

	// Outbound completion callbacks
	CallbacksTotal       *prometheus.CounterVec
	CallbackRetriesTotal *prometheus.CounterVec
	CallbackDuration     *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		IntentsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_intents_created_total",
				Help: "Payment intents created, by provider and outcome of the gateway call",
			},
			[]string{"provider", "outcome"},
		),
		IntentTransitionTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_intent_transitions_total",
				Help: "Applied intent status transitions",
			},
			[]string{"provider", "to", "source"},
		),
		FinalizeTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_finalize_total",
				Help: "Finalize attempts by result (applied, already_completed, terminal)",
			},
			[]string{"provider", "result"},
		),
		PaymentAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_payment_amount_atomic_total",
				Help: "Completed payment amount in atomic units (centavos/cents)",
			},
			[]string{"provider", "currency"},
		),
		TimeToCompletion: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "akkaui_time_to_completion_seconds",
				Help:    "Time from intent creation to completion",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600, 86400},
			},
			[]string{"provider"},
		),

		GatewayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_gateway_calls_total",
				Help: "Calls to payment provider APIs",
			},
			[]string{"provider", "operation", "result"},
		),
		GatewayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "akkaui_gateway_call_duration_seconds",
				Help:    "Duration of payment provider API calls (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"provider", "operation"},
		),

		WebhooksReceivedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_webhooks_received_total",
				Help: "Provider notifications received, by response status",
			},
			[]string{"provider", "result"},
		),
		AmountMismatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_amount_mismatch_total",
				Help: "Provider-reported amounts that differ from the persisted intent total",
			},
			[]string{"provider"},
		),

		GrantsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_grants_total",
				Help: "Entitlement grant attempts per item (created, existing, failed)",
			},
			[]string{"kind", "result"},
		),
		SubscriptionExtendTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_subscription_changes_total",
				Help: "Subscription entitlement extensions and deactivations",
			},
			[]string{"action"},
		),

		CallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_callbacks_total",
				Help: "Total number of completion callback deliveries",
			},
			[]string{"event_type", "status"},
		),
		CallbackRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_callback_retries_total",
				Help: "Total number of callback retry attempts",
			},
			[]string{"event_type", "attempt"},
		),
		CallbackDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "akkaui_callback_duration_seconds",
				Help:    "Time taken for callback delivery",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "akkaui_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "akkaui_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveIntentCreated records the outcome of intent creation ("processing" or "failed").
func (m *Metrics) ObserveIntentCreated(provider, outcome string) {
	if m == nil {
		return
	}
	m.IntentsCreatedTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveTransition records an applied status transition. source is poll, webhook, or simulation.
func (m *Metrics) ObserveTransition(provider, to, source string) {
	if m == nil {
		return
	}
	m.IntentTransitionTotal.WithLabelValues(provider, to, source).Inc()
}

// ObserveFinalize records a finalize attempt. On an applied completion the
// amount and time-to-completion are recorded as well.
func (m *Metrics) ObserveFinalize(provider, result, currency string, atomic int64, sinceCreated time.Duration) {
	if m == nil {
		return
	}
	m.FinalizeTotal.WithLabelValues(provider, result).Inc()
	if result == "applied" {
		m.PaymentAmountTotal.WithLabelValues(provider, currency).Add(float64(atomic))
		m.TimeToCompletion.WithLabelValues(provider).Observe(sinceCreated.Seconds())
	}
}

// ObserveGatewayCall records a provider API call.
func (m *Metrics) ObserveGatewayCall(provider, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.GatewayCallsTotal.WithLabelValues(provider, operation, result).Inc()
	m.GatewayCallDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// ObserveWebhook records an inbound provider notification and how it was answered.
func (m *Metrics) ObserveWebhook(provider, result string) {
	if m == nil {
		return
	}
	m.WebhooksReceivedTotal.WithLabelValues(provider, result).Inc()
}

// ObserveAmountMismatch records a reported amount that differs from the ledger.
func (m *Metrics) ObserveAmountMismatch(provider string) {
	if m == nil {
		return
	}
	m.AmountMismatchTotal.WithLabelValues(provider).Inc()
}

// ObserveGrant records a per-item grant outcome.
func (m *Metrics) ObserveGrant(kind, result string) {
	if m == nil {
		return
	}
	m.GrantsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveSubscription records an entitlement change ("extended" or "deactivated").
func (m *Metrics) ObserveSubscription(action string) {
	if m == nil {
		return
	}
	m.SubscriptionExtendTotal.WithLabelValues(action).Inc()
}

// ObserveCallback records callback delivery.
func (m *Metrics) ObserveCallback(eventType, status string, duration time.Duration, attempt int) {
	if m == nil {
		return
	}
	m.CallbacksTotal.WithLabelValues(eventType, status).Inc()
	m.CallbackDuration.WithLabelValues(eventType).Observe(duration.Seconds())

	if attempt > 1 {
		m.CallbackRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}
