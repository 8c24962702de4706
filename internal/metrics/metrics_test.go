package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveFinalize(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveFinalize("abacatepay", "applied", "BRL", 4900, 30*time.Second)
	m.ObserveFinalize("abacatepay", "already_completed", "BRL", 4900, time.Minute)

	if got := promtest.ToFloat64(m.FinalizeTotal.WithLabelValues("abacatepay", "applied")); got != 1 {
		t.Errorf("applied = %.0f, want 1", got)
	}
	if got := promtest.ToFloat64(m.FinalizeTotal.WithLabelValues("abacatepay", "already_completed")); got != 1 {
		t.Errorf("already_completed = %.0f, want 1", got)
	}
	// Only the applied completion counts toward revenue.
	if got := promtest.ToFloat64(m.PaymentAmountTotal.WithLabelValues("abacatepay", "BRL")); got != 4900 {
		t.Errorf("amount = %.0f, want 4900", got)
	}
}

func TestObserveGatewayCall(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveGatewayCall("mercadopago", "create_payment", 100*time.Millisecond, nil)
	m.ObserveGatewayCall("mercadopago", "create_payment", 100*time.Millisecond, errors.New("boom"))

	if got := promtest.ToFloat64(m.GatewayCallsTotal.WithLabelValues("mercadopago", "create_payment", "ok")); got != 1 {
		t.Errorf("ok = %.0f", got)
	}
	if got := promtest.ToFloat64(m.GatewayCallsTotal.WithLabelValues("mercadopago", "create_payment", "error")); got != 1 {
		t.Errorf("error = %.0f", got)
	}
}

func TestObserveCallbackRetries(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCallback("payment.completed", "success", time.Second, 1)
	m.ObserveCallback("payment.completed", "success", time.Second, 3)
	m.ObserveCallback("payment.completed", "failed", time.Second, 9)

	if got := promtest.ToFloat64(m.CallbackRetriesTotal.WithLabelValues("payment.completed", "3")); got != 1 {
		t.Errorf("attempt 3 = %.0f", got)
	}
	if got := promtest.ToFloat64(m.CallbackRetriesTotal.WithLabelValues("payment.completed", "5+")); got != 1 {
		t.Errorf("attempt 5+ = %.0f", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveIntentCreated("sandbox", "processing")
	m.ObserveWebhook("stripe", "ok")
	m.ObserveAmountMismatch("stripe")
	m.ObserveGrant("catalog-asset", "created")
	m.ObserveDBQuery("get_intent", "memory", time.Millisecond)
	MeasureDBQuery(m, "noop", "memory")()
}
