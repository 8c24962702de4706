package circuitbreaker

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestManagerTripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Config{
		Enabled: true,
		Services: map[ServiceType]BreakerConfig{
			ServiceAbacatePay: {MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 2},
		},
	})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		if _, err := m.Execute(ServiceAbacatePay, func() (interface{}, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected boom, got %v", i, err)
		}
	}

	called := false
	_, err := m.Execute(ServiceAbacatePay, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("function must not run while the breaker is open")
	}
	if m.State(ServiceAbacatePay) != "open" {
		t.Errorf("state = %s", m.State(ServiceAbacatePay))
	}

	// Other providers are isolated.
	if _, err := m.Execute(ServiceStripe, func() (interface{}, error) { return "ok", nil }); err != nil {
		t.Errorf("stripe call failed: %v", err)
	}
}

func TestManagerDisabledPassesThrough(t *testing.T) {
	m := NewManager(Config{Enabled: false})
	res, err := m.Execute(ServiceMercadoPago, func() (interface{}, error) { return 42, nil })
	if err != nil || res.(int) != 42 {
		t.Errorf("got %v, %v", res, err)
	}
	if m.State(ServiceMercadoPago) != "disabled" {
		t.Errorf("state = %s", m.State(ServiceMercadoPago))
	}

	var nilManager *Manager
	if _, err := nilManager.Execute(ServiceStripe, func() (interface{}, error) { return nil, nil }); err != nil {
		t.Errorf("nil manager: %v", err)
	}
}

func TestManagerLogsStateChanges(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(Config{
		Enabled: true,
		Services: map[ServiceType]BreakerConfig{
			ServiceCallbacks: {MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 1},
		},
		Logger: zerolog.New(&buf),
	})

	_, _ = m.Execute(ServiceCallbacks, func() (interface{}, error) { return nil, errors.New("down") })

	out := buf.String()
	for _, want := range []string{"circuit_breaker.state_changed", `"breaker":"callbacks"`, `"to":"open"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s: %s", want, out)
		}
	}
}
