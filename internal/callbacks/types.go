package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/httputil"
)

// Event types.
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

// Notifier delivers payment lifecycle events to an operator endpoint.
// Implementations must not block the caller on network I/O.
type Notifier interface {
	PaymentCompleted(ctx context.Context, event PaymentEvent)
	PaymentFailed(ctx context.Context, event PaymentEvent)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) PaymentCompleted(context.Context, PaymentEvent) {}
func (NoopNotifier) PaymentFailed(context.Context, PaymentEvent)    {}

// PaymentEvent describes a payment that reached a terminal status.
// EventID is the idempotency key for consumers and is stable across retries.
type PaymentEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	EventTimestamp time.Time `json:"eventTimestamp"`

	TransactionID string     `json:"transactionId"`
	UserID        string     `json:"userId"`
	Provider      string     `json:"provider"`
	ExternalID    string     `json:"externalId,omitempty"`
	Amount        string     `json:"amount"` // major units, e.g. "49.00"
	Currency      string     `json:"currency"`
	Items         []ItemLine `json:"items,omitempty"`
	Source        string     `json:"source,omitempty"` // poll, webhook, simulation, renewal
	Error         string     `json:"error,omitempty"`
	OccurredAt    time.Time  `json:"occurredAt"`
}

// ItemLine is the callback view of one purchased line item.
type ItemLine struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Quantity int    `json:"quantity"`
	Total    string `json:"total"`
}

// ErrCallbackDisabled is returned when no callback URL is configured.
var ErrCallbackDisabled = errors.New("callbacks: disabled")

func generateEventID() string {
	return "evt_" + uuid.NewString()
}

// PrepareEvent fills the idempotency fields. An existing EventID is kept.
func PrepareEvent(event *PaymentEvent, defaultType string) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.EventType == "" {
		event.EventType = defaultType
	}
	if event.EventTimestamp.IsZero() {
		event.EventTimestamp = time.Now().UTC()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = event.EventTimestamp
	}
}

// SendOnce posts a single event without retries (CLI and smoke tests).
func SendOnce(ctx context.Context, cfg config.CallbacksConfig, event PaymentEvent) error {
	if cfg.PaymentCompletedURL == "" {
		return ErrCallbackDisabled
	}
	PrepareEvent(&event, EventPaymentCompleted)

	payload, err := renderPayload(nil, event)
	if err != nil {
		return err
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	req, err := newRequest(ctx, cfg, payload)
	if err != nil {
		return err
	}
	resp, err := httputil.NewClient(timeout).Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, cfg.PaymentCompletedURL)
	}
	return nil
}

func newRequest(ctx context.Context, cfg config.CallbacksConfig, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.PaymentCompletedURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
	}
	return req, nil
}

func marshalEvent(event PaymentEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}
