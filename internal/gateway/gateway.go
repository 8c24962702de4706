// Package gateway adapts external payment providers to one contract:
// create a payment, check its status and turn provider webhooks into
// normalized notifications.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/money"
)

// Provider names a payment provider.
type Provider string

const (
	ProviderAbacatePay  Provider = "abacatepay"
	ProviderMercadoPago Provider = "mercadopago"
	ProviderStripe      Provider = "stripe"
	ProviderSandbox     Provider = "sandbox"
)

// ParseProvider validates a provider name from client input.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderAbacatePay, ProviderMercadoPago, ProviderStripe, ProviderSandbox:
		return p, nil
	default:
		return "", ErrUnsupportedProvider
	}
}

// CreateRequest carries everything a provider needs to create a payment.
// IntentID is sent to the provider as the correlation id.
type CreateRequest struct {
	IntentID    string
	UserID      string
	Amount      money.Money
	Items       []catalog.ResolvedItem
	Description string
}

// SinglePlan returns the plan line when the cart contains exactly one item and it is a plan.
func (r CreateRequest) SinglePlan() (catalog.ResolvedItem, bool) {
	if len(r.Items) == 1 && r.Items[0].Kind == catalog.KindPlan {
		return r.Items[0], true
	}
	return catalog.ResolvedItem{}, false
}

// Redirect is the client-facing payload needed to complete payment.
type Redirect struct {
	URL          string `json:"url,omitempty"`
	QRCode       string `json:"qrCode,omitempty"`
	QRCodeBase64 string `json:"qrCodeBase64,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// CreateResult is the provider's answer to CreatePayment.
type CreateResult struct {
	ExternalID string
	RawStatus  string
	Redirect   Redirect
	Raw        json.RawMessage
}

// Lookup identifies a payment at the provider.
type Lookup struct {
	ExternalID    string
	CorrelationID string
}

// StatusResult is the provider-reported state of a payment.
type StatusResult struct {
	RawStatus      string
	ReportedAmount *money.Money
	Raw            json.RawMessage
}

// WebhookRequest is the transport-neutral view of an incoming webhook.
type WebhookRequest struct {
	Header http.Header
	Query  url.Values
	Body   []byte
}

// NotificationKind classifies normalized webhook events.
type NotificationKind string

const (
	KindPayment           NotificationKind = "payment"
	KindRenewal           NotificationKind = "renewal"
	KindSubscriptionEnded NotificationKind = "subscription-ended"
)

// Notification is a provider event normalized for reconciliation.
type Notification struct {
	Provider       Provider
	Kind           NotificationKind
	EventID        string
	ExternalID     string
	CorrelationID  string
	RawStatus      string
	ReportedAmount *money.Money
	UserID         string // renewals and subscription changes
	PlanCode       string // renewals
	Raw            json.RawMessage
}

// Gateway is implemented by every provider adapter.
type Gateway interface {
	Provider() Provider
	CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error)
	CheckStatus(ctx context.Context, lookup Lookup) (StatusResult, error)
	// ParseWebhook verifies and normalizes a webhook. A nil notification with
	// a nil error means the event is valid but irrelevant.
	ParseWebhook(ctx context.Context, req WebhookRequest) (*Notification, error)
}

// Simulator is implemented by providers that can confirm a payment without a real payer.
type Simulator interface {
	SimulateConfirmation(ctx context.Context, externalID string) (StatusResult, error)
}
