package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/money"
)

// stripeBackend is the subset of the Stripe API the adapter uses.
type stripeBackend interface {
	NewPaymentIntent(params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
	GetPaymentIntent(id string, params *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error)
	NewCheckoutSession(params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
	GetCheckoutSession(id string, params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
}

type apiBackend struct {
	api *client.API
}

func (b apiBackend) NewPaymentIntent(p *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error) {
	return b.api.PaymentIntents.New(p)
}

func (b apiBackend) GetPaymentIntent(id string, p *stripeapi.PaymentIntentParams) (*stripeapi.PaymentIntent, error) {
	return b.api.PaymentIntents.Get(id, p)
}

func (b apiBackend) NewCheckoutSession(p *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
	return b.api.CheckoutSessions.New(p)
}

func (b apiBackend) GetCheckoutSession(id string, p *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
	return b.api.CheckoutSessions.Get(id, p)
}

// Stripe creates card PaymentIntents for one-off carts and subscription-mode
// Checkout Sessions for single-plan carts whose plan has a recurring price.
type Stripe struct {
	cfg            config.StripeConfig
	backend        stripeBackend
	call           caller
	constructEvent func(payload []byte, header, secret string) (stripeapi.Event, error)
}

func NewStripe(cfg config.StripeConfig, c caller) *Stripe {
	return newStripe(cfg, apiBackend{api: client.New(cfg.SecretKey, nil)}, c)
}

func newStripe(cfg config.StripeConfig, backend stripeBackend, c caller) *Stripe {
	c.provider = ProviderStripe
	return &Stripe{cfg: cfg, backend: backend, call: c, constructEvent: webhook.ConstructEvent}
}

func (s *Stripe) Provider() Provider { return ProviderStripe }

func stripeMetadata(req CreateRequest) map[string]string {
	md := map[string]string{
		"transaction_id": req.IntentID,
		"user_id":        req.UserID,
	}
	if plan, ok := req.SinglePlan(); ok {
		md["plan_code"] = plan.ID
	}
	return md
}

func (s *Stripe) CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if plan, ok := req.SinglePlan(); ok && plan.StripePriceID != "" {
		return s.createSubscriptionCheckout(ctx, req, plan)
	}

	currency, err := req.Amount.Asset.StripeCurrency()
	if err != nil {
		return CreateResult{}, &Error{Provider: ProviderStripe, Op: "create", Kind: KindRejected, Err: err}
	}
	params := &stripeapi.PaymentIntentParams{
		Amount:             stripeapi.Int64(req.Amount.Atomic),
		Currency:           stripeapi.String(currency),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
	}
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	for k, v := range stripeMetadata(req) {
		params.AddMetadata(k, v)
	}
	params.IdempotencyKey = stripeapi.String(req.IntentID)
	params.Context = ctx

	pi, err := invoke(ctx, s.call, "create", func(context.Context) (*stripeapi.PaymentIntent, error) {
		return s.backend.NewPaymentIntent(params)
	})
	if err != nil {
		return CreateResult{}, classifyStripe(err)
	}
	raw, _ := json.Marshal(pi)
	return CreateResult{
		ExternalID: pi.ID,
		RawStatus:  string(pi.Status),
		Redirect:   Redirect{ClientSecret: pi.ClientSecret},
		Raw:        raw,
	}, nil
}

func (s *Stripe) createSubscriptionCheckout(ctx context.Context, req CreateRequest, plan catalog.ResolvedItem) (CreateResult, error) {
	md := stripeMetadata(req)
	params := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		SuccessURL:        stripeapi.String(s.cfg.SuccessURL),
		CancelURL:         stripeapi.String(s.cfg.CancelURL),
		ClientReferenceID: stripeapi.String(req.IntentID),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{Price: stripeapi.String(plan.StripePriceID), Quantity: stripeapi.Int64(1)},
		},
		SubscriptionData: &stripeapi.CheckoutSessionSubscriptionDataParams{
			Metadata: md,
		},
	}
	params.Metadata = md
	params.IdempotencyKey = stripeapi.String(req.IntentID)
	params.Context = ctx

	sess, err := invoke(ctx, s.call, "create", func(context.Context) (*stripeapi.CheckoutSession, error) {
		return s.backend.NewCheckoutSession(params)
	})
	if err != nil {
		return CreateResult{}, classifyStripe(err)
	}
	raw, _ := json.Marshal(sess)
	return CreateResult{
		ExternalID: sess.ID,
		RawStatus:  string(sess.PaymentStatus),
		Redirect:   Redirect{URL: sess.URL},
		Raw:        raw,
	}, nil
}

// CheckStatus dispatches on the id prefix: cs_ for Checkout Sessions, pi_ otherwise.
func (s *Stripe) CheckStatus(ctx context.Context, lookup Lookup) (StatusResult, error) {
	id := lookup.ExternalID
	if id == "" {
		return StatusResult{}, &Error{Provider: ProviderStripe, Op: "check_status", Kind: KindRejected, Err: errors.New("external id required")}
	}

	if strings.HasPrefix(id, "cs_") {
		params := &stripeapi.CheckoutSessionParams{}
		params.Context = ctx
		sess, err := invoke(ctx, s.call, "check_status", func(context.Context) (*stripeapi.CheckoutSession, error) {
			return s.backend.GetCheckoutSession(id, params)
		})
		if err != nil {
			return StatusResult{}, classifyStripe(err)
		}
		raw, _ := json.Marshal(sess)
		return StatusResult{
			RawStatus:      sessionStatus(sess),
			ReportedAmount: stripeAmount(sess.AmountTotal, string(sess.Currency)),
			Raw:            raw,
		}, nil
	}

	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	pi, err := invoke(ctx, s.call, "check_status", func(context.Context) (*stripeapi.PaymentIntent, error) {
		return s.backend.GetPaymentIntent(id, params)
	})
	if err != nil {
		return StatusResult{}, classifyStripe(err)
	}
	raw, _ := json.Marshal(pi)
	return StatusResult{
		RawStatus:      string(pi.Status),
		ReportedAmount: stripeAmount(pi.Amount, string(pi.Currency)),
		Raw:            raw,
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes the event.
func (s *Stripe) ParseWebhook(_ context.Context, req WebhookRequest) (*Notification, error) {
	if s.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	sig := req.Header.Get("Stripe-Signature")
	if sig == "" {
		return nil, fmt.Errorf("%w: missing Stripe-Signature", ErrInvalidSignature)
	}
	event, err := s.constructEvent(req.Body, sig, s.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return parseStripeEvent(event)
}

var paymentIntentEventStatus = map[string]string{
	"payment_intent.succeeded":      "succeeded",
	"payment_intent.processing":     "processing",
	"payment_intent.payment_failed": "failed",
	"payment_intent.canceled":       "canceled",
}

func parseStripeEvent(event stripeapi.Event) (*Notification, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event has no data", ErrMalformedPayload)
	}
	raw := event.Data.Raw

	if status, ok := paymentIntentEventStatus[event.Type]; ok {
		var pi stripeapi.PaymentIntent
		if err := jsonExtract(raw, &pi); err != nil {
			return nil, err
		}
		// Subscription invoices create their own PaymentIntents without our metadata.
		if pi.Invoice != nil || pi.Metadata["transaction_id"] == "" {
			return nil, nil
		}
		return &Notification{
			Provider:       ProviderStripe,
			Kind:           KindPayment,
			EventID:        event.ID,
			ExternalID:     pi.ID,
			CorrelationID:  pi.Metadata["transaction_id"],
			RawStatus:      status,
			ReportedAmount: stripeAmount(pi.Amount, string(pi.Currency)),
			Raw:            raw,
		}, nil
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
		var sess stripeapi.CheckoutSession
		if err := jsonExtract(raw, &sess); err != nil {
			return nil, err
		}
		correlation := firstNonEmpty(sess.Metadata["transaction_id"], sess.ClientReferenceID)
		if correlation == "" {
			return nil, nil
		}
		var status string
		switch event.Type {
		case "checkout.session.completed":
			status = sessionStatus(&sess)
		case "checkout.session.async_payment_succeeded":
			status = "paid"
		case "checkout.session.async_payment_failed":
			status = "failed"
		default:
			status = "expired"
		}
		return &Notification{
			Provider:       ProviderStripe,
			Kind:           KindPayment,
			EventID:        event.ID,
			ExternalID:     sess.ID,
			CorrelationID:  correlation,
			RawStatus:      status,
			ReportedAmount: stripeAmount(sess.AmountTotal, string(sess.Currency)),
			UserID:         sess.Metadata["user_id"],
			PlanCode:       sess.Metadata["plan_code"],
			Raw:            raw,
		}, nil

	case "invoice.paid":
		var inv stripeapi.Invoice
		if err := jsonExtract(raw, &inv); err != nil {
			return nil, err
		}
		// The first invoice is settled by checkout.session.completed.
		if inv.BillingReason != stripeapi.InvoiceBillingReasonSubscriptionCycle {
			return nil, nil
		}
		md := invoiceMetadata(&inv)
		if md["user_id"] == "" || md["plan_code"] == "" {
			return nil, fmt.Errorf("%w: renewal invoice %s missing user_id or plan_code", ErrMalformedPayload, inv.ID)
		}
		return &Notification{
			Provider:       ProviderStripe,
			Kind:           KindRenewal,
			EventID:        event.ID,
			ExternalID:     inv.ID,
			RawStatus:      "paid",
			ReportedAmount: stripeAmount(inv.AmountPaid, string(inv.Currency)),
			UserID:         md["user_id"],
			PlanCode:       md["plan_code"],
			Raw:            raw,
		}, nil

	case "customer.subscription.deleted", "customer.subscription.updated":
		var sub stripeapi.Subscription
		if err := jsonExtract(raw, &sub); err != nil {
			return nil, err
		}
		if event.Type == "customer.subscription.updated" && !subscriptionEnded(sub.Status) {
			return nil, nil
		}
		userID := sub.Metadata["user_id"]
		if userID == "" {
			return nil, fmt.Errorf("%w: subscription %s missing user_id", ErrMalformedPayload, sub.ID)
		}
		return &Notification{
			Provider:   ProviderStripe,
			Kind:       KindSubscriptionEnded,
			EventID:    event.ID,
			ExternalID: sub.ID,
			RawStatus:  string(sub.Status),
			UserID:     userID,
			PlanCode:   sub.Metadata["plan_code"],
			Raw:        raw,
		}, nil
	}
	return nil, nil
}

func subscriptionEnded(status stripeapi.SubscriptionStatus) bool {
	switch status {
	case stripeapi.SubscriptionStatusCanceled, stripeapi.SubscriptionStatusUnpaid, stripeapi.SubscriptionStatusIncompleteExpired:
		return true
	}
	return false
}

// invoiceMetadata prefers the invoice's own metadata and falls back to the
// first line that carries subscription metadata.
func invoiceMetadata(inv *stripeapi.Invoice) map[string]string {
	if inv.Metadata["user_id"] != "" {
		return inv.Metadata
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line != nil && line.Metadata["user_id"] != "" {
				return line.Metadata
			}
		}
	}
	return map[string]string{}
}

// sessionStatus prefers payment status; an unpaid session Stripe has
// expired is terminal.
func sessionStatus(sess *stripeapi.CheckoutSession) string {
	switch sess.PaymentStatus {
	case stripeapi.CheckoutSessionPaymentStatusPaid, stripeapi.CheckoutSessionPaymentStatusNoPaymentRequired:
		return "paid"
	}
	if sess.Status == stripeapi.CheckoutSessionStatusExpired {
		return "expired"
	}
	return "processing"
}

func stripeAmount(atomic int64, currency string) *money.Money {
	if currency == "" {
		return nil
	}
	asset, err := money.GetAsset(currency)
	if err != nil {
		return nil
	}
	m := money.New(asset, atomic)
	return &m
}

// classifyStripe marks Stripe API errors with a 5xx or 429 status as
// unreachable. Other Stripe errors are card or request rejections.
func classifyStripe(err error) error {
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		return err
	}
	var apiErr *stripeapi.Error
	if errors.As(gwErr.Err, &apiErr) {
		gwErr.StatusCode = apiErr.HTTPStatusCode
		if apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == 429 {
			gwErr.Kind = KindUnreachable
		} else {
			gwErr.Kind = KindRejected
		}
	}
	return gwErr
}

func jsonExtract(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: event payload empty", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
