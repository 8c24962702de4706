package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/httputil"
	"github.com/akkaui/payments/internal/money"
)

// MercadoPago creates Checkout Pro preferences and reads payments back by
// external_reference, which carries the intent id.
type MercadoPago struct {
	cfg    config.MercadoPagoConfig
	client *http.Client
	call   caller
}

func NewMercadoPago(cfg config.MercadoPagoConfig, client *http.Client, c caller) *MercadoPago {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mercadopago.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c.provider = ProviderMercadoPago
	return &MercadoPago{cfg: cfg, client: client, call: c}
}

func (m *MercadoPago) Provider() Provider { return ProviderMercadoPago }

type mpItem struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	CurrencyID string      `json:"currency_id"`
	UnitPrice  json.Number `json:"unit_price"`
}

type mpBackURLs struct {
	Success string `json:"success,omitempty"`
	Pending string `json:"pending,omitempty"`
	Failure string `json:"failure,omitempty"`
}

type mpPreferenceRequest struct {
	Items             []mpItem          `json:"items"`
	ExternalReference string            `json:"external_reference"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	BackURLs          *mpBackURLs       `json:"back_urls,omitempty"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type mpPreference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// flexString decodes ids MercadoPago sends either as strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

type mpPayment struct {
	ID                flexString  `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	TransactionAmount json.Number `json:"transaction_amount"`
	CurrencyID        string      `json:"currency_id"`
}

// reportedAmount converts transaction_amount to money, or nil when absent or unparseable.
func (p mpPayment) reportedAmount() *money.Money {
	if p.TransactionAmount == "" {
		return nil
	}
	asset, err := money.GetAsset(p.CurrencyID)
	if err != nil {
		return nil
	}
	amount, err := money.FromMajor(asset, p.TransactionAmount.String())
	if err != nil {
		return nil
	}
	return &amount
}

type mpSearchResult struct {
	Results []mpPayment `json:"results"`
}

type mpResult[T any] struct {
	body T
	raw  json.RawMessage
}

func (m *MercadoPago) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+m.cfg.AccessToken)
	return h
}

func (m *MercadoPago) CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	currency, err := req.Amount.Asset.MercadoPagoCurrency()
	if err != nil {
		return CreateResult{}, &Error{Provider: ProviderMercadoPago, Op: "create", Kind: KindRejected, Err: err}
	}

	items := make([]mpItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, mpItem{
			ID:         it.ID,
			Title:      it.Name,
			Quantity:   it.Quantity,
			CurrencyID: currency,
			UnitPrice:  json.Number(it.UnitPrice.ToMajor()),
		})
	}

	body := mpPreferenceRequest{
		Items:             items,
		ExternalReference: req.IntentID,
		NotificationURL:   m.cfg.NotificationURL,
		Metadata:          map[string]string{"transaction_id": req.IntentID, "user_id": req.UserID},
	}
	if m.cfg.SuccessURL != "" || m.cfg.PendingURL != "" || m.cfg.FailureURL != "" {
		body.BackURLs = &mpBackURLs{Success: m.cfg.SuccessURL, Pending: m.cfg.PendingURL, Failure: m.cfg.FailureURL}
	}
	if m.cfg.SuccessURL != "" {
		body.AutoReturn = "approved"
	}

	header := m.header()
	header.Set("X-Idempotency-Key", req.IntentID)

	res, err := invoke(ctx, m.call, "create", func(ctx context.Context) (mpResult[mpPreference], error) {
		var pref mpPreference
		raw, err := httputil.DoJSON(ctx, m.client, http.MethodPost, m.cfg.BaseURL+"/checkout/preferences", header, body, &pref)
		return mpResult[mpPreference]{body: pref, raw: raw}, err
	})
	if err != nil {
		return CreateResult{}, err
	}
	if res.body.ID == "" {
		return CreateResult{}, &Error{Provider: ProviderMercadoPago, Op: "create", Kind: KindRejected, Err: errors.New("preference missing id")}
	}

	redirect := res.body.InitPoint
	if m.cfg.Sandbox && res.body.SandboxInitPoint != "" {
		redirect = res.body.SandboxInitPoint
	}
	return CreateResult{
		ExternalID: res.body.ID,
		RawStatus:  "created",
		Redirect:   Redirect{URL: redirect},
		Raw:        res.raw,
	}, nil
}

// CheckStatus searches payments by external_reference and reports the most recent one.
// No payment yet means the payer has not finished checkout; the status is left empty.
func (m *MercadoPago) CheckStatus(ctx context.Context, lookup Lookup) (StatusResult, error) {
	ref := lookup.CorrelationID
	if ref == "" {
		return StatusResult{}, &Error{Provider: ProviderMercadoPago, Op: "check_status", Kind: KindRejected, Err: errors.New("external reference required")}
	}
	q := url.Values{}
	q.Set("external_reference", ref)
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")
	endpoint := m.cfg.BaseURL + "/v1/payments/search?" + q.Encode()

	res, err := invoke(ctx, m.call, "check_status", func(ctx context.Context) (mpResult[mpSearchResult], error) {
		var out mpSearchResult
		raw, err := httputil.DoJSON(ctx, m.client, http.MethodGet, endpoint, m.header(), nil, &out)
		return mpResult[mpSearchResult]{body: out, raw: raw}, err
	})
	if err != nil {
		return StatusResult{}, err
	}
	if len(res.body.Results) == 0 {
		return StatusResult{Raw: res.raw}, nil
	}
	latest := res.body.Results[0]
	return StatusResult{RawStatus: latest.Status, ReportedAmount: latest.reportedAmount(), Raw: res.raw}, nil
}

func (m *MercadoPago) getPayment(ctx context.Context, id string) (mpPayment, json.RawMessage, error) {
	endpoint := m.cfg.BaseURL + "/v1/payments/" + url.PathEscape(id)
	res, err := invoke(ctx, m.call, "get_payment", func(ctx context.Context) (mpResult[mpPayment], error) {
		var p mpPayment
		raw, err := httputil.DoJSON(ctx, m.client, http.MethodGet, endpoint, m.header(), nil, &p)
		return mpResult[mpPayment]{body: p, raw: raw}, err
	})
	return res.body, res.raw, err
}

type mpWebhook struct {
	ID     flexString `json:"id"`
	Type   string     `json:"type"`
	Action string     `json:"action"`
	Data   struct {
		ID flexString `json:"id"`
	} `json:"data"`
}

// ParseWebhook verifies x-signature when a secret is configured, then reads
// the payment from the API. The notification body itself is never trusted for status.
func (m *MercadoPago) ParseWebhook(ctx context.Context, req WebhookRequest) (*Notification, error) {
	var payload mpWebhook
	if len(bytes.TrimSpace(req.Body)) > 0 {
		if err := json.Unmarshal(req.Body, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}
	// IPN-style deliveries put the topic and id in the query string.
	if payload.Type == "" {
		payload.Type = firstNonEmpty(req.Query.Get("type"), req.Query.Get("topic"))
	}
	dataID := firstNonEmpty(req.Query.Get("data.id"), string(payload.Data.ID), req.Query.Get("id"))

	if err := m.verifySignature(req.Header, dataID); err != nil {
		return nil, err
	}
	if payload.Type != "payment" {
		return nil, nil
	}
	if dataID == "" {
		return nil, fmt.Errorf("%w: missing payment id", ErrMalformedPayload)
	}

	payment, raw, err := m.getPayment(ctx, dataID)
	if err != nil {
		return nil, err
	}

	eventID := string(payload.ID)
	if eventID == "" {
		eventID = dataID + ":" + payment.Status
	}
	return &Notification{
		Provider:       ProviderMercadoPago,
		Kind:           KindPayment,
		EventID:        eventID,
		ExternalID:     string(payment.ID),
		CorrelationID:  payment.ExternalReference,
		RawStatus:      payment.Status,
		ReportedAmount: payment.reportedAmount(),
		Raw:            raw,
	}, nil
}

// verifySignature checks x-signature ("ts=...,v1=...") against
// HMAC-SHA256("id:{data.id};request-id:{x-request-id};ts:{ts};").
func (m *MercadoPago) verifySignature(h http.Header, dataID string) error {
	if m.cfg.WebhookSecret == "" {
		return nil
	}
	sig := h.Get("X-Signature")
	if sig == "" {
		return fmt.Errorf("%w: missing x-signature", ErrInvalidSignature)
	}
	var ts, v1 string
	for _, part := range strings.Split(sig, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("%w: malformed x-signature", ErrInvalidSignature)
	}

	expected := mercadoPagoSignature(m.cfg.WebhookSecret, strings.ToLower(dataID), h.Get("X-Request-Id"), ts)
	got, err := hex.DecodeString(v1)
	if err != nil || !hmac.Equal(got, expected) {
		return ErrInvalidSignature
	}
	return nil
}

func mercadoPagoSignature(secret, dataID, requestID, ts string) []byte {
	var manifest strings.Builder
	if dataID != "" {
		manifest.WriteString("id:" + dataID + ";")
	}
	if requestID != "" {
		manifest.WriteString("request-id:" + requestID + ";")
	}
	manifest.WriteString("ts:" + ts + ";")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest.String()))
	return mac.Sum(nil)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
