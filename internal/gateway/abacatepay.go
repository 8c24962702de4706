package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/httputil"
	"github.com/akkaui/payments/internal/money"
)

// AbacatePay creates PIX QR codes through the AbacatePay v1 API.
type AbacatePay struct {
	cfg    config.AbacatePayConfig
	client *http.Client
	call   caller
}

// NewAbacatePay creates the adapter. The client's timeout bounds each call.
func NewAbacatePay(cfg config.AbacatePayConfig, client *http.Client, c caller) *AbacatePay {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.abacatepay.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c.provider = ProviderAbacatePay
	return &AbacatePay{cfg: cfg, client: client, call: c}
}

func (a *AbacatePay) Provider() Provider { return ProviderAbacatePay }

type abacateEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *string         `json:"error"`
}

type abacatePix struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Status       string            `json:"status"`
	BRCode       string            `json:"brCode"`
	BRCodeBase64 string            `json:"brCodeBase64"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type abacateCreateRequest struct {
	Amount      int64             `json:"amount"`
	ExpiresIn   int64             `json:"expiresIn,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

func (a *AbacatePay) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+a.cfg.APIKey)
	return h
}

// do sends a request and unwraps the {data, error} envelope.
func (a *AbacatePay) do(ctx context.Context, method, path string, in any) (abacatePix, json.RawMessage, error) {
	var env abacateEnvelope
	raw, err := httputil.DoJSON(ctx, a.client, method, a.cfg.BaseURL+path, a.header(), in, &env)
	if err != nil {
		return abacatePix{}, raw, err
	}
	if env.Error != nil && *env.Error != "" {
		return abacatePix{}, raw, &Error{Provider: ProviderAbacatePay, Kind: KindRejected, Err: errors.New(*env.Error)}
	}
	var pix abacatePix
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &pix); err != nil {
			return abacatePix{}, raw, fmt.Errorf("decode data: %w", err)
		}
	}
	return pix, raw, nil
}

type abacateResult struct {
	pix abacatePix
	raw json.RawMessage
}

func (a *AbacatePay) CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.Amount.Asset.Code != "BRL" {
		return CreateResult{}, &Error{Provider: ProviderAbacatePay, Op: "create", Kind: KindRejected,
			Err: fmt.Errorf("PIX only settles BRL, got %s", req.Amount.Asset.Code)}
	}
	expires := a.cfg.ExpiresIn.Duration
	if expires <= 0 {
		expires = time.Hour
	}
	body := abacateCreateRequest{
		Amount:      req.Amount.Atomic,
		ExpiresIn:   int64(expires / time.Second),
		Description: truncateText(req.Description, 140),
		Metadata: map[string]string{
			"transaction_id": req.IntentID,
			"user_id":        req.UserID,
		},
	}

	res, err := invoke(ctx, a.call, "create", func(ctx context.Context) (abacateResult, error) {
		pix, raw, err := a.do(ctx, http.MethodPost, "/v1/pixQrCode/create", body)
		return abacateResult{pix: pix, raw: raw}, err
	})
	if err != nil {
		return CreateResult{}, err
	}
	if res.pix.ID == "" {
		return CreateResult{}, &Error{Provider: ProviderAbacatePay, Op: "create", Kind: KindRejected, Err: errors.New("response missing id")}
	}
	return CreateResult{
		ExternalID: res.pix.ID,
		RawStatus:  res.pix.Status,
		Redirect: Redirect{
			QRCode:       res.pix.BRCode,
			QRCodeBase64: res.pix.BRCodeBase64,
		},
		Raw: res.raw,
	}, nil
}

func (a *AbacatePay) CheckStatus(ctx context.Context, lookup Lookup) (StatusResult, error) {
	path := "/v1/pixQrCode/check?id=" + url.QueryEscape(lookup.ExternalID)
	res, err := invoke(ctx, a.call, "check_status", func(ctx context.Context) (abacateResult, error) {
		pix, raw, err := a.do(ctx, http.MethodGet, path, nil)
		return abacateResult{pix: pix, raw: raw}, err
	})
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{RawStatus: res.pix.Status, ReportedAmount: res.pix.reportedAmount(), Raw: res.raw}, nil
}

// reportedAmount is nil when the payload omits the amount; PIX charges are always BRL.
func (p abacatePix) reportedAmount() *money.Money {
	if p.Amount <= 0 {
		return nil
	}
	amount := money.New(money.MustGetAsset("BRL"), p.Amount)
	return &amount
}

// SimulateConfirmation marks a PIX charge as paid. AbacatePay only honours it in dev mode.
func (a *AbacatePay) SimulateConfirmation(ctx context.Context, externalID string) (StatusResult, error) {
	if !a.cfg.DevMode {
		return StatusResult{}, ErrNotSupported
	}
	path := "/v1/pixQrCode/simulate-payment?id=" + url.QueryEscape(externalID)
	res, err := invoke(ctx, a.call, "simulate", func(ctx context.Context) (abacateResult, error) {
		pix, raw, err := a.do(ctx, http.MethodPost, path, map[string]any{"metadata": map[string]string{}})
		return abacateResult{pix: pix, raw: raw}, err
	})
	if err != nil {
		return StatusResult{}, err
	}
	status := res.pix.Status
	if status == "" {
		status = "PAID"
	}
	return StatusResult{RawStatus: status, ReportedAmount: res.pix.reportedAmount(), Raw: res.raw}, nil
}

type abacateWebhook struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  struct {
		PixQrCode *abacatePix `json:"pixQrCode"`
	} `json:"data"`

	// Flat form: the charge itself at the top level.
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

// ParseWebhook accepts both the event envelope ({"event","data":{"pixQrCode":...}})
// and the flat charge form. The shared secret arrives as the webhookSecret query parameter.
func (a *AbacatePay) ParseWebhook(_ context.Context, req WebhookRequest) (*Notification, error) {
	if err := a.verifySecret(req.Query.Get("webhookSecret")); err != nil {
		return nil, err
	}

	var payload abacateWebhook
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var pix abacatePix
	eventID := ""
	switch {
	case payload.Data.PixQrCode != nil:
		pix = *payload.Data.PixQrCode
		eventID = payload.ID
		if pix.Status == "" && payload.Event == "billing.paid" {
			pix.Status = "PAID"
		}
	case payload.ID != "" && payload.Status != "":
		pix = abacatePix{ID: payload.ID, Status: payload.Status, Amount: payload.Amount, Metadata: payload.Metadata}
	default:
		return nil, fmt.Errorf("%w: no charge in payload", ErrMalformedPayload)
	}
	if pix.ID == "" || pix.Status == "" {
		return nil, fmt.Errorf("%w: charge id and status are required", ErrMalformedPayload)
	}
	if eventID == "" {
		eventID = pix.ID + ":" + strings.ToLower(pix.Status)
	}

	n := &Notification{
		Provider:       ProviderAbacatePay,
		Kind:           KindPayment,
		EventID:        eventID,
		ExternalID:     pix.ID,
		CorrelationID:  pix.Metadata["transaction_id"],
		RawStatus:      pix.Status,
		ReportedAmount: pix.reportedAmount(),
		Raw:            req.Body,
	}
	return n, nil
}

func (a *AbacatePay) verifySecret(got string) error {
	if a.cfg.WebhookSecret == "" {
		if a.cfg.DevMode {
			return nil
		}
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.WebhookSecret)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
