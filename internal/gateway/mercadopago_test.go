package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/config"
)

func newTestMercadoPago(t *testing.T, handler http.HandlerFunc, cfg config.MercadoPagoConfig) *MercadoPago {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	cfg.AccessToken = "TEST-token"
	return NewMercadoPago(cfg, srv.Client(), caller{})
}

func TestMercadoPagoCreatePayment(t *testing.T) {
	var got map[string]any
	mp := newTestMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/preferences" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Idempotency-Key") != "tx-1" {
			t.Errorf("X-Idempotency-Key = %q", r.Header.Get("X-Idempotency-Key"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"pref_1","init_point":"https://mp/live","sandbox_init_point":"https://mp/sandbox"}`))
	}, config.MercadoPagoConfig{Sandbox: true, SuccessURL: "https://shop/ok", NotificationURL: "https://api/webhooks/mercadopago"})

	res, err := mp.CreatePayment(context.Background(), CreateRequest{
		IntentID: "tx-1",
		UserID:   "user-1",
		Amount:   brl(9800),
		Items: []catalog.ResolvedItem{
			{Kind: catalog.KindAsset, ID: "asset-42", Name: "Icon pack", Quantity: 2, UnitPrice: brl(4900), Total: brl(9800)},
		},
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if res.ExternalID != "pref_1" || res.Redirect.URL != "https://mp/sandbox" {
		t.Errorf("result = %+v", res)
	}
	if got["external_reference"] != "tx-1" || got["auto_return"] != "approved" {
		t.Errorf("preference body = %v", got)
	}
	items, _ := got["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", got["items"])
	}
	item := items[0].(map[string]any)
	if item["unit_price"] != 49.0 || item["quantity"] != 2.0 || item["currency_id"] != "BRL" {
		t.Errorf("item = %v", item)
	}
}

func TestMercadoPagoCheckStatus(t *testing.T) {
	mp := newTestMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("external_reference") == "tx-empty" {
			_, _ = w.Write([]byte(`{"results":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":111,"status":"approved","external_reference":"tx-1","transaction_amount":49.9,"currency_id":"BRL"},{"id":110,"status":"rejected"}]}`))
	}, config.MercadoPagoConfig{})

	res, err := mp.CheckStatus(context.Background(), Lookup{ExternalID: "pref_1", CorrelationID: "tx-1"})
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if res.RawStatus != "approved" {
		t.Errorf("RawStatus = %q, want approved", res.RawStatus)
	}
	if res.ReportedAmount == nil || res.ReportedAmount.Atomic != 4990 {
		t.Errorf("ReportedAmount = %v, want 4990", res.ReportedAmount)
	}

	res, err = mp.CheckStatus(context.Background(), Lookup{CorrelationID: "tx-empty"})
	if err != nil || res.RawStatus != "" {
		t.Errorf("no payments yet = %+v, %v", res, err)
	}
}

func signMercadoPago(secret, dataID, requestID, ts string) string {
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mercadoPagoSignature(secret, dataID, requestID, ts))
}

func TestMercadoPagoParseWebhook(t *testing.T) {
	fetched := 0
	mp := newTestMercadoPago(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments/123456" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fetched++
		_, _ = w.Write([]byte(`{"id":123456,"status":"approved","external_reference":"tx-1","transaction_amount":49,"currency_id":"BRL"}`))
	}, config.MercadoPagoConfig{WebhookSecret: "mp-secret"})

	body := []byte(`{"id":"evt-9","type":"payment","action":"payment.updated","data":{"id":"123456"}}`)

	tests := []struct {
		name    string
		header  http.Header
		body    []byte
		want    bool
		wantErr error
	}{
		{
			name:   "valid signature",
			header: http.Header{"X-Signature": {signMercadoPago("mp-secret", "123456", "req-1", "1700000000")}, "X-Request-Id": {"req-1"}},
			body:   body,
			want:   true,
		},
		{
			name:    "wrong secret",
			header:  http.Header{"X-Signature": {signMercadoPago("other", "123456", "req-1", "1700000000")}, "X-Request-Id": {"req-1"}},
			body:    body,
			wantErr: ErrInvalidSignature,
		},
		{name: "missing signature", header: http.Header{}, body: body, wantErr: ErrInvalidSignature},
		{
			name:   "merchant order is ignored",
			header: http.Header{"X-Signature": {signMercadoPago("mp-secret", "77", "", "1")}},
			body:   []byte(`{"type":"merchant_order","data":{"id":77}}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := mp.ParseWebhook(context.Background(), WebhookRequest{Header: tt.header, Query: url.Values{}, Body: tt.body})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWebhook: %v", err)
			}
			if !tt.want {
				if n != nil {
					t.Errorf("notification = %+v, want nil", n)
				}
				return
			}
			if n.ExternalID != "123456" || n.CorrelationID != "tx-1" || n.RawStatus != "approved" || n.EventID != "evt-9" {
				t.Errorf("notification = %+v", n)
			}
			if n.ReportedAmount == nil || n.ReportedAmount.Atomic != 4900 {
				t.Errorf("ReportedAmount = %v", n.ReportedAmount)
			}
		})
	}
	if fetched != 1 {
		t.Errorf("payment fetched %d times, want 1", fetched)
	}
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `"abc"`, want: "abc"},
		{in: `123456`, want: "123456"},
		{in: `null`, want: ""},
	}
	for _, tt := range tests {
		var f flexString
		if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.in, err)
		}
		if string(f) != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, f, tt.want)
		}
	}
}
