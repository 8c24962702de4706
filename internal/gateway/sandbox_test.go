package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSandboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSandbox()

	res, err := s.CreatePayment(ctx, CreateRequest{IntentID: "tx-1", Amount: brl(100)})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if !strings.HasPrefix(res.ExternalID, "sim_") || res.RawStatus != "pending" {
		t.Fatalf("result = %+v", res)
	}

	st, err := s.CheckStatus(ctx, Lookup{ExternalID: res.ExternalID})
	if err != nil || st.RawStatus != "pending" {
		t.Errorf("before confirm = %+v, %v", st, err)
	}

	var sim Simulator = s
	if _, err := sim.SimulateConfirmation(ctx, res.ExternalID); err != nil {
		t.Fatalf("SimulateConfirmation: %v", err)
	}
	st, _ = s.CheckStatus(ctx, Lookup{ExternalID: res.ExternalID})
	if st.RawStatus != "paid" {
		t.Errorf("after confirm = %q, want paid", st.RawStatus)
	}

	if _, err := s.CheckStatus(ctx, Lookup{ExternalID: "sim_missing"}); err == nil {
		t.Error("unknown payment should fail")
	}
	if _, err := s.ParseWebhook(ctx, WebhookRequest{}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("ParseWebhook = %v, want ErrNotSupported", err)
	}
}
