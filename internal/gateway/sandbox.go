package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// Sandbox is an in-process provider for development. Payments stay pending
// until SimulateConfirmation marks them paid.
type Sandbox struct {
	mu       sync.Mutex
	payments map[string]sandboxPayment
}

type sandboxPayment struct {
	intentID string
	status   string
}

func NewSandbox() *Sandbox {
	return &Sandbox{payments: make(map[string]sandboxPayment)}
}

func (s *Sandbox) Provider() Provider { return ProviderSandbox }

func (s *Sandbox) CreatePayment(_ context.Context, req CreateRequest) (CreateResult, error) {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return CreateResult{}, fmt.Errorf("sandbox: generate id: %w", err)
	}
	id := "sim_" + hex.EncodeToString(b[:])

	s.mu.Lock()
	s.payments[id] = sandboxPayment{intentID: req.IntentID, status: "pending"}
	s.mu.Unlock()

	raw, _ := json.Marshal(map[string]string{"id": id, "status": "pending", "transaction_id": req.IntentID})
	return CreateResult{
		ExternalID: id,
		RawStatus:  "pending",
		Redirect:   Redirect{QRCode: "sandbox:" + id},
		Raw:        raw,
	}, nil
}

func (s *Sandbox) CheckStatus(_ context.Context, lookup Lookup) (StatusResult, error) {
	s.mu.Lock()
	p, ok := s.payments[lookup.ExternalID]
	s.mu.Unlock()
	if !ok {
		return StatusResult{}, &Error{Provider: ProviderSandbox, Op: "check_status", Kind: KindRejected, Err: fmt.Errorf("unknown payment %q", lookup.ExternalID)}
	}
	return StatusResult{RawStatus: p.status}, nil
}

func (s *Sandbox) SimulateConfirmation(_ context.Context, externalID string) (StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[externalID]
	if !ok {
		return StatusResult{}, &Error{Provider: ProviderSandbox, Op: "simulate", Kind: KindRejected, Err: fmt.Errorf("unknown payment %q", externalID)}
	}
	p.status = "paid"
	s.payments[externalID] = p
	return StatusResult{RawStatus: p.status}, nil
}

// ParseWebhook is not supported: the sandbox never calls back.
func (s *Sandbox) ParseWebhook(context.Context, WebhookRequest) (*Notification, error) {
	return nil, ErrNotSupported
}
