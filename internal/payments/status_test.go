package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/akkaui/payments/internal/storage"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		raw    string
		want   storage.Status
		wantOK bool
	}{
		{"PAID", storage.StatusCompleted, true},
		{"approved", storage.StatusCompleted, true},
		{"accredited", storage.StatusCompleted, true},
		{"succeeded", storage.StatusCompleted, true},
		{" confirmed ", storage.StatusCompleted, true},
		{"PENDING", storage.StatusProcessing, true},
		{"in_process", storage.StatusProcessing, true},
		{"requires_payment_method", storage.StatusProcessing, true},
		{"requires_action", storage.StatusProcessing, true},
		{"rejected", storage.StatusFailed, true},
		{"failed", storage.StatusFailed, true},
		{"canceled", storage.StatusCancelled, true},
		{"EXPIRED", storage.StatusCancelled, true},
		{"refunded", storage.StatusCancelled, true},
		{"charged_back", storage.StatusCancelled, true},
		{"", "", false},
		{"mystery", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := MapStatus(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("MapStatus(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// flakyGrants fails grants for one asset.
type flakyGrants struct {
	*storage.MemoryStore
	failAsset string
}

func (f *flakyGrants) InsertGrantIfAbsent(ctx context.Context, g storage.PurchaseGrant) (storage.GrantResult, error) {
	if g.AssetID == f.failAsset {
		return 0, errors.New("disk full")
	}
	return f.MemoryStore.InsertGrantIfAbsent(ctx, g)
}

func TestGranterPartialFailure(t *testing.T) {
	store := &flakyGrants{MemoryStore: storage.NewMemoryStore(), failAsset: "7"}
	h := newHarnessWithStore(t, store, nil)
	ctx := context.Background()
	intent := h.create(t, "user-1", asset("42", 1), asset("7", 1), plan("pro_month"))

	res, err := h.svc.Finalize(ctx, intent.ID, SourceWebhook)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if res.Intent.Status != storage.StatusCompleted {
		t.Errorf("status = %s, want completed despite grant failure", res.Intent.Status)
	}
	if res.Grants != (GrantReport{Created: 1, Extended: 1, Failed: 1}) {
		t.Errorf("report = %+v", res.Grants)
	}
	if ok, _ := store.HasGrant(ctx, "user-1", "42"); !ok {
		t.Error("grant for 42 missing")
	}
	if ok, _ := store.HasGrant(ctx, "user-1", "7"); ok {
		t.Error("grant for 7 should have failed")
	}
}

func TestGranterExistingGrant(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	first := h.create(t, "user-1", asset("42", 1))
	second := h.create(t, "user-1", asset("42", 1))

	if _, err := h.svc.Finalize(ctx, first.ID, SourcePoll); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	res, err := h.svc.Finalize(ctx, second.ID, SourcePoll)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if res.Grants != (GrantReport{Existing: 1}) {
		t.Errorf("report = %+v, want one existing grant", res.Grants)
	}
}

func TestGranterStacksPlans(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, code := range []string{"pro_month", "pro_month"} {
		intent := h.create(t, "user-1", plan(code))
		if _, err := h.svc.Finalize(ctx, intent.ID, SourcePoll); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
	}
	ent, _ := h.ents.Get(ctx, "user-1")
	if !ent.ExpiresOn.Equal(day(2025, 3, 28)) {
		t.Errorf("expires_on = %v, want 2025-03-28", ent.ExpiresOn)
	}
}
