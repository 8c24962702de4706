package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/metrics"
	"github.com/akkaui/payments/internal/money"
)

func newIntent(id, user string, at time.Time) PaymentIntent {
	brl := money.MustGetAsset("BRL")
	return PaymentIntent{
		ID:       id,
		UserID:   user,
		Provider: "abacatepay",
		Amount:   money.New(brl, 490),
		Status:   StatusPending,
		Items: []LineItem{{
			Kind:      catalog.KindAsset,
			ItemID:    "asset-42",
			Quantity:  1,
			UnitPrice: money.New(brl, 490),
			Total:     money.New(brl, 490),
		}},
		CreatedAt: at,
	}
}

func TestStatusIsTerminal(t *testing.T) {
	tests := map[Status]bool{
		StatusPending:    false,
		StatusProcessing: false,
		StatusCompleted:  true,
		StatusFailed:     true,
		StatusCancelled:  true,
	}
	for status, want := range tests {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	if err := store.CreateIntent(ctx, newIntent("tx-1", "user-1", now)); err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if err := store.CreateIntent(ctx, newIntent("tx-1", "user-1", now)); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate CreateIntent error = %v, want ErrAlreadyExists", err)
	}

	got, err := store.GetIntent(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetIntent: %v", err)
	}
	if got.Status != StatusPending || len(got.Items) != 1 || got.Items[0].IntentID != "tx-1" {
		t.Errorf("unexpected intent: %+v", got)
	}

	// Returned values are copies.
	got.Items[0].ItemID = "mutated"
	again, _ := store.GetIntent(ctx, "tx-1")
	if again.Items[0].ItemID != "asset-42" {
		t.Error("store returned shared line item slice")
	}

	if _, err := store.GetIntent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetIntent(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreAttachGatewayResult(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.CreateIntent(ctx, newIntent("tx-1", "user-1", time.Now()))
	_ = store.CreateIntent(ctx, newIntent("tx-2", "user-1", time.Now()))

	applied, err := store.AttachGatewayResult(ctx, "tx-1", GatewayUpdate{
		ExternalID: "pix_char_1",
		Raw:        []byte(`{"status":"PENDING"}`),
		Status:     StatusProcessing,
	})
	if err != nil || !applied {
		t.Fatalf("AttachGatewayResult = %v, %v", applied, err)
	}

	found, err := store.FindIntentByExternalID(ctx, "abacatepay", "pix_char_1")
	if err != nil {
		t.Fatalf("FindIntentByExternalID: %v", err)
	}
	if found.ID != "tx-1" || found.Status != StatusProcessing {
		t.Errorf("found = %+v", found)
	}

	if _, err := store.AttachGatewayResult(ctx, "tx-2", GatewayUpdate{ExternalID: "pix_char_1"}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("reusing external id = %v, want ErrAlreadyExists", err)
	}

	if _, err := store.FindIntentByExternalID(ctx, "stripe", "pix_char_1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("external ids are scoped per provider, got %v", err)
	}
}

func TestMemoryStoreTransitionGuard(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.CreateIntent(ctx, newIntent("tx-1", "user-1", time.Now()))

	completedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	applied, err := store.Transition(ctx, Transition{
		ID:   "tx-1",
		To:   StatusCompleted,
		From: []Status{StatusPending, StatusProcessing},
		At:   completedAt,
	})
	if err != nil || !applied {
		t.Fatalf("first Transition = %v, %v", applied, err)
	}

	applied, err = store.Transition(ctx, Transition{
		ID:   "tx-1",
		To:   StatusCompleted,
		From: []Status{StatusPending, StatusProcessing},
		At:   completedAt.Add(time.Hour),
	})
	if err != nil || applied {
		t.Fatalf("second Transition = %v, %v; want not applied", applied, err)
	}

	got, _ := store.GetIntent(ctx, "tx-1")
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completedAt) {
		t.Errorf("completed_at = %v, want %v", got.CompletedAt, completedAt)
	}

	applied, _ = store.Transition(ctx, Transition{ID: "tx-1", To: StatusFailed, From: []Status{StatusPending, StatusProcessing}})
	if applied {
		t.Error("terminal intent must not move to failed")
	}

	if _, err := store.Transition(ctx, Transition{ID: "missing", To: StatusFailed}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Transition(missing) = %v, want ErrNotFound", err)
	}

	applied, _ = store.AttachGatewayResult(ctx, "tx-1", GatewayUpdate{Status: StatusFailed})
	if applied {
		t.Error("AttachGatewayResult must not touch a terminal intent")
	}
}

func TestMemoryStoreConcurrentTransition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.CreateIntent(ctx, newIntent("tx-1", "user-1", time.Now()))

	var appliedCount int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := store.Transition(ctx, Transition{
				ID:   "tx-1",
				To:   StatusCompleted,
				From: []Status{StatusPending, StatusProcessing},
			})
			if err != nil {
				t.Errorf("Transition: %v", err)
			}
			if applied {
				atomic.AddInt32(&appliedCount, 1)
			}
		}()
	}
	wg.Wait()

	if appliedCount != 1 {
		t.Errorf("applied %d times, want exactly 1", appliedCount)
	}
}

func TestMemoryStoreListUserIntents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()

	for i := 0; i < 25; i++ {
		_ = store.CreateIntent(ctx, newIntent(fmt.Sprintf("tx-%02d", i), "user-1", base.Add(time.Duration(i)*time.Second)))
	}
	_ = store.CreateIntent(ctx, newIntent("other", "user-2", base))

	intents, err := store.ListUserIntents(ctx, "user-1", 20)
	if err != nil {
		t.Fatalf("ListUserIntents: %v", err)
	}
	if len(intents) != 20 {
		t.Fatalf("len = %d, want 20", len(intents))
	}
	if intents[0].ID != "tx-24" || intents[19].ID != "tx-05" {
		t.Errorf("order = %s .. %s, want tx-24 .. tx-05", intents[0].ID, intents[19].ID)
	}
}

func TestMemoryStoreGrants(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	grant := PurchaseGrant{
		ID:            "g-1",
		UserID:        "user-1",
		AssetID:       "asset-42",
		Price:         money.New(money.MustGetAsset("BRL"), 490),
		PaymentMethod: "abacatepay",
		IntentID:      "tx-1",
	}

	result, err := store.InsertGrantIfAbsent(ctx, grant)
	if err != nil || result != GrantCreated {
		t.Fatalf("first insert = %v, %v", result, err)
	}

	grant.ID = "g-2"
	grant.IntentID = "tx-2"
	result, err = store.InsertGrantIfAbsent(ctx, grant)
	if err != nil || result != GrantAlreadyExisted {
		t.Fatalf("second insert = %v, %v; want GrantAlreadyExisted", result, err)
	}

	grants, _ := store.ListGrants(ctx, "user-1")
	if len(grants) != 1 || grants[0].IntentID != "tx-1" {
		t.Errorf("grants = %+v", grants)
	}

	if ok, _ := store.HasGrant(ctx, "user-1", "asset-42"); !ok {
		t.Error("HasGrant = false, want true")
	}
	if ok, _ := store.HasGrant(ctx, "user-2", "asset-42"); ok {
		t.Error("HasGrant for other user = true")
	}
}

func TestMemoryStoreConcurrentGrants(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var created int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := store.InsertGrantIfAbsent(ctx, PurchaseGrant{
				ID:      fmt.Sprintf("g-%d", i),
				UserID:  "user-1",
				AssetID: "asset-42",
				Price:   money.New(money.MustGetAsset("BRL"), 490),
			})
			if err != nil {
				t.Errorf("InsertGrantIfAbsent: %v", err)
			}
			if result == GrantCreated {
				atomic.AddInt32(&created, 1)
			}
		}(i)
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created %d grants, want 1", created)
	}
}

func TestNewStoreWithDB(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		wantErr bool
	}{
		{name: "default", backend: ""},
		{name: "memory", backend: "memory"},
		{name: "postgres without url", backend: "postgres", wantErr: true},
		{name: "unknown", backend: "file", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStoreWithDB(config.StorageConfig{Backend: tt.backend}, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreWithDB error = %v, wantErr %v", err, tt.wantErr)
			}
			if store != nil {
				_ = store.Close()
			}
		})
	}
}

func TestInstrumentAttachesMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	pg := &PostgresStore{}
	mg := &MongoDBStore{}
	Instrument(pg, m)
	Instrument(mg, m)
	Instrument(NewMemoryStore(), m)

	if pg.metrics != m {
		t.Error("postgres store not instrumented")
	}
	if mg.metrics != m {
		t.Error("mongodb store not instrumented")
	}
}

// Runs against a live server when AKKAUI_TEST_MONGODB_URL is set.
func TestMongoDBStoreRecordsQueryDuration(t *testing.T) {
	url := os.Getenv("AKKAUI_TEST_MONGODB_URL")
	if url == "" {
		t.Skip("AKKAUI_TEST_MONGODB_URL not set")
	}
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	store, err := NewMongoDBStore(url, "akkaui_test", "intents_"+suffix, "grants_"+suffix)
	if err != nil {
		t.Fatalf("NewMongoDBStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.intents.Drop(context.Background())
		_ = store.grants.Drop(context.Background())
		_ = store.Close()
	})
	m := metrics.New(prometheus.NewRegistry())
	Instrument(store, m)

	ctx := context.Background()
	if err := store.CreateIntent(ctx, newIntent("intent-1", "user-1", time.Now())); err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if _, err := store.GetIntent(ctx, "intent-1"); err != nil {
		t.Fatalf("GetIntent: %v", err)
	}

	// One series per (operation, backend) that has been observed.
	if got := promtest.CollectAndCount(m.DBQueryDuration); got != 2 {
		t.Errorf("query duration series = %d, want 2", got)
	}
}
