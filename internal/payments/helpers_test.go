package payments

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/akkaui/payments/internal/callbacks"
	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/gateway"
	"github.com/akkaui/payments/internal/money"
	"github.com/akkaui/payments/internal/storage"
	"github.com/akkaui/payments/internal/subscriptions"
)

// stepClock advances one second per reading, starting at 2025-01-31 12:00 UTC.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeGateway struct {
	provider gateway.Provider

	mu           sync.Mutex
	createErr    error
	createStatus string
	block        bool
	status       string
	statusErr    error
	reported     *money.Money
	checks       int
}

func newFakeGateway(p gateway.Provider) *fakeGateway {
	return &fakeGateway{provider: p, createStatus: "pending", status: "pending"}
}

func (f *fakeGateway) Provider() gateway.Provider { return f.provider }

func (f *fakeGateway) CreatePayment(ctx context.Context, req gateway.CreateRequest) (gateway.CreateResult, error) {
	f.mu.Lock()
	block, createErr, status := f.block, f.createErr, f.createStatus
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return gateway.CreateResult{}, &gateway.Error{Provider: f.provider, Op: "create", Kind: gateway.KindUnreachable, Err: ctx.Err()}
	}
	if createErr != nil {
		return gateway.CreateResult{}, createErr
	}
	return gateway.CreateResult{
		ExternalID: "ext-" + req.IntentID[:12],
		RawStatus:  status,
		Redirect:   gateway.Redirect{URL: "https://pay.example/" + req.IntentID[:12]},
		Raw:        []byte(`{"ok":true}`),
	}, nil
}

func (f *fakeGateway) CheckStatus(context.Context, gateway.Lookup) (gateway.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.statusErr != nil {
		return gateway.StatusResult{}, f.statusErr
	}
	return gateway.StatusResult{RawStatus: f.status, ReportedAmount: f.reported}, nil
}

func (f *fakeGateway) ParseWebhook(context.Context, gateway.WebhookRequest) (*gateway.Notification, error) {
	return nil, gateway.ErrNotSupported
}

func (f *fakeGateway) set(fn func(f *fakeGateway)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeGateway) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []callbacks.PaymentEvent
	failed    []callbacks.PaymentEvent
}

func (n *recordingNotifier) PaymentCompleted(_ context.Context, e callbacks.PaymentEvent) {
	n.mu.Lock()
	n.completed = append(n.completed, e)
	n.mu.Unlock()
}

func (n *recordingNotifier) PaymentFailed(_ context.Context, e callbacks.PaymentEvent) {
	n.mu.Lock()
	n.failed = append(n.failed, e)
	n.mu.Unlock()
}

func (n *recordingNotifier) counts() (completed, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed), len(n.failed)
}

type harness struct {
	svc      *Service
	store    storage.Store
	ents     *subscriptions.MemoryRepository
	notifier *recordingNotifier
	gw       *fakeGateway
	clock    *stepClock
}

type harnessOption func(*Deps)

func withSimulation() harnessOption {
	return func(d *Deps) { d.AllowSimulation = true }
}

func withGatewayTimeout(d time.Duration) harnessOption {
	return func(deps *Deps) { deps.GatewayTimeout = d }
}

func testCatalog(t *testing.T) catalog.Repository {
	t.Helper()
	repo, err := catalog.NewYAMLRepository(config.CatalogConfig{
		DefaultCurrency: "BRL",
		Plans: map[string]config.PlanConfig{
			"pro_month": {Name: "Pro monthly", Price: "29.90", Months: 1},
			"pro_year":  {Name: "Pro yearly", Price: "299.00", Months: 12},
		},
		Assets: map[string]config.AssetConfig{
			"42":   {Title: "Icon pack", Price: "10.00"},
			"7":    {Title: "Pattern set", Price: "5.00"},
			"free": {Title: "Freebie", Price: "0"},
			"usd":  {Title: "Imported", Price: "3.00", Currency: "USD"},
		},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return repo
}

func newHarness(t *testing.T, extra []gateway.Gateway, opts ...harnessOption) *harness {
	t.Helper()
	return newHarnessWithStore(t, storage.NewMemoryStore(), extra, opts...)
}

func newHarnessWithStore(t *testing.T, store storage.Store, extra []gateway.Gateway, opts ...harnessOption) *harness {
	t.Helper()
	clock := newStepClock()
	repo := testCatalog(t)
	ents := subscriptions.NewMemoryRepository()
	gw := newFakeGateway(gateway.ProviderAbacatePay)
	notifier := &recordingNotifier{}

	deps := Deps{
		Store:        store,
		Catalog:      catalog.NewAuthority(repo),
		Gateways:     gateway.NewRegistry(append([]gateway.Gateway{gw}, extra...)...),
		Granter:      NewGranter(store, ents, repo, WithGranterClock(clock.Now, time.UTC)),
		Entitlements: ents,
		Notifier:     notifier,
		Clock:        clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewService(deps)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &harness{svc: svc, store: store, ents: ents, notifier: notifier, gw: gw, clock: clock}
}

func (h *harness) create(t *testing.T, user string, items ...catalog.ItemRequest) storage.PaymentIntent {
	t.Helper()
	res, err := h.svc.CreateIntent(context.Background(), CreateIntentRequest{
		UserID:   user,
		Provider: string(gateway.ProviderAbacatePay),
		Items:    items,
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	return res.Intent
}

func asset(id string, qty int) catalog.ItemRequest {
	return catalog.ItemRequest{Kind: catalog.KindAsset, ID: id, Quantity: qty}
}

func plan(code string) catalog.ItemRequest {
	return catalog.ItemRequest{Kind: catalog.KindPlan, ID: code, Quantity: 1}
}

func brl(major string) money.Money {
	m, err := money.FromMajor(money.MustGetAsset("BRL"), major)
	if err != nil {
		panic(fmt.Sprintf("brl(%q): %v", major, err))
	}
	return m
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
