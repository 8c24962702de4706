package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/akkaui/payments/internal/config"
)

func testCatalog(t *testing.T) *YAMLRepository {
	t.Helper()
	repo, err := NewYAMLRepository(config.CatalogConfig{
		DefaultCurrency: "BRL",
		Plans: map[string]config.PlanConfig{
			"pro_month": {Name: "Pro Monthly", Price: "49.00"},
			"pro_year":  {Name: "Pro Yearly", Price: "470.40"},
			"legacy":    {Name: "Legacy", Price: "9.90", Disabled: true},
		},
		Assets: map[string]config.AssetConfig{
			"asset-42":  {Title: "Rocket", Price: "4.90"},
			"asset-7":   {Title: "Planet", Price: "12.00"},
			"free-icon": {Title: "Freebie", Price: "0"},
			"usd-icon":  {Title: "Imported", Price: "3.00", Currency: "USD"},
		},
	})
	if err != nil {
		t.Fatalf("NewYAMLRepository: %v", err)
	}
	return repo
}

func TestResolve(t *testing.T) {
	auth := NewAuthority(testCatalog(t))
	ctx := context.Background()

	tests := []struct {
		name      string
		items     []ItemRequest
		currency  string
		wantTotal int64
		wantErr   error
	}{
		{
			name:      "single asset",
			items:     []ItemRequest{{Kind: KindAsset, ID: "asset-42", Quantity: 1}},
			currency:  "BRL",
			wantTotal: 490,
		},
		{
			name: "mixed cart",
			items: []ItemRequest{
				{Kind: KindPlan, ID: "pro_month", Quantity: 1},
				{Kind: KindAsset, ID: "asset-7", Quantity: 2},
			},
			currency:  "BRL",
			wantTotal: 4900 + 2400,
		},
		{
			name:      "plan quantity is normalized",
			items:     []ItemRequest{{Kind: KindPlan, ID: "pro_year", Quantity: 5}},
			wantTotal: 47040,
		},
		{
			name:      "empty currency adopts item currency",
			items:     []ItemRequest{{Kind: KindAsset, ID: "usd-icon", Quantity: 1}},
			wantTotal: 300,
		},
		{
			name:    "empty cart",
			wantErr: ErrInvalidItem,
		},
		{
			name:    "unknown asset",
			items:   []ItemRequest{{Kind: KindAsset, ID: "does-not-exist", Quantity: 1}},
			wantErr: ErrInvalidItem,
		},
		{
			name:    "disabled plan",
			items:   []ItemRequest{{Kind: KindPlan, ID: "legacy", Quantity: 1}},
			wantErr: ErrInvalidItem,
		},
		{
			name:    "zero quantity",
			items:   []ItemRequest{{Kind: KindAsset, ID: "asset-42", Quantity: 0}},
			wantErr: ErrInvalidItem,
		},
		{
			name:    "negative quantity",
			items:   []ItemRequest{{Kind: KindAsset, ID: "asset-42", Quantity: -3}},
			wantErr: ErrInvalidItem,
		},
		{
			name:    "unknown kind",
			items:   []ItemRequest{{Kind: "font", ID: "asset-42", Quantity: 1}},
			wantErr: ErrInvalidItem,
		},
		{
			name:    "zero priced asset",
			items:   []ItemRequest{{Kind: KindAsset, ID: "free-icon", Quantity: 1}},
			wantErr: ErrNotForSale,
		},
		{
			name: "mixed currencies",
			items: []ItemRequest{
				{Kind: KindAsset, ID: "asset-42", Quantity: 1},
				{Kind: KindAsset, ID: "usd-icon", Quantity: 1},
			},
			wantErr: ErrCurrencyMismatch,
		},
		{
			name:     "requested currency differs",
			items:    []ItemRequest{{Kind: KindAsset, ID: "asset-42", Quantity: 1}},
			currency: "USD",
			wantErr:  ErrCurrencyMismatch,
		},
		{
			name:     "unsupported currency",
			items:    []ItemRequest{{Kind: KindAsset, ID: "asset-42", Quantity: 1}},
			currency: "JPY",
			wantErr:  ErrUnsupportedCurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := auth.Resolve(ctx, tt.items, tt.currency)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if quote.Total.Atomic != tt.wantTotal {
				t.Errorf("total = %d, want %d", quote.Total.Atomic, tt.wantTotal)
			}
			if len(quote.Items) != len(tt.items) {
				t.Errorf("items = %d, want %d", len(quote.Items), len(tt.items))
			}
		})
	}
}

func TestResolvePlanLine(t *testing.T) {
	auth := NewAuthority(testCatalog(t))

	quote, err := auth.Resolve(context.Background(), []ItemRequest{{Kind: KindPlan, ID: "pro_year", Quantity: 3}}, "BRL")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	line := quote.Items[0]
	if line.Quantity != 1 {
		t.Errorf("quantity = %d, want 1", line.Quantity)
	}
	if line.Months != 12 {
		t.Errorf("months = %d, want 12", line.Months)
	}
	if !quote.HasPlan() {
		t.Error("HasPlan = false, want true")
	}
}

func TestResolveItemError(t *testing.T) {
	auth := NewAuthority(testCatalog(t))

	_, err := auth.Resolve(context.Background(), []ItemRequest{
		{Kind: KindAsset, ID: "asset-42", Quantity: 1},
		{Kind: KindAsset, ID: "ghost", Quantity: 1},
	}, "BRL")

	var itemErr *ItemError
	if !errors.As(err, &itemErr) {
		t.Fatalf("expected *ItemError, got %T", err)
	}
	if itemErr.ID != "ghost" || itemErr.Kind != KindAsset {
		t.Errorf("ItemError = %+v", itemErr)
	}
}

func TestParseItemKind(t *testing.T) {
	tests := map[string]ItemKind{
		"subscription-plan": KindPlan,
		"plan":              KindPlan,
		"catalog-asset":     KindAsset,
		"SVG":               KindAsset,
		" asset ":           KindAsset,
	}
	for in, want := range tests {
		got, ok := ParseItemKind(in)
		if !ok || got != want {
			t.Errorf("ParseItemKind(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseItemKind("font"); ok {
		t.Error("ParseItemKind(font) should fail")
	}
}

type countingRepo struct {
	Repository
	assetCalls int
}

func (c *countingRepo) GetAsset(ctx context.Context, id string) (Asset, error) {
	c.assetCalls++
	return c.Repository.GetAsset(ctx, id)
}

func TestCachedRepository(t *testing.T) {
	inner := &countingRepo{Repository: testCatalog(t)}
	cached := NewCachedRepository(inner, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cached.GetAsset(ctx, "asset-42"); err != nil {
			t.Fatalf("GetAsset: %v", err)
		}
	}
	if inner.assetCalls != 1 {
		t.Errorf("underlying calls = %d, want 1", inner.assetCalls)
	}

	for i := 0; i < 2; i++ {
		if _, err := cached.GetAsset(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if inner.assetCalls != 3 {
		t.Errorf("misses should not be cached: calls = %d, want 3", inner.assetCalls)
	}

	cached.Invalidate()
	_, _ = cached.GetAsset(ctx, "asset-42")
	if inner.assetCalls != 4 {
		t.Errorf("calls after invalidate = %d, want 4", inner.assetCalls)
	}
}

func TestNewYAMLRepositoryRejectsBadPrice(t *testing.T) {
	_, err := NewYAMLRepository(config.CatalogConfig{
		Plans: map[string]config.PlanConfig{"broken": {Price: "abc"}},
	})
	if err == nil {
		t.Fatal("expected error for malformed price")
	}
}

func TestListPlansSkipsDisabled(t *testing.T) {
	plans, err := testCatalog(t).ListPlans(context.Background())
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if len(plans) != 2 || plans[0].Code != "pro_month" || plans[1].Code != "pro_year" {
		t.Errorf("plans = %+v", plans)
	}
}
