package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/akkaui/payments/internal/money"
)

// ErrNotFound is returned by repositories when an entry doesn't exist or is disabled.
var ErrNotFound = errors.New("catalog: entry not found")

// ItemKind distinguishes the two purchasable item types.
type ItemKind string

const (
	KindPlan  ItemKind = "subscription-plan"
	KindAsset ItemKind = "catalog-asset"
)

// ParseItemKind accepts the canonical kind names plus the short aliases used by
// client applications ("plan", "svg", "asset").
func ParseItemKind(s string) (ItemKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(KindPlan), "plan", "subscription":
		return KindPlan, true
	case string(KindAsset), "asset", "svg":
		return KindAsset, true
	default:
		return "", false
	}
}

// Plan is a subscription plan sold as a single line item.
type Plan struct {
	Code          string
	Name          string
	Price         money.Money
	Months        int    // Entitlement extension per completed purchase
	StripePriceID string // Recurring Stripe price (optional)
	Active        bool
}

// Asset is a purchasable catalog entry. A zero price means the asset is not for sale.
type Asset struct {
	ID     string
	Title  string
	Price  money.Money
	Active bool
}

// Repository defines read access to the price catalog.
type Repository interface {
	// GetPlan returns an active plan by code or ErrNotFound.
	GetPlan(ctx context.Context, code string) (Plan, error)

	// GetAsset returns an active asset by id or ErrNotFound.
	GetAsset(ctx context.Context, id string) (Asset, error)

	// ListPlans returns all active plans ordered by code.
	ListPlans(ctx context.Context) ([]Plan, error)

	// Close closes any open connections.
	Close() error
}
