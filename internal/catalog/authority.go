package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/akkaui/payments/internal/money"
)

var (
	// ErrInvalidItem covers unknown ids, inactive entries, bad kinds and bad quantities.
	ErrInvalidItem = errors.New("catalog: invalid item")
	// ErrNotForSale is returned for catalog assets without a price.
	ErrNotForSale = errors.New("catalog: item not for sale")
	// ErrCurrencyMismatch is returned when items are priced in different currencies
	// or differ from the currency the client asked for.
	ErrCurrencyMismatch = errors.New("catalog: currency mismatch")
	// ErrUnsupportedCurrency is returned for currency codes not in the money registry.
	ErrUnsupportedCurrency = errors.New("catalog: unsupported currency")
)

// ItemError identifies which requested item failed resolution.
type ItemError struct {
	Kind ItemKind
	ID   string
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.ID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// ItemRequest is what the client asks for. Prices are never accepted from clients.
type ItemRequest struct {
	Kind     ItemKind
	ID       string
	Quantity int
}

// ResolvedItem is a line priced by the catalog.
type ResolvedItem struct {
	Kind          ItemKind
	ID            string
	Name          string
	Quantity      int
	UnitPrice     money.Money
	Total         money.Money
	Months        int    // plans only
	StripePriceID string // plans only
}

// Quote is the server-computed price of a cart.
type Quote struct {
	Items []ResolvedItem
	Total money.Money
}

// HasPlan reports whether any line is a subscription plan.
func (q Quote) HasPlan() bool {
	for _, it := range q.Items {
		if it.Kind == KindPlan {
			return true
		}
	}
	return false
}

// Authority computes authoritative prices from the catalog.
type Authority struct {
	repo Repository
}

// NewAuthority creates a price authority backed by repo.
func NewAuthority(repo Repository) *Authority {
	return &Authority{repo: repo}
}

// Repository exposes the underlying catalog for read-only listings.
func (a *Authority) Repository() Repository {
	return a.repo
}

// Resolve prices every requested item and sums the total. Any failure rejects
// the whole cart. An empty currency adopts the currency of the first item.
func (a *Authority) Resolve(ctx context.Context, items []ItemRequest, currency string) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, fmt.Errorf("%w: cart is empty", ErrInvalidItem)
	}

	var want *money.Asset
	if code := strings.TrimSpace(currency); code != "" {
		asset, err := money.GetAsset(code)
		if err != nil {
			return Quote{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, code)
		}
		want = &asset
	}

	quote := Quote{Items: make([]ResolvedItem, 0, len(items))}
	for i, req := range items {
		line, err := a.resolveOne(ctx, req)
		if err != nil {
			return Quote{}, err
		}
		if want == nil {
			asset := line.UnitPrice.Asset
			want = &asset
			quote.Total = money.Zero(asset)
		} else if i == 0 {
			quote.Total = money.Zero(*want)
		}
		if line.UnitPrice.Asset.Code != want.Code {
			return Quote{}, &ItemError{Kind: req.Kind, ID: req.ID, Err: fmt.Errorf("%w: priced in %s, cart in %s",
				ErrCurrencyMismatch, line.UnitPrice.Asset.Code, want.Code)}
		}

		total, err := quote.Total.Add(line.Total)
		if err != nil {
			return Quote{}, fmt.Errorf("sum cart: %w", err)
		}
		quote.Total = total
		quote.Items = append(quote.Items, line)
	}
	return quote, nil
}

func (a *Authority) resolveOne(ctx context.Context, req ItemRequest) (ResolvedItem, error) {
	id := strings.TrimSpace(req.ID)
	itemErr := func(err error) error {
		return &ItemError{Kind: req.Kind, ID: req.ID, Err: err}
	}
	if id == "" {
		return ResolvedItem{}, itemErr(fmt.Errorf("%w: missing id", ErrInvalidItem))
	}
	if req.Quantity < 1 {
		return ResolvedItem{}, itemErr(fmt.Errorf("%w: quantity must be at least 1", ErrInvalidItem))
	}

	switch req.Kind {
	case KindPlan:
		plan, err := a.repo.GetPlan(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return ResolvedItem{}, itemErr(fmt.Errorf("%w: unknown plan", ErrInvalidItem))
		}
		if err != nil {
			return ResolvedItem{}, err
		}
		if !plan.Price.IsPositive() {
			return ResolvedItem{}, itemErr(ErrNotForSale)
		}
		// One plan purchase extends by the plan's months; quantity is not multiplicative.
		return ResolvedItem{
			Kind:          KindPlan,
			ID:            plan.Code,
			Name:          plan.Name,
			Quantity:      1,
			UnitPrice:     plan.Price,
			Total:         plan.Price,
			Months:        plan.Months,
			StripePriceID: plan.StripePriceID,
		}, nil

	case KindAsset:
		asset, err := a.repo.GetAsset(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return ResolvedItem{}, itemErr(fmt.Errorf("%w: unknown asset", ErrInvalidItem))
		}
		if err != nil {
			return ResolvedItem{}, err
		}
		if !asset.Price.IsPositive() {
			return ResolvedItem{}, itemErr(ErrNotForSale)
		}
		total, err := asset.Price.Mul(int64(req.Quantity))
		if err != nil {
			return ResolvedItem{}, itemErr(fmt.Errorf("%w: %v", ErrInvalidItem, err))
		}
		return ResolvedItem{
			Kind:      KindAsset,
			ID:        asset.ID,
			Name:      asset.Title,
			Quantity:  req.Quantity,
			UnitPrice: asset.Price,
			Total:     total,
		}, nil

	default:
		return ResolvedItem{}, itemErr(fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, req.Kind))
	}
}
