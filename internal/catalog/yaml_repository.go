package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/money"
)

// YAMLRepository serves the catalog from configuration. Entries are parsed
// once at construction so malformed prices fail at startup.
type YAMLRepository struct {
	plans  map[string]Plan
	assets map[string]Asset
}

// NewYAMLRepository builds a repository from the catalog config section.
func NewYAMLRepository(cfg config.CatalogConfig) (*YAMLRepository, error) {
	r := &YAMLRepository{
		plans:  make(map[string]Plan, len(cfg.Plans)),
		assets: make(map[string]Asset, len(cfg.Assets)),
	}

	for code, pc := range cfg.Plans {
		price, err := parsePrice(pc.Price, currencyOr(pc.Currency, cfg.DefaultCurrency))
		if err != nil {
			return nil, fmt.Errorf("catalog plan %q: %w", code, err)
		}
		months := pc.Months
		if months <= 0 {
			months = config.DefaultPlanMonths(code)
		}
		r.plans[code] = Plan{
			Code:          code,
			Name:          pc.Name,
			Price:         price,
			Months:        months,
			StripePriceID: pc.StripePriceID,
			Active:        !pc.Disabled,
		}
	}

	for id, ac := range cfg.Assets {
		price, err := parsePrice(ac.Price, currencyOr(ac.Currency, cfg.DefaultCurrency))
		if err != nil {
			return nil, fmt.Errorf("catalog asset %q: %w", id, err)
		}
		r.assets[id] = Asset{
			ID:     id,
			Title:  ac.Title,
			Price:  price,
			Active: !ac.Disabled,
		}
	}

	return r, nil
}

// GetPlan returns an active plan by code.
func (r *YAMLRepository) GetPlan(_ context.Context, code string) (Plan, error) {
	p, ok := r.plans[code]
	if !ok || !p.Active {
		return Plan{}, ErrNotFound
	}
	return p, nil
}

// GetAsset returns an active asset by id.
func (r *YAMLRepository) GetAsset(_ context.Context, id string) (Asset, error) {
	a, ok := r.assets[id]
	if !ok || !a.Active {
		return Asset{}, ErrNotFound
	}
	return a, nil
}

// ListPlans returns all active plans sorted by code.
func (r *YAMLRepository) ListPlans(_ context.Context) ([]Plan, error) {
	plans := make([]Plan, 0, len(r.plans))
	for _, p := range r.plans {
		if p.Active {
			plans = append(plans, p)
		}
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].Code < plans[j].Code })
	return plans, nil
}

// Close is a no-op for YAML repository.
func (r *YAMLRepository) Close() error {
	return nil
}

// parsePrice converts a decimal major-unit string. Empty means zero.
func parsePrice(raw, currency string) (money.Money, error) {
	asset, err := money.GetAsset(currency)
	if err != nil {
		return money.Money{}, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return money.Zero(asset), nil
	}
	price, err := money.FromMajor(asset, raw)
	if err != nil {
		return money.Money{}, err
	}
	if price.Atomic < 0 {
		return money.Money{}, fmt.Errorf("negative price %s", raw)
	}
	return price, nil
}

func currencyOr(code, fallback string) string {
	if code != "" {
		return code
	}
	if fallback != "" {
		return fallback
	}
	return "BRL"
}
