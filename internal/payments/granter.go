package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/config"
	"github.com/akkaui/payments/internal/logger"
	"github.com/akkaui/payments/internal/metrics"
	"github.com/akkaui/payments/internal/storage"
	"github.com/akkaui/payments/internal/subscriptions"
)

// GrantReport summarises the effects of one completed intent.
type GrantReport struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
	Extended int `json:"extended"`
	Failed   int `json:"failed"`
}

// Granter turns a completed intent into purchase grants and subscription time.
type Granter struct {
	store        storage.Store
	entitlements subscriptions.Repository
	plans        catalog.Repository
	metrics      *metrics.Metrics
	now          func() time.Time
	loc          *time.Location
}

// GranterOption customizes a Granter.
type GranterOption func(*Granter)

func WithGranterMetrics(m *metrics.Metrics) GranterOption {
	return func(g *Granter) { g.metrics = m }
}

// WithGranterClock sets the clock and the calendar used for "today".
func WithGranterClock(now func() time.Time, loc *time.Location) GranterOption {
	return func(g *Granter) {
		if now != nil {
			g.now = now
		}
		g.loc = loc
	}
}

// NewGranter creates a Granter. plans is consulted for plan durations; a plan
// removed after purchase falls back to the duration implied by its code.
func NewGranter(store storage.Store, entitlements subscriptions.Repository, plans catalog.Repository, opts ...GranterOption) *Granter {
	g := &Granter{
		store:        store,
		entitlements: entitlements,
		plans:        plans,
		now:          time.Now,
		loc:          time.UTC,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Grant applies every line item independently. A failed item is logged and
// counted; items already granted stay granted.
func (g *Granter) Grant(ctx context.Context, intent storage.PaymentIntent) GrantReport {
	log := logger.FromContext(ctx)
	var report GrantReport

	for _, item := range intent.Items {
		var err error
		switch item.Kind {
		case catalog.KindAsset:
			err = g.grantAsset(ctx, intent, item, &report)
		case catalog.KindPlan:
			err = g.extendPlan(ctx, intent, item, &report)
		default:
			err = errors.New("unknown item kind")
		}
		if err != nil {
			report.Failed++
			g.metrics.ObserveGrant(string(item.Kind), "failed")
			log.Error().
				Err(err).
				Str("transaction_id", logger.TruncateID(intent.ID)).
				Str("item_kind", string(item.Kind)).
				Str("item_id", item.ItemID).
				Msg("payments.grant.item_failed")
		}
	}
	return report
}

func (g *Granter) grantAsset(ctx context.Context, intent storage.PaymentIntent, item storage.LineItem, report *GrantReport) error {
	res, err := g.store.InsertGrantIfAbsent(ctx, storage.PurchaseGrant{
		ID:            uuid.NewString(),
		UserID:        intent.UserID,
		AssetID:       item.ItemID,
		Price:         item.Total,
		PaymentMethod: intent.Provider,
		IntentID:      intent.ID,
		GrantedAt:     g.now(),
	})
	if err != nil {
		return err
	}

	g.metrics.ObserveGrant(string(item.Kind), res.String())
	if res == storage.GrantAlreadyExisted {
		report.Existing++
		lg := logger.FromContext(ctx)
		lg.Debug().
			Str("user_id", intent.UserID).
			Str("asset_id", item.ItemID).
			Msg("payments.grant.duplicate_grant")
		return nil
	}
	report.Created++
	return nil
}

func (g *Granter) extendPlan(ctx context.Context, intent storage.PaymentIntent, item storage.LineItem, report *GrantReport) error {
	months, err := g.planMonths(ctx, item.ItemID)
	if err != nil {
		return err
	}
	today := subscriptions.Today(g.now(), g.loc)
	ent, err := g.entitlements.Extend(ctx, intent.UserID, months, today)
	if err != nil {
		return err
	}

	report.Extended++
	g.metrics.ObserveGrant(string(item.Kind), "extended")
	g.metrics.ObserveSubscription("extended")
	lg := logger.FromContext(ctx)
	ev := lg.Info().
		Str("user_id", intent.UserID).
		Str("plan", item.ItemID).
		Int("months", months)
	if ent.ExpiresOn != nil {
		ev = ev.Str("expires_on", ent.ExpiresOn.Format(time.DateOnly))
	}
	ev.Msg("payments.subscription.extended")
	return nil
}

func (g *Granter) planMonths(ctx context.Context, code string) (int, error) {
	if g.plans != nil {
		plan, err := g.plans.GetPlan(ctx, code)
		switch {
		case err == nil && plan.Months > 0:
			return plan.Months, nil
		case err != nil && !errors.Is(err, catalog.ErrNotFound):
			return 0, err
		}
	}
	return config.DefaultPlanMonths(code), nil
}
