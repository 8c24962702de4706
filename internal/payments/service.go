// Package payments orchestrates payment intents: creation against a provider,
// status polling, idempotent finalization and webhook reconciliation.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akkaui/payments/internal/callbacks"
	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/gateway"
	"github.com/akkaui/payments/internal/logger"
	"github.com/akkaui/payments/internal/metrics"
	"github.com/akkaui/payments/internal/storage"
	"github.com/akkaui/payments/internal/subscriptions"
)

var (
	// ErrIntentNotFound covers both unknown intents and intents owned by someone else.
	ErrIntentNotFound     = errors.New("payments: intent not found")
	ErrSimulationDisabled = errors.New("payments: simulation disabled")
	ErrMissingUser        = errors.New("payments: user id required")
)

const (
	defaultGatewayTimeout = 15 * time.Second
	defaultHistoryLimit   = 20
)

// Deps wires a Service. Store, Catalog, Gateways, Granter and Entitlements are required.
type Deps struct {
	Store        storage.Store
	Catalog      *catalog.Authority
	Gateways     *gateway.Registry
	Granter      *Granter
	Entitlements subscriptions.Repository
	Notifier     callbacks.Notifier
	Metrics      *metrics.Metrics
	Clock        func() time.Time

	GatewayTimeout  time.Duration
	AllowSimulation bool
	HistoryLimit    int
	Location        *time.Location
}

// Service is the payment orchestrator.
type Service struct {
	store        storage.Store
	catalog      *catalog.Authority
	gateways     *gateway.Registry
	granter      *Granter
	entitlements subscriptions.Repository
	notifier     callbacks.Notifier
	metrics      *metrics.Metrics
	now          func() time.Time

	gatewayTimeout  time.Duration
	allowSimulation bool
	historyLimit    int
	loc             *time.Location
}

func NewService(d Deps) (*Service, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("payments: store is required")
	case d.Catalog == nil:
		return nil, errors.New("payments: catalog is required")
	case d.Gateways == nil:
		return nil, errors.New("payments: gateway registry is required")
	case d.Granter == nil:
		return nil, errors.New("payments: granter is required")
	case d.Entitlements == nil:
		return nil, errors.New("payments: entitlement repository is required")
	}

	s := &Service{
		store:           d.Store,
		catalog:         d.Catalog,
		gateways:        d.Gateways,
		granter:         d.Granter,
		entitlements:    d.Entitlements,
		notifier:        d.Notifier,
		metrics:         d.Metrics,
		now:             d.Clock,
		gatewayTimeout:  d.GatewayTimeout,
		allowSimulation: d.AllowSimulation,
		historyLimit:    d.HistoryLimit,
		loc:             d.Location,
	}
	if s.notifier == nil {
		s.notifier = callbacks.NoopNotifier{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.gatewayTimeout <= 0 {
		s.gatewayTimeout = defaultGatewayTimeout
	}
	if s.historyLimit <= 0 {
		s.historyLimit = defaultHistoryLimit
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s, nil
}

// SimulationEnabled reports whether SimulateConfirmation may be used.
func (s *Service) SimulationEnabled() bool { return s.allowSimulation }

// CreateIntentRequest is a client purchase request. Prices never come from the client.
type CreateIntentRequest struct {
	UserID   string
	Provider string
	Items    []catalog.ItemRequest
	Currency string
}

// CreateIntentResult is the persisted intent plus what the client needs to pay.
type CreateIntentResult struct {
	Intent   storage.PaymentIntent
	Redirect gateway.Redirect
}

// CreateIntent prices the cart, persists a pending intent and only then
// contacts the provider, so an early webhook can already find the record.
// A provider failure marks the intent failed and is returned as a *gateway.Error.
func (s *Service) CreateIntent(ctx context.Context, req CreateIntentRequest) (CreateIntentResult, error) {
	log := logger.FromContext(ctx)
	if req.UserID == "" {
		return CreateIntentResult{}, ErrMissingUser
	}

	provider, err := gateway.ParseProvider(req.Provider)
	if err != nil {
		return CreateIntentResult{}, err
	}
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return CreateIntentResult{}, err
	}

	quote, err := s.catalog.Resolve(ctx, req.Items, req.Currency)
	if err != nil {
		s.metrics.ObserveIntentCreated(string(provider), "rejected")
		return CreateIntentResult{}, err
	}

	id, err := newIntentID()
	if err != nil {
		return CreateIntentResult{}, err
	}
	now := s.now()
	intent := storage.PaymentIntent{
		ID:        id,
		UserID:    req.UserID,
		Provider:  string(provider),
		Amount:    quote.Total,
		Status:    storage.StatusPending,
		Items:     lineItems(id, quote.Items),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateIntent(ctx, intent); err != nil {
		return CreateIntentResult{}, fmt.Errorf("persist intent: %w", err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	res, gwErr := gw.CreatePayment(gwCtx, gateway.CreateRequest{
		IntentID:    id,
		UserID:      req.UserID,
		Amount:      quote.Total,
		Items:       quote.Items,
		Description: describe(quote.Items),
	})
	cancel()

	// The client may have gone away; the outcome still has to be recorded.
	persistCtx := context.WithoutCancel(ctx)

	if gwErr != nil {
		if _, err := s.store.AttachGatewayResult(persistCtx, id, storage.GatewayUpdate{
			Status:      storage.StatusFailed,
			ErrorDetail: gwErr.Error(),
		}); err != nil {
			log.Error().Err(err).Str("transaction_id", logger.TruncateID(id)).Msg("payments.intent.mark_failed_error")
		}
		s.metrics.ObserveIntentCreated(string(provider), "gateway_error")
		s.metrics.ObserveTransition(string(provider), string(storage.StatusFailed), SourceCreate)
		log.Warn().
			Err(gwErr).
			Str("transaction_id", logger.TruncateID(id)).
			Str("provider", string(provider)).
			Bool("unreachable", gateway.IsUnreachable(gwErr)).
			Msg("payments.intent.gateway_failed")

		intent.Status = storage.StatusFailed
		intent.ErrorDetail = gwErr.Error()
		s.notifier.PaymentFailed(persistCtx, paymentEvent(intent, SourceCreate))
		return CreateIntentResult{Intent: intent}, gwErr
	}

	attached, err := s.store.AttachGatewayResult(persistCtx, id, storage.GatewayUpdate{
		ExternalID: res.ExternalID,
		Raw:        res.Raw,
		Status:     storage.StatusProcessing,
	})
	if err != nil {
		return CreateIntentResult{}, fmt.Errorf("attach gateway result: %w", err)
	}
	if attached {
		s.metrics.ObserveTransition(string(provider), string(storage.StatusProcessing), SourceCreate)
	}
	s.metrics.ObserveIntentCreated(string(provider), "created")
	log.Info().
		Str("transaction_id", logger.TruncateID(id)).
		Str("provider", string(provider)).
		Str("amount", quote.Total.String()).
		Int("items", len(quote.Items)).
		Msg("payments.intent.created")

	// Some providers settle synchronously.
	if st, ok := MapStatus(res.RawStatus); ok && st == storage.StatusCompleted {
		if _, err := s.Finalize(persistCtx, id, SourceCreate); err != nil {
			return CreateIntentResult{}, err
		}
	}

	current, err := s.store.GetIntent(persistCtx, id)
	if err != nil {
		return CreateIntentResult{}, fmt.Errorf("reload intent: %w", err)
	}
	return CreateIntentResult{Intent: current, Redirect: res.Redirect}, nil
}

// CheckStatus polls the provider for a non-terminal intent owned by userID.
// Provider errors are returned without changing the intent.
func (s *Service) CheckStatus(ctx context.Context, userID, intentID string) (storage.PaymentIntent, error) {
	intent, err := s.ownedIntent(ctx, userID, intentID)
	if err != nil {
		return storage.PaymentIntent{}, err
	}
	if intent.Status.IsTerminal() || intent.ExternalID == "" {
		return intent, nil
	}

	gw, err := s.gateways.Get(gateway.Provider(intent.Provider))
	if err != nil {
		lg := logger.FromContext(ctx)
		lg.Warn().
			Str("transaction_id", logger.TruncateID(intent.ID)).
			Str("provider", intent.Provider).
			Msg("payments.status.provider_unavailable")
		return intent, nil
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	st, err := gw.CheckStatus(gwCtx, gateway.Lookup{ExternalID: intent.ExternalID, CorrelationID: intent.ID})
	cancel()
	if err != nil {
		return intent, err
	}

	s.checkAmount(ctx, intent, st.ReportedAmount)
	return s.applyStatus(ctx, intent, st.RawStatus, st.Raw, SourcePoll)
}

// SimulateConfirmation confirms an intent through the provider's simulator.
func (s *Service) SimulateConfirmation(ctx context.Context, userID, intentID string) (storage.PaymentIntent, error) {
	if !s.allowSimulation {
		return storage.PaymentIntent{}, ErrSimulationDisabled
	}
	intent, err := s.ownedIntent(ctx, userID, intentID)
	if err != nil {
		return storage.PaymentIntent{}, err
	}
	if intent.Status.IsTerminal() {
		return intent, nil
	}

	gw, err := s.gateways.Get(gateway.Provider(intent.Provider))
	if err != nil {
		return intent, err
	}
	sim, ok := gw.(gateway.Simulator)
	if !ok || intent.ExternalID == "" {
		return intent, fmt.Errorf("%w: provider %s cannot simulate", ErrSimulationDisabled, intent.Provider)
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	st, err := sim.SimulateConfirmation(gwCtx, intent.ExternalID)
	cancel()
	if err != nil {
		if errors.Is(err, gateway.ErrNotSupported) {
			return intent, fmt.Errorf("%w: %v", ErrSimulationDisabled, err)
		}
		return intent, err
	}

	res, err := s.finalize(ctx, intent.ID, SourceSimulation, st.Raw)
	if err != nil {
		return intent, err
	}
	return res.Intent, nil
}

// ListPayments returns the user's most recent intents.
func (s *Service) ListPayments(ctx context.Context, userID string) ([]storage.PaymentIntent, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	return s.store.ListUserIntents(ctx, userID, s.historyLimit)
}

// ListPurchases returns the user's purchase grants.
func (s *Service) ListPurchases(ctx context.Context, userID string) ([]storage.PurchaseGrant, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	return s.store.ListGrants(ctx, userID)
}

// Entitlement returns the user's subscription state.
func (s *Service) Entitlement(ctx context.Context, userID string) (subscriptions.Entitlement, error) {
	if userID == "" {
		return subscriptions.Entitlement{}, ErrMissingUser
	}
	return s.entitlements.Get(ctx, userID)
}

// Today is the current calendar date in the configured timezone.
func (s *Service) Today() time.Time {
	return subscriptions.Today(s.now(), s.loc)
}

func (s *Service) ownedIntent(ctx context.Context, userID, intentID string) (storage.PaymentIntent, error) {
	intent, err := s.store.GetIntent(ctx, intentID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.PaymentIntent{}, ErrIntentNotFound
	}
	if err != nil {
		return storage.PaymentIntent{}, err
	}
	if intent.UserID != userID {
		return storage.PaymentIntent{}, ErrIntentNotFound
	}
	return intent, nil
}

func lineItems(intentID string, items []catalog.ResolvedItem) []storage.LineItem {
	out := make([]storage.LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, storage.LineItem{
			IntentID:  intentID,
			Kind:      it.Kind,
			ItemID:    it.ID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Total:     it.Total,
		})
	}
	return out
}

func describe(items []catalog.ResolvedItem) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		if items[0].Name != "" {
			return items[0].Name
		}
		return items[0].ID
	default:
		return fmt.Sprintf("%d items", len(items))
	}
}

func paymentEvent(intent storage.PaymentIntent, source string) callbacks.PaymentEvent {
	items := make([]callbacks.ItemLine, 0, len(intent.Items))
	for _, it := range intent.Items {
		items = append(items, callbacks.ItemLine{
			Kind:     string(it.Kind),
			ID:       it.ItemID,
			Name:     it.Name,
			Quantity: it.Quantity,
			Total:    it.Total.ToMajor(),
		})
	}
	return callbacks.PaymentEvent{
		TransactionID: intent.ID,
		UserID:        intent.UserID,
		Provider:      intent.Provider,
		ExternalID:    intent.ExternalID,
		Amount:        intent.Amount.ToMajor(),
		Currency:      intent.Currency(),
		Items:         items,
		Source:        source,
		Error:         intent.ErrorDetail,
	}
}
