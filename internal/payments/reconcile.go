package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/gateway"
	"github.com/akkaui/payments/internal/logger"
	"github.com/akkaui/payments/internal/storage"
)

// Reconcile outcomes.
const (
	OutcomeApplied     = "applied"
	OutcomeUnchanged   = "unchanged"
	OutcomeRenewed     = "renewed"
	OutcomeDeactivated = "deactivated"
)

// ErrInvalidNotification marks notifications that cannot be acted on and
// should not be retried as-is.
var ErrInvalidNotification = errors.New("payments: invalid notification")

// ReconcileResult describes how a notification was applied.
type ReconcileResult struct {
	Outcome        string
	IntentID       string
	Status         storage.Status
	AmountMismatch bool
}

// Reconcile applies a normalized provider notification. Payment
// notifications go through the same guard as client polls, so a payment seen
// by both paths is applied once.
func (s *Service) Reconcile(ctx context.Context, n gateway.Notification) (ReconcileResult, error) {
	switch n.Kind {
	case gateway.KindPayment, "":
		return s.reconcilePayment(ctx, n)
	case gateway.KindRenewal:
		return s.reconcileRenewal(ctx, n)
	case gateway.KindSubscriptionEnded:
		return s.reconcileSubscriptionEnded(ctx, n)
	default:
		return ReconcileResult{}, fmt.Errorf("%w: kind %q", ErrInvalidNotification, n.Kind)
	}
}

func (s *Service) reconcilePayment(ctx context.Context, n gateway.Notification) (ReconcileResult, error) {
	intent, err := s.locate(ctx, n)
	if err != nil {
		return ReconcileResult{}, err
	}

	mismatch := s.checkAmount(ctx, intent, n.ReportedAmount)
	before := intent.Status
	updated, err := s.applyStatus(ctx, intent, n.RawStatus, n.Raw, SourceWebhook)
	if err != nil {
		return ReconcileResult{}, err
	}

	outcome := OutcomeUnchanged
	if updated.Status != before {
		outcome = OutcomeApplied
	}
	return ReconcileResult{Outcome: outcome, IntentID: updated.ID, Status: updated.Status, AmountMismatch: mismatch}, nil
}

// locate finds the intent by provider id, then by the correlation id we sent.
func (s *Service) locate(ctx context.Context, n gateway.Notification) (storage.PaymentIntent, error) {
	if n.ExternalID != "" {
		intent, err := s.store.FindIntentByExternalID(ctx, string(n.Provider), n.ExternalID)
		if err == nil {
			return intent, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.PaymentIntent{}, err
		}
	}
	if n.CorrelationID != "" {
		intent, err := s.store.GetIntent(ctx, n.CorrelationID)
		if err == nil {
			if intent.Provider != string(n.Provider) {
				return storage.PaymentIntent{}, ErrIntentNotFound
			}
			return intent, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.PaymentIntent{}, err
		}
	}
	return storage.PaymentIntent{}, ErrIntentNotFound
}

// reconcileRenewal records a recurring charge as its own completed intent,
// keyed by the provider's invoice id so redeliveries find the same record.
func (s *Service) reconcileRenewal(ctx context.Context, n gateway.Notification) (ReconcileResult, error) {
	if n.ExternalID == "" || n.UserID == "" || n.PlanCode == "" {
		return ReconcileResult{}, fmt.Errorf("%w: renewal needs invoice, user and plan", ErrInvalidNotification)
	}

	intent, err := s.store.FindIntentByExternalID(ctx, string(n.Provider), n.ExternalID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		intent, err = s.createRenewalIntent(ctx, n)
		if err != nil {
			return ReconcileResult{}, err
		}
	default:
		return ReconcileResult{}, err
	}

	mismatch := s.checkAmount(ctx, intent, n.ReportedAmount)
	res, err := s.finalize(ctx, intent.ID, SourceRenewal, nil)
	if err != nil {
		return ReconcileResult{}, err
	}
	outcome := OutcomeUnchanged
	if res.Applied {
		outcome = OutcomeRenewed
		s.metrics.ObserveSubscription("renewed")
	}
	return ReconcileResult{Outcome: outcome, IntentID: res.Intent.ID, Status: res.Intent.Status, AmountMismatch: mismatch}, nil
}

func (s *Service) createRenewalIntent(ctx context.Context, n gateway.Notification) (storage.PaymentIntent, error) {
	quote, err := s.catalog.Resolve(ctx, []catalog.ItemRequest{{Kind: catalog.KindPlan, ID: n.PlanCode, Quantity: 1}}, "")
	if err != nil {
		return storage.PaymentIntent{}, fmt.Errorf("%w: resolve renewal plan: %v", ErrInvalidNotification, err)
	}
	id, err := newIntentID()
	if err != nil {
		return storage.PaymentIntent{}, err
	}
	now := s.now()
	intent := storage.PaymentIntent{
		ID:              id,
		UserID:          n.UserID,
		Provider:        string(n.Provider),
		Amount:          quote.Total,
		Status:          storage.StatusProcessing,
		ExternalID:      n.ExternalID,
		GatewayResponse: n.Raw,
		Items:           lineItems(id, quote.Items),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.store.CreateIntent(ctx, intent)
	if errors.Is(err, storage.ErrAlreadyExists) {
		// A concurrent delivery of the same invoice won the insert.
		return s.store.FindIntentByExternalID(ctx, string(n.Provider), n.ExternalID)
	}
	if err != nil {
		return storage.PaymentIntent{}, fmt.Errorf("persist renewal intent: %w", err)
	}
	lg := logger.FromContext(ctx)
	lg.Info().
		Str("transaction_id", logger.TruncateID(id)).
		Str("invoice", n.ExternalID).
		Str("plan", n.PlanCode).
		Msg("payments.renewal.recorded")
	return intent, nil
}

func (s *Service) reconcileSubscriptionEnded(ctx context.Context, n gateway.Notification) (ReconcileResult, error) {
	if n.UserID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: subscription change without user", ErrInvalidNotification)
	}
	if err := s.entitlements.Deactivate(ctx, n.UserID); err != nil {
		return ReconcileResult{}, fmt.Errorf("deactivate entitlement: %w", err)
	}
	s.metrics.ObserveSubscription("deactivated")
	lg := logger.FromContext(ctx)
	lg.Info().
		Str("user_id", n.UserID).
		Str("subscription", n.ExternalID).
		Str("status", n.RawStatus).
		Msg("payments.subscription.deactivated")
	return ReconcileResult{Outcome: OutcomeDeactivated}, nil
}
