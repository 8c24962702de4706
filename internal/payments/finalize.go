package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/akkaui/payments/internal/logger"
	"github.com/akkaui/payments/internal/money"
	"github.com/akkaui/payments/internal/storage"
)

// FinalizeResult reports what a Finalize call did.
type FinalizeResult struct {
	Intent  storage.PaymentIntent
	Applied bool        // this call moved the intent to completed
	Grants  GrantReport // zero unless Applied
}

// Finalize completes an intent exactly once. The transition is a single
// conditional update, so of any number of concurrent callers only one sees
// Applied and runs the grants and the completion callback. Every other call
// returns the current snapshot and leaves completed_at untouched.
func (s *Service) Finalize(ctx context.Context, intentID, source string) (FinalizeResult, error) {
	return s.finalize(ctx, intentID, source, nil)
}

func (s *Service) finalize(ctx context.Context, intentID, source string, raw json.RawMessage) (FinalizeResult, error) {
	log := logger.FromContext(ctx)

	applied, err := s.store.Transition(ctx, storage.Transition{
		ID:   intentID,
		To:   storage.StatusCompleted,
		From: []storage.Status{storage.StatusPending, storage.StatusProcessing},
		At:   s.now(),
		Raw:  raw,
	})
	if errors.Is(err, storage.ErrNotFound) {
		return FinalizeResult{}, ErrIntentNotFound
	}
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("transition to completed: %w", err)
	}

	intent, err := s.store.GetIntent(ctx, intentID)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("reload intent: %w", err)
	}

	if !applied {
		switch intent.Status {
		case storage.StatusCompleted:
			s.metrics.ObserveFinalize(intent.Provider, "already_completed", intent.Currency(), 0, 0)
			log.Debug().
				Str("transaction_id", logger.TruncateID(intentID)).
				Str("source", source).
				Msg("payments.finalize.already_completed")
		default:
			// Paid after we gave up on it: needs an operator.
			s.metrics.ObserveFinalize(intent.Provider, "terminal_state", intent.Currency(), 0, 0)
			log.Warn().
				Str("transaction_id", logger.TruncateID(intentID)).
				Str("status", string(intent.Status)).
				Str("provider", intent.Provider).
				Str("source", source).
				Msg("payments.finalize.terminal_state")
		}
		return FinalizeResult{Intent: intent}, nil
	}

	report := s.granter.Grant(ctx, intent)

	s.metrics.ObserveTransition(intent.Provider, string(storage.StatusCompleted), source)
	s.metrics.ObserveFinalize(intent.Provider, "completed", intent.Currency(), intent.Amount.Atomic, s.now().Sub(intent.CreatedAt))
	log.Info().
		Str("transaction_id", logger.TruncateID(intentID)).
		Str("provider", intent.Provider).
		Str("source", source).
		Str("amount", intent.Amount.String()).
		Int("grants_created", report.Created).
		Int("grants_existing", report.Existing).
		Int("subscriptions_extended", report.Extended).
		Int("grants_failed", report.Failed).
		Msg("payments.finalize.completed")

	s.notifier.PaymentCompleted(context.WithoutCancel(ctx), paymentEvent(intent, source))
	return FinalizeResult{Intent: intent, Applied: true, Grants: report}, nil
}

// ApplyStatus maps a provider status and applies it. Completion goes through
// Finalize; processing only replaces pending; failed and cancelled only
// replace non-terminal states. Unknown vocabulary changes nothing.
func (s *Service) ApplyStatus(ctx context.Context, intent storage.PaymentIntent, rawStatus, source string) (storage.PaymentIntent, error) {
	return s.applyStatus(ctx, intent, rawStatus, nil, source)
}

func (s *Service) applyStatus(ctx context.Context, intent storage.PaymentIntent, rawStatus string, raw json.RawMessage, source string) (storage.PaymentIntent, error) {
	log := logger.FromContext(ctx)

	to, ok := MapStatus(rawStatus)
	if !ok {
		if rawStatus != "" {
			log.Warn().
				Str("transaction_id", logger.TruncateID(intent.ID)).
				Str("provider", intent.Provider).
				Str("raw_status", rawStatus).
				Msg("payments.status.unknown")
		}
		return intent, nil
	}

	var t storage.Transition
	switch to {
	case storage.StatusCompleted:
		res, err := s.finalize(ctx, intent.ID, source, raw)
		if err != nil {
			return intent, err
		}
		return res.Intent, nil
	case storage.StatusProcessing:
		if intent.Status != storage.StatusPending {
			return intent, nil
		}
		t = storage.Transition{ID: intent.ID, To: to, From: []storage.Status{storage.StatusPending}, Raw: raw}
	default:
		if intent.Status.IsTerminal() {
			return intent, nil
		}
		t = storage.Transition{
			ID:          intent.ID,
			To:          to,
			From:        []storage.Status{storage.StatusPending, storage.StatusProcessing},
			Raw:         raw,
			ErrorDetail: "provider reported " + rawStatus,
		}
	}
	t.At = s.now()

	applied, err := s.store.Transition(ctx, t)
	if err != nil {
		return intent, fmt.Errorf("transition to %s: %w", to, err)
	}
	current, err := s.store.GetIntent(ctx, intent.ID)
	if err != nil {
		return intent, fmt.Errorf("reload intent: %w", err)
	}
	if applied {
		s.metrics.ObserveTransition(intent.Provider, string(to), source)
		log.Info().
			Str("transaction_id", logger.TruncateID(intent.ID)).
			Str("from", string(intent.Status)).
			Str("to", string(to)).
			Str("source", source).
			Msg("payments.status.changed")
		if to == storage.StatusFailed || to == storage.StatusCancelled {
			s.notifier.PaymentFailed(context.WithoutCancel(ctx), paymentEvent(current, source))
		}
	}
	return current, nil
}

// checkAmount logs a provider-reported amount that disagrees with the
// persisted total. It never blocks the status change.
func (s *Service) checkAmount(ctx context.Context, intent storage.PaymentIntent, reported *money.Money) bool {
	if reported == nil || reported.Equal(intent.Amount) {
		return false
	}
	s.metrics.ObserveAmountMismatch(intent.Provider)
	lg := logger.FromContext(ctx)
	lg.Warn().
		Str("transaction_id", logger.TruncateID(intent.ID)).
		Str("provider", intent.Provider).
		Str("expected", intent.Amount.String()).
		Str("reported", reported.String()).
		Msg("payments.amount_mismatch")
	return true
}
