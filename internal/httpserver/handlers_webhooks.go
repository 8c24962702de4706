package httpserver

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/akkaui/payments/internal/errors"
	"github.com/akkaui/payments/internal/gateway"
	"github.com/akkaui/payments/internal/logger"
	"github.com/akkaui/payments/internal/payments"
)

// Webhook result labels.
const (
	webhookIgnored  = "ignored"
	webhookRejected = "rejected"
	webhookError    = "error"
)

type webhookResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
}

// webhook handles POST /webhook/{provider}. Providers retry anything that is
// not a 2xx, so only transient failures answer 5xx.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, err := gateway.ParseProvider(name)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNotFound, "unknown webhook provider")
		return
	}
	gw, err := h.gateways.Get(provider)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNotFound, "provider not configured")
		return
	}

	log := logger.FromContext(r.Context()).With().Str("provider", string(provider)).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.ObserveWebhook(string(provider), webhookRejected)
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMalformedPayload, "unreadable webhook body")
		return
	}

	notification, err := gw.ParseWebhook(r.Context(), gateway.WebhookRequest{
		Header: r.Header,
		Query:  r.URL.Query(),
		Body:   body,
	})
	switch {
	case errors.Is(err, gateway.ErrNotSupported):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNotFound, "provider does not accept webhooks")
		return
	case errors.Is(err, gateway.ErrInvalidSignature):
		h.metrics.ObserveWebhook(string(provider), webhookRejected)
		log.Warn().Msg("webhook.invalid_signature")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidSignature, "webhook signature verification failed")
		return
	case errors.Is(err, gateway.ErrMalformedPayload):
		h.metrics.ObserveWebhook(string(provider), webhookRejected)
		log.Warn().Err(err).Msg("webhook.malformed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMalformedPayload, "malformed webhook payload")
		return
	case err != nil:
		// Some providers send only an id; resolving it may fail transiently.
		h.metrics.ObserveWebhook(string(provider), webhookError)
		log.Error().Err(err).Msg("webhook.parse_failed")
		writeServiceError(w, r, err, nil)
		return
	}

	if notification == nil {
		h.metrics.ObserveWebhook(string(provider), webhookIgnored)
		log.Debug().Msg("webhook.ignored")
		writeJSON(w, http.StatusOK, webhookResponse{Status: webhookIgnored})
		return
	}

	res, err := h.payments.Reconcile(r.Context(), *notification)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrIntentNotFound):
			h.metrics.ObserveWebhook(string(provider), "not_found")
			log.Warn().
				Str("external_id", notification.ExternalID).
				Str("event_id", notification.EventID).
				Msg("webhook.intent_not_found")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeNotFound, "payment intent not found")
		case errors.Is(err, payments.ErrInvalidNotification):
			h.metrics.ObserveWebhook(string(provider), webhookRejected)
			log.Warn().Err(err).Msg("webhook.invalid_notification")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeMalformedPayload, err.Error())
		default:
			h.metrics.ObserveWebhook(string(provider), webhookError)
			log.Error().Err(err).Msg("webhook.reconcile_failed")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, "failed to record notification")
		}
		return
	}

	h.metrics.ObserveWebhook(string(provider), res.Outcome)
	log.Info().
		Str("event_id", notification.EventID).
		Str("transaction_id", logger.TruncateID(res.IntentID)).
		Str("outcome", res.Outcome).
		Str("status", string(res.Status)).
		Bool("amount_mismatch", res.AmountMismatch).
		Msg("webhook.reconciled")
	writeJSON(w, http.StatusOK, webhookResponse{Status: res.Outcome, TransactionID: res.IntentID})
}
