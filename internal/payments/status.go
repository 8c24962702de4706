package payments

import (
	"strings"

	"github.com/akkaui/payments/internal/storage"
)

// Sources of a status change, used in logs and metrics.
const (
	SourceCreate     = "create"
	SourcePoll       = "poll"
	SourceWebhook    = "webhook"
	SourceSimulation = "simulation"
	SourceRenewal    = "renewal"
)

var statusVocabulary = map[string]storage.Status{
	"completed":  storage.StatusCompleted,
	"confirmed":  storage.StatusCompleted,
	"paid":       storage.StatusCompleted,
	"approved":   storage.StatusCompleted,
	"accredited": storage.StatusCompleted,
	"succeeded":  storage.StatusCompleted,

	"pending":      storage.StatusProcessing,
	"processing":   storage.StatusProcessing,
	"created":      storage.StatusProcessing,
	"in_process":   storage.StatusProcessing,
	"authorized":   storage.StatusProcessing,
	"in_mediation": storage.StatusProcessing,
	"active":       storage.StatusProcessing,

	"failed":   storage.StatusFailed,
	"rejected": storage.StatusFailed,

	"cancelled":    storage.StatusCancelled,
	"canceled":     storage.StatusCancelled,
	"expired":      storage.StatusCancelled,
	"refunded":     storage.StatusCancelled,
	"charged_back": storage.StatusCancelled,
}

// MapStatus translates a provider status to the internal lifecycle. The
// second result is false for vocabulary we do not recognise.
func MapStatus(raw string) (storage.Status, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	if st, ok := statusVocabulary[s]; ok {
		return st, true
	}
	// Stripe: requires_payment_method, requires_action, requires_capture, ...
	if strings.HasPrefix(s, "requires_") {
		return storage.StatusProcessing, true
	}
	return "", false
}
