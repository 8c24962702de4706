package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/akkaui/payments/internal/apikey"
	"github.com/akkaui/payments/internal/catalog"
	apierrors "github.com/akkaui/payments/internal/errors"
	"github.com/akkaui/payments/internal/gateway"
	"github.com/akkaui/payments/internal/logger"
	"github.com/akkaui/payments/internal/payments"
	"github.com/akkaui/payments/internal/storage"
)

type itemBody struct {
	Kind     string `json:"kind" validate:"required"`
	ID       string `json:"id" validate:"required,max=128"`
	Quantity *int   `json:"quantity" validate:"omitempty,min=1,max=1000"`
}

type createIntentBody struct {
	Provider string     `json:"provider" validate:"required,max=32"`
	Items    []itemBody `json:"items" validate:"required,min=1,max=100,dive"`
	Currency string     `json:"currency" validate:"omitempty,len=3,alpha"`
}

type intentRefBody struct {
	TransactionID string `json:"transactionId" validate:"required,max=128"`
}

type lineItemResponse struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	Total     string `json:"total"`
}

type intentResponse struct {
	TransactionID string             `json:"transactionId"`
	Status        storage.Status     `json:"status"`
	Provider      string             `json:"provider"`
	Amount        string             `json:"amount"`
	Currency      string             `json:"currency"`
	ExternalID    string             `json:"externalId,omitempty"`
	Items         []lineItemResponse `json:"items"`
	Redirect      *gateway.Redirect  `json:"redirect,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	CompletedAt   *time.Time         `json:"completedAt,omitempty"`
}

func toIntentResponse(intent storage.PaymentIntent) intentResponse {
	items := make([]lineItemResponse, 0, len(intent.Items))
	for _, it := range intent.Items {
		items = append(items, lineItemResponse{
			Kind:      string(it.Kind),
			ID:        it.ItemID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.ToMajor(),
			Total:     it.Total.ToMajor(),
		})
	}
	return intentResponse{
		TransactionID: intent.ID,
		Status:        intent.Status,
		Provider:      intent.Provider,
		Amount:        intent.Amount.ToMajor(),
		Currency:      intent.Currency(),
		ExternalID:    intent.ExternalID,
		Items:         items,
		CreatedAt:     intent.CreatedAt,
		UpdatedAt:     intent.UpdatedAt,
		CompletedAt:   intent.CompletedAt,
	}
}

// itemRequests converts client items. Prices are never read from the client.
func itemRequests(body []itemBody) ([]catalog.ItemRequest, error) {
	out := make([]catalog.ItemRequest, 0, len(body))
	for _, it := range body {
		kind, ok := catalog.ParseItemKind(it.Kind)
		if !ok {
			return nil, &catalog.ItemError{Kind: catalog.ItemKind(it.Kind), ID: it.ID, Err: catalog.ErrInvalidItem}
		}
		qty := 1
		if it.Quantity != nil {
			qty = *it.Quantity
		}
		out = append(out, catalog.ItemRequest{Kind: kind, ID: it.ID, Quantity: qty})
	}
	return out, nil
}

// createIntent handles POST /payments/v1/intents.
func (h *handlers) createIntent(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var body createIntentBody
	if !decodeAndValidate(w, r, &body) {
		return
	}
	items, err := itemRequests(body.Items)
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	res, err := h.payments.CreateIntent(r.Context(), payments.CreateIntentRequest{
		UserID:   apikey.UserID(r.Context()),
		Provider: body.Provider,
		Items:    items,
		Currency: body.Currency,
	})
	if err != nil {
		var details map[string]interface{}
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) && res.Intent.ID != "" {
			details = map[string]interface{}{"transactionId": res.Intent.ID}
		}
		log.Warn().Err(err).Str("provider", body.Provider).Msg("http.create_intent.failed")
		writeServiceError(w, r, err, details)
		return
	}

	resp := toIntentResponse(res.Intent)
	if res.Redirect != (gateway.Redirect{}) {
		redirect := res.Redirect
		resp.Redirect = &redirect
	}
	writeJSON(w, http.StatusCreated, resp)
}

// intentStatus handles POST /payments/v1/intents/status.
func (h *handlers) intentStatus(w http.ResponseWriter, r *http.Request) {
	var body intentRefBody
	if !decodeAndValidate(w, r, &body) {
		return
	}
	intent, err := h.payments.CheckStatus(r.Context(), apikey.UserID(r.Context()), body.TransactionID)
	if err != nil {
		writeServiceError(w, r, err, map[string]interface{}{"transactionId": body.TransactionID})
		return
	}
	writeJSON(w, http.StatusOK, toIntentResponse(intent))
}

// simulateIntent handles POST /payments/v1/intents/simulate. Only routed when simulation is enabled.
func (h *handlers) simulateIntent(w http.ResponseWriter, r *http.Request) {
	var body intentRefBody
	if !decodeAndValidate(w, r, &body) {
		return
	}
	intent, err := h.payments.SimulateConfirmation(r.Context(), apikey.UserID(r.Context()), body.TransactionID)
	if err != nil {
		writeServiceError(w, r, err, map[string]interface{}{"transactionId": body.TransactionID})
		return
	}
	writeJSON(w, http.StatusOK, toIntentResponse(intent))
}

// listIntents handles GET /payments/v1/intents.
func (h *handlers) listIntents(w http.ResponseWriter, r *http.Request) {
	intents, err := h.payments.ListPayments(r.Context(), apikey.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	out := make([]intentResponse, 0, len(intents))
	for _, intent := range intents {
		out = append(out, toIntentResponse(intent))
	}
	writeJSON(w, http.StatusOK, map[string]any{"intents": out})
}

type purchaseResponse struct {
	AssetID       string    `json:"assetId"`
	Price         string    `json:"price"`
	Currency      string    `json:"currency"`
	PaymentMethod string    `json:"paymentMethod"`
	TransactionID string    `json:"transactionId"`
	GrantedAt     time.Time `json:"grantedAt"`
}

// listPurchases handles GET /payments/v1/purchases.
func (h *handlers) listPurchases(w http.ResponseWriter, r *http.Request) {
	grants, err := h.payments.ListPurchases(r.Context(), apikey.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	out := make([]purchaseResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, purchaseResponse{
			AssetID:       g.AssetID,
			Price:         g.Price.ToMajor(),
			Currency:      g.Price.Asset.Code,
			PaymentMethod: g.PaymentMethod,
			TransactionID: g.IntentID,
			GrantedAt:     g.GrantedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": out})
}

type subscriptionResponse struct {
	Active        bool   `json:"active"`
	ExpiresOn     string `json:"expiresOn,omitempty"`
	DaysRemaining int    `json:"daysRemaining"`
}

// subscription handles GET /payments/v1/subscription.
func (h *handlers) subscription(w http.ResponseWriter, r *http.Request) {
	ent, err := h.payments.Entitlement(r.Context(), apikey.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	today := h.payments.Today()
	resp := subscriptionResponse{
		Active:        ent.IsActive(today),
		DaysRemaining: ent.DaysRemaining(today),
	}
	if ent.ExpiresOn != nil {
		resp.ExpiresOn = ent.ExpiresOn.Format(time.DateOnly)
	}
	writeJSON(w, http.StatusOK, resp)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	apierrors.WriteSimpleError(w, apierrors.ErrCodeNotFound, "route not found")
}
