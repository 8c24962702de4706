package storage

import (
	"encoding/json"
	"time"

	"github.com/akkaui/payments/internal/catalog"
	"github.com/akkaui/payments/internal/money"
)

// Status is the lifecycle state of a payment intent.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s can no longer change.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// PaymentIntent is the durable record of one purchase attempt.
type PaymentIntent struct {
	ID              string
	UserID          string
	Provider        string
	Amount          money.Money // Server-computed total, fixed at creation
	Status          Status
	ExternalID      string          // Provider identifier, empty until the provider accepts the payment
	GatewayResponse json.RawMessage // Last raw provider payload
	ErrorDetail     string
	Items           []LineItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// Currency returns the ISO code of the intent amount.
func (p PaymentIntent) Currency() string {
	return p.Amount.Asset.Code
}

// LineItem is one priced entry of an intent. Prices are copied from the
// catalog at creation and never change afterwards.
type LineItem struct {
	IntentID  string
	Kind      catalog.ItemKind
	ItemID    string
	Name      string
	Quantity  int
	UnitPrice money.Money
	Total     money.Money
}

// PurchaseGrant records that a user owns a catalog-asset.
type PurchaseGrant struct {
	ID            string
	UserID        string
	AssetID       string
	Price         money.Money
	PaymentMethod string
	IntentID      string
	GrantedAt     time.Time
}

// GrantResult distinguishes a new grant from one that already existed.
type GrantResult int

const (
	GrantCreated GrantResult = iota + 1
	GrantAlreadyExisted
)

func (r GrantResult) String() string {
	switch r {
	case GrantCreated:
		return "created"
	case GrantAlreadyExisted:
		return "existing"
	default:
		return "unknown"
	}
}

// GatewayUpdate stores the provider's answer to a create call.
type GatewayUpdate struct {
	ExternalID  string
	Raw         json.RawMessage
	Status      Status // processing on acceptance, failed on rejection
	ErrorDetail string
}

// Transition is a conditional status change. It applies only when the
// current status is one of From.
type Transition struct {
	ID          string
	To          Status
	From        []Status
	At          time.Time
	Raw         json.RawMessage
	ErrorDetail string
}

func (t Transition) allows(current Status) bool {
	for _, s := range t.From {
		if s == current {
			return true
		}
	}
	return false
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
