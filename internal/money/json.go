package money

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MoneyJSON is the wire and document format for Money:
//
//	{"currency":"BRL","amount":"49.00","atomic":4900}
//
// amount is informational on output; atomic is authoritative on input when present.
type MoneyJSON struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	Atomic   *int64 `json:"atomic,omitempty"`
}

// MarshalJSON implements json.Marshaler for Money.
func (m Money) MarshalJSON() ([]byte, error) {
	atomic := m.Atomic
	return json.Marshal(MoneyJSON{
		Currency: m.Asset.Code,
		Amount:   m.ToMajor(),
		Atomic:   &atomic,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Money.
// Accepts either atomic units or a major-unit amount string.
func (m *Money) UnmarshalJSON(data []byte) error {
	var mj MoneyJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return fmt.Errorf("money: invalid JSON: %w", err)
	}
	if mj.Currency == "" {
		return fmt.Errorf("money: currency required")
	}

	asset, err := GetAsset(mj.Currency)
	if err != nil {
		return err
	}

	if mj.Atomic != nil {
		*m = New(asset, *mj.Atomic)
		return nil
	}
	if mj.Amount == "" {
		return fmt.Errorf("money: amount or atomic required")
	}
	parsed, err := FromMajor(asset, mj.Amount)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// FromAtomic creates Money from an atomic units string.
func FromAtomic(asset Asset, atomic string) (Money, error) {
	value, err := strconv.ParseInt(atomic, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return Money{Asset: asset, Atomic: value}, nil
}
