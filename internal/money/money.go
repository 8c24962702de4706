package money

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in the asset's smallest unit: R$ 49.00 is
// Money{Asset: BRL, Atomic: 4900}.
type Money struct {
	Asset  Asset
	Atomic int64
}

var (
	ErrOverflow      = errors.New("money: arithmetic overflow")
	ErrAssetMismatch = errors.New("money: asset mismatch")
	ErrInvalidFormat = errors.New("money: invalid format")
)

func Zero(asset Asset) Money { return Money{Asset: asset} }

func New(asset Asset, atomic int64) Money { return Money{Asset: asset, Atomic: atomic} }

// FromMajor parses a major-unit string such as "49.00" or "470.4".
func FromMajor(asset Asset, major string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(major))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidFormat, major)
	}
	return FromDecimal(asset, d)
}

// FromDecimal rounds half away from zero to the asset's precision.
func FromDecimal(asset Asset, d decimal.Decimal) (Money, error) {
	scaled := d.Shift(int32(asset.Decimals)).Round(0)
	if !scaled.BigInt().IsInt64() {
		return Money{}, ErrOverflow
	}
	return Money{Asset: asset, Atomic: scaled.IntPart()}, nil
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Atomic, -int32(m.Asset.Decimals))
}

// ToMajor formats with exactly the asset's decimals: 5 centavos is "0.05".
func (m Money) ToMajor() string {
	return m.Decimal().StringFixed(int32(m.Asset.Decimals))
}

func (m Money) Add(other Money) (Money, error) {
	if m.Asset.Code != other.Asset.Code {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrAssetMismatch, m.Asset.Code, other.Asset.Code)
	}
	sum := m.Atomic + other.Atomic
	if (other.Atomic > 0 && sum < m.Atomic) || (other.Atomic < 0 && sum > m.Atomic) {
		return Money{}, ErrOverflow
	}
	return Money{Asset: m.Asset, Atomic: sum}, nil
}

// Mul scales by an item quantity.
func (m Money) Mul(n int64) (Money, error) {
	p := new(big.Int).Mul(big.NewInt(m.Atomic), big.NewInt(n))
	if !p.IsInt64() {
		return Money{}, ErrOverflow
	}
	return Money{Asset: m.Asset, Atomic: p.Int64()}, nil
}

func (m Money) IsPositive() bool { return m.Atomic > 0 }
func (m Money) IsZero() bool     { return m.Atomic == 0 }

// Equal compares asset code and amount; asset metadata is ignored.
func (m Money) Equal(other Money) bool {
	return m.Asset.Code == other.Asset.Code && m.Atomic == other.Atomic
}

func (m Money) String() string { return m.ToMajor() + " " + m.Asset.Code }
