package money

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

var (
	BRL = MustGetAsset("BRL")
	USD = MustGetAsset("USD")
)

func TestFromMajor(t *testing.T) {
	tests := []struct {
		name       string
		asset      Asset
		major      string
		wantAtomic int64
		wantErr    bool
	}{
		{"BRL 49.00", BRL, "49.00", 4900, false},
		{"BRL 470.40", BRL, "470.40", 47040, false},
		{"BRL 1910.4", BRL, "1910.4", 191040, false},
		{"BRL integer", BRL, "10", 1000, false},
		{"USD rounding up", USD, "10.555", 1056, false},
		{"USD rounding down", USD, "10.554", 1055, false},
		{"whitespace", BRL, " 1.50 ", 150, false},
		{"invalid format", BRL, "10.50.30", 0, true},
		{"invalid number", BRL, "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromMajor(tt.asset, tt.major)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromMajor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.Atomic != tt.wantAtomic {
				t.Errorf("FromMajor() atomic = %v, want %v", got.Atomic, tt.wantAtomic)
			}
		})
	}
}

func TestToMajor(t *testing.T) {
	tests := []struct {
		m    Money
		want string
	}{
		{New(BRL, 4900), "49.00"},
		{New(BRL, 5), "0.05"},
		{New(BRL, 0), "0.00"},
		{New(USD, 123456), "1234.56"},
	}
	for _, tt := range tests {
		if got := tt.m.ToMajor(); got != tt.want {
			t.Errorf("ToMajor(%d) = %s, want %s", tt.m.Atomic, got, tt.want)
		}
	}
}

func TestFromMajorShortFraction(t *testing.T) {
	got, err := FromMajor(BRL, "470.4")
	if err != nil {
		t.Fatalf("FromMajor: %v", err)
	}
	if got.Atomic != 47040 {
		t.Errorf("atomic = %d, want 47040", got.Atomic)
	}
}

func TestFromDecimalOverflow(t *testing.T) {
	huge := decimal.New(math.MaxInt64, 0)
	if _, err := FromDecimal(BRL, huge); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestAdd(t *testing.T) {
	sum, err := New(BRL, 4900).Add(New(BRL, 1000))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.Atomic != 5900 {
		t.Errorf("sum = %d", sum.Atomic)
	}

	if _, err := New(BRL, 1).Add(New(USD, 1)); !errors.Is(err, ErrAssetMismatch) {
		t.Errorf("expected ErrAssetMismatch, got %v", err)
	}
	if _, err := New(BRL, math.MaxInt64).Add(New(BRL, 1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMul(t *testing.T) {
	got, err := New(BRL, 1000).Mul(3)
	if err != nil || got.Atomic != 3000 {
		t.Errorf("Mul = %v, %v", got, err)
	}
	if _, err := New(BRL, math.MaxInt64/2+1).Mul(2); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestGetAsset(t *testing.T) {
	if a, err := GetAsset("brl"); err != nil || a.Code != "BRL" {
		t.Errorf("GetAsset(brl) = %v, %v", a, err)
	}
	if _, err := GetAsset("XYZ"); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
	if c, err := BRL.StripeCurrency(); err != nil || c != "brl" {
		t.Errorf("StripeCurrency = %q, %v", c, err)
	}
	if _, err := MustGetAsset("EUR").MercadoPagoCurrency(); err == nil {
		t.Error("expected EUR to be unsupported by MercadoPago")
	}
}

func TestJSON(t *testing.T) {
	data, err := json.Marshal(New(BRL, 4900))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"currency":"BRL","amount":"49.00","atomic":4900}` {
		t.Errorf("unexpected JSON %s", data)
	}

	var fromAmount Money
	if err := json.Unmarshal([]byte(`{"currency":"brl","amount":"10.5"}`), &fromAmount); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if fromAmount.Atomic != 1050 || fromAmount.Asset.Code != "BRL" {
		t.Errorf("got %v", fromAmount)
	}

	var bad Money
	if err := json.Unmarshal([]byte(`{"amount":"1"}`), &bad); err == nil {
		t.Error("expected error for missing currency")
	}
}
