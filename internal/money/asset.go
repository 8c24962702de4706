package money

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownAsset is returned when a currency code is not registered.
var ErrUnknownAsset = errors.New("money: unknown asset")

// Asset represents a currency with its properties.
type Asset struct {
	Code     string // ISO 4217 code (BRL, USD, EUR)
	Decimals uint8  // Number of decimal places (2 for all supported fiat currencies)
	Metadata AssetMetadata
}

// AssetMetadata contains provider-specific currency codes.
type AssetMetadata struct {
	StripeCurrency      string // Stripe currency code (lowercase: "brl", "usd")
	MercadoPagoCurrency string // MercadoPago currency_id (uppercase: "BRL")
	PIX                 bool   // Settles through PIX (BRL only)
}

var (
	assetRegistry = map[string]Asset{
		"BRL": {
			Code:     "BRL",
			Decimals: 2, // centavos
			Metadata: AssetMetadata{
				StripeCurrency:      "brl",
				MercadoPagoCurrency: "BRL",
				PIX:                 true,
			},
		},
		"USD": {
			Code:     "USD",
			Decimals: 2,
			Metadata: AssetMetadata{
				StripeCurrency:      "usd",
				MercadoPagoCurrency: "USD",
			},
		},
		"EUR": {
			Code:     "EUR",
			Decimals: 2,
			Metadata: AssetMetadata{
				StripeCurrency: "eur",
			},
		},
	}
	assetRegistryMu sync.RWMutex
)

// GetAsset retrieves an asset from the registry. Codes are case-insensitive.
func GetAsset(code string) (Asset, error) {
	assetRegistryMu.RLock()
	asset, ok := assetRegistry[strings.ToUpper(strings.TrimSpace(code))]
	assetRegistryMu.RUnlock()

	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, code)
	}
	return asset, nil
}

// MustGetAsset retrieves an asset and panics if not found (for tests/constants).
func MustGetAsset(code string) Asset {
	asset, err := GetAsset(code)
	if err != nil {
		panic(err)
	}
	return asset
}

// RegisterAsset adds a new asset to the registry.
func RegisterAsset(asset Asset) error {
	if asset.Code == "" {
		return fmt.Errorf("money: asset code required")
	}
	if asset.Decimals > 18 {
		return fmt.Errorf("money: decimals must be <= 18")
	}

	assetRegistryMu.Lock()
	assetRegistry[strings.ToUpper(asset.Code)] = asset
	assetRegistryMu.Unlock()

	return nil
}

// StripeCurrency returns the Stripe currency code or an error when Stripe
// cannot charge this asset.
func (a Asset) StripeCurrency() (string, error) {
	if a.Metadata.StripeCurrency == "" {
		return "", fmt.Errorf("money: %s is not a Stripe currency", a.Code)
	}
	return a.Metadata.StripeCurrency, nil
}

// MercadoPagoCurrency returns the MercadoPago currency_id.
func (a Asset) MercadoPagoCurrency() (string, error) {
	if a.Metadata.MercadoPagoCurrency == "" {
		return "", fmt.Errorf("money: %s is not a MercadoPago currency", a.Code)
	}
	return a.Metadata.MercadoPagoCurrency, nil
}
