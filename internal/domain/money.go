package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "usd"

// minorUnitExponent is the number of fractional digits kept for every
// supported currency.
const minorUnitExponent = 2

var minorUnitScale = decimal.New(1, minorUnitExponent)

func NormalizeCurrency(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency, nil
	}
	if len(code) != 3 {
		return "", fmt.Errorf("%w: currency %q is not a 3-letter code", ErrInvalidInput, code)
	}
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return "", fmt.Errorf("%w: currency %q is not a 3-letter code", ErrInvalidInput, code)
		}
	}
	return code, nil
}

// ToMinorUnits converts a decimal major-unit amount into integer minor units.
// Amounts with sub-cent precision are rejected rather than rounded.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	scaled := amount.Mul(minorUnitScale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidInput, amount.String(), minorUnitExponent)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount %s is out of range", ErrInvalidInput, amount.String())
	}
	return scaled.IntPart(), nil
}

// FormatMinorUnits renders minor units as a fixed-point major-unit string.
func FormatMinorUnits(amount int64) string {
	return decimal.New(amount, -minorUnitExponent).StringFixed(minorUnitExponent)
}
