package gateway

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"JOD": 3,
	"KWD": 3,
	"OMR": 3,
}

// CurrencyExponent is the number of minor-unit digits of an ISO 4217 code.
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return 2
}

// ToMajor converts minor units to the decimal amount providers expect.
func ToMajor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -CurrencyExponent(currency))
}

// ToMinor converts a provider amount back to minor units. Amounts with more
// precision than the currency allows are rejected rather than rounded.
func ToMinor(major decimal.Decimal, currency string) (int64, error) {
	minor := major.Shift(CurrencyExponent(currency))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has more precision than %s allows", major.String(), currency)
	}
	return minor.IntPart(), nil
}
