package tradingutils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int32) decimal.Decimal {
	return price.Round(priceDecimals)
}

// FloorToMultiple floors value to a multiple of step. A non-positive step returns value unchanged.
func FloorToMultiple(value, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}

// DecimalPlaces returns the number of decimals implied by a tick or step size, e.g. "0.010" -> 2
func DecimalPlaces(step decimal.Decimal) int32 {
	if !step.IsPositive() {
		return 0
	}
	s := step.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// Distance returns |a - b|
func Distance(a, b decimal.Decimal) decimal.Decimal {
	return a.Sub(b).Abs()
}

// BasisPoints returns value * bp / 10000
func BasisPoints(value, bp decimal.Decimal) decimal.Decimal {
	return value.Mul(bp).Div(decimal.NewFromInt(10000))
}
