package tradingutils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestFloorToMultiple(t *testing.T) {
	tests := []struct {
		value, step, want string
	}{
		{"123456", "10000", "120000"},
		{"9999", "10000", "0"},
		{"0.127", "0.01", "0.12"},
		{"5", "0", "5"},
	}
	for _, tt := range tests {
		assert.True(t, d(tt.want).Equal(FloorToMultiple(d(tt.value), d(tt.step))), "%s step %s", tt.value, tt.step)
	}
}

func TestDecimalPlaces(t *testing.T) {
	assert.Equal(t, int32(2), DecimalPlaces(d("0.01000000")))
	assert.Equal(t, int32(1), DecimalPlaces(d("0.1")))
	assert.Equal(t, int32(0), DecimalPlaces(d("1")))
	assert.Equal(t, int32(0), DecimalPlaces(d("10")))
	assert.Equal(t, int32(0), DecimalPlaces(decimal.Zero))
}

func TestBasisPoints(t *testing.T) {
	assert.True(t, d("100").Equal(BasisPoints(d("100000"), d("10"))))
	assert.True(t, d("5.3").Equal(Distance(d("110.3"), d("105.0"))))
	assert.True(t, d("1.23").Equal(RoundPrice(d("1.234"), 2)))
}
