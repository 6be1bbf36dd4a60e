package entity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountFromFloat(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want Amount
		ok   bool
	}{
		{"whole", 250, 25000, true},
		{"rounds half away from zero", 0.125, 13, true},
		{"negative", -12.5, -1250, true},
		{"huge", 1e20, 0, false},
		{"huge negative", -1e20, 0, false},
		{"beyond int64 cents", 1e17, 0, false},
		{"nan", math.NaN(), 0, false},
		{"inf", math.Inf(1), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AmountFromFloat(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount(" $1,234.50 ")
	require.NoError(t, err)
	assert.Equal(t, Amount(123450), a)

	for _, in := range []string{"", "abc", "NaN", "1e20", "100000000000000000000"} {
		_, err := ParseAmount(in)
		assert.Error(t, err, in)
	}
}

func TestAmount_String(t *testing.T) {
	assert.Equal(t, "1234.56", Amount(123456).String())
	assert.Equal(t, "-0.05", Amount(-5).String())
	assert.Equal(t, "0.00", Amount(0).String())
	assert.Equal(t, "-92233720368547758.07", Amount(math.MinInt64).String())
}
