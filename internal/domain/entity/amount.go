package entity

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a monetary value in currency minor units (cents)
type Amount int64

// maxCents bounds representable amounts; values at or beyond it would overflow int64
const maxCents = float64(math.MaxInt64)

// AmountFromFloat converts a major-unit float (as returned by the LLM) to minor units,
// rounding half away from zero. It reports false for NaN, infinities and values that
// do not fit in an Amount.
func AmountFromFloat(v float64) (Amount, bool) {
	cents := math.Round(v * 100)
	if math.IsNaN(cents) || math.Abs(cents) >= maxCents {
		return 0, false
	}
	return Amount(cents), true
}

// ParseAmount parses strings such as "1,234.50", "$99" or "250.00"
func ParseAmount(s string) (Amount, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimLeft(cleaned, "$€£¥₹")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	a, ok := AmountFromFloat(v)
	if !ok {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	return a, nil
}

// Float returns the amount in major units
func (a Amount) Float() float64 {
	return float64(a) / 100
}

// String formats the amount with two decimals, e.g. "1234.56"
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v == math.MinInt64 {
		v++
	}
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// AmountPtr returns a pointer to a
func AmountPtr(a Amount) *Amount {
	return &a
}
