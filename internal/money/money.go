// Package money holds the decimal helpers every monetary value in the ledger
// goes through. Amounts are shopspring decimals; float64 is only accepted at
// the parsing boundary and only used again for display.
package money

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to two places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns amount * pct / 100 without rounding.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Parse converts a loosely typed value into a decimal. Backend payloads send
// amounts as numbers or strings depending on the endpoint, so both are
// accepted. The second result is false for nil, empty, non-numeric, NaN or
// infinite input.
func Parse(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return t, true
	case *decimal.Decimal:
		if t == nil {
			return decimal.Zero, false
		}
		return *t, true
	case decimal.NullDecimal:
		return t.Decimal, t.Valid
	case string:
		return parseString(t)
	case *string:
		if t == nil {
			return decimal.Zero, false
		}
		return parseString(*t)
	case json.Number:
		return parseString(t.String())
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(t), true
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int8:
		return decimal.NewFromInt(int64(t)), true
	case int16:
		return decimal.NewFromInt(int64(t)), true
	case int32:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case uint:
		return decimal.NewFromUint64(uint64(t)), true
	case uint8:
		return decimal.NewFromInt(int64(t)), true
	case uint16:
		return decimal.NewFromInt(int64(t)), true
	case uint32:
		return decimal.NewFromInt(int64(t)), true
	case uint64:
		return decimal.NewFromUint64(t), true
	default:
		return decimal.Zero, false
	}
}

// ParseNull is Parse returning a NullDecimal.
func ParseNull(v any) decimal.NullDecimal {
	d, ok := Parse(v)
	return decimal.NullDecimal{Decimal: d, Valid: ok}
}

func parseString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '_':
			return -1
		}
		return r
	}, s)
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			// 1,234.50
			s = strings.ReplaceAll(s, ",", "")
		} else {
			// 12,50
			s = strings.ReplaceAll(s, ",", ".")
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
