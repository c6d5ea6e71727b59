// Package num centralises the fixed-precision decimal arithmetic used for
// every monetary, volume, price and fee quantity in the simulator.
//
// All amounts are shopspring decimals. Rounding is explicit at monetary
// boundaries: Round is half-away-from-zero, RoundDown truncates toward
// zero and RoundUp rounds away from zero. Comparisons are always exact.
package num

import "github.com/shopspring/decimal"

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
	Two  = decimal.NewFromInt(2)
)

// Round rounds half away from zero to the given number of decimals.
func Round(x decimal.Decimal, decimals int32) decimal.Decimal {
	return x.Round(decimals)
}

// RoundDown truncates toward zero to the given number of decimals.
func RoundDown(x decimal.Decimal, decimals int32) decimal.Decimal {
	return x.RoundDown(decimals)
}

// RoundUp rounds away from zero to the given number of decimals.
func RoundUp(x decimal.Decimal, decimals int32) decimal.Decimal {
	return x.RoundUp(decimals)
}

// RoundOpt applies Round when the amount is present.
func RoundOpt(x *decimal.Decimal, decimals int32) *decimal.Decimal {
	if x == nil {
		return nil
	}
	r := x.Round(decimals)
	return &r
}

// OneP returns 1 + x.
func OneP(x decimal.Decimal) decimal.Decimal {
	return One.Add(x)
}

// OneM returns 1 - x.
func OneM(x decimal.Decimal) decimal.Decimal {
	return One.Sub(x)
}

// FMA returns a*b + c without intermediate rounding.
func FMA(a, b, c decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Add(c)
}

// FromFloat converts a float configuration value at the given precision.
func FromFloat(f float64, decimals int32) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(decimals)
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}
