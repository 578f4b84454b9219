/*
Package money canonicalizes currency amounts to integer minor units.

PURPOSE:
  All balance arithmetic in the engine runs on integer minor units
  (cents). This package is the single place where major-unit values
  (user input, legacy float records) are converted to and from that
  representation.

KEY CONCEPTS:
  - Minor unit: smallest currency denomination (1/100 of the major
    unit by default)
  - Tolerance: comparisons absorb one minor unit of rounding noise
    inherited from older float-based records

WHY INTEGERS?
  Float money is a direct drift source: summing float cents across
  hundreds of records accumulates error, and that error is exactly
  what the reconciliation service has to repair. Integer minor units
  make sums exact; only the conversion boundary rounds.

ROUNDING:
  Round half away from zero, always. Both divergent legacy calculators
  rounded differently; this package is the unification point.

SEE ALSO:
  - ledger/status.go: percent-paid uses PercentPaid
  - audit/service.go: drift detection uses WithinTolerance
*/
package money

import (
	"github.com/shopspring/decimal"
)

// MinorUnitsPerMajor is the default scale: 100 minor units per major
// unit. Currencies with a stored multiplier pass their own scale to
// the *WithScale variants.
const MinorUnitsPerMajor = 100

// Tolerance is the comparison slack, in minor units. Legacy records
// were written from float arithmetic and can be off by a cent.
const Tolerance int64 = 1

// ToMinorUnits converts a major-unit amount to integer minor units,
// rounding half away from zero.
func ToMinorUnits(major decimal.Decimal) int64 {
	return ToMinorUnitsWithScale(major, MinorUnitsPerMajor)
}

// ToMinorUnitsWithScale converts using an explicit minor-per-major
// multiplier (the stored multiplier of a non-default currency).
func ToMinorUnitsWithScale(major decimal.Decimal, scale int64) int64 {
	return major.Mul(decimal.NewFromInt(scale)).Round(0).IntPart()
}

// FromFloat converts a legacy float major-unit amount to minor units.
// Goes through decimal to avoid binary-float artifacts like
// 19.99*100 = 1998.9999999999998.
func FromFloat(major float64) int64 {
	return ToMinorUnits(decimal.NewFromFloat(major))
}

// ToMajorUnits converts integer minor units back to a major-unit
// decimal with two fractional digits.
func ToMajorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(MinorUnitsPerMajor))
}

// Normalize rounds a major-unit decimal to the nearest minor unit.
func Normalize(major decimal.Decimal) decimal.Decimal {
	return ToMajorUnits(ToMinorUnits(major))
}

// WithinTolerance reports whether two minor-unit amounts are equal
// within one minor unit.
func WithinTolerance(a, b int64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= Tolerance
}

// PercentPaid returns paid/total as a percentage rounded to two
// decimal places. A non-positive total yields zero: a zero-amount
// transaction is complete but 0% paid by convention.
func PercentPaid(paid, total int64) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(paid).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(total)).
		Round(2)
}
