package warehouse

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal helpers for cost math
// =============================================================================

// Monetary values are rounded to 2 decimal places everywhere they are
// persisted. Because allocated shares are rounded independently, the sum of
// N shares may diverge from the un-allocated total by up to N * 0.005. That
// bound is a documented invariant, enforced by the Reconciler, not a bug.

// ShareTolerancePerEntity is the maximum rounding divergence contributed by
// one independently rounded share.
var ShareTolerancePerEntity = decimal.NewFromFloat(0.005)

// Round2 rounds a monetary value to 2 decimal places (half away from zero).
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// ParseCost parses a raw cost field. An empty string is the raw layer's
// NULL and coerces to zero with null=true; anything else must be a valid
// decimal.
func ParseCost(s string) (cost decimal.Decimal, null bool, err error) {
	if s == "" {
		return decimal.Zero, true, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid cost %q: %w", s, err)
	}
	return d, false, nil
}

// EqualShare divides total equally among n entities, rounding the share to
// 2 decimal places. n must be positive.
func EqualShare(total decimal.Decimal, n int) decimal.Decimal {
	return Round2(total.Div(decimal.NewFromInt(int64(n))))
}

// ShareTolerance returns the reconciliation tolerance for n independently
// rounded shares: n * 0.005.
func ShareTolerance(n int) decimal.Decimal {
	return ShareTolerancePerEntity.Mul(decimal.NewFromInt(int64(n)))
}
