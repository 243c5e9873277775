/*
Package policy holds the pricing, delivery and restock rules.

PURPOSE:
  PricingPolicy and DeliveryEstimator are pure functions of quantity.
  RestockPolicy reads the ledger and may append a restock movement.

TIERS:
  Quantity    Discount   Lead time
  1-10        0%         0 days
  11-99       0%         1 day
  100         5%         1 day
  101-500     5%         4 days
  501-1000    10%        4 days
  1001+       15%        7 days

SEE ALSO:
  - restock.go: RestockPolicy and the RestockDecision sum type
*/
package policy

import (
	"github.com/shopspring/decimal"
	"github.com/warp/quote-ledger/ledger"
)

// tier maps quantities up to and including Max to a value. Max 0 is open.
type tier[T any] struct {
	Max   int
	Value T
}

func lookup[T any](tiers []tier[T], quantity int, zero T) T {
	if quantity < 1 {
		return zero
	}
	for _, t := range tiers {
		if t.Max == 0 || quantity <= t.Max {
			return t.Value
		}
	}
	return zero
}

// =============================================================================
// PRICING POLICY
// =============================================================================

var discountTiers = []tier[decimal.Decimal]{
	{Max: 99, Value: decimal.Zero},
	{Max: 500, Value: decimal.RequireFromString("0.05")},
	{Max: 1000, Value: decimal.RequireFromString("0.10")},
	{Max: 0, Value: decimal.RequireFromString("0.15")},
}

// DiscountRate returns the volume discount for a line quantity. Non-positive
// quantities get no discount.
func DiscountRate(quantity int) decimal.Decimal {
	return lookup(discountTiers, quantity, decimal.Zero)
}

// LineTotal is quantity * unitPrice * (1 - DiscountRate(quantity)).
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	rate := DiscountRate(quantity)
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Mul(decimal.NewFromInt(1).Sub(rate))
}

// =============================================================================
// DELIVERY ESTIMATOR
// =============================================================================

var leadTimeTiers = []tier[int]{
	{Max: 10, Value: 0},
	{Max: 100, Value: 1},
	{Max: 1000, Value: 4},
	{Max: 0, Value: 7},
}

// LeadTime returns the supplier lead time in days for an order quantity.
func LeadTime(quantity int) int {
	return lookup(leadTimeTiers, quantity, 0)
}

// DeliveryDate is from plus LeadTime(quantity) days.
func DeliveryDate(from ledger.Date, quantity int) ledger.Date {
	return from.AddDays(LeadTime(quantity))
}
