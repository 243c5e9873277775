/*
balance.go - Stock and cash reconstruction

PURPOSE:
  Answers "how many units of X on date D" and "how much cash on date D" by
  folding the ledger. There is no stored balance to drift out of sync.

  stock(item, d) = sum(restock qty <= d) - sum(sale qty <= d)
  cash(d)        = initial cash + sum(sale revenue <= d) - sum(restock cost <= d)

LOW WATERMARKS:
  A sale or restock may be backfilled to a date before movements that
  already exist. Checking only the balance on the movement's own date would
  let a later balance go negative, so writers check the minimum end-of-day
  balance from that date onwards (MinStockFrom / MinCashFrom).

  Example: restock 100 on Jan 1, sale 80 on Jan 10.
    StockLevel(Jan 5)   = 100
    MinStockFrom(Jan 5) = 20  <- a backfilled sale of 50 on Jan 5 must fail

SEE ALSO:
  - ledger.go: Read contract
  - order/fulfillment.go, policy/restock.go: the writers
*/
package ledger

import (
	"context"
	"iter"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECONSTRUCTOR
// =============================================================================

// Reconstructor derives balances from a Ledger. Pure reads; safe for
// concurrent use.
type Reconstructor struct {
	Ledger      Ledger
	InitialCash decimal.Decimal
}

func NewReconstructor(l Ledger, initialCash decimal.Decimal) *Reconstructor {
	return &Reconstructor{Ledger: l, InitialCash: initialCash}
}

// StockLevel returns the item's stock at the end of asOf. Unknown items and
// items without movements have zero stock.
func (r *Reconstructor) StockLevel(ctx context.Context, item string, asOf Date) (int, error) {
	stock := 0
	for m, err := range r.Ledger.Read(ctx, Filter{ItemName: item, Through: Through(asOf)}) {
		if err != nil {
			return 0, err
		}
		stock += m.StockDelta()
	}
	return stock, nil
}

// CashBalance returns cash at the end of asOf.
func (r *Reconstructor) CashBalance(ctx context.Context, asOf Date) (decimal.Decimal, error) {
	cash := r.InitialCash
	for m, err := range r.Ledger.Read(ctx, Filter{Through: Through(asOf)}) {
		if err != nil {
			return decimal.Zero, err
		}
		cash = cash.Add(m.CashDelta())
	}
	return cash, nil
}

// MinStockFrom returns the lowest end-of-day stock of item on any date at or
// after from.
func (r *Reconstructor) MinStockFrom(ctx context.Context, item string, from Date) (int, error) {
	return lowWatermark(r.Ledger.Read(ctx, Filter{ItemName: item}), from, 0,
		func(acc int, m Movement) int { return acc + m.StockDelta() },
		func(a, b int) bool { return a < b },
	)
}

// MinCashFrom returns the lowest end-of-day cash on any date at or after from.
func (r *Reconstructor) MinCashFrom(ctx context.Context, from Date) (decimal.Decimal, error) {
	return lowWatermark(r.Ledger.Read(ctx, Filter{}), from, r.InitialCash,
		func(acc decimal.Decimal, m Movement) decimal.Decimal { return acc.Add(m.CashDelta()) },
		func(a, b decimal.Decimal) bool { return a.LessThan(b) },
	)
}

// lowWatermark folds an ordered sequence and returns the minimum of the
// running total sampled at the end of from and at the end of every later
// date that has movements.
func lowWatermark[T any](seq iter.Seq2[Movement, error], from Date, zero T, add func(T, Movement) T, less func(a, b T) bool) (T, error) {
	var (
		running  = zero
		low      T
		sampling bool
		day      Date
	)
	for m, err := range seq {
		if err != nil {
			return zero, err
		}
		if m.Date.After(from) {
			switch {
			case !sampling:
				low, sampling, day = running, true, m.Date
			case !m.Date.Equal(day):
				if less(running, low) {
					low = running
				}
				day = m.Date
			}
		}
		running = add(running, m)
	}
	if !sampling || less(running, low) {
		low = running
	}
	return low, nil
}

// Inventory returns the stock of every item with positive stock at asOf.
func (r *Reconstructor) Inventory(ctx context.Context, asOf Date) (map[string]int, error) {
	levels := make(map[string]int)
	for m, err := range r.Ledger.Read(ctx, Filter{Through: Through(asOf)}) {
		if err != nil {
			return nil, err
		}
		levels[m.ItemName] += m.StockDelta()
	}
	for name, qty := range levels {
		if qty <= 0 {
			delete(levels, name)
		}
	}
	return levels, nil
}

// =============================================================================
// FINANCIAL SNAPSHOT
// =============================================================================

type ItemValuation struct {
	ItemName  string
	Stock     int
	UnitPrice decimal.Decimal
	Value     decimal.Decimal
}

type SellerSummary struct {
	ItemName  string
	UnitsSold int
	Revenue   decimal.Decimal
}

type FinancialSnapshot struct {
	AsOf           Date
	Cash           decimal.Decimal
	InventoryValue decimal.Decimal
	TotalAssets    decimal.Decimal
	Items          []ItemValuation
	TopSellers     []SellerSummary
}

// TopSellerCount bounds FinancialSnapshot.TopSellers.
const TopSellerCount = 5

// FinancialSnapshot values stock at current catalog prices and ranks items
// by sale revenue, all as of asOf. Items missing from catalog are valued at
// their last movement price.
func (r *Reconstructor) FinancialSnapshot(ctx context.Context, catalog []InventoryItem, asOf Date) (FinancialSnapshot, error) {
	prices := make(map[string]decimal.Decimal, len(catalog))
	for _, item := range catalog {
		prices[item.Name] = item.UnitPrice
	}

	cash := r.InitialCash
	stock := make(map[string]int)
	lastPrice := make(map[string]decimal.Decimal)
	sold := make(map[string]*SellerSummary)

	for m, err := range r.Ledger.Read(ctx, Filter{Through: Through(asOf)}) {
		if err != nil {
			return FinancialSnapshot{}, err
		}
		cash = cash.Add(m.CashDelta())
		stock[m.ItemName] += m.StockDelta()
		if m.Kind == KindRestock {
			lastPrice[m.ItemName] = m.UnitPrice
			continue
		}
		s, ok := sold[m.ItemName]
		if !ok {
			s = &SellerSummary{ItemName: m.ItemName, Revenue: decimal.Zero}
			sold[m.ItemName] = s
		}
		s.UnitsSold += m.Quantity
		s.Revenue = s.Revenue.Add(m.Value())
	}

	snap := FinancialSnapshot{AsOf: asOf, Cash: cash, InventoryValue: decimal.Zero}
	for name, qty := range stock {
		if qty <= 0 {
			continue
		}
		price, ok := prices[name]
		if !ok {
			price = lastPrice[name]
		}
		v := ItemValuation{ItemName: name, Stock: qty, UnitPrice: price, Value: price.Mul(decimal.NewFromInt(int64(qty)))}
		snap.Items = append(snap.Items, v)
		snap.InventoryValue = snap.InventoryValue.Add(v.Value)
	}
	sort.Slice(snap.Items, func(i, j int) bool { return snap.Items[i].ItemName < snap.Items[j].ItemName })
	snap.TotalAssets = snap.Cash.Add(snap.InventoryValue)

	for _, s := range sold {
		snap.TopSellers = append(snap.TopSellers, *s)
	}
	sort.Slice(snap.TopSellers, func(i, j int) bool {
		a, b := snap.TopSellers[i], snap.TopSellers[j]
		if !a.Revenue.Equal(b.Revenue) {
			return a.Revenue.GreaterThan(b.Revenue)
		}
		return a.ItemName < b.ItemName
	})
	if len(snap.TopSellers) > TopSellerCount {
		snap.TopSellers = snap.TopSellers[:TopSellerCount]
	}
	return snap, nil
}
