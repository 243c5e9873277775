/*
Package ledger provides the append-only stock and cash ledger that every
quoting and fulfillment decision is derived from.

PURPOSE:
  A reseller buys stock (restock movements) and sells it (sale movements).
  Both kinds move stock and cash at once, so a single ordered log of
  movements is enough to answer "how many units of X did we hold on date D"
  and "how much cash did we have on date D". Nothing else is stored as a
  balance.

KEY CONCEPTS IN THIS FILE (types.go):
  - Movement: An immutable, dated restock or sale of one catalog item
  - InventoryItem: A catalog revision (price, minimum stock)
  - Quote / QuoteLine: A priced request, archived for history search
  - Filter: Selection used by Ledger.Read

DESIGN PRINCIPLES:
  1. Immutability: Movements are never modified; corrections are new movements
  2. Precision: Prices and cash use decimal.Decimal
  3. Determinism: Reads are ordered by (Date, Seq), never by append order

SEE ALSO:
  - ledger.go: Append/Read contract
  - balance.go: Reconstruction of stock and cash
  - store.go: Persistence interfaces
*/
package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MovementID string
type QuoteID string

// =============================================================================
// MOVEMENT - Atomic change to stock and cash
// =============================================================================

type Kind string

const (
	KindRestock Kind = "restock" // Stock bought from the supplier: +stock, -cash
	KindSale    Kind = "sale"    // Stock sold to a customer: -stock, +cash
)

func (k Kind) Valid() bool {
	return k == KindRestock || k == KindSale
}

// Movement is one immutable ledger entry. Seq is assigned by the Store on
// append and breaks ties between movements on the same Date.
type Movement struct {
	ID        MovementID
	Seq       int64
	ItemName  string
	Kind      Kind
	Quantity  int
	UnitPrice decimal.Decimal
	Date      Date
	Reference string // order id for sales, decision ref for restocks
	Reason    string
	CreatedAt time.Time
}

// Value is quantity * unit price: revenue for a sale, cost for a restock.
func (m Movement) Value() decimal.Decimal {
	return m.UnitPrice.Mul(decimal.NewFromInt(int64(m.Quantity)))
}

// StockDelta is the signed effect on the item's stock.
func (m Movement) StockDelta() int {
	if m.Kind == KindSale {
		return -m.Quantity
	}
	return m.Quantity
}

// CashDelta is the signed effect on cash.
func (m Movement) CashDelta() decimal.Decimal {
	if m.Kind == KindSale {
		return m.Value()
	}
	return m.Value().Neg()
}

// SortMovements orders movements by (Date, Seq). Stores may return rows in
// any order; reconstruction relies on this ordering only.
func SortMovements(ms []Movement) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].Date.Equal(ms[j].Date) {
			return ms[i].Date.Before(ms[j].Date)
		}
		return ms[i].Seq < ms[j].Seq
	})
}

// =============================================================================
// FILTER
// =============================================================================

// Filter selects movements. Zero fields match everything.
type Filter struct {
	ItemName string
	Kind     Kind
	Through  *Date // inclusive upper bound
}

func (f Filter) Match(m Movement) bool {
	if f.ItemName != "" && m.ItemName != f.ItemName {
		return false
	}
	if f.Kind != "" && m.Kind != f.Kind {
		return false
	}
	if f.Through != nil && m.Date.After(*f.Through) {
		return false
	}
	return true
}

// Through is a convenience for building an upper-bounded Filter.
func Through(d Date) *Date {
	return &d
}

// =============================================================================
// CATALOG
// =============================================================================

// InventoryItem is one revision of a catalog entry. The catalog is
// append-only: changing a price appends a new revision, and the latest
// revision is the current one.
type InventoryItem struct {
	Name        string
	Category    string
	UnitPrice   decimal.Decimal
	MinStock    int
	Revision    int
	EffectiveAt Date
}

// =============================================================================
// QUOTE - Priced request, archived for history search
// =============================================================================

type QuoteLine struct {
	ItemName     string
	Quantity     int
	UnitPrice    decimal.Decimal // catalog price at quote time
	DiscountRate decimal.Decimal
	LineTotal    decimal.Decimal
}

// DiscountedUnitPrice is the per-unit price the customer actually pays.
func (l QuoteLine) DiscountedUnitPrice() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(1).Sub(l.DiscountRate))
}

type Quote struct {
	ID           QuoteID
	Lines        []QuoteLine
	DiscountRate decimal.Decimal // largest rate applied to any line
	Total        decimal.Decimal
	Date         Date
	Rationale    string
	CreatedAt    time.Time
}

// ItemNames returns the quote's item names in line order.
func (q Quote) ItemNames() []string {
	names := make([]string, len(q.Lines))
	for i, l := range q.Lines {
		names[i] = l.ItemName
	}
	return names
}

// NormalizeName is the case-insensitive key used when comparing item names
// coming from outside the catalog.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
