/*
Package factory converts JSON catalog definitions into catalog items and
opening stock.

PURPOSE:
  Lets the catalog be defined as data: the factory validates the JSON,
  builds ledger.InventoryItem values and the restock movements that put
  opening stock on the shelves.

JSON SCHEMA:
  {
    "opening_date": "2025-01-01",
    "items": [
      {
        "item_name": "A4 paper",
        "category": "paper",
        "unit_price": 0.05,
        "min_stock": 120,
        "opening_stock": 450
      }
    ]
  }

  unit_price accepts a JSON number or string. opening_stock 0 lists the
  item without stocking it.

USAGE:
  f := factory.NewCatalogFactory()
  catalog, err := f.ParseCatalog(jsonStr)
  result, err := f.Seed(ctx, store, ledger, locker, catalog)

  // Default paper-supplies catalog with a reproducible 40% stocked
  catalog := factory.SampleCatalog(factory.DefaultCoverage, factory.DefaultSeed)

SEE ALSO:
  - supplies.go: the default paper-supplies list
  - ledger/types.go: InventoryItem
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/lock"
)

// DefaultOpeningDate is the date opening stock is recorded on.
var DefaultOpeningDate = ledger.MustParseDate("2025-01-01")

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a catalog.
type CatalogJSON struct {
	OpeningDate string     `json:"opening_date,omitempty"`
	Items       []ItemJSON `json:"items"`
}

// ItemJSON is one catalog entry.
type ItemJSON struct {
	ItemName     string          `json:"item_name"`
	Category     string          `json:"category,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	MinStock     int             `json:"min_stock,omitempty"`
	OpeningStock int             `json:"opening_stock,omitempty"`
}

// Catalog is a parsed, validated catalog.
type Catalog struct {
	OpeningDate ledger.Date
	Items       []ledger.InventoryItem
	Opening     map[string]int // item name -> opening stock
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

type CatalogFactory struct{}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// ParseCatalog parses a JSON string into a Catalog.
func (f *CatalogFactory) ParseCatalog(jsonStr string) (Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON validates cj and converts it to a Catalog.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (Catalog, error) {
	c := Catalog{OpeningDate: DefaultOpeningDate, Opening: make(map[string]int)}
	if cj.OpeningDate != "" {
		d, err := ledger.ParseDate(cj.OpeningDate)
		if err != nil {
			return Catalog{}, err
		}
		c.OpeningDate = d
	}
	if len(cj.Items) == 0 {
		return Catalog{}, &ledger.ValidationError{Field: "items", Message: "catalog has no items"}
	}

	seen := make(map[string]bool, len(cj.Items))
	for i, ij := range cj.Items {
		name := strings.TrimSpace(ij.ItemName)
		field := func(key string) string { return fmt.Sprintf("items[%d].%s", i, key) }
		switch {
		case name == "":
			return Catalog{}, &ledger.ValidationError{Field: field("item_name"), Message: "is required"}
		case seen[ledger.NormalizeName(name)]:
			return Catalog{}, &ledger.ValidationError{Field: field("item_name"), Message: "duplicate item " + name}
		case !ij.UnitPrice.IsPositive():
			return Catalog{}, &ledger.ValidationError{Field: field("unit_price"), Message: "must be positive"}
		case ij.MinStock < 0:
			return Catalog{}, &ledger.ValidationError{Field: field("min_stock"), Message: "must not be negative"}
		case ij.OpeningStock < 0:
			return Catalog{}, &ledger.ValidationError{Field: field("opening_stock"), Message: "must not be negative"}
		}
		seen[ledger.NormalizeName(name)] = true

		c.Items = append(c.Items, ledger.InventoryItem{
			Name:      name,
			Category:  ij.Category,
			UnitPrice: ij.UnitPrice,
			MinStock:  ij.MinStock,
		})
		if ij.OpeningStock > 0 {
			c.Opening[name] = ij.OpeningStock
		}
	}
	return c, nil
}

// ToJSON converts a Catalog back to its JSON form.
func (f *CatalogFactory) ToJSON(c Catalog) CatalogJSON {
	cj := CatalogJSON{OpeningDate: c.OpeningDate.String()}
	for _, it := range c.Items {
		cj.Items = append(cj.Items, ItemJSON{
			ItemName:     it.Name,
			Category:     it.Category,
			UnitPrice:    it.UnitPrice,
			MinStock:     it.MinStock,
			OpeningStock: c.Opening[it.Name],
		})
	}
	return cj
}

// =============================================================================
// SEEDING
// =============================================================================

// SeedResult summarizes a Seed call.
type SeedResult struct {
	Items       int
	Stocked     int
	OpeningCost decimal.Decimal
	Skipped     bool // catalog already had items
}

// Seed writes c's items and opening stock. It does nothing when the catalog
// already has items, so it is safe to call on every start. The emptiness
// check and the writes run under the catalog, cash and item keys.
func (f *CatalogFactory) Seed(ctx context.Context, store ledger.CatalogStore, l ledger.Ledger, locker lock.Locker, c Catalog) (SeedResult, error) {
	keys := []string{lock.CatalogKey, lock.CashKey}
	for _, it := range c.Items {
		keys = append(keys, it.Name)
	}
	release, err := locker.Acquire(ctx, keys...)
	if err != nil {
		return SeedResult{}, err
	}
	defer release()

	existing, err := store.Items(ctx)
	if err != nil {
		return SeedResult{}, &ledger.PersistenceError{Op: "load catalog", Err: err}
	}
	if len(existing) > 0 {
		return SeedResult{Skipped: true, OpeningCost: decimal.Zero}, nil
	}

	res := SeedResult{OpeningCost: decimal.Zero}
	var opening []ledger.Movement
	for _, it := range c.Items {
		it.EffectiveAt = c.OpeningDate
		if _, err := store.PutItem(ctx, it); err != nil {
			return SeedResult{}, &ledger.PersistenceError{Op: "put catalog item", Err: err}
		}
		res.Items++

		qty := c.Opening[it.Name]
		if qty == 0 {
			continue
		}
		m := ledger.Movement{
			ItemName:  it.Name,
			Kind:      ledger.KindRestock,
			Quantity:  qty,
			UnitPrice: it.UnitPrice,
			Date:      c.OpeningDate,
			Reference: "opening-stock",
			Reason:    "opening stock",
		}
		opening = append(opening, m)
		res.OpeningCost = res.OpeningCost.Add(m.Value())
	}

	if len(opening) > 0 {
		if _, err := l.AppendBatch(ctx, opening); err != nil {
			return SeedResult{}, err
		}
	}
	res.Stocked = len(opening)
	return res, nil
}
