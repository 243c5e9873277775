// Package storetest holds the behaviour every ledger.Backend must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quote-ledger/ledger"
)

// Factory returns a fresh, empty backend. It should register its own cleanup.
type Factory func(t *testing.T) ledger.Backend

func Run(t *testing.T, newBackend Factory) {
	t.Run("AppendAssignsIncreasingSeq", func(t *testing.T) { testAppendSeq(t, newBackend(t)) })
	t.Run("LoadFilters", func(t *testing.T) { testLoadFilters(t, newBackend(t)) })
	t.Run("AppendBatchIsAtomic", func(t *testing.T) { testBatchAtomic(t, newBackend(t)) })
	t.Run("DecimalRoundTrip", func(t *testing.T) { testDecimals(t, newBackend(t)) })
	t.Run("CatalogRevisions", func(t *testing.T) { testCatalog(t, newBackend(t)) })
	t.Run("QuoteArchive", func(t *testing.T) { testQuotes(t, newBackend(t)) })
}

func movement(id, item string, kind ledger.Kind, qty int, date string) ledger.Movement {
	return ledger.Movement{
		ID:        ledger.MovementID(id),
		ItemName:  item,
		Kind:      kind,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString("0.05"),
		Date:      ledger.MustParseDate(date),
		Reference: "ref-" + id,
		CreatedAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testAppendSeq(t *testing.T, b ledger.Backend) {
	ctx := context.Background()

	first, err := b.Append(ctx, movement("m1", "A4 paper", ledger.KindRestock, 100, "2025-01-05"))
	require.NoError(t, err)
	second, err := b.Append(ctx, movement("m2", "A4 paper", ledger.KindSale, 10, "2025-01-01"))
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	_, err = b.Append(ctx, movement("m1", "A4 paper", ledger.KindSale, 1, "2025-01-06"))
	assert.Error(t, err, "duplicate movement id")

	ms, err := b.Load(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, ms, 2)
	ledger.SortMovements(ms)
	assert.Equal(t, ledger.MovementID("m2"), ms[0].ID)
	assert.Equal(t, "ref-m2", ms[0].Reference)
}

func testLoadFilters(t *testing.T, b ledger.Backend) {
	ctx := context.Background()

	_, err := b.AppendBatch(ctx, []ledger.Movement{
		movement("a", "A4 paper", ledger.KindRestock, 100, "2025-01-01"),
		movement("b", "Cardstock", ledger.KindRestock, 50, "2025-01-01"),
		movement("c", "A4 paper", ledger.KindSale, 10, "2025-01-03"),
		movement("d", "A4 paper", ledger.KindSale, 20, "2025-01-05"),
	})
	require.NoError(t, err)

	ms, err := b.Load(ctx, ledger.Filter{ItemName: "A4 paper"})
	require.NoError(t, err)
	assert.Len(t, ms, 3)

	ms, err = b.Load(ctx, ledger.Filter{ItemName: "A4 paper", Through: ledger.Through(ledger.MustParseDate("2025-01-03"))})
	require.NoError(t, err)
	assert.Len(t, ms, 2)

	ms, err = b.Load(ctx, ledger.Filter{Kind: ledger.KindSale})
	require.NoError(t, err)
	assert.Len(t, ms, 2)

	ms, err = b.Load(ctx, ledger.Filter{ItemName: "Glossy paper"})
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func testBatchAtomic(t *testing.T, b ledger.Backend) {
	// GIVEN: A batch whose last movement reuses an existing id
	// WHEN: Appending it
	// THEN: None of the batch is stored

	ctx := context.Background()
	_, err := b.Append(ctx, movement("dup", "A4 paper", ledger.KindRestock, 100, "2025-01-01"))
	require.NoError(t, err)

	_, err = b.AppendBatch(ctx, []ledger.Movement{
		movement("x1", "A4 paper", ledger.KindSale, 1, "2025-01-02"),
		movement("x2", "A4 paper", ledger.KindSale, 1, "2025-01-02"),
		movement("dup", "A4 paper", ledger.KindSale, 1, "2025-01-02"),
	})
	require.Error(t, err)

	ms, err := b.Load(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, ms, 1)
}

func testDecimals(t *testing.T, b ledger.Backend) {
	ctx := context.Background()
	m := movement("p", "A4 paper", ledger.KindSale, 250, "2025-01-01")
	m.UnitPrice = decimal.RequireFromString("9.5")
	_, err := b.Append(ctx, m)
	require.NoError(t, err)

	ms, err := b.Load(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.True(t, ms[0].UnitPrice.Equal(decimal.RequireFromString("9.50")))
	assert.Equal(t, "2375.00", ms[0].Value().StringFixed(2))
	assert.Equal(t, "2025-01-01", ms[0].Date.String())
}

func testCatalog(t *testing.T, b ledger.Backend) {
	ctx := context.Background()

	missing, err := b.Item(ctx, "A4 paper")
	require.NoError(t, err)
	assert.Nil(t, missing)

	first, err := b.PutItem(ctx, ledger.InventoryItem{
		Name: "A4 paper", Category: "paper", UnitPrice: decimal.RequireFromString("0.05"), MinStock: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Revision)

	second, err := b.PutItem(ctx, ledger.InventoryItem{
		Name: "A4 paper", Category: "paper", UnitPrice: decimal.RequireFromString("0.06"), MinStock: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Revision)

	_, err = b.PutItem(ctx, ledger.InventoryItem{Name: "Cardstock", UnitPrice: decimal.RequireFromString("0.15")})
	require.NoError(t, err)

	current, err := b.Item(ctx, "A4 paper")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "0.06", current.UnitPrice.String())
	assert.Equal(t, 120, current.MinStock)
	assert.Equal(t, "paper", current.Category)

	items, err := b.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "A4 paper", items[0].Name)
	assert.Equal(t, 2, items[0].Revision)
	assert.Equal(t, "Cardstock", items[1].Name)
}

func testQuotes(t *testing.T, b ledger.Backend) {
	ctx := context.Background()

	q := ledger.Quote{
		ID:           "q-1",
		Date:         ledger.MustParseDate("2025-04-01"),
		DiscountRate: decimal.RequireFromString("0.05"),
		Total:        decimal.RequireFromString("2375"),
		Rationale:    "bulk order",
		CreatedAt:    time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC),
		Lines: []ledger.QuoteLine{
			{ItemName: "A4 paper", Quantity: 250, UnitPrice: decimal.NewFromInt(10), DiscountRate: decimal.RequireFromString("0.05"), LineTotal: decimal.RequireFromString("2375")},
			{ItemName: "Cardstock", Quantity: 5, UnitPrice: decimal.RequireFromString("0.15"), DiscountRate: decimal.Zero, LineTotal: decimal.RequireFromString("0.75")},
		},
	}
	require.NoError(t, b.SaveQuote(ctx, q))
	require.NoError(t, b.SaveQuote(ctx, ledger.Quote{
		ID: "q-2", Date: ledger.MustParseDate("2025-04-02"), DiscountRate: decimal.Zero, Total: decimal.NewFromInt(1),
		Lines: []ledger.QuoteLine{{ItemName: "Glossy paper", Quantity: 1, UnitPrice: decimal.NewFromInt(1), DiscountRate: decimal.Zero, LineTotal: decimal.NewFromInt(1)}},
	}))

	got, err := b.GetQuote(ctx, "q-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2025-04-01", got.Date.String())
	assert.Equal(t, "bulk order", got.Rationale)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, "A4 paper", got.Lines[0].ItemName)
	assert.True(t, got.Lines[0].LineTotal.Equal(decimal.NewFromInt(2375)))

	missing, err := b.GetQuote(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	touching, err := b.QuotesTouching(ctx, []string{"a4 PAPER"})
	require.NoError(t, err)
	require.Len(t, touching, 1)
	assert.Equal(t, ledger.QuoteID("q-1"), touching[0].ID)

	touching, err = b.QuotesTouching(ctx, []string{"Envelopes"})
	require.NoError(t, err)
	assert.Empty(t, touching)
}
