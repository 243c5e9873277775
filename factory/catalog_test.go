package factory_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quote-ledger/factory"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/ledger/store"
	"github.com/warp/quote-ledger/lock"
)

const catalogJSON = `{
  "opening_date": "2025-02-01",
  "items": [
    {"item_name": "A4 paper", "category": "paper", "unit_price": 0.05, "min_stock": 100, "opening_stock": 500},
    {"item_name": "Notepads", "category": "product", "unit_price": "2.00", "min_stock": 10},
    {"item_name": "Cardstock", "category": "paper", "unit_price": 0.15, "opening_stock": 200}
  ]
}`

func TestParseCatalog(t *testing.T) {
	c, err := factory.NewCatalogFactory().ParseCatalog(catalogJSON)
	require.NoError(t, err)

	assert.Equal(t, "2025-02-01", c.OpeningDate.String())
	require.Len(t, c.Items, 3)
	assert.Equal(t, "Notepads", c.Items[1].Name)
	assert.Equal(t, "2.00", c.Items[1].UnitPrice.StringFixed(2))
	assert.Equal(t, map[string]int{"A4 paper": 500, "Cardstock": 200}, c.Opening)
}

func TestParseCatalog_Invalid(t *testing.T) {
	f := factory.NewCatalogFactory()
	cases := map[string]string{
		"malformed":      `{"items": [`,
		"empty":          `{"items": []}`,
		"no name":        `{"items": [{"unit_price": 1}]}`,
		"zero price":     `{"items": [{"item_name": "x", "unit_price": 0}]}`,
		"negative stock": `{"items": [{"item_name": "x", "unit_price": 1, "opening_stock": -1}]}`,
		"duplicate":      `{"items": [{"item_name": "x", "unit_price": 1}, {"item_name": " X ", "unit_price": 1}]}`,
		"bad date":       `{"opening_date": "soon", "items": [{"item_name": "x", "unit_price": 1}]}`,
	}
	for name, js := range cases {
		_, err := f.ParseCatalog(js)
		assert.Error(t, err, name)
	}

	_, err := f.ParseCatalog(`{"items": [{"item_name": "x", "unit_price": 1, "min_stock": -3}]}`)
	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "items[0].min_stock", ve.Field)
}

func TestToJSON_RoundTripsThroughParse(t *testing.T) {
	f := factory.NewCatalogFactory()
	c, err := f.ParseCatalog(catalogJSON)
	require.NoError(t, err)

	data, err := json.Marshal(f.ToJSON(c))
	require.NoError(t, err)
	again, err := f.ParseCatalog(string(data))
	require.NoError(t, err)
	assert.Equal(t, c.Opening, again.Opening)
	assert.Equal(t, c.OpeningDate, again.OpeningDate)
}

func TestSeed_WritesCatalogAndOpeningStock(t *testing.T) {
	// GIVEN: An empty store and a three-item catalog, two stocked
	// WHEN: Seeding
	// THEN: Three items, two opening restocks costing 25.00 + 30.00

	mem := store.NewMemory()
	l := ledger.NewLedger(mem)
	ctx := context.Background()
	f := factory.NewCatalogFactory()
	c, err := f.ParseCatalog(catalogJSON)
	require.NoError(t, err)

	res, err := f.Seed(ctx, mem, l, lock.NewLocal(time.Second), c)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 3, res.Items)
	assert.Equal(t, 2, res.Stocked)
	assert.Equal(t, "55.00", res.OpeningCost.StringFixed(2))

	balances := ledger.NewReconstructor(l, decimal.NewFromInt(50000))
	stock, err := balances.StockLevel(ctx, "A4 paper", c.OpeningDate)
	require.NoError(t, err)
	assert.Equal(t, 500, stock)

	cash, err := balances.CashBalance(ctx, c.OpeningDate)
	require.NoError(t, err)
	assert.Equal(t, "49945.00", cash.StringFixed(2))

	before, err := balances.StockLevel(ctx, "A4 paper", c.OpeningDate.AddDays(-1))
	require.NoError(t, err)
	assert.Zero(t, before)

	// Seeding again is a no-op.
	res, err = f.Seed(ctx, mem, l, lock.NewLocal(time.Second), c)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	ms, err := l.Movements(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, ms, 2)
}

// slowCatalog widens the window between reading the catalog and writing it.
type slowCatalog struct {
	*store.Memory
}

func (s slowCatalog) Items(ctx context.Context) ([]ledger.InventoryItem, error) {
	time.Sleep(10 * time.Millisecond)
	return s.Memory.Items(ctx)
}

func TestSeed_ConcurrentSeedsStockOnce(t *testing.T) {
	// GIVEN: An empty store with a slow catalog read
	// WHEN: Two seeds of the same catalog run at the same time
	// THEN: One seeds, the other is skipped, opening stock is booked once

	mem := store.NewMemory()
	l := ledger.NewLedger(mem)
	locker := lock.NewLocal(time.Second)
	ctx := context.Background()
	f := factory.NewCatalogFactory()
	c, err := f.ParseCatalog(catalogJSON)
	require.NoError(t, err)

	results := make([]factory.SeedResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.Seed(ctx, slowCatalog{mem}, l, locker, c)
		}(i)
	}
	wg.Wait()

	skipped := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Skipped {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)

	ms, err := l.Movements(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, ms, 2)

	cash, err := ledger.NewReconstructor(l, decimal.NewFromInt(50000)).CashBalance(ctx, c.OpeningDate)
	require.NoError(t, err)
	assert.Equal(t, "49945.00", cash.StringFixed(2))
}

func TestSampleCatalog_IsReproducible(t *testing.T) {
	a := factory.SampleCatalog(factory.DefaultCoverage, factory.DefaultSeed)
	b := factory.SampleCatalog(factory.DefaultCoverage, factory.DefaultSeed)

	assert.Len(t, a.Items, 46)
	assert.Len(t, a.Opening, 18, "40% of 46")
	assert.Equal(t, a.Opening, b.Opening)
	assert.Equal(t, "2025-01-01", a.OpeningDate.String())

	for _, it := range a.Items {
		qty, stocked := a.Opening[it.Name]
		if !stocked {
			assert.Zero(t, it.MinStock, it.Name)
			continue
		}
		assert.GreaterOrEqual(t, qty, 200, it.Name)
		assert.Less(t, qty, 800, it.Name)
		assert.GreaterOrEqual(t, it.MinStock, 50, it.Name)
		assert.Less(t, it.MinStock, 150, it.Name)
	}

	other := factory.SampleCatalog(factory.DefaultCoverage, 7)
	assert.NotEqual(t, a.Opening, other.Opening)
}
