package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.DefaultLedger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.NewLedger(mem), mem
}

func restock(item string, qty int, price string, date string) ledger.Movement {
	return ledger.Movement{
		ItemName:  item,
		Kind:      ledger.KindRestock,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString(price),
		Date:      ledger.MustParseDate(date),
	}
}

func sale(item string, qty int, price string, date string) ledger.Movement {
	m := restock(item, qty, price, date)
	m.Kind = ledger.KindSale
	return m
}

// failingStore fails every write and read.
type failingStore struct{}

var errDisk = errors.New("disk full")

func (failingStore) Append(context.Context, ledger.Movement) (ledger.Movement, error) {
	return ledger.Movement{}, errDisk
}
func (failingStore) AppendBatch(context.Context, []ledger.Movement) ([]ledger.Movement, error) {
	return nil, errDisk
}
func (failingStore) Load(context.Context, ledger.Filter) ([]ledger.Movement, error) {
	return nil, errDisk
}

// =============================================================================
// APPEND CONTRACT
// =============================================================================

func TestLedger_Append_AssignsIDAndSeq(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	id1, err := l.Append(ctx, restock("A4 paper", 100, "0.05", "2025-01-01"))
	require.NoError(t, err)
	id2, err := l.Append(ctx, sale("A4 paper", 10, "0.05", "2025-01-02"))
	require.NoError(t, err)

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	ms, err := l.Movements(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Less(t, ms[0].Seq, ms[1].Seq)
	assert.False(t, ms[0].CreatedAt.IsZero())
}

func TestLedger_Append_RejectsContractViolations(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	cases := map[string]ledger.Movement{
		"zero quantity":  restock("A4 paper", 0, "0.05", "2025-01-01"),
		"negative price": restock("A4 paper", 1, "-0.05", "2025-01-01"),
		"zero price":     restock("A4 paper", 1, "0", "2025-01-01"),
		"no item":        restock("", 1, "0.05", "2025-01-01"),
		"unknown kind":   {ItemName: "A4 paper", Kind: "refund", Quantity: 1, UnitPrice: decimal.NewFromInt(1), Date: ledger.MustParseDate("2025-01-01")},
		"no date":        {ItemName: "A4 paper", Kind: ledger.KindSale, Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.Append(ctx, m)
			var ve *ledger.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.True(t, ledger.IsClientError(err))
		})
	}

	ms, err := l.Movements(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ms, "rejected movements must not be stored")
}

func TestLedger_AppendBatch_AllOrNothingOnValidation(t *testing.T) {
	// GIVEN: A batch whose second movement is invalid
	// WHEN: Appending the batch
	// THEN: Nothing is written

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.AppendBatch(ctx, []ledger.Movement{
		restock("A4 paper", 10, "0.05", "2025-01-01"),
		restock("Cardstock", 0, "0.15", "2025-01-01"),
	})
	require.ErrorIs(t, err, ledger.ErrValidation)

	ms, err := l.Movements(ctx, ledger.Filter{})
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestLedger_StoreFailure_IsPersistenceError(t *testing.T) {
	l := ledger.NewLedger(failingStore{})
	ctx := context.Background()

	_, err := l.Append(ctx, restock("A4 paper", 10, "0.05", "2025-01-01"))
	var pe *ledger.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ledger.ErrPersistence)
	assert.ErrorIs(t, err, errDisk)

	_, err = l.Movements(ctx, ledger.Filter{})
	assert.ErrorIs(t, err, ledger.ErrPersistence)
}

// =============================================================================
// READ ORDER
// =============================================================================

func TestLedger_Read_OrdersByDateThenSeq(t *testing.T) {
	// GIVEN: Movements appended out of date order (backfill)
	// WHEN: Reading
	// THEN: They come back by (Date, Seq)

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, sale("A4 paper", 5, "0.05", "2025-01-10"))
	require.NoError(t, err)
	_, err = l.Append(ctx, restock("A4 paper", 50, "0.05", "2025-01-01"))
	require.NoError(t, err)
	_, err = l.Append(ctx, sale("A4 paper", 7, "0.05", "2025-01-10"))
	require.NoError(t, err)

	ms, err := l.Movements(ctx, ledger.Filter{ItemName: "A4 paper"})
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, 50, ms[0].Quantity)
	assert.Equal(t, 5, ms[1].Quantity)
	assert.Equal(t, 7, ms[2].Quantity)
}

func TestLedger_Read_IsRestartable(t *testing.T) {
	// GIVEN: A sequence obtained before a new append
	// WHEN: Ranging over it twice
	// THEN: The second range sees the new movement

	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, restock("A4 paper", 50, "0.05", "2025-01-01"))
	require.NoError(t, err)

	seq := l.Read(ctx, ledger.Filter{})
	first, err := ledger.Collect(seq)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	_, err = l.Append(ctx, sale("A4 paper", 5, "0.05", "2025-01-02"))
	require.NoError(t, err)

	second, err := ledger.Collect(seq)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestLedger_Read_ThroughIsInclusive(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for _, d := range []string{"2025-01-01", "2025-01-02", "2025-01-03"} {
		_, err := l.Append(ctx, restock("A4 paper", 1, "0.05", d))
		require.NoError(t, err)
	}

	ms, err := l.Movements(ctx, ledger.Filter{Through: ledger.Through(ledger.MustParseDate("2025-01-02"))})
	require.NoError(t, err)
	assert.Len(t, ms, 2)
}

// =============================================================================
// DATES
// =============================================================================

func TestParseDate(t *testing.T) {
	d, err := ledger.ParseDate("2025-04-01")
	require.NoError(t, err)
	assert.Equal(t, "2025-04-01", d.String())

	d, err = ledger.ParseDate("2025-04-01T23:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2025-04-01", d.String())

	_, err = ledger.ParseDate("04/01/2025")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}
