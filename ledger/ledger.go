/*
ledger.go - Append-only stock and cash log

PURPOSE:
  The Ledger is the immutable source of truth for stock and cash. Every
  restock and every sale is recorded here; balances are always computed by
  replaying movements.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. ORDERED: Reads yield movements by (Date, Seq), whatever order they were
     appended in. Backfilled dates are legal.
  3. CONTRACT-CHECKED: Quantity >= 1, unit price > 0, known kind, non-zero
     date. Violations are programming errors and return *ValidationError.

The Ledger never consults balances. Keeping stock and cash non-negative is
the job of the writers (order.Fulfillment, policy.RestockPolicy), which hold
a lock section across recompute and append.

SEE ALSO:
  - store.go: Low-level persistence interface
  - balance.go: Reconstructor folds Read into balances
*/
package ledger

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger interface {
	// Append adds one movement and returns its id.
	Append(ctx context.Context, m Movement) (MovementID, error)

	// AppendBatch adds movements atomically.
	AppendBatch(ctx context.Context, ms []Movement) ([]MovementID, error)

	// Read yields matching movements in (Date, Seq) order. Every range over
	// the sequence re-queries the store.
	Read(ctx context.Context, f Filter) iter.Seq2[Movement, error]
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
	Now   func() time.Time
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: time.Now}
}

func (l *DefaultLedger) Append(ctx context.Context, m Movement) (MovementID, error) {
	m, err := l.prepare(m)
	if err != nil {
		return "", err
	}
	stored, err := l.Store.Append(ctx, m)
	if err != nil {
		return "", persistence("append movement", err)
	}
	return stored.ID, nil
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, ms []Movement) ([]MovementID, error) {
	if len(ms) == 0 {
		return nil, nil
	}
	prepared := make([]Movement, len(ms))
	for i, m := range ms {
		p, err := l.prepare(m)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}
	stored, err := l.Store.AppendBatch(ctx, prepared)
	if err != nil {
		return nil, persistence("append movement batch", err)
	}
	ids := make([]MovementID, len(stored))
	for i, m := range stored {
		ids[i] = m.ID
	}
	return ids, nil
}

func (l *DefaultLedger) Read(ctx context.Context, f Filter) iter.Seq2[Movement, error] {
	return func(yield func(Movement, error) bool) {
		ms, err := l.Store.Load(ctx, f)
		if err != nil {
			yield(Movement{}, persistence("load movements", err))
			return
		}
		SortMovements(ms)
		for _, m := range ms {
			if !yield(m, nil) {
				return
			}
		}
	}
}

// Movements is Read collected into a slice.
func (l *DefaultLedger) Movements(ctx context.Context, f Filter) ([]Movement, error) {
	return Collect(l.Read(ctx, f))
}

// Collect drains a movement sequence, stopping at the first error.
func Collect(seq iter.Seq2[Movement, error]) ([]Movement, error) {
	var out []Movement
	for m, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (l *DefaultLedger) prepare(m Movement) (Movement, error) {
	if err := ValidateMovement(m); err != nil {
		return Movement{}, err
	}
	if m.ID == "" {
		m.ID = MovementID(uuid.NewString())
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = l.Now().UTC()
	}
	return m, nil
}

// ValidateMovement checks the append contract.
func ValidateMovement(m Movement) error {
	switch {
	case strings.TrimSpace(m.ItemName) == "":
		return &ValidationError{Field: "item_name", Message: "is required"}
	case !m.Kind.Valid():
		return &ValidationError{Field: "kind", Message: "unknown movement kind " + string(m.Kind)}
	case m.Quantity < 1:
		return &ValidationError{Field: "quantity", Message: "must be at least 1"}
	case !m.UnitPrice.IsPositive():
		return &ValidationError{Field: "unit_price", Message: "must be positive"}
	case m.Date.IsZero():
		return &ValidationError{Field: "date", Message: "is required"}
	}
	return nil
}
