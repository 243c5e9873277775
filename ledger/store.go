/*
store.go - Persistence interfaces for movements, the catalog and quotes

PURPOSE:
  Separates the ledger rules from the database. Implementations live in
  ledger/store (in-memory), store/sqlite, store/bolt and store/postgres.

APPEND-ONLY CONTRACT:
  - Append(): single movement write, Seq assigned by the store
  - AppendBatch(): all-or-nothing multi-movement write
  - NO Update() or Delete() for movements. Ever.
  - Catalog updates append a new item revision

ORDERING:
  Load may return movements in any order. The Ledger re-sorts by (Date, Seq),
  which is why Seq must be strictly increasing across all appends of a store.

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package ledger

import (
	"context"
	"io"
)

// =============================================================================
// STORE - Movement persistence (append-only)
// =============================================================================

type Store interface {
	// Append persists one movement and returns it with Seq filled in.
	Append(ctx context.Context, m Movement) (Movement, error)

	// AppendBatch persists movements atomically. Either all succeed or none do.
	AppendBatch(ctx context.Context, ms []Movement) ([]Movement, error)

	// Load returns every movement matching the filter.
	Load(ctx context.Context, f Filter) ([]Movement, error)
}

// =============================================================================
// CATALOG STORE
// =============================================================================

type CatalogStore interface {
	// PutItem appends a new revision of the item and returns it with
	// Revision filled in.
	PutItem(ctx context.Context, item InventoryItem) (InventoryItem, error)

	// Item returns the latest revision, or nil if the item is unknown.
	Item(ctx context.Context, name string) (*InventoryItem, error)

	// Items returns the latest revision of every item, sorted by name.
	Items(ctx context.Context) ([]InventoryItem, error)
}

// =============================================================================
// QUOTE STORE - Archive read by the history index
// =============================================================================

type QuoteStore interface {
	SaveQuote(ctx context.Context, q Quote) error

	// GetQuote returns nil if the quote does not exist.
	GetQuote(ctx context.Context, id QuoteID) (*Quote, error)

	// QuotesTouching returns every archived quote with at least one line
	// whose item name matches one of names (case-insensitive).
	QuotesTouching(ctx context.Context, names []string) ([]Quote, error)
}

// Backend is a full persistence implementation.
type Backend interface {
	Store
	CatalogStore
	QuoteStore
	io.Closer
}
