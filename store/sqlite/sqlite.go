/*
Package sqlite provides a SQLite-backed implementation of ledger.Backend.

PURPOSE:
  Default durable store for a single server process. The same schema is
  used by store/postgres with dialect changes only.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on movements
  - Catalog changes insert a new (name, revision) row
  - seq is an AUTOINCREMENT key, so it grows across every append

KEY TABLES:
  movements:   Immutable ledger of restocks and sales
  items:       Catalog revisions
  quotes:      Archived quotes (history search)
  quote_lines: One row per quoted item

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Balance-dependent write decisions are
  serialized one level up by the lock package.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers never block.

USAGE:
  store, err := sqlite.New("./data/quotes.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.NewLedger(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/quote-ledger/ledger"
)

// Store implements ledger.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database lives per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Movements (append-only ledger)
	CREATE TABLE IF NOT EXISTS movements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		item_name TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('restock', 'sale')),
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		unit_price TEXT NOT NULL,
		date TEXT NOT NULL,
		reference TEXT,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	-- Balance folds (hot path)
	CREATE INDEX IF NOT EXISTS idx_movements_item_date
		ON movements(item_name, date, seq);
	CREATE INDEX IF NOT EXISTS idx_movements_date
		ON movements(date, seq);
	CREATE INDEX IF NOT EXISTS idx_movements_reference
		ON movements(reference) WHERE reference IS NOT NULL;

	-- Catalog revisions
	CREATE TABLE IF NOT EXISTS items (
		name TEXT NOT NULL,
		revision INTEGER NOT NULL,
		category TEXT,
		unit_price TEXT NOT NULL,
		min_stock INTEGER NOT NULL DEFAULT 0,
		effective_at TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (name, revision)
	);

	-- Quote archive
	CREATE TABLE IF NOT EXISTS quotes (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		discount_rate TEXT NOT NULL,
		total TEXT NOT NULL,
		rationale TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS quote_lines (
		quote_id TEXT NOT NULL REFERENCES quotes(id),
		line_no INTEGER NOT NULL,
		item_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		discount_rate TEXT NOT NULL,
		line_total TEXT NOT NULL,
		PRIMARY KEY (quote_id, line_no)
	);

	CREATE INDEX IF NOT EXISTS idx_quote_lines_item
		ON quote_lines(LOWER(item_name));
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// MOVEMENT STORE (ledger.Store interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append adds a movement to the ledger.
func (s *Store) Append(ctx context.Context, m ledger.Movement) (ledger.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendMovement(ctx, s.db, m)
}

func (s *Store) appendMovement(ctx context.Context, db execer, m ledger.Movement) (ledger.Movement, error) {
	query := `
		INSERT INTO movements
		(id, item_name, kind, quantity, unit_price, date, reference, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := db.ExecContext(ctx, query,
		m.ID,
		m.ItemName,
		m.Kind,
		m.Quantity,
		m.UnitPrice.String(),
		m.Date.String(),
		nullString(m.Reference),
		nullString(m.Reason),
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.Movement{}, fmt.Errorf("duplicate movement id %s: %w", m.ID, err)
		}
		return ledger.Movement{}, fmt.Errorf("failed to append movement: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return ledger.Movement{}, fmt.Errorf("failed to read movement seq: %w", err)
	}
	m.Seq = seq
	return m, nil
}

// AppendBatch adds multiple movements atomically.
func (s *Store) AppendBatch(ctx context.Context, ms []ledger.Movement) ([]ledger.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	out := make([]ledger.Movement, len(ms))
	for i, m := range ms {
		stored, err := s.appendMovement(ctx, sqlTx, m)
		if err != nil {
			return nil, err
		}
		out[i] = stored
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit movements: %w", err)
	}
	return out, nil
}

// Load returns movements matching the filter in (date, seq) order.
func (s *Store) Load(ctx context.Context, f ledger.Filter) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.ItemName != "" {
		where = append(where, "item_name = ?")
		args = append(args, f.ItemName)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Through != nil {
		where = append(where, "date <= ?")
		args = append(args, f.Through.String())
	}

	query := `
		SELECT seq, id, item_name, kind, quantity, unit_price, date, reference, reason, created_at
		FROM movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []ledger.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func scanMovement(rows *sql.Rows) (ledger.Movement, error) {
	var (
		m         ledger.Movement
		unitPrice string
		date      string
		reference sql.NullString
		reason    sql.NullString
		createdAt string
	)

	err := rows.Scan(
		&m.Seq, &m.ID, &m.ItemName, &m.Kind, &m.Quantity,
		&unitPrice, &date, &reference, &reason, &createdAt,
	)
	if err != nil {
		return m, fmt.Errorf("failed to scan movement: %w", err)
	}

	if m.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return m, fmt.Errorf("movement %s: bad unit price %q: %w", m.ID, unitPrice, err)
	}
	if m.Date, err = ledger.ParseDate(date); err != nil {
		return m, fmt.Errorf("movement %s: %w", m.ID, err)
	}
	m.Reference = reference.String
	m.Reason = reason.String
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return m, nil
}

// =============================================================================
// CATALOG STORE (ledger.CatalogStore interface)
// =============================================================================

func (s *Store) PutItem(ctx context.Context, item ledger.InventoryItem) (ledger.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return item, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var current int
	err = sqlTx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(revision), 0) FROM items WHERE name = ?`, item.Name,
	).Scan(&current)
	if err != nil {
		return item, fmt.Errorf("failed to read item revision: %w", err)
	}
	item.Revision = current + 1

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO items (name, revision, category, unit_price, min_stock, effective_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		item.Name,
		item.Revision,
		nullString(item.Category),
		item.UnitPrice.String(),
		item.MinStock,
		nullString(item.EffectiveAt.String()),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return item, fmt.Errorf("failed to insert item: %w", err)
	}
	return item, sqlTx.Commit()
}

const latestItemsQuery = `
	SELECT i.name, i.revision, i.category, i.unit_price, i.min_stock, i.effective_at
	FROM items i
	JOIN (SELECT name, MAX(revision) AS revision FROM items GROUP BY name) latest
	  ON latest.name = i.name AND latest.revision = i.revision`

func (s *Store) Item(ctx context.Context, name string) (*ledger.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, err := s.queryItems(ctx, latestItemsQuery+` WHERE i.name = ?`, name)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

func (s *Store) Items(ctx context.Context) ([]ledger.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryItems(ctx, latestItemsQuery+` ORDER BY i.name`)
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]ledger.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []ledger.InventoryItem
	for rows.Next() {
		var (
			item        ledger.InventoryItem
			category    sql.NullString
			unitPrice   string
			effectiveAt sql.NullString
		)
		if err := rows.Scan(&item.Name, &item.Revision, &category, &unitPrice, &item.MinStock, &effectiveAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.Category = category.String
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("item %s: bad unit price %q: %w", item.Name, unitPrice, err)
		}
		if effectiveAt.Valid && effectiveAt.String != "" {
			item.EffectiveAt, _ = ledger.ParseDate(effectiveAt.String)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// QUOTE STORE (ledger.QuoteStore interface)
// =============================================================================

func (s *Store) SaveQuote(ctx context.Context, q ledger.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO quotes (id, date, discount_rate, total, rationale, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		q.ID,
		q.Date.String(),
		q.DiscountRate.String(),
		q.Total.String(),
		nullString(q.Rationale),
		q.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert quote: %w", err)
	}

	for i, l := range q.Lines {
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO quote_lines (quote_id, line_no, item_name, quantity, unit_price, discount_rate, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, q.ID, i, l.ItemName, l.Quantity, l.UnitPrice.String(), l.DiscountRate.String(), l.LineTotal.String())
		if err != nil {
			return fmt.Errorf("failed to insert quote line: %w", err)
		}
	}
	return sqlTx.Commit()
}

func (s *Store) GetQuote(ctx context.Context, id ledger.QuoteID) (*ledger.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes, err := s.queryQuotes(ctx, `WHERE id = ?`, id)
	if err != nil || len(quotes) == 0 {
		return nil, err
	}
	return &quotes[0], nil
}

func (s *Store) QuotesTouching(ctx context.Context, names []string) ([]ledger.Quote, error) {
	if len(names) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		placeholders[i] = "?"
		args[i] = ledger.NormalizeName(n)
	}
	where := `WHERE id IN (SELECT quote_id FROM quote_lines WHERE LOWER(item_name) IN (` +
		strings.Join(placeholders, ", ") + `))`
	return s.queryQuotes(ctx, where, args...)
}

func (s *Store) queryQuotes(ctx context.Context, where string, args ...any) ([]ledger.Quote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, discount_rate, total, rationale, created_at
		FROM quotes `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}

	var quotes []ledger.Quote
	for rows.Next() {
		var (
			q         ledger.Quote
			date      string
			rate      string
			total     string
			rationale sql.NullString
			createdAt string
		)
		if err := rows.Scan(&q.ID, &date, &rate, &total, &rationale, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		q.Date, _ = ledger.ParseDate(date)
		q.DiscountRate, _ = decimal.NewFromString(rate)
		q.Total, _ = decimal.NewFromString(total)
		q.Rationale = rationale.String
		q.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range quotes {
		if quotes[i].Lines, err = s.quoteLines(ctx, quotes[i].ID); err != nil {
			return nil, err
		}
	}
	return quotes, nil
}

func (s *Store) quoteLines(ctx context.Context, id ledger.QuoteID) ([]ledger.QuoteLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_name, quantity, unit_price, discount_rate, line_total
		FROM quote_lines WHERE quote_id = ? ORDER BY line_no`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote lines: %w", err)
	}
	defer rows.Close()

	var lines []ledger.QuoteLine
	for rows.Next() {
		var (
			l                      ledger.QuoteLine
			price, rate, lineTotal string
		)
		if err := rows.Scan(&l.ItemName, &l.Quantity, &price, &rate, &lineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan quote line: %w", err)
		}
		l.UnitPrice, _ = decimal.NewFromString(price)
		l.DiscountRate, _ = decimal.NewFromString(rate)
		l.LineTotal, _ = decimal.NewFromString(lineTotal)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ ledger.Backend = (*Store)(nil)
