// Package bolt provides a ledger.Backend on an embedded bbolt file.
//
// Buckets:
//
//	movements     seq (8 byte big endian) -> movement JSON
//	movement_ids  movement id -> seq
//	items         name 0x00 revision (4 byte big endian) -> item JSON
//	quotes        quote id -> quote JSON
//	quote_items   lower(item name) 0x00 quote id -> empty
//
// Every write runs inside one bbolt Update, so AppendBatch is all-or-nothing
// and seq comes from the bucket sequence.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/quote-ledger/ledger"
	"go.etcd.io/bbolt"
)

var (
	bucketMovements   = []byte("movements")
	bucketMovementIDs = []byte("movement_ids")
	bucketItems       = []byte("items")
	bucketQuotes      = []byte("quotes")
	bucketQuoteItems  = []byte("quote_items")
)

// Store implements ledger.Backend using bbolt.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database file at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory for bolt db: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistMapType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMovements, bucketMovementIDs, bucketItems, bucketQuotes, bucketQuoteItems} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// RECORDS
// =============================================================================

type movementRecord struct {
	ID        string          `json:"id"`
	ItemName  string          `json:"item_name"`
	Kind      string          `json:"kind"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Date      ledger.Date     `json:"date"`
	Reference string          `json:"reference,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func toMovementRecord(m ledger.Movement) movementRecord {
	return movementRecord{
		ID:        string(m.ID),
		ItemName:  m.ItemName,
		Kind:      string(m.Kind),
		Quantity:  m.Quantity,
		UnitPrice: m.UnitPrice,
		Date:      m.Date,
		Reference: m.Reference,
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt,
	}
}

func (r movementRecord) movement(seq int64) ledger.Movement {
	return ledger.Movement{
		ID:        ledger.MovementID(r.ID),
		Seq:       seq,
		ItemName:  r.ItemName,
		Kind:      ledger.Kind(r.Kind),
		Quantity:  r.Quantity,
		UnitPrice: r.UnitPrice,
		Date:      r.Date,
		Reference: r.Reference,
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt,
	}
}

type itemRecord struct {
	Name        string          `json:"name"`
	Category    string          `json:"category,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	MinStock    int             `json:"min_stock"`
	Revision    int             `json:"revision"`
	EffectiveAt ledger.Date     `json:"effective_at"`
}

type quoteLineRecord struct {
	ItemName     string          `json:"item_name"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

type quoteRecord struct {
	ID           string            `json:"id"`
	Lines        []quoteLineRecord `json:"lines"`
	DiscountRate decimal.Decimal   `json:"discount_rate"`
	Total        decimal.Decimal   `json:"total"`
	Date         ledger.Date       `json:"date"`
	Rationale    string            `json:"rationale,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func toQuoteRecord(q ledger.Quote) quoteRecord {
	r := quoteRecord{
		ID:           string(q.ID),
		DiscountRate: q.DiscountRate,
		Total:        q.Total,
		Date:         q.Date,
		Rationale:    q.Rationale,
		CreatedAt:    q.CreatedAt,
	}
	for _, l := range q.Lines {
		r.Lines = append(r.Lines, quoteLineRecord(l))
	}
	return r
}

func (r quoteRecord) quote() ledger.Quote {
	q := ledger.Quote{
		ID:           ledger.QuoteID(r.ID),
		DiscountRate: r.DiscountRate,
		Total:        r.Total,
		Date:         r.Date,
		Rationale:    r.Rationale,
		CreatedAt:    r.CreatedAt,
	}
	for _, l := range r.Lines {
		q.Lines = append(q.Lines, ledger.QuoteLine(l))
	}
	return q
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func (s *Store) Append(_ context.Context, m ledger.Movement) (ledger.Movement, error) {
	var stored ledger.Movement
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		stored, err = putMovement(tx, m)
		return err
	})
	return stored, err
}

func (s *Store) AppendBatch(_ context.Context, ms []ledger.Movement) ([]ledger.Movement, error) {
	out := make([]ledger.Movement, len(ms))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for i, m := range ms {
			stored, err := putMovement(tx, m)
			if err != nil {
				return err
			}
			out[i] = stored
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func putMovement(tx *bbolt.Tx, m ledger.Movement) (ledger.Movement, error) {
	ids := tx.Bucket(bucketMovementIDs)
	if ids.Get([]byte(m.ID)) != nil {
		return ledger.Movement{}, fmt.Errorf("duplicate movement id %s", m.ID)
	}

	movements := tx.Bucket(bucketMovements)
	seq, err := movements.NextSequence()
	if err != nil {
		return ledger.Movement{}, fmt.Errorf("failed to allocate seq: %w", err)
	}
	m.Seq = int64(seq)

	data, err := json.Marshal(toMovementRecord(m))
	if err != nil {
		return ledger.Movement{}, fmt.Errorf("failed to marshal movement: %w", err)
	}
	key := u64(seq)
	if err := movements.Put(key, data); err != nil {
		return ledger.Movement{}, err
	}
	if err := ids.Put([]byte(m.ID), key); err != nil {
		return ledger.Movement{}, err
	}
	return m, nil
}

// Load scans the movements bucket in seq order; the ledger re-sorts by date.
func (s *Store) Load(_ context.Context, f ledger.Filter) ([]ledger.Movement, error) {
	var result []ledger.Movement
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMovements).ForEach(func(k, v []byte) error {
			var r movementRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal movement: %w", err)
			}
			m := r.movement(int64(binary.BigEndian.Uint64(k)))
			if f.Match(m) {
				result = append(result, m)
			}
			return nil
		})
	})
	return result, err
}

// =============================================================================
// CATALOG
// =============================================================================

func itemKey(name string, revision int) []byte {
	key := append([]byte(name), 0)
	return binary.BigEndian.AppendUint32(key, uint32(revision))
}

func (s *Store) PutItem(_ context.Context, item ledger.InventoryItem) (ledger.InventoryItem, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketItems)
		latest, err := latestItem(b, item.Name)
		if err != nil {
			return err
		}
		item.Revision = 1
		if latest != nil {
			item.Revision = latest.Revision + 1
		}
		data, err := json.Marshal(itemRecord(item))
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		return b.Put(itemKey(item.Name, item.Revision), data)
	})
	return item, err
}

// latestItem returns the highest revision stored under name.
func latestItem(b *bbolt.Bucket, name string) (*ledger.InventoryItem, error) {
	prefix := append([]byte(name), 0)
	var last []byte
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		last = v
	}
	if last == nil {
		return nil, nil
	}
	var r itemRecord
	if err := json.Unmarshal(last, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	item := ledger.InventoryItem(r)
	return &item, nil
}

func (s *Store) Item(_ context.Context, name string) (*ledger.InventoryItem, error) {
	var item *ledger.InventoryItem
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		item, err = latestItem(tx.Bucket(bucketItems), name)
		return err
	})
	return item, err
}

func (s *Store) Items(_ context.Context) ([]ledger.InventoryItem, error) {
	latest := make(map[string]ledger.InventoryItem)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketItems).ForEach(func(_, v []byte) error {
			var r itemRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal item: %w", err)
			}
			if cur, ok := latest[r.Name]; !ok || r.Revision > cur.Revision {
				latest[r.Name] = ledger.InventoryItem(r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	items := make([]ledger.InventoryItem, 0, len(latest))
	for _, item := range latest {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// =============================================================================
// QUOTES
// =============================================================================

func quoteItemKey(itemName string, id ledger.QuoteID) []byte {
	key := append([]byte(ledger.NormalizeName(itemName)), 0)
	return append(key, string(id)...)
}

func (s *Store) SaveQuote(_ context.Context, q ledger.Quote) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		quotes := tx.Bucket(bucketQuotes)
		if quotes.Get([]byte(q.ID)) != nil {
			return fmt.Errorf("duplicate quote id %s", q.ID)
		}
		data, err := json.Marshal(toQuoteRecord(q))
		if err != nil {
			return fmt.Errorf("failed to marshal quote: %w", err)
		}
		if err := quotes.Put([]byte(q.ID), data); err != nil {
			return err
		}
		index := tx.Bucket(bucketQuoteItems)
		for _, l := range q.Lines {
			if err := index.Put(quoteItemKey(l.ItemName, q.ID), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetQuote(_ context.Context, id ledger.QuoteID) (*ledger.Quote, error) {
	var q *ledger.Quote
	err := s.db.View(func(tx *bbolt.Tx) error {
		found, err := getQuote(tx, id)
		q = found
		return err
	})
	return q, err
}

func getQuote(tx *bbolt.Tx, id ledger.QuoteID) (*ledger.Quote, error) {
	data := tx.Bucket(bucketQuotes).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var r quoteRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote: %w", err)
	}
	q := r.quote()
	return &q, nil
}

func (s *Store) QuotesTouching(_ context.Context, names []string) ([]ledger.Quote, error) {
	var result []ledger.Quote
	err := s.db.View(func(tx *bbolt.Tx) error {
		seen := make(map[ledger.QuoteID]bool)
		c := tx.Bucket(bucketQuoteItems).Cursor()
		for _, name := range names {
			prefix := append([]byte(ledger.NormalizeName(name)), 0)
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				id := ledger.QuoteID(k[len(prefix):])
				if seen[id] {
					continue
				}
				seen[id] = true
				q, err := getQuote(tx, id)
				if err != nil {
					return err
				}
				if q != nil {
					result = append(result, *q)
				}
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, err
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

var _ ledger.Backend = (*Store)(nil)
