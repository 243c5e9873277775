// Package store provides the in-memory ledger.Backend.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warp/quote-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	seq       int64
	movements map[string][]ledger.Movement // by item, kept in (Date, Seq) order
	ids       map[ledger.MovementID]bool
	items     map[string][]ledger.InventoryItem // revisions, oldest first
	quotes    map[ledger.QuoteID]ledger.Quote
}

func NewMemory() *Memory {
	return &Memory{
		movements: make(map[string][]ledger.Movement),
		ids:       make(map[ledger.MovementID]bool),
		items:     make(map[string][]ledger.InventoryItem),
		quotes:    make(map[ledger.QuoteID]ledger.Quote),
	}
}

// Append adds a single movement. Append-only.
func (m *Memory) Append(_ context.Context, mv ledger.Movement) (ledger.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ids[mv.ID] {
		return ledger.Movement{}, fmt.Errorf("duplicate movement id %s", mv.ID)
	}
	return m.appendLocked(mv), nil
}

// AppendBatch adds multiple movements atomically.
func (m *Memory) AppendBatch(_ context.Context, ms []ledger.Movement) ([]ledger.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[ledger.MovementID]bool, len(ms))
	for _, mv := range ms {
		if m.ids[mv.ID] || seen[mv.ID] {
			return nil, fmt.Errorf("duplicate movement id %s", mv.ID)
		}
		seen[mv.ID] = true
	}

	out := make([]ledger.Movement, len(ms))
	for i, mv := range ms {
		out[i] = m.appendLocked(mv)
	}
	return out, nil
}

func (m *Memory) appendLocked(mv ledger.Movement) ledger.Movement {
	m.seq++
	mv.Seq = m.seq

	ms := m.movements[mv.ItemName]
	// Seq only grows, so the insertion point is after every movement on or
	// before mv.Date.
	i := sort.Search(len(ms), func(i int) bool {
		return ms[i].Date.After(mv.Date)
	})
	ms = append(ms, ledger.Movement{})
	copy(ms[i+1:], ms[i:])
	ms[i] = mv
	m.movements[mv.ItemName] = ms
	m.ids[mv.ID] = true
	return mv
}

func (m *Memory) Load(_ context.Context, f ledger.Filter) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Movement
	collect := func(ms []ledger.Movement) {
		for _, mv := range ms {
			if f.Match(mv) {
				result = append(result, mv)
			}
		}
	}
	if f.ItemName != "" {
		collect(m.movements[f.ItemName])
		return result, nil
	}
	for _, ms := range m.movements {
		collect(ms)
	}
	return result, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) PutItem(_ context.Context, item ledger.InventoryItem) (ledger.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	revs := m.items[item.Name]
	item.Revision = len(revs) + 1
	m.items[item.Name] = append(revs, item)
	return item, nil
}

func (m *Memory) Item(_ context.Context, name string) (*ledger.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	revs := m.items[name]
	if len(revs) == 0 {
		return nil, nil
	}
	item := revs[len(revs)-1]
	return &item, nil
}

func (m *Memory) Items(_ context.Context) ([]ledger.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.InventoryItem, 0, len(m.items))
	for _, revs := range m.items {
		result = append(result, revs[len(revs)-1])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// =============================================================================
// QUOTES
// =============================================================================

func (m *Memory) SaveQuote(_ context.Context, q ledger.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quotes[q.ID]; ok {
		return fmt.Errorf("duplicate quote id %s", q.ID)
	}
	q.Lines = append([]ledger.QuoteLine(nil), q.Lines...)
	m.quotes[q.ID] = q
	return nil
}

func (m *Memory) GetQuote(_ context.Context, id ledger.QuoteID) (*ledger.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (m *Memory) QuotesTouching(_ context.Context, names []string) ([]ledger.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[ledger.NormalizeName(n)] = true
	}
	var result []ledger.Quote
	for _, q := range m.quotes {
		for _, l := range q.Lines {
			if wanted[ledger.NormalizeName(l.ItemName)] {
				result = append(result, q)
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.Compare(string(result[i].ID), string(result[j].ID)) < 0
	})
	return result, nil
}

func (m *Memory) Close() error { return nil }

var _ ledger.Backend = (*Memory)(nil)
