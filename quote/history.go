package quote

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/warp/quote-ledger/ledger"
)

// DefaultHistoryLimit is used when Search is called with limit <= 0.
const DefaultHistoryLimit = 5

// =============================================================================
// HISTORY INDEX - Read-only search over archived quotes
// =============================================================================

// Match is an archived quote with its similarity to the search terms.
type Match struct {
	Quote ledger.Quote
	Score float64 // Jaccard overlap of item-name sets, 0..1
}

type HistoryIndex struct {
	Store ledger.QuoteStore
	Log   logrus.FieldLogger
}

func NewHistoryIndex(store ledger.QuoteStore, log logrus.FieldLogger) *HistoryIndex {
	return &HistoryIndex{Store: store, Log: log}
}

// Search returns up to limit archived quotes sharing at least one item with
// itemNames, most similar first. Store failures yield no results.
func (h *HistoryIndex) Search(ctx context.Context, itemNames []string, limit int) []ledger.Quote {
	matches := h.SearchScored(ctx, itemNames, limit)
	out := make([]ledger.Quote, len(matches))
	for i, m := range matches {
		out[i] = m.Quote
	}
	return out
}

// SearchScored is Search with similarity scores. Ties rank the more recent
// quote first, then the smaller id.
func (h *HistoryIndex) SearchScored(ctx context.Context, itemNames []string, limit int) []Match {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	terms := nameSet(itemNames)
	if len(terms) == 0 {
		return nil
	}

	names := make([]string, 0, len(terms))
	for n := range terms {
		names = append(names, n)
	}
	quotes, err := h.Store.QuotesTouching(ctx, names)
	if err != nil {
		h.Log.WithError(err).Warn("quote history unavailable")
		return nil
	}

	matches := make([]Match, 0, len(quotes))
	for _, q := range quotes {
		if score := jaccard(terms, nameSet(q.ItemNames())); score > 0 {
			matches = append(matches, Match{Quote: q, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Quote.Date.Equal(b.Quote.Date) {
			return a.Quote.Date.After(b.Quote.Date)
		}
		return a.Quote.ID < b.Quote.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if k := ledger.NormalizeName(n); k != "" {
			set[k] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
