/*
Package quote prices customer requests and keeps the quote archive that
history search reads.

PURPOSE:
  Engine turns (item, quantity) requests into a priced Quote. It reads the
  catalog only: it never reads stock, never reserves anything and never
  writes the ledger. Availability is decided at order time by
  order.Fulfillment.

FLOW:
  1. Validate quantities and date
  2. Merge repeated items, resolve names against the catalog
  3. Price each line: qty * price * (1 - DiscountRate(qty))
  4. Look up similar past quotes (best-effort)
  5. Explain the quote (primary explainer, falling back to tiers)
  6. Archive the quote (best-effort)

Steps 4-6 never change the numbers and never fail the request.

SEE ALSO:
  - history.go: HistoryIndex ranking
  - explain.go: Explainer strategy
  - extract.go: Free-text request parsing
*/
package quote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/policy"
)

// Request is one requested line before pricing.
type Request struct {
	ItemName string
	Quantity int
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Catalog   ledger.CatalogStore
	Archive   ledger.QuoteStore // nil disables archiving
	History   *HistoryIndex     // nil disables history lookups
	Explainer Explainer
	Log       logrus.FieldLogger
	Now       func() time.Time
}

func NewEngine(catalog ledger.CatalogStore, archive ledger.QuoteStore, log logrus.FieldLogger) *Engine {
	log = log.WithField("component", "quote")
	e := &Engine{
		Catalog:   catalog,
		Archive:   archive,
		Explainer: Resolve(HistoryExplainer{}, TierExplainer{}),
		Log:       log,
		Now:       time.Now,
	}
	if archive != nil {
		e.History = NewHistoryIndex(archive, log)
	}
	return e
}

// Generate prices requests as of date.
func (e *Engine) Generate(ctx context.Context, reqs []Request, date ledger.Date) (ledger.Quote, error) {
	if len(reqs) == 0 {
		return ledger.Quote{}, &ledger.ValidationError{Field: "items", Message: "at least one item is required"}
	}
	if date.IsZero() {
		return ledger.Quote{}, &ledger.ValidationError{Field: "date", Message: "is required"}
	}
	for i, r := range reqs {
		if strings.TrimSpace(r.ItemName) == "" {
			return ledger.Quote{}, &ledger.ValidationError{Field: fmt.Sprintf("items[%d].item_name", i), Message: "is required"}
		}
		if r.Quantity < 1 {
			return ledger.Quote{}, &ledger.ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "must be at least 1"}
		}
	}

	items, err := e.resolve(ctx, reqs)
	if err != nil {
		return ledger.Quote{}, err
	}

	q := ledger.Quote{
		ID:           ledger.QuoteID(uuid.NewString()),
		Date:         date,
		DiscountRate: decimal.Zero,
		Total:        decimal.Zero,
		CreatedAt:    e.Now().UTC(),
	}
	for _, it := range items {
		rate := policy.DiscountRate(it.quantity)
		line := ledger.QuoteLine{
			ItemName:     it.item.Name,
			Quantity:     it.quantity,
			UnitPrice:    it.item.UnitPrice,
			DiscountRate: rate,
			LineTotal:    policy.LineTotal(it.quantity, it.item.UnitPrice),
		}
		q.Lines = append(q.Lines, line)
		q.Total = q.Total.Add(line.LineTotal)
		if rate.GreaterThan(q.DiscountRate) {
			q.DiscountRate = rate
		}
	}

	var similar []ledger.Quote
	if e.History != nil {
		similar = e.History.Search(ctx, q.ItemNames(), DefaultHistoryLimit)
	}
	if e.Explainer != nil {
		rationale, err := e.Explainer.Explain(ctx, q, similar)
		if err != nil {
			e.Log.WithError(err).WithField("quote_id", q.ID).Warn("failed to explain quote")
		}
		q.Rationale = rationale
	}

	if e.Archive != nil {
		if err := e.Archive.SaveQuote(ctx, q); err != nil {
			e.Log.WithError(err).WithField("quote_id", q.ID).Warn("failed to archive quote")
		}
	}

	e.Log.WithFields(logrus.Fields{
		"quote_id": q.ID,
		"lines":    len(q.Lines),
		"total":    q.Total.StringFixed(2),
	}).Info("quote generated")
	return q, nil
}

type resolvedLine struct {
	item     ledger.InventoryItem
	quantity int
}

// resolve maps request names onto catalog items, merging repeats and
// collecting every unknown name into one NotFoundError. Names match exactly
// first, then case-insensitively.
func (e *Engine) resolve(ctx context.Context, reqs []Request) ([]resolvedLine, error) {
	var (
		lines   []resolvedLine
		index   = make(map[string]int)
		unknown []string
		byNorm  map[string]ledger.InventoryItem
	)
	for _, r := range reqs {
		name := strings.TrimSpace(r.ItemName)
		item, err := e.Catalog.Item(ctx, name)
		if err != nil {
			return nil, &ledger.PersistenceError{Op: "load catalog item", Err: err}
		}
		if item == nil {
			if byNorm == nil {
				all, err := e.Catalog.Items(ctx)
				if err != nil {
					return nil, &ledger.PersistenceError{Op: "load catalog", Err: err}
				}
				byNorm = make(map[string]ledger.InventoryItem, len(all))
				for _, it := range all {
					byNorm[ledger.NormalizeName(it.Name)] = it
				}
			}
			if it, ok := byNorm[ledger.NormalizeName(name)]; ok {
				item = &it
			}
		}
		if item == nil {
			unknown = append(unknown, name)
			continue
		}
		if i, ok := index[item.Name]; ok {
			lines[i].quantity += r.Quantity
			continue
		}
		index[item.Name] = len(lines)
		lines = append(lines, resolvedLine{item: *item, quantity: r.Quantity})
	}
	if len(unknown) > 0 {
		return nil, &ledger.NotFoundError{Kind: "item", Names: unknown}
	}
	return lines, nil
}

// Get returns an archived quote.
func (e *Engine) Get(ctx context.Context, id ledger.QuoteID) (ledger.Quote, error) {
	if e.Archive == nil {
		return ledger.Quote{}, &ledger.NotFoundError{Kind: "quote", Names: []string{string(id)}}
	}
	q, err := e.Archive.GetQuote(ctx, id)
	if err != nil {
		return ledger.Quote{}, &ledger.PersistenceError{Op: "load quote", Err: err}
	}
	if q == nil {
		return ledger.Quote{}, &ledger.NotFoundError{Kind: "quote", Names: []string{string(id)}}
	}
	return *q, nil
}
