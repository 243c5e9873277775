package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/policy"
)

// =============================================================================
// EXPLAINER - Rationale text for a priced quote
// =============================================================================

// Explainer writes the customer-facing rationale of a quote. It never
// changes the quote's numbers.
type Explainer interface {
	Explain(ctx context.Context, q ledger.Quote, similar []ledger.Quote) (string, error)
}

// ExplainerFunc adapts a function to Explainer.
type ExplainerFunc func(ctx context.Context, q ledger.Quote, similar []ledger.Quote) (string, error)

func (f ExplainerFunc) Explain(ctx context.Context, q ledger.Quote, similar []ledger.Quote) (string, error) {
	return f(ctx, q, similar)
}

// ErrNoHistory is returned by HistoryExplainer when there is nothing to
// compare against.
var ErrNoHistory = errors.New("no similar quotes")

// Resolve returns an Explainer that uses primary and degrades to fallback
// when primary fails or returns empty text.
func Resolve(primary, fallback Explainer) Explainer {
	return ExplainerFunc(func(ctx context.Context, q ledger.Quote, similar []ledger.Quote) (string, error) {
		if primary != nil {
			text, err := primary.Explain(ctx, q, similar)
			if err == nil && strings.TrimSpace(text) != "" {
				return text, nil
			}
		}
		if fallback == nil {
			return "", errors.New("no explainer available")
		}
		return fallback.Explain(ctx, q, similar)
	})
}

// =============================================================================
// TIER EXPLAINER - Deterministic fallback
// =============================================================================

// TierExplainer describes each line's volume tier.
type TierExplainer struct{}

func (TierExplainer) Explain(_ context.Context, q ledger.Quote, _ []ledger.Quote) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Quote for %d item(s) totalling %s.", len(q.Lines), q.Total.StringFixed(2))
	for _, l := range q.Lines {
		fmt.Fprintf(&b, " %s: %d at %s each", l.ItemName, l.Quantity, l.UnitPrice.StringFixed(2))
		if l.DiscountRate.IsPositive() {
			fmt.Fprintf(&b, ", %s volume discount", percent(l.DiscountRate))
		} else if next := nextTier(l.Quantity); next > 0 {
			fmt.Fprintf(&b, ", order %d or more for a discount", next)
		}
		fmt.Fprintf(&b, ", %s.", l.LineTotal.StringFixed(2))
	}
	return b.String(), nil
}

// nextTier is the smallest quantity with a discount, or 0 when quantity
// already has one.
func nextTier(quantity int) int {
	if policy.DiscountRate(quantity).IsPositive() {
		return 0
	}
	for q := quantity + 1; q <= 1001; q++ {
		if policy.DiscountRate(q).IsPositive() {
			return q
		}
	}
	return 0
}

func percent(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).String() + "%"
}

// =============================================================================
// HISTORY EXPLAINER - Primary, compares with similar past quotes
// =============================================================================

// HistoryExplainer relates the quote to the closest archived quote.
type HistoryExplainer struct{}

func (HistoryExplainer) Explain(ctx context.Context, q ledger.Quote, similar []ledger.Quote) (string, error) {
	var closest *ledger.Quote
	for i := range similar {
		if similar[i].ID != q.ID {
			closest = &similar[i]
			break
		}
	}
	if closest == nil {
		return "", ErrNoHistory
	}

	base, _ := TierExplainer{}.Explain(ctx, q, nil)
	shared := sharedItems(q, *closest)
	return fmt.Sprintf("%s Comparable to quote %s of %s (%s, total %s); pricing follows the same volume tiers.",
		base, closest.ID, closest.Date, strings.Join(shared, ", "), closest.Total.StringFixed(2)), nil
}

func sharedItems(a, b ledger.Quote) []string {
	in := nameSet(b.ItemNames())
	var out []string
	for _, n := range a.ItemNames() {
		if in[ledger.NormalizeName(n)] {
			out = append(out, n)
		}
	}
	return out
}
