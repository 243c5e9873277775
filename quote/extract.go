package quote

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/warp/quote-ledger/ledger"
)

// =============================================================================
// EXTRACTOR - Free text to requests
// =============================================================================

// Extractor turns a customer's free-text request into item requests.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]Request, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, text string) ([]Request, error)

func (f ExtractorFunc) Extract(ctx context.Context, text string) ([]Request, error) {
	return f(ctx, text)
}

// ResolveExtractor uses primary and degrades to fallback when primary fails
// or finds nothing.
func ResolveExtractor(primary, fallback Extractor) Extractor {
	return ExtractorFunc(func(ctx context.Context, text string) ([]Request, error) {
		if primary != nil {
			reqs, err := primary.Extract(ctx, text)
			if err == nil && len(reqs) > 0 {
				return reqs, nil
			}
		}
		if fallback == nil {
			return nil, errors.New("no extractor available")
		}
		return fallback.Extract(ctx, text)
	})
}

// LineExtractor parses one request per line, semicolon, ", " or " and ":
//
//	250 A4 paper
//	250 sheets of A4 paper
//	A4 paper: 250
//	A4 paper x 250
//
// A trailing quantity wins, so names that start with a number
// ("250 gsm cardstock: 100") keep it.
type LineExtractor struct{}

var (
	qtyFirst = regexp.MustCompile(`(?i)^(\d[\d,]*)\s*(?:x\s+|(?:units?|sheets?|reams?|packs?|rolls?|boxes|box)\s+of\s+|of\s+)?(.+)$`)
	qtyLast  = regexp.MustCompile(`(?i)^(.+?)\s*(?::|=|-|\s+x)\s*(\d[\d,]*)$`)
	splitter = regexp.MustCompile(`[\n;]+|,\s+|\s+and\s+`)
)

func (LineExtractor) Extract(_ context.Context, text string) ([]Request, error) {
	var reqs []Request
	for _, part := range splitter.Split(text, -1) {
		part = strings.Trim(strings.TrimSpace(part), ".")
		if part == "" {
			continue
		}
		if m := qtyLast.FindStringSubmatch(part); m != nil {
			if qty, ok := parseQty(m[2]); ok {
				reqs = append(reqs, Request{ItemName: strings.TrimSpace(m[1]), Quantity: qty})
				continue
			}
		}
		if m := qtyFirst.FindStringSubmatch(part); m != nil {
			if qty, ok := parseQty(m[1]); ok {
				reqs = append(reqs, Request{ItemName: strings.TrimSpace(m[2]), Quantity: qty})
			}
		}
	}
	if len(reqs) == 0 {
		return nil, &ledger.ValidationError{Field: "text", Message: "no item quantities found"}
	}
	return reqs, nil
}

func parseQty(s string) (int, bool) {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	return n, err == nil
}
