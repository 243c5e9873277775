/*
errors.go - Error taxonomy for the ledger and the policies built on it

ERROR CATEGORIES:
  1. Client errors - ValidationError, NotFoundError
  2. Business outcomes - InsufficientStockError, InsufficientCashError
     (carried inside Order / RestockDecision values, not raised)
  3. Contention - ConcurrencyConflictError
  4. Fatal - PersistenceError

Every structured error unwraps to a sentinel so callers can branch with
errors.Is and still reach the details with errors.As.
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientCash    = errors.New("insufficient cash")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrPersistence         = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError reports bad input: a non-positive quantity, a malformed
// date, an unknown movement kind.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError names every unknown item of a request.
type NotFoundError struct {
	Kind  string // "item", "quote"
	Names []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, strings.Join(e.Names, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Shortfall is one item an order could not cover.
type Shortfall struct {
	Item      string
	Requested int
	Available int
}

// InsufficientStockError lists every short item of a rejected order.
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, len(e.Shortfalls))
	for i, s := range e.Shortfalls {
		parts[i] = fmt.Sprintf("%s (requested %d, available %d)", s.Item, s.Requested, s.Available)
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Items returns the names of the short items.
func (e *InsufficientStockError) Items() []string {
	names := make([]string, len(e.Shortfalls))
	for i, s := range e.Shortfalls {
		names[i] = s.Item
	}
	return names
}

// InsufficientCashError reports a restock the cash balance cannot pay for.
type InsufficientCashError struct {
	Item      string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCashError) Error() string {
	return fmt.Sprintf("insufficient cash to restock %s: need %s, have %s",
		e.Item, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *InsufficientCashError) Unwrap() error { return ErrInsufficientCash }

// ConcurrencyConflictError is returned when a writer could not enter its
// exclusive section within the configured bound.
type ConcurrencyConflictError struct {
	Keys   []string
	Waited time.Duration
	Err    error
}

func (e *ConcurrencyConflictError) Error() string {
	msg := fmt.Sprintf("concurrency conflict: could not lock %s after %s", strings.Join(e.Keys, ", "), e.Waited)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConcurrencyConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConcurrencyConflict}
	}
	return []error{ErrConcurrencyConflict, e.Err}
}

// PersistenceError wraps a failure of the durable store. It is surfaced
// verbatim to callers and always aborts the operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// persistence wraps err unless it already carries ledger semantics.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}

// IsConflict returns true for outcomes that depend on current balances or
// contention rather than on the request itself.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientCash) ||
		errors.Is(err, ErrConcurrencyConflict)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
