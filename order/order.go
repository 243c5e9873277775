/*
Package order commits priced quotes against the ledger.

PURPOSE:
  Fulfillment turns a Quote into sale movements, all or nothing. It is the
  only writer of sales and the reason a stock balance is never negative.

FLOW:
  1. Lock every item of the quote
  2. For each line: available = lowest stock from the order date onward
  3. Any shortfall: reject, nothing appended
  4. Otherwise append one sale per line in a single batch
  5. Publish order.fulfilled / order.rejected

Using the low watermark from the order date (not the balance on the order
date) keeps backfilled orders from overdrawing sales already recorded on
later dates.

BUSINESS VS HARD ERRORS:
  Rejections are outcomes: Place returns the rejected Order and a nil error.
  Lock timeouts and store failures are returned as errors.
*/
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/quote-ledger/events"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/lock"
)

type ID string

type Status string

const (
	StatusFulfilled Status = "fulfilled"
	StatusRejected  Status = "rejected"
)

// Order is the outcome of committing a quote.
type Order struct {
	ID          ID
	Quote       ledger.Quote
	Date        ledger.Date
	Status      Status
	MovementIDs []ledger.MovementID // empty when rejected
	Reason      error               // *ledger.InsufficientStockError when rejected
	CreatedAt   time.Time
}

func (o Order) Fulfilled() bool { return o.Status == StatusFulfilled }

// Shortfalls returns the short items of a rejected order.
func (o Order) Shortfalls() []ledger.Shortfall {
	if se, ok := o.Reason.(*ledger.InsufficientStockError); ok {
		return se.Shortfalls
	}
	return nil
}

// =============================================================================
// FULFILLMENT
// =============================================================================

type Fulfillment struct {
	Ledger   ledger.Ledger
	Balances *ledger.Reconstructor
	Catalog  ledger.CatalogStore
	Locker   lock.Locker
	Events   events.Publisher
	Log      logrus.FieldLogger
	Now      func() time.Time
}

func NewFulfillment(l ledger.Ledger, balances *ledger.Reconstructor, catalog ledger.CatalogStore, locker lock.Locker, pub events.Publisher, log logrus.FieldLogger) *Fulfillment {
	return &Fulfillment{
		Ledger:   l,
		Balances: balances,
		Catalog:  catalog,
		Locker:   locker,
		Events:   pub,
		Log:      log.WithField("component", "order"),
		Now:      time.Now,
	}
}

// Place commits q on date.
func (f *Fulfillment) Place(ctx context.Context, q ledger.Quote, date ledger.Date) (Order, error) {
	if err := validate(q, date); err != nil {
		return Order{}, err
	}

	o := Order{
		ID:        ID(uuid.NewString()),
		Quote:     q,
		Date:      date,
		CreatedAt: f.Now().UTC(),
	}
	log := f.Log.WithFields(logrus.Fields{
		"order_id": o.ID,
		"quote_id": q.ID,
		"date":     date.String(),
	})

	topic, err := f.commit(ctx, &o, log)
	if err != nil {
		return Order{}, err
	}
	f.publish(ctx, topic, o)
	return o, nil
}

// commit decides o and appends its sales inside the section over the quote's
// items. It returns the topic to publish once the section is released.
func (f *Fulfillment) commit(ctx context.Context, o *Order, log logrus.FieldLogger) (string, error) {
	q := o.Quote
	release, err := f.Locker.Acquire(ctx, q.ItemNames()...)
	if err != nil {
		return "", err
	}
	defer release()

	var shortfalls []ledger.Shortfall
	for _, line := range q.Lines {
		available, err := f.Balances.MinStockFrom(ctx, line.ItemName, o.Date)
		if err != nil {
			return "", err
		}
		if available < line.Quantity {
			shortfalls = append(shortfalls, ledger.Shortfall{
				Item:      line.ItemName,
				Requested: line.Quantity,
				Available: available,
			})
		}
	}

	if len(shortfalls) > 0 {
		o.Status = StatusRejected
		o.Reason = &ledger.InsufficientStockError{Shortfalls: shortfalls}
		log.WithField("reason", o.Reason.Error()).Info("order rejected")
		return events.TopicOrderRejected, nil
	}

	sales := make([]ledger.Movement, len(q.Lines))
	for i, line := range q.Lines {
		sales[i] = ledger.Movement{
			ItemName:  line.ItemName,
			Kind:      ledger.KindSale,
			Quantity:  line.Quantity,
			UnitPrice: line.DiscountedUnitPrice(),
			Date:      o.Date,
			Reference: string(o.ID),
			Reason:    "quote " + string(q.ID),
		}
	}
	ids, err := f.Ledger.AppendBatch(ctx, sales)
	if err != nil {
		log.WithError(err).Error("failed to record order")
		return "", err
	}

	o.Status = StatusFulfilled
	o.MovementIDs = ids
	log.WithField("total", q.Total.StringFixed(2)).Info("order fulfilled")
	return events.TopicOrderFulfilled, nil
}

// LowStock lists the items of o whose stock on the order date is now below
// their catalog MinStock. Restocking them is the caller's decision.
func (f *Fulfillment) LowStock(ctx context.Context, o Order) ([]string, error) {
	var low []string
	for _, name := range o.Quote.ItemNames() {
		item, err := f.Catalog.Item(ctx, name)
		if err != nil {
			return nil, &ledger.PersistenceError{Op: "load catalog item", Err: err}
		}
		if item == nil {
			continue
		}
		stock, err := f.Balances.StockLevel(ctx, name, o.Date)
		if err != nil {
			return nil, err
		}
		if stock < item.MinStock {
			low = append(low, name)
		}
	}
	return low, nil
}

func validate(q ledger.Quote, date ledger.Date) error {
	if len(q.Lines) == 0 {
		return &ledger.ValidationError{Field: "quote.lines", Message: "quote has no lines"}
	}
	if date.IsZero() {
		return &ledger.ValidationError{Field: "date", Message: "is required"}
	}
	seen := make(map[string]bool, len(q.Lines))
	for i, line := range q.Lines {
		if line.Quantity < 1 {
			return &ledger.ValidationError{Field: fmt.Sprintf("quote.lines[%d].quantity", i), Message: "must be at least 1"}
		}
		if seen[line.ItemName] {
			return &ledger.ValidationError{Field: fmt.Sprintf("quote.lines[%d].item_name", i), Message: "duplicate item " + line.ItemName}
		}
		seen[line.ItemName] = true
	}
	return nil
}

func (f *Fulfillment) publish(ctx context.Context, topic string, o Order) {
	if f.Events == nil {
		return
	}
	ev := events.OrderEvent{
		OrderID:    string(o.ID),
		QuoteID:    string(o.Quote.ID),
		Status:     string(o.Status),
		Date:       o.Date.String(),
		Total:      o.Quote.Total.StringFixed(2),
		OccurredAt: o.CreatedAt,
	}
	for _, l := range o.Quote.Lines {
		ev.Lines = append(ev.Lines, events.OrderLine{
			ItemName:  l.ItemName,
			Quantity:  l.Quantity,
			UnitPrice: l.DiscountedUnitPrice().Round(2),
		})
	}
	if o.Reason != nil {
		ev.Reason = o.Reason.Error()
	}
	if err := f.Events.Publish(ctx, topic, string(o.ID), ev); err != nil {
		f.Log.WithError(err).WithField("topic", topic).Warn("failed to publish event")
	}
}

// Total is the sum of the order's sale values; zero for a rejected order.
func (o Order) Total() decimal.Decimal {
	if !o.Fulfilled() {
		return decimal.Zero
	}
	return o.Quote.Total
}
