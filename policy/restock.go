package policy

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

// DefaultRestockBuffer is how far above MinStock a replenishment lands.
const DefaultRestockBuffer = 200

// =============================================================================
// RESTOCK DECISION - Sum type
// =============================================================================

// RestockDecision is one of NoActionNeeded, Ordered or Rejected.
type RestockDecision interface {
	Item() string
	isRestockDecision()
}

// NoActionNeeded: stock is at or above the floor.
type NoActionNeeded struct {
	ItemName string
	Stock    int
	MinStock int
}

// Ordered: a restock movement was appended.
type Ordered struct {
	ItemName   string
	Quantity   int
	Cost       decimal.Decimal
	Date       ledger.Date
	ETA        ledger.Date
	MovementID ledger.MovementID
	Reference  string
}

// Rejected: cash could not cover the restock; the ledger is untouched.
type Rejected struct {
	ItemName string
	Quantity int
	Cost     decimal.Decimal
	Err      *ledger.InsufficientCashError
}

func (d NoActionNeeded) Item() string { return d.ItemName }
func (d Ordered) Item() string        { return d.ItemName }
func (d Rejected) Item() string       { return d.ItemName }

func (NoActionNeeded) isRestockDecision() {}
func (Ordered) isRestockDecision()        {}
func (Rejected) isRestockDecision()       {}

// =============================================================================
// RESTOCK POLICY
// =============================================================================

type RestockPolicy struct {
	Catalog  ledger.CatalogStore
	Ledger   ledger.Ledger
	Balances *ledger.Reconstructor
	Locker   lock.Locker
	Events   events.Publisher
	Log      logrus.FieldLogger

	// Buffer is added to the shortfall below MinStock.
	Buffer int
}

func NewRestockPolicy(catalog ledger.CatalogStore, l ledger.Ledger, balances *ledger.Reconstructor, locker lock.Locker, pub events.Publisher, log logrus.FieldLogger) *RestockPolicy {
	return &RestockPolicy{
		Catalog:  catalog,
		Ledger:   l,
		Balances: balances,
		Locker:   locker,
		Events:   pub,
		Log:      log.WithField("component", "restock"),
		Buffer:   DefaultRestockBuffer,
	}
}

// outcome is a decision plus the event to publish once the lock section is
// released. An empty topic publishes nothing.
type outcome struct {
	decision RestockDecision
	topic    string
	event    events.RestockEvent
}

// Evaluate restocks item when its stock at asOf is below MinStock. The
// restock quantity is the shortfall plus Buffer.
func (p *RestockPolicy) Evaluate(ctx context.Context, item string, asOf ledger.Date) (RestockDecision, error) {
	catalogItem, err := p.lookup(ctx, item)
	if err != nil {
		return nil, err
	}

	return p.locked(ctx, item, func() (outcome, error) {
		stock, err := p.Balances.StockLevel(ctx, item, asOf)
		if err != nil {
			return outcome{}, err
		}
		if stock >= catalogItem.MinStock {
			return outcome{decision: NoActionNeeded{ItemName: item, Stock: stock, MinStock: catalogItem.MinStock}}, nil
		}

		quantity := catalogItem.MinStock - stock + p.Buffer
		reason := fmt.Sprintf("stock %d below minimum %d", stock, catalogItem.MinStock)
		return p.buy(ctx, *catalogItem, quantity, asOf, reason)
	})
}

// Reorder buys an explicit quantity of item, subject to the same cash gate.
func (p *RestockPolicy) Reorder(ctx context.Context, item string, quantity int, asOf ledger.Date) (RestockDecision, error) {
	if quantity < 1 {
		return nil, &ledger.ValidationError{Field: "quantity", Message: "must be at least 1"}
	}
	catalogItem, err := p.lookup(ctx, item)
	if err != nil {
		return nil, err
	}

	return p.locked(ctx, item, func() (outcome, error) {
		return p.buy(ctx, *catalogItem, quantity, asOf, "manual reorder")
	})
}

// locked runs decide inside the {item, cash} section and publishes its event
// after the section is released.
func (p *RestockPolicy) locked(ctx context.Context, item string, decide func() (outcome, error)) (RestockDecision, error) {
	release, err := p.Locker.Acquire(ctx, item, lock.CashKey)
	if err != nil {
		return nil, err
	}
	out, err := func() (outcome, error) {
		defer release()
		return decide()
	}()
	if err != nil {
		return nil, err
	}

	if out.topic != "" {
		p.publish(ctx, out.topic, out.event)
	}
	return out.decision, nil
}

func (p *RestockPolicy) lookup(ctx context.Context, name string) (*ledger.InventoryItem, error) {
	item, err := p.Catalog.Item(ctx, name)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "load catalog item", Err: err}
	}
	if item == nil {
		return nil, &ledger.NotFoundError{Kind: "item", Names: []string{name}}
	}
	return item, nil
}

// buy must run inside the {item, cash} lock section.
func (p *RestockPolicy) buy(ctx context.Context, item ledger.InventoryItem, quantity int, asOf ledger.Date, reason string) (outcome, error) {
	log := p.Log.WithFields(logrus.Fields{"item": item.Name, "quantity": quantity, "date": asOf.String()})
	cost := item.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))

	cash, err := p.Balances.MinCashFrom(ctx, asOf)
	if err != nil {
		return outcome{}, err
	}
	if cash.LessThan(cost) {
		rejected := Rejected{
			ItemName: item.Name,
			Quantity: quantity,
			Cost:     cost,
			Err:      &ledger.InsufficientCashError{Item: item.Name, Required: cost, Available: cash},
		}
		log.WithField("cost", cost.StringFixed(2)).Warn("restock rejected: insufficient cash")
		return outcome{
			decision: rejected,
			topic:    events.TopicRestockRejected,
			event: events.RestockEvent{
				ItemName: item.Name,
				Quantity: quantity,
				Cost:     cost.StringFixed(2),
				Date:     asOf.String(),
				Reason:   rejected.Err.Error(),
			},
		}, nil
	}

	ref := "restock-" + uuid.NewString()
	id, err := p.Ledger.Append(ctx, ledger.Movement{
		ItemName:  item.Name,
		Kind:      ledger.KindRestock,
		Quantity:  quantity,
		UnitPrice: item.UnitPrice,
		Date:      asOf,
		Reference: ref,
		Reason:    reason,
	})
	if err != nil {
		return outcome{}, err
	}

	ordered := Ordered{
		ItemName:   item.Name,
		Quantity:   quantity,
		Cost:       cost,
		Date:       asOf,
		ETA:        DeliveryDate(asOf, quantity),
		MovementID: id,
		Reference:  ref,
	}
	log.WithField("cost", cost.StringFixed(2)).Info("restock ordered")
	return outcome{
		decision: ordered,
		topic:    events.TopicRestockOrdered,
		event: events.RestockEvent{
			ItemName:   item.Name,
			Quantity:   quantity,
			Cost:       cost.StringFixed(2),
			Date:       asOf.String(),
			ETA:        ordered.ETA.String(),
			MovementID: string(id),
			Reason:     reason,
		},
	}, nil
}

func (p *RestockPolicy) publish(ctx context.Context, topic string, ev events.RestockEvent) {
	if p.Events == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	if err := p.Events.Publish(ctx, topic, ev.ItemName, ev); err != nil {
		p.Log.WithError(err).WithField("topic", topic).Warn("failed to publish event")
	}
}
