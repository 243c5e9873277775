// Package events publishes the outcomes of fulfillment and restock
// decisions. Publishing is best-effort: the ledger is the record, events are
// notifications, so publish failures are logged by callers and never undo a
// committed movement.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Topics
const (
	TopicOrderFulfilled  = "order.fulfilled"
	TopicOrderRejected   = "order.rejected"
	TopicRestockOrdered  = "restock.ordered"
	TopicRestockRejected = "restock.rejected"
)

type Publisher interface {
	// Publish sends payload to topic. key groups related events (an order
	// id, an item name) on brokers that partition by key.
	Publish(ctx context.Context, topic, key string, payload any) error
	Close() error
}

// =============================================================================
// PAYLOADS
// =============================================================================

type OrderLine struct {
	ItemName  string          `json:"item_name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderEvent struct {
	OrderID    string      `json:"order_id"`
	QuoteID    string      `json:"quote_id"`
	Status     string      `json:"status"`
	Date       string      `json:"date"`
	Lines      []OrderLine `json:"lines"`
	Total      string      `json:"total"`
	Reason     string      `json:"reason,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

type RestockEvent struct {
	ItemName   string    `json:"item_name"`
	Quantity   int       `json:"quantity"`
	Cost       string    `json:"cost"`
	Date       string    `json:"date"`
	ETA        string    `json:"eta,omitempty"`
	MovementID string    `json:"movement_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// =============================================================================
// LOG PUBLISHER - Default when no broker is configured
// =============================================================================

type Log struct {
	log logrus.FieldLogger
}

func NewLog(log logrus.FieldLogger) *Log {
	return &Log{log: log.WithField("component", "events")}
}

func (p *Log) Publish(_ context.Context, topic, key string, payload any) error {
	p.log.WithFields(logrus.Fields{
		"topic":   topic,
		"key":     key,
		"payload": payload,
	}).Info("event published")
	return nil
}

func (p *Log) Close() error { return nil }

// =============================================================================
// RECORDER - Keeps events in memory (tests, dry runs)
// =============================================================================

type Record struct {
	Topic   string
	Key     string
	Payload any
}

type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *Recorder) Publish(_ context.Context, topic, key string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Topic: topic, Key: key, Payload: payload})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Records returns a copy of everything published so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Topics returns the topic of every record, in publish order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, len(r.records))
	for i, rec := range r.records {
		topics[i] = rec.Topic
	}
	return topics
}

var (
	_ Publisher = (*Log)(nil)
	_ Publisher = (*Recorder)(nil)
)
