/*
scheduler.go - Automated restock sweep

PURPOSE:
  Periodically evaluates the restock policy for every catalog item with a
  minimum stock level, so items drained by orders are replenished without
  a client calling /api/restock.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each sweep evaluates items one at a time, each under its own
    {item, cash} lock, so orders on other items are never blocked
  - A failing item is logged and the sweep moves on

USAGE:
  scheduler := NewRestockScheduler(handler.Store, handler.Restock, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: EvaluateRestock endpoint (manual restock)
  - policy/restock.go: RestockPolicy
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/policy"
)

// RestockScheduler runs the restock policy over the catalog on an interval.
type RestockScheduler struct {
	Catalog       ledger.CatalogStore
	Restock       *policy.RestockPolicy
	CheckInterval time.Duration
	Enabled       bool
	Log           logrus.FieldLogger
	Today         func() ledger.Date

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRestockScheduler creates a new scheduler.
func NewRestockScheduler(catalog ledger.CatalogStore, restock *policy.RestockPolicy, log logrus.FieldLogger) *RestockScheduler {
	return &RestockScheduler{
		Catalog:       catalog,
		Restock:       restock,
		CheckInterval: time.Hour,
		Enabled:       true,
		Log:           log.WithField("component", "scheduler"),
		Today:         ledger.Today,
	}
}

// Start begins the scheduler. It is a no-op when disabled or when the
// interval is not positive.
func (rs *RestockScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Log.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run()

	rs.Log.WithField("interval", rs.CheckInterval.String()).Info("started")
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (rs *RestockScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Log.Info("stopped")
	}
}

func (rs *RestockScheduler) run() {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rs.stop
		cancel()
	}()

	// Run immediately on start
	rs.sweep(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.sweep(ctx)
		case <-rs.stop:
			return
		}
	}
}

// sweep evaluates every catalog item with a positive MinStock as of today
// and returns the decisions made.
func (rs *RestockScheduler) sweep(ctx context.Context) []policy.RestockDecision {
	today := rs.Today()
	items, err := rs.Catalog.Items(ctx)
	if err != nil {
		rs.Log.WithError(err).Error("failed to list catalog")
		return nil
	}

	var (
		decisions []policy.RestockDecision
		ordered   int
		rejected  int
	)
	for _, item := range items {
		if item.MinStock <= 0 {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		d, err := rs.Restock.Evaluate(ctx, item.Name, today)
		if err != nil {
			rs.Log.WithError(err).WithField("item", item.Name).Warn("restock evaluation failed")
			continue
		}
		switch d.(type) {
		case policy.Ordered:
			ordered++
		case policy.Rejected:
			rejected++
		}
		decisions = append(decisions, d)
	}

	if ordered > 0 || rejected > 0 {
		rs.Log.WithFields(logrus.Fields{
			"date":     today.String(),
			"ordered":  ordered,
			"rejected": rejected,
		}).Info("restock sweep completed")
	}
	return decisions
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *RestockScheduler) RunNow(ctx context.Context) []policy.RestockDecision {
	return rs.sweep(ctx)
}
