/*
Package lock provides keyed exclusive sections for ledger writers.

PURPOSE:
  Fulfillment and restock decisions read a balance and then append a
  movement. Two writers touching the same item (or, for restocks, cash)
  must not interleave between the read and the append. A writer acquires
  the keys it touches and holds them across recompute + append.

DEADLOCK AVOIDANCE:
  Keys are de-duplicated and acquired in sorted order, so two writers
  wanting {A, B} and {B, A} always contend on A first.

BOUNDED WAITING:
  Acquisition honours ctx and the locker's timeout. A writer that cannot
  enter in time gets *ledger.ConcurrencyConflictError and nothing has been
  appended.

IMPLEMENTATIONS:
  - Local: in-process, one buffered channel per key
  - Redis: bsm/redislock, for several processes sharing one database
*/
package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/quote-ledger/ledger"
)

// CashKey serializes every writer that spends cash.
const CashKey = "$cash"

// CatalogKey serializes catalog seeding.
const CatalogKey = "$catalog"

// DefaultTimeout bounds acquisition when no timeout is configured.
const DefaultTimeout = 5 * time.Second

type Locker interface {
	// Acquire blocks until every key is held, ctx is done, or the locker's
	// timeout elapses. release must be called exactly once.
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// Keys returns keys de-duplicated and sorted.
func Keys(keys ...string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// LOCAL - In-process keyed locks
// =============================================================================

type Local struct {
	Timeout time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocal(timeout time.Duration) *Local {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Local{Timeout: timeout, slots: make(map[string]chan struct{})}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *Local) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = Keys(keys...)
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	held := make([]chan struct{}, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, k := range keys {
		ch := l.slot(k)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, &ledger.ConcurrencyConflictError{Keys: keys, Waited: time.Since(start), Err: ctx.Err()}
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

var _ Locker = (*Local)(nil)
