package lock_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/lock"
)

func TestKeys_SortedAndDeduplicated(t *testing.T) {
	assert.Equal(t, []string{"$cash", "A4 paper", "Cardstock"},
		lock.Keys("Cardstock", "A4 paper", "$cash", "Cardstock", ""))
}

func TestLocal_ExcludesOverlappingKeys(t *testing.T) {
	// GIVEN: Many goroutines locking overlapping key sets in different orders
	// THEN: At most one is inside a section touching "A" at any time, and
	//       none deadlock

	l := lock.NewLocal(5 * time.Second)
	ctx := context.Background()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		keys := []string{"A", "B"}
		if i%2 == 0 {
			keys = []string{"B", "A"}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, keys...)
			if !assert.NoError(t, err) {
				return
			}
			n :=atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestLocal_DisjointKeysDoNotBlock(t *testing.T) {
	l := lock.NewLocal(100 * time.Millisecond)
	ctx := context.Background()

	releaseA, err := l.Acquire(ctx, "A")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := l.Acquire(ctx, "B")
	require.NoError(t, err)
	releaseB()
}

func TestLocal_TimeoutIsConcurrencyConflict(t *testing.T) {
	// GIVEN: "A" is held
	// WHEN: Another writer wants {A, B} with a short timeout
	// THEN: It gets ConcurrencyConflictError and does not keep B

	l := lock.NewLocal(20 * time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "A")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "A", "B")
	var cc *ledger.ConcurrencyConflictError
	require.ErrorAs(t, err, &cc)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, []string{"A", "B"}, cc.Keys)

	releaseB, err := l.Acquire(ctx, "B")
	require.NoError(t, err, "B must have been released")
	releaseB()

	release()
	releaseA, err := l.Acquire(ctx, "A")
	require.NoError(t, err)
	releaseA()
}

func TestLocal_ReleaseIsIdempotent(t *testing.T) {
	l := lock.NewLocal(time.Second)
	release, err := l.Acquire(context.Background(), "A")
	require.NoError(t, err)
	release()
	release()

	again, err := l.Acquire(context.Background(), "A")
	require.NoError(t, err)
	again()
}

func TestLocal_CancelledContext(t *testing.T) {
	l := lock.NewLocal(time.Second)
	hold, err := l.Acquire(context.Background(), "A")
	require.NoError(t, err)
	defer hold()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "A")
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
	assert.ErrorIs(t, err, context.Canceled)
}

// Set TEST_REDIS_ADDRESS to run against a real server.
func TestRedis_Exclusion(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDRESS not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	l := lock.NewRedis(rdb, 100*time.Millisecond, logrus.New())
	l.Prefix = "lock:test:" + t.Name() + ":"
	ctx := context.Background()

	release, err := l.Acquire(ctx, "A", "$cash")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "A")
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)

	release()
	again, err := l.Acquire(ctx, "A")
	require.NoError(t, err)
	again()
}
