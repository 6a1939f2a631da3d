package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocker_Exclusive(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Lock(ctx, "host"))
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			l.Unlock("host")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.Held())
}

func TestKeyedLocker_UnlockNotHeld(t *testing.T) {
	l := NewKeyedLocker()
	l.Unlock("nothing")
	assert.Equal(t, 0, l.Held())
}

func TestKeyedLocker_ContextCancel(t *testing.T) {
	l := NewKeyedLocker()
	require.NoError(t, l.Lock(context.Background(), "k"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Lock(ctx, "k"), context.Canceled)
	assert.Equal(t, 1, l.Held())
}

func waiters(l *KeyedLocker, key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q, ok := l.held[key]; ok {
		return len(q.waiters)
	}
	return 0
}

func TestKeyedLocker_ArrivalOrder(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()
	require.NoError(t, l.Lock(ctx, "host"))

	const n = 8
	order := make(chan int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Lock(ctx, "host"))
			order <- i
			l.Unlock("host")
		}()
		require.Eventually(t, func() bool { return waiters(l, "host") == i+1 },
			time.Second, time.Millisecond)
	}

	l.Unlock("host")
	wg.Wait()
	close(order)

	var got []int
	for i := range order {
		got = append(got, i)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, got)
	assert.Equal(t, 0, l.Held())
}

func TestKeyedLocker_CancelledWaiterSkipped(t *testing.T) {
	l := NewKeyedLocker()
	require.NoError(t, l.Lock(context.Background(), "k"))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Lock(ctx, "k") }()
	require.Eventually(t, func() bool { return waiters(l, "k") == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	l.Unlock("k")
	assert.Equal(t, 0, l.Held(), "cancelled waiter does not inherit the lock")

	lockCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	require.NoError(t, l.Lock(lockCtx, "k"))
}
