package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForWaiters(t *testing.T, ts *turnstile, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return ts.waiting() == n }, time.Second, time.Millisecond)
}

func TestTurnstile_GrantsInArrivalOrder(t *testing.T) {
	var ts turnstile
	require.NoError(t, ts.acquire(context.Background()))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if !assert.NoError(t, ts.acquire(context.Background())) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			ts.release()
		}(i)
		waitForWaiters(t, &ts, i+1)
	}

	ts.release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestTurnstile_CancelledWaiterLeavesQueue(t *testing.T) {
	var ts turnstile
	require.NoError(t, ts.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- ts.acquire(ctx) }()
	waitForWaiters(t, &ts, 1)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 0, ts.waiting())

	ts.release()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	assert.NoError(t, ts.acquire(ctx2))
}
