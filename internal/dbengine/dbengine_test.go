package dbengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectionLockIsFIFO(t *testing.T) {
	conn := &Connection{token: make(chan struct{}, 1)}
	conn.token <- struct{}{}

	ctx := context.Background()
	require.NoError(t, conn.Lock(ctx))

	const waiters = 5
	order := make([]int, 0, waiters)
	var mu sync.Mutex
	var wg sync.WaitGroup

	started := make(chan struct{}, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			time.Sleep(time.Duration(i) * 5 * time.Millisecond) // stagger arrival
			require.NoError(t, conn.Lock(ctx))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			conn.Unlock()
		}(i)
	}
	for i := 0; i < waiters; i++ {
		<-started
	}
	time.Sleep(50 * time.Millisecond) // let every goroutine reach conn.Lock and start waiting
	conn.Unlock()                     // release the lock this test took at the top

	wg.Wait()
	require.Len(t, order, waiters)
	for i := 0; i < waiters; i++ {
		require.Equal(t, i, order[i], "waiters should acquire the lock in arrival order")
	}
}

func TestRequestSubmitResolvesThroughPendingEvent(t *testing.T) {
	conn := NewConnection(nil)
	req := NewRequest(conn, func(ctx context.Context, c *Connection) (any, error) {
		return 42, nil
	})

	ev, result := req.Submit(context.Background())

	select {
	case mask := <-ev.Ready:
		next, err := ev.Resume(mask)
		require.NoError(t, err)
		require.Nil(t, next)
	case <-time.After(time.Second):
		t.Fatal("request never signaled readiness")
	}

	require.Equal(t, 42, result.Value)
	require.NoError(t, result.Err)
}

func TestRequestSerializesOnSharedConnection(t *testing.T) {
	conn := NewConnection(nil)

	var active int32
	var maxActive int32
	var mu sync.Mutex

	body := func(ctx context.Context, c *Connection) (any, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := NewRequest(conn, body)
			ev, _ := req.Submit(context.Background())
			<-ev.Ready
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, maxActive, "at most one request body should run at a time on a shared connection")
}
