package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesAllTasks(t *testing.T) {
	pool, err := New(Config{Workers: 4, QueueSize: 20}, func(_ context.Context, task Task) Result {
		n := task.Payload.(int)
		return Result{Value: n * 2}
	}, nil)
	require.NoError(t, err)
	pool.Start()

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(Task{Key: "k", Payload: i}))
	}

	sum := 0
	for i := 0; i < 10; i++ {
		result := <-pool.Results()
		require.NoError(t, result.Err)
		sum += result.Value.(int)
	}
	pool.Stop()

	assert.Equal(t, 90, sum) // 2 * (0 + 1 + ... + 9)
	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
}

func TestPoolIsolatesTaskFailure(t *testing.T) {
	boom := errors.New("boom")
	pool, err := New(Config{Workers: 2, QueueSize: 10}, func(_ context.Context, task Task) Result {
		if task.Key == "bad" {
			return Result{Err: boom}
		}
		return Result{Value: "ok"}
	}, nil)
	require.NoError(t, err)
	pool.Start()

	require.NoError(t, pool.Submit(Task{Key: "good-1"}))
	require.NoError(t, pool.Submit(Task{Key: "bad"}))
	require.NoError(t, pool.Submit(Task{Key: "good-2"}))

	var failed int
	for i := 0; i < 3; i++ {
		if result := <-pool.Results(); result.Err != nil {
			failed++
			assert.Equal(t, "bad", result.Key)
		}
	}
	pool.Stop()

	assert.Equal(t, 1, failed)
	assert.Equal(t, int64(1), pool.Stats().Failed)
}

func TestPoolConcurrencyBound(t *testing.T) {
	const workers = 3
	var active, peak int64

	pool, err := New(Config{Workers: workers, QueueSize: 32}, func(_ context.Context, _ Task) Result {
		n := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return Result{}
	}, nil)
	require.NoError(t, err)
	pool.Start()

	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(Task{Key: "k"}))
	}
	for i := 0; i < 20; i++ {
		<-pool.Results()
	}
	pool.Stop()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(workers))
}

func TestSubmitAfterStop(t *testing.T) {
	pool, err := New(Config{Workers: 1, QueueSize: 1}, func(_ context.Context, _ Task) Result {
		return Result{}
	}, nil)
	require.NoError(t, err)
	pool.Start()
	pool.Stop()

	assert.ErrorIs(t, pool.Submit(Task{Key: "late"}), ErrStopped)
}

func TestSubmitQueueFull(t *testing.T) {
	block := make(chan struct{})
	pool, err := New(Config{Workers: 1, QueueSize: 1}, func(_ context.Context, _ Task) Result {
		<-block
		return Result{}
	}, nil)
	require.NoError(t, err)
	pool.Start()
	defer func() {
		close(block)
		pool.Stop()
	}()

	// First task occupies the worker, second fills the queue.
	require.NoError(t, pool.Submit(Task{Key: "a"}))
	require.Eventually(t, func() bool {
		return pool.Submit(Task{Key: "b"}) == nil
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, pool.Submit(Task{Key: "c"}), ErrQueueFull)
}
