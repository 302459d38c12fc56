package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRequiresWorkerFunc(t *testing.T) {
	_, err := New(DefaultConfig(), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestPoolProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}

	pool, err := New(Config{Workers: 4, QueueSize: 16, GracefulShutdownTimeout: 5 * time.Second},
		func(_ context.Context, job *Job) error {
			mu.Lock()
			seen[job.ID] = true
			mu.Unlock()
			return nil
		}, zap.NewNop())
	require.NoError(t, err)

	pool.Start()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Submit(&Job{ID: id}))
	}
	require.NoError(t, pool.Stop())

	assert.Len(t, seen, 3)
	stats := pool.Stats()
	assert.Equal(t, int64(3), stats.Submitted)
	assert.Equal(t, int64(3), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestPoolRetriesThenFails(t *testing.T) {
	var attempts int64

	pool, err := New(Config{Workers: 1, QueueSize: 4, MaxRetries: 2, RetryDelay: time.Millisecond, GracefulShutdownTimeout: 5 * time.Second},
		func(context.Context, *Job) error {
			atomic.AddInt64(&attempts, 1)
			return errors.New("always fails")
		}, zap.NewNop())
	require.NoError(t, err)

	pool.Start()
	require.NoError(t, pool.Submit(&Job{ID: "doomed"}))
	require.NoError(t, pool.Stop())

	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(2), stats.Retried)
}

func TestSubmitFailsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	pool, err := New(Config{Workers: 1, QueueSize: 1, GracefulShutdownTimeout: 5 * time.Second},
		func(context.Context, *Job) error {
			<-release
			return nil
		}, zap.NewNop())
	require.NoError(t, err)

	pool.Start()
	// First job occupies the worker, second fills the queue.
	require.NoError(t, pool.Submit(&Job{ID: "running"}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, pool.Submit(&Job{ID: "queued"}))

	err = pool.Submit(&Job{ID: "rejected"})
	assert.Error(t, err)

	close(release)
	require.NoError(t, pool.Stop())
}

func TestSubmitFailsAfterStop(t *testing.T) {
	pool, err := New(Config{Workers: 1, QueueSize: 4, GracefulShutdownTimeout: time.Second},
		func(context.Context, *Job) error { return nil }, zap.NewNop())
	require.NoError(t, err)

	pool.Start()
	require.NoError(t, pool.Stop())

	assert.Error(t, pool.Submit(&Job{ID: "late"}))
}
