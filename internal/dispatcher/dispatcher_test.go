package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

// TestDispatcherRunsAllWorkers ensures every worker runs and a clean exit returns nil.
func TestDispatcherRunsAllWorkers(t *testing.T) {
	t.Parallel()

	var ran atomic.Int32
	workers := make([]Runner, 4)
	for i := range workers {
		workers[i] = runnerFunc(func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	d := New(workers)
	require.NoError(t, d.Run(context.Background()))
	assert.EqualValues(t, 4, ran.Load())
	assert.Equal(t, 4, d.Size())
}

// TestDispatcherFirstErrorCancelsOthers verifies an aborting worker stops the pool.
func TestDispatcherFirstErrorCancelsOthers(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	blocked := runnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	failing := runnerFunc(func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return boom
	})

	done := make(chan error, 1)
	go func() { done <- New([]Runner{blocked, failing, blocked}).Run(context.Background()) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after worker failure")
	}
}

// TestDispatcherStopsOnCancel ensures parent cancellation reaches the workers.
func TestDispatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	w := runnerFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New([]Runner{w}).Run(ctx) }()

	<-started
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherWithoutWorkers(t *testing.T) {
	t.Parallel()

	require.Error(t, New(nil).Run(context.Background()))
}
