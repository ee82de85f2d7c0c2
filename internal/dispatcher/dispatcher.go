// Package dispatcher fans the frontier out to a pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Runner is one worker loop.
type Runner interface {
	Run(ctx context.Context) error
}

// Dispatcher runs a fixed pool of workers to completion.
type Dispatcher struct {
	workers []Runner
}

// New creates a Dispatcher.
func New(workers []Runner) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Size reports the pool size.
func (d *Dispatcher) Size() int { return len(d.workers) }

// Run starts all workers and blocks until every one has returned. The first
// worker error cancels the others and is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.workers) == 0 {
		return errors.New("dispatcher has no workers")
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}
