package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/progress"
)

// StatusSink keeps a live summary of the current run for the status endpoint.
type StatusSink struct {
	mu  sync.RWMutex
	run crawler.Run
}

// NewStatusSink returns an empty tracker.
func NewStatusSink() *StatusSink {
	return &StatusSink{}
}

// Consume folds the batch into the summary.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		foldRun(&s.run, evt)
	}
	return nil
}

// Snapshot returns a copy of the summary.
func (s *StatusSink) Snapshot() crawler.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.run
	if s.run.Finished != nil {
		finished := *s.run.Finished
		out.Finished = &finished
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
