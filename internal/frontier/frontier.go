// Package frontier owns the set of visited URLs and the FIFO of pending ones.
//
// A single goroutine owns all state; every exported method is a request sent
// to it over a channel, so each operation is atomic without a shared lock.
// A URL is handed out by Next or Acquire at most once for the lifetime of the
// Frontier and must be given back with Release once its cycle completes.
package frontier

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/pathmap"
)

var (
	// ErrDrained is returned by Acquire when nothing is pending and no URL is in flight.
	ErrDrained = errors.New("frontier drained")
	// ErrClosed is returned once the Frontier has been closed.
	ErrClosed = errors.New("frontier closed")
)

// Stats is a point-in-time view of the Frontier.
type Stats struct {
	Scope    string `json:"scope"`
	Pending  int    `json:"pending"`
	Visited  int    `json:"visited"`
	InFlight int    `json:"in_flight"`
	Accepted int64  `json:"accepted"`
	Rejected int64  `json:"rejected"`
}

// Option customizes a Frontier.
type Option func(*Frontier)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Frontier) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Frontier is safe for concurrent use.
type Frontier struct {
	scope   string
	logger  *zap.Logger
	ops     chan func(*state)
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

type grant struct {
	url string
	err error
}

type state struct {
	visited  map[string]struct{}
	queue    []string
	inFlight map[string]struct{}
	waiters  []chan grant
	accepted int64
	rejected int64
}

// New normalizes seed into the scope root, enqueues it and starts the owner
// goroutine. Close must be called to stop it.
func New(seed string, opts ...Option) *Frontier {
	f := &Frontier{
		scope:   pathmap.NormalizeSeed(seed),
		logger:  zap.NewNop(),
		ops:     make(chan func(*state)),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	s := &state{
		visited:  make(map[string]struct{}),
		inFlight: make(map[string]struct{}),
		queue:    []string{f.scope},
		accepted: 1,
	}
	go f.run(s)
	return f
}

// Scope returns the normalized scope root.
func (f *Frontier) Scope() string { return f.scope }

func (f *Frontier) run(s *state) {
	defer close(f.stopped)
	for {
		select {
		case op := <-f.ops:
			op(s)
		case <-f.quit:
			for _, w := range s.waiters {
				w <- grant{err: ErrClosed}
			}
			s.waiters = nil
			return
		}
	}
}

func (f *Frontier) do(ctx context.Context, fn func(*state)) error {
	done := make(chan struct{})
	op := func(s *state) {
		fn(s)
		close(done)
	}
	select {
	case f.ops <- op:
	case <-f.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Add offers a discovered URL. Empty, out-of-scope and already visited URLs
// are ignored; others are stripped of fragment and query and queued.
// Duplicate queue entries are tolerated and filtered at dequeue time.
// It reports whether the URL was queued.
func (f *Frontier) Add(raw string) bool {
	if raw == "" {
		return false
	}
	if !strings.HasPrefix(raw, f.scope) {
		_ = f.do(context.Background(), func(s *state) { s.rejected++ })
		f.logger.Debug("url out of scope", zap.String("url", raw))
		return false
	}
	u := pathmap.StripQuery(pathmap.StripFragment(raw))
	var queued bool
	err := f.do(context.Background(), func(s *state) {
		if _, seen := s.visited[u]; seen {
			return
		}
		s.queue = append(s.queue, u)
		s.accepted++
		queued = true
		s.dispatch()
	})
	return err == nil && queued
}

// IsDone reports whether the pending queue is empty. With several workers it
// can be true while a page that will add more links is still in flight.
func (f *Frontier) IsDone() bool {
	done := true
	_ = f.do(context.Background(), func(s *state) { done = len(s.queue) == 0 })
	return done
}

// Next pops the first unvisited pending URL without blocking and marks it
// visited. It returns false when nothing is pending.
func (f *Frontier) Next() (string, bool) {
	var (
		u  string
		ok bool
	)
	_ = f.do(context.Background(), func(s *state) {
		u, ok = s.pop()
		if ok {
			s.claim(u)
		}
	})
	return u, ok
}

// Acquire blocks until a URL is available, the frontier drains, the context
// ends or the frontier is closed.
func (f *Frontier) Acquire(ctx context.Context) (string, error) {
	reply := make(chan grant, 1)
	if err := f.do(ctx, func(s *state) { s.acquire(reply) }); err != nil {
		return "", err
	}
	select {
	case g := <-reply:
		return g.url, g.err
	case <-ctx.Done():
		_ = f.do(context.Background(), func(s *state) {
			s.dropWaiter(reply)
			select {
			case g := <-reply:
				if g.err == nil {
					s.unclaim(g.url)
				}
			default:
			}
		})
		return "", ctx.Err()
	}
}

// Release ends the cycle of a URL handed out by Next or Acquire.
func (f *Frontier) Release(u string) {
	_ = f.do(context.Background(), func(s *state) {
		delete(s.inFlight, u)
		s.dispatch()
	})
}

// Stats returns a snapshot of the frontier counters.
func (f *Frontier) Stats() Stats {
	st := Stats{Scope: f.scope}
	_ = f.do(context.Background(), func(s *state) {
		st.Pending = len(s.queue)
		st.Visited = len(s.visited)
		st.InFlight = len(s.inFlight)
		st.Accepted = s.accepted
		st.Rejected = s.rejected
	})
	return st
}

// Close stops the owner goroutine. Pending Acquire calls return ErrClosed.
func (f *Frontier) Close() {
	f.once.Do(func() {
		close(f.quit)
	})
	<-f.stopped
}

func (s *state) pop() (string, bool) {
	for len(s.queue) > 0 {
		u := s.queue[0]
		s.queue[0] = ""
		s.queue = s.queue[1:]
		if _, seen := s.visited[u]; !seen {
			return u, true
		}
	}
	return "", false
}

func (s *state) claim(u string) {
	s.visited[u] = struct{}{}
	s.inFlight[u] = struct{}{}
}

// unclaim puts back a URL that was granted to a caller that had already gone away.
func (s *state) unclaim(u string) {
	delete(s.visited, u)
	delete(s.inFlight, u)
	s.queue = append([]string{u}, s.queue...)
	s.dispatch()
}

func (s *state) acquire(reply chan grant) {
	s.waiters = append(s.waiters, reply)
	s.dispatch()
}

func (s *state) dropWaiter(reply chan grant) {
	for i, w := range s.waiters {
		if w == reply {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// dispatch hands pending URLs to waiters in arrival order and tells everyone
// still waiting that the crawl is over once nothing is pending or in flight.
func (s *state) dispatch() {
	for len(s.waiters) > 0 {
		u, ok := s.pop()
		if !ok {
			break
		}
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.claim(u)
		w <- grant{url: u}
	}
	if len(s.waiters) > 0 && len(s.queue) == 0 && len(s.inFlight) == 0 {
		for _, w := range s.waiters {
			w <- grant{err: ErrDrained}
		}
		s.waiters = nil
	}
}
