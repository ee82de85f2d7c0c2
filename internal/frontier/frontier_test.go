package frontier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seed = "https://site.test/"

func newFrontier(t *testing.T) *Frontier {
	t.Helper()
	f := New("https://site.test")
	t.Cleanup(f.Close)
	return f
}

func TestNewEnqueuesNormalizedSeed(t *testing.T) {
	t.Parallel()

	f := newFrontier(t)
	assert.Equal(t, seed, f.Scope())
	assert.False(t, f.IsDone())

	u, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, seed, u)
	assert.True(t, f.IsDone())
}

func TestAddIgnoresEmptyAndOutOfScope(t *testing.T) {
	t.Parallel()

	f := newFrontier(t)
	assert.False(t, f.Add(""))
	assert.False(t, f.Add("https://other.test/page.html"))
	assert.False(t, f.Add("http://site.test/page.html"))

	st := f.Stats()
	assert.Equal(t, 1, st.Pending)
	assert.EqualValues(t, 2, st.Rejected)
}

func TestAddStripsFragmentAndQuery(t *testing.T) {
	t.Parallel()

	f := newFrontier(t)
	_, _ = f.Next()
	require.True(t, f.Add("https://site.test/a.html?x=1#top"))

	u, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, "https://site.test/a.html", u)
}

func TestDedupIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFrontier(t)
	f.Add("https://site.test/a.html")
	f.Add("https://site.test/a.html")
	f.Add("https://site.test/a.html#again")

	var got []string
	for {
		u, ok := f.Next()
		if !ok {
			break
		}
		got = append(got, u)
		f.Add(u)
	}
	assert.Equal(t, []string{seed, "https://site.test/a.html"}, got)
	assert.True(t, f.IsDone())
}

func TestAddAfterVisitIsNoop(t *testing.T) {
	t.Parallel()

	f := newFrontier(t)
	_, _ = f.Next()
	assert.False(t, f.Add(seed))
	assert.True(t, f.IsDone())
}

func TestFIFOOrder(t *testing.T) {
	t.Parallel()

	f := newFrontier(t)
	_, _ = f.Next()
	f.Add("https://site.test/1.html")
	f.Add("https://site.test/2.html")
	f.Add("https://site.test/3.html")

	for _, want := range []string{"1", "2", "3"} {
		u, ok := f.Next()
		require.True(t, ok)
		assert.Equal(t, "https://site.test/"+want+".html", u)
	}
}

func TestAcquireDrainsWhenNothingInFlight(t *testing.T) {
	t.Parallel()

	f := newFrontier(t)
	ctx := context.Background()

	u, err := f.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, seed, u)
	f.Release(u)

	_, err = f.Acquire(ctx)
	require.ErrorIs(t, err, ErrDrained)
}

func TestAcquireWaitsForInFlightWork(t *testing.T) {
	t.Parallel()

	f := newFrontier(t)
	ctx := context.Background()

	first, err := f.Acquire(ctx)
	require.NoError(t, err)

	result := make(chan string, 1)
	go func() {
		u, err := f.Acquire(ctx)
		if err != nil {
			result <- err.Error()
			return
		}
		result <- u
	}()

	require.Eventually(t, func() bool {
		return f.Stats().InFlight == 1
	}, time.Second, 5*time.Millisecond)

	f.Add("https://site.test/next.html")
	f.Release(first)

	select {
	case got := <-result:
		assert.Equal(t, "https://site.test/next.html", got)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting worker was never served")
	}
}

func TestAcquireDrainReleasesAllWaiters(t *testing.T) {
	t.Parallel()

	f := newFrontier(t)
	ctx := context.Background()
	u, err := f.Acquire(ctx)
	require.NoError(t, err)

	const waiters = 4
	var wg sync.WaitGroup
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Acquire(ctx)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	f.Release(u)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, ErrDrained)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	f := newFrontier(t)
	u, err := f.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	f.Add("https://site.test/late.html")
	f.Release(u)
	got, err := f.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/late.html", got)
}

func TestConcurrentWorkersVisitEachURLOnce(t *testing.T) {
	t.Parallel()

	f := newFrontier(t)
	ctx := context.Background()
	links := map[string][]string{
		seed:                      {"https://site.test/a.html", "https://site.test/b.html"},
		"https://site.test/a.html": {"https://site.test/b.html", "https://site.test/c.html", seed},
		"https://site.test/b.html": {"https://site.test/c.html", "https://site.test/a.html#x"},
		"https://site.test/c.html": {"https://site.test/d.html?q=1"},
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				u, err := f.Acquire(ctx)
				if err != nil {
					assert.ErrorIs(t, err, ErrDrained)
					return
				}
				mu.Lock()
				seen[u]++
				mu.Unlock()
				for _, l := range links[u] {
					f.Add(l)
				}
				f.Release(u)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 5)
	for u, n := range seen {
		assert.Equal(t, 1, n, u)
	}
	st := f.Stats()
	assert.Equal(t, 0, st.InFlight)
	assert.Equal(t, 5, st.Visited)
}

func TestCloseUnblocksAcquire(t *testing.T) {
	t.Parallel()

	f := New(seed)
	u, err := f.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, seed, u)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.Acquire(context.Background())
		errCh <- err
	}()
	require.Eventually(t, func() bool { return f.Stats().InFlight == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	f.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return after Close")
	}
	assert.False(t, f.Add("https://site.test/x.html"))
	f.Close()
}
