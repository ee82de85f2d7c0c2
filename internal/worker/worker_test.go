package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/clock/system"
	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/frontier"
	"github.com/JakeFAU/sitemirror/internal/hash/sha256"
	"github.com/JakeFAU/sitemirror/internal/page"
	"github.com/JakeFAU/sitemirror/internal/pathmap"
	"github.com/JakeFAU/sitemirror/internal/progress"
	"github.com/JakeFAU/sitemirror/internal/storage/memory"
)

const seed = "https://example.com/"

var site = map[string]string{
	seed: `<html><body>
<a href="/about.html">About</a>
<a href="/files/report.pdf">Report</a>
<a href="https://elsewhere.org/">Out</a>
<img src="/logo.png">
</body></html>`,
	seed + "about.html": `<html><body><a href="/">Home</a><a href="team/">Team</a><img src="/logo.png"></body></html>`,
	seed + "team/":      `<html><body><p>team</p></body></html>`,
	seed + "logo.png":   "PNG",
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]error
	store *memory.FileStore
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.fail[url]; ok {
		return crawler.FetchResponse{}, err
	}
	body, ok := f.pages[url]
	if !ok {
		return crawler.FetchResponse{}, errors.New("status 404")
	}
	return crawler.FetchResponse{URL: url, FinalURL: url, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) FetchToFile(ctx context.Context, url, path string) (int64, error) {
	resp, err := f.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	if err := f.store.WriteFile(ctx, path, resp.Body); err != nil {
		return 0, err
	}
	return int64(len(resp.Body)), nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

func get(store *memory.FileStore, path string) (string, bool) {
	b, ok := store.ReadFile(path)
	return string(b), ok
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) byStage(stage progress.Stage) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, e := range r.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	root     string
	frontier *frontier.Frontier
	fetcher  *fakeFetcher
	store    *memory.FileStore
	events   *recorder
	deps     Deps
	cfg      Config
}

func newHarness(t *testing.T, policy crawler.PageErrorPolicy, fail map[string]error) *harness {
	t.Helper()
	mapper, err := pathmap.New(seed, t.TempDir())
	require.NoError(t, err)
	front := frontier.New(mapper.Seed())
	t.Cleanup(front.Close)

	store := memory.NewFileStore()
	fetcher := &fakeFetcher{pages: site, fail: fail, store: store}
	events := &recorder{}
	return &harness{
		root:     mapper.Root(),
		frontier: front,
		fetcher:  fetcher,
		store:    store,
		events:   events,
		deps: Deps{
			Frontier:  front,
			Fetcher:   fetcher,
			Processor: page.New(mapper, front, fetcher, store, zap.NewNop()),
			Store:     store,
			Hasher:    sha256.New(),
			Clock:     system.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
			Emitter:   events,
		},
		cfg: Config{Seed: mapper.Seed(), PageErrorPolicy: policy, RunID: [16]byte{1}},
	}
}

func (h *harness) run(t *testing.T, workers int) error {
	t.Helper()
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		w := New(i, h.deps, h.cfg, zap.NewNop())
		go func() { errs <- w.Run(context.Background()) }()
	}
	var first error
	for i := 0; i < workers; i++ {
		select {
		case err := <-errs:
			if err != nil && first == nil {
				first = err
			}
		case <-time.After(5 * time.Second):
			t.Fatal("workers did not finish")
		}
	}
	return first
}

func TestWorkerMirrorsSite(t *testing.T) {
	t.Parallel()

	h := newHarness(t, crawler.PageErrorAbort, nil)
	require.NoError(t, h.run(t, 1))

	home, ok := get(h.store, filepath.Join(h.root, "index.html"))
	require.True(t, ok)
	assert.Contains(t, home, `href="/about.html"`)
	assert.Contains(t, home, `href="https://elsewhere.org/"`)

	_, ok = get(h.store, filepath.Join(h.root, "about.html"))
	assert.True(t, ok)
	_, ok = get(h.store, filepath.Join(h.root, "team", "index.html"))
	assert.True(t, ok)

	logo, ok := get(h.store, filepath.Join(h.root, "logo.png"))
	require.True(t, ok)
	assert.Equal(t, "PNG", logo)
	assert.Equal(t, 1, h.fetcher.count(seed+"logo.png"))

	assert.Zero(t, h.fetcher.count(seed+"files/report.pdf"), "non-page urls are never fetched")
	skipped := h.events.byStage(progress.StagePageSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, seed+"files/report.pdf", skipped[0].URL)

	written := h.events.byStage(progress.StagePageWritten)
	require.Len(t, written, 3)
	assert.Equal(t, seed, written[0].URL)
	assert.Len(t, written[0].Hash, 64)
	assert.Equal(t, [16]byte{1}, written[0].RunID)
	assert.Equal(t, 1, written[0].Assets.Downloaded)
	assert.Equal(t, 1, written[1].Assets.Reused)
	assert.Equal(t, 4, written[2].Queued)

	stats := h.frontier.Stats()
	assert.Equal(t, 4, stats.Visited)
	assert.Zero(t, stats.InFlight)
}

func TestWorkerPoolVisitsEachPageOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, crawler.PageErrorAbort, nil)
	require.NoError(t, h.run(t, 4))

	for _, u := range []string{seed, seed + "about.html", seed + "team/"} {
		assert.Equal(t, 1, h.fetcher.count(u), u)
	}
	assert.Len(t, h.events.byStage(progress.StagePageWritten), 3)
}

func TestWorkerAbortsOnPageFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("status 500")
	h := newHarness(t, crawler.PageErrorAbort, map[string]error{seed + "about.html": boom})
	err := h.run(t, 1)
	require.ErrorIs(t, err, boom)

	failed := h.events.byStage(progress.StagePageFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, seed+"about.html", failed[0].URL)
	assert.Contains(t, failed[0].Note, "status 500")
}

func TestWorkerSkipPolicyContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, crawler.PageErrorSkip, map[string]error{seed + "about.html": errors.New("status 500")})
	require.NoError(t, h.run(t, 1))

	assert.Len(t, h.events.byStage(progress.StagePageFailed), 1)
	assert.Len(t, h.events.byStage(progress.StagePageWritten), 1)
	_, ok := get(h.store, filepath.Join(h.root, "about.html"))
	assert.False(t, ok)
}

func TestWorkerSeedFailureIsFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	h := newHarness(t, crawler.PageErrorSkip, map[string]error{seed: boom})
	err := h.run(t, 1)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, h.events.byStage(progress.StagePageWritten))
}

func TestWorkerAssetFailureStillWritesPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, crawler.PageErrorAbort, map[string]error{seed + "logo.png": errors.New("status 404")})
	require.NoError(t, h.run(t, 1))

	written := h.events.byStage(progress.StagePageWritten)
	require.Len(t, written, 3)
	assert.Equal(t, 1, written[0].Assets.Failed)
	_, ok := get(h.store, filepath.Join(h.root, "logo.png"))
	assert.False(t, ok)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, crawler.PageErrorAbort, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(0, h.deps, h.cfg, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
