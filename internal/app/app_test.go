package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemirror/internal/config"
	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/progress/sinks"
)

type siteServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newSite(t *testing.T, pages map[string]string) *siteServer {
	t.Helper()
	s := &siteServer{hits: map[string]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, ".png"), strings.HasSuffix(r.URL.Path, ".jpg"):
			w.Header().Set("Content-Type", "image/png")
		case strings.HasSuffix(r.URL.Path, ".css"):
			w.Header().Set("Content-Type", "text/css")
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *siteServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

var pages = map[string]string{
	"/": `<html><head><link rel="stylesheet" href="/css/site.css"></head><body>
<a href="/about.html">About</a>
<a href="https://elsewhere.invalid/">Elsewhere</a>
<img src="/img/logo.png">
<img src="data:image/gif;base64,R0lGODlhAQABAAAAACw=" alt="lazy"><noscript><img src="/img/real.jpg"></noscript>
<img src="/img/missing.png">
</body></html>`,
	"/about.html":   `<html><body><a href="/">Home</a><a href="/docs/">Docs</a><img src="/img/logo.png"></body></html>`,
	"/docs/":        `<html><body><p>docs</p><a href="/about.html#team">Team</a></body></html>`,
	"/css/site.css": "body{}",
	"/img/logo.png": "PNG",
	"/img/real.jpg": "JPG",
}

func testConfig(t *testing.T, seed string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Mirror.Seed = seed
	cfg.Mirror.Output = t.TempDir()
	cfg.Logging.Development = false
	return cfg
}

func newMirror(t *testing.T, cfg config.Config, opts ...Option) *Mirror {
	t.Helper()
	opts = append([]Option{WithRegisterer(prometheus.NewRegistry())}, opts...)
	m, err := New(cfg, nil, opts...)
	require.NoError(t, err)
	return m
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestMirrorEndToEnd(t *testing.T) {
	t.Parallel()

	site := newSite(t, pages)
	cfg := testConfig(t, site.URL)
	cfg.Mirror.Workers = 3
	var bar bytes.Buffer
	m := newMirror(t, cfg, WithProgressOutput(&bar))

	run, err := m.Run(context.Background())
	require.NoError(t, err)
	root := m.Root()

	home := readFile(t, filepath.Join(root, "index.html"))
	assert.Contains(t, home, `href="/about.html"`)
	assert.Contains(t, home, `href="https://elsewhere.invalid/"`)
	assert.Contains(t, home, `src="/img/real.jpg"`)
	assert.Contains(t, home, `src="/img/missing.png"`)
	assert.NotContains(t, home, "data:image/gif")
	assert.NotContains(t, strings.ToLower(home), "noscript")

	assert.Contains(t, readFile(t, filepath.Join(root, "about.html")), `href="/docs/"`)
	assert.Contains(t, readFile(t, filepath.Join(root, "docs", "index.html")), `href="/about.html#team"`)
	assert.Equal(t, "PNG", readFile(t, filepath.Join(root, "img", "logo.png")))
	assert.Equal(t, "JPG", readFile(t, filepath.Join(root, "img", "real.jpg")))
	assert.Equal(t, "body{}", readFile(t, filepath.Join(root, "css", "site.css")))
	assert.NoFileExists(t, filepath.Join(root, "img", "missing.png"))

	assert.Equal(t, 1, site.hitCount("/"))
	assert.Equal(t, 1, site.hitCount("/about.html"))
	assert.Equal(t, 1, site.hitCount("/img/logo.png"))

	assert.Equal(t, crawler.RunStatusSucceeded, run.Status)
	assert.Equal(t, 3, run.Counters.PagesWritten)
	assert.Zero(t, run.Counters.PagesFailed)
	assert.Equal(t, 1, run.Counters.Assets.Failed)
	assert.Equal(t, 1, run.Counters.Assets.LazyResolved)
	assert.NotEmpty(t, run.ID)
	assert.Contains(t, bar.String(), "mirroring")

	var manifest sinks.Manifest
	require.NoError(t, json.Unmarshal([]byte(readFile(t, filepath.Join(root, sinks.ManifestFile))), &manifest))
	assert.Equal(t, run.ID, manifest.ID)
	assert.Equal(t, m.Seed(), manifest.Seed)
	assert.Equal(t, crawler.RunStatusSucceeded, manifest.Status)
	require.Len(t, manifest.Pages, 3)
	paths := make([]string, 0, len(manifest.Pages))
	for _, p := range manifest.Pages {
		paths = append(paths, p.Path)
		assert.Len(t, p.ContentHash, 64)
	}
	assert.ElementsMatch(t, []string{"index.html", "about.html", "docs/index.html"}, paths)
}

func TestMirrorSeedFailureIsFatal(t *testing.T) {
	t.Parallel()

	site := newSite(t, map[string]string{})
	cfg := testConfig(t, site.URL)
	cfg.Mirror.PageErrorPolicy = "skip"
	m := newMirror(t, cfg)

	run, err := m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, crawler.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.Counters.PagesFailed)
	assert.NoFileExists(t, filepath.Join(m.Root(), "index.html"))
}

func TestMirrorAbortsOnBrokenPage(t *testing.T) {
	t.Parallel()

	site := newSite(t, map[string]string{
		"/": `<html><body><a href="/gone.html">gone</a></body></html>`,
	})
	m := newMirror(t, testConfig(t, site.URL))

	run, err := m.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, crawler.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.Counters.PagesWritten)
	assert.FileExists(t, filepath.Join(m.Root(), sinks.ManifestFile))
}

func TestMirrorSkipPolicyCompletes(t *testing.T) {
	t.Parallel()

	site := newSite(t, map[string]string{
		"/":        `<html><body><a href="/gone.html">gone</a><a href="/ok.html">ok</a></body></html>`,
		"/ok.html": `<html><body>ok</body></html>`,
	})
	cfg := testConfig(t, site.URL)
	cfg.Mirror.PageErrorPolicy = "skip"
	cfg.Mirror.Manifest = false
	m := newMirror(t, cfg)

	run, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, run.Counters.PagesWritten)
	assert.Equal(t, 1, run.Counters.PagesFailed)
	assert.NoFileExists(t, filepath.Join(m.Root(), sinks.ManifestFile))
}

func TestMirrorCanceled(t *testing.T) {
	t.Parallel()

	site := newSite(t, pages)
	m := newMirror(t, testConfig(t, site.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := m.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, crawler.RunStatusCanceled, run.Status)
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "ftp://example.com/")
	_, err := New(cfg, nil)
	require.Error(t, err)

	cfg = testConfig(t, "https://example.com/")
	cfg.Mirror.Workers = 0
	_, err = New(cfg, nil)
	require.Error(t, err)

	cfg = testConfig(t, "https://example.com/")
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg.Mirror.Output = file
	_, err = New(cfg, nil)
	require.Error(t, err)
}
