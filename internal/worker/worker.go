// Package worker implements the per-URL mirror cycle: fetch, rewrite, write.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/frontier"
	"github.com/JakeFAU/sitemirror/internal/htmldoc"
	"github.com/JakeFAU/sitemirror/internal/metrics"
	"github.com/JakeFAU/sitemirror/internal/page"
	"github.com/JakeFAU/sitemirror/internal/pathmap"
	"github.com/JakeFAU/sitemirror/internal/progress"
)

// PageProcessor rewrites a parsed page for the mirror.
type PageProcessor interface {
	Process(ctx context.Context, pageURL string, doc *goquery.Document) (page.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// Seed is the normalized seed root. Its failure always aborts the run.
	Seed string
	// PageErrorPolicy decides whether a failed page aborts the run.
	PageErrorPolicy crawler.PageErrorPolicy
	RunID           [16]byte
}

// Deps are the collaborators a Worker drives.
type Deps struct {
	Frontier  crawler.Frontier
	Fetcher   crawler.Fetcher
	Processor PageProcessor
	Store     crawler.FileStore
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	Emitter   progress.Emitter
}

// Worker pulls URLs from the frontier until it drains.
type Worker struct {
	id     int
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageErrorPolicy == "" {
		cfg.PageErrorPolicy = crawler.PageErrorAbort
	}
	return &Worker{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run blocks until the frontier is drained, ctx ends, or a page failure
// aborts the run. A drained or closed frontier is a clean exit.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("acquire url: %w", err)
		}
		u, err := w.deps.Frontier.Acquire(ctx)
		if err != nil {
			if errors.Is(err, frontier.ErrDrained) || errors.Is(err, frontier.ErrClosed) {
				w.logger.Debug("frontier drained")
				return nil
			}
			return fmt.Errorf("acquire url: %w", err)
		}
		err = w.handleURL(ctx, u)
		w.deps.Frontier.Release(u)
		if err != nil {
			return err
		}
	}
}

func (w *Worker) handleURL(ctx context.Context, u string) error {
	if !pathmap.IsPage(u) {
		w.logger.Debug("not a page, skipping", zap.String("url", u))
		metrics.ObservePage(u, metrics.PageSkipped, 0)
		w.emit(progress.Event{Stage: progress.StagePageSkipped, URL: u})
		return nil
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := w.now()
	rec, err := w.mirrorPage(ctx, u)
	rec.Dur = w.now().Sub(start)
	w.publishFrontier(&rec)

	if err != nil {
		metrics.ObservePage(u, metrics.PageFailed, 0)
		metrics.ObserveAssets(rec.Assets)
		rec.Stage = progress.StagePageFailed
		rec.Note = err.Error()
		w.emit(rec)
		if w.skippable(ctx, u) {
			w.logger.Warn("page failed, continuing", zap.String("url", u), zap.Error(err))
			return nil
		}
		return fmt.Errorf("mirror %s: %w", u, err)
	}

	metrics.ObservePage(u, metrics.PageWritten, int(rec.Bytes))
	metrics.ObserveAssets(rec.Assets)
	rec.Stage = progress.StagePageWritten
	w.emit(rec)
	return nil
}

// mirrorPage returns a partially filled event even on failure so asset
// counters reach the manifest.
func (w *Worker) mirrorPage(ctx context.Context, u string) (progress.Event, error) {
	rec := progress.Event{URL: u}

	fetchStart := time.Now()
	resp, err := w.deps.Fetcher.Fetch(ctx, u)
	metrics.ObserveFetch("page", time.Since(fetchStart))
	if err != nil {
		return rec, fmt.Errorf("fetch page: %w", err)
	}
	rec.StatusCode = resp.StatusCode
	if resp.FinalURL != "" && resp.FinalURL != u {
		w.logger.Debug("page redirected", zap.String("url", u), zap.String("final_url", resp.FinalURL))
	}

	doc, err := htmldoc.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return rec, err
	}
	res, err := w.deps.Processor.Process(ctx, u, doc)
	rec.Assets = res.Assets
	if err != nil {
		return rec, err
	}
	metrics.ObserveAssetBytes(res.AssetBytes)

	body := []byte(res.HTML)
	hash, err := w.deps.Hasher.Hash(body)
	if err != nil {
		return rec, fmt.Errorf("hash page: %w", err)
	}
	if err := w.deps.Store.WriteFile(ctx, res.Path, body); err != nil {
		return rec, fmt.Errorf("write page: %w", err)
	}

	rec.Path = res.Path
	rec.Bytes = int64(len(body))
	rec.Hash = hash
	rec.Links = res.Links
	return rec, nil
}

func (w *Worker) skippable(ctx context.Context, u string) bool {
	if ctx.Err() != nil || u == w.cfg.Seed {
		return false
	}
	return w.cfg.PageErrorPolicy == crawler.PageErrorSkip
}

func (w *Worker) publishFrontier(rec *progress.Event) {
	stats := w.deps.Frontier.Stats()
	metrics.SetFrontier(stats.Pending, stats.Visited)
	rec.Queued = int(stats.Accepted)
}

func (w *Worker) emit(evt progress.Event) {
	if w.deps.Emitter == nil {
		return
	}
	evt.RunID = w.cfg.RunID
	evt.TS = w.now()
	if evt.Queued == 0 {
		evt.Queued = int(w.deps.Frontier.Stats().Accepted)
	}
	w.deps.Emitter.Emit(evt)
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now().UTC()
	}
	return w.deps.Clock.Now()
}
