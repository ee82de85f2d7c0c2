// Package app assembles the mirror from configuration and runs it once.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/api"
	"github.com/JakeFAU/sitemirror/internal/clock/system"
	"github.com/JakeFAU/sitemirror/internal/config"
	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/sitemirror/internal/fetcher/colly"
	"github.com/JakeFAU/sitemirror/internal/frontier"
	"github.com/JakeFAU/sitemirror/internal/hash/sha256"
	"github.com/JakeFAU/sitemirror/internal/id/uuid"
	"github.com/JakeFAU/sitemirror/internal/page"
	"github.com/JakeFAU/sitemirror/internal/pathmap"
	"github.com/JakeFAU/sitemirror/internal/progress"
	"github.com/JakeFAU/sitemirror/internal/progress/sinks"
	"github.com/JakeFAU/sitemirror/internal/storage/local"
	"github.com/JakeFAU/sitemirror/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Option customizes a Mirror.
type Option func(*Mirror)

// WithRegisterer registers run metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Mirror) { m.registerer = reg }
}

// WithProgressOutput draws the progress bar to w. A nil writer disables it.
func WithProgressOutput(w io.Writer) Option {
	return func(m *Mirror) { m.progressOut = w }
}

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(m *Mirror) { m.fetcher = f }
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(m *Mirror) { m.clock = c }
}

// Mirror holds the long-lived services of one run.
type Mirror struct {
	cfg    config.Config
	logger *zap.Logger

	mapper   *pathmap.Mapper
	store    *local.FileStore
	fetcher  crawler.Fetcher
	frontier *frontier.Frontier
	ids      crawler.IDGenerator
	hasher   crawler.Hasher
	clock    crawler.Clock

	registerer  prometheus.Registerer
	progressOut io.Writer
}

// New validates cfg and builds every service. It fails fast on an invalid
// seed or an unwritable output root.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*Mirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	mapper, err := pathmap.New(cfg.Mirror.Seed, cfg.Mirror.Output)
	if err != nil {
		return nil, err
	}
	store, err := local.New(local.Config{BaseDir: mapper.Root()})
	if err != nil {
		return nil, fmt.Errorf("prepare output root: %w", err)
	}

	m := &Mirror{
		cfg:        cfg,
		logger:     logger,
		mapper:     mapper,
		store:      store,
		ids:        uuid.New(),
		hasher:     sha256.New(),
		clock:      system.New(),
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fetcher == nil {
		if cfg.Mirror.InsecureSkipVerify {
			logger.Warn("TLS certificate verification is disabled")
		}
		m.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:          cfg.Mirror.UserAgent,
			Timeout:            cfg.Mirror.FetchTimeout,
			InsecureSkipVerify: cfg.Mirror.InsecureSkipVerify,
			MaxBodySize:        cfg.Mirror.MaxBodyBytes,
		}, store)
	}
	m.frontier = frontier.New(mapper.Seed(), frontier.WithLogger(logger.Named("frontier")))
	return m, nil
}

// Seed is the normalized seed root.
func (m *Mirror) Seed() string { return m.mapper.Seed() }

// Root is the absolute output root.
func (m *Mirror) Root() string { return m.mapper.Root() }

// Run mirrors the site and returns the final run summary. The returned error
// is non-nil when the crawl aborted or was canceled.
func (m *Mirror) Run(ctx context.Context) (crawler.Run, error) {
	defer m.frontier.Close()

	runID, err := m.ids.NewRunID()
	if err != nil {
		return crawler.Run{}, fmt.Errorf("generate run id: %w", err)
	}

	status := sinks.NewStatusSink()
	var manifest *sinks.ManifestSink
	hubSinks := []progress.Sink{sinks.NewLogSink(m.logger.Named("progress")), status}
	prom, err := sinks.NewPrometheusSink(m.registerer)
	if err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return crawler.Run{}, fmt.Errorf("register run metrics: %w", err)
		}
		m.logger.Debug("run metrics already registered")
	} else {
		hubSinks = append(hubSinks, prom)
	}
	if m.cfg.Mirror.Manifest {
		manifest = sinks.NewManifestSink(m.store, m.mapper.Root(), m.logger.Named("manifest"))
		hubSinks = append(hubSinks, manifest)
	}
	var bar *sinks.BarSink
	if m.cfg.Progress.Enabled && m.progressOut != nil {
		bar = sinks.NewBarSink(m.progressOut, "mirroring")
		hubSinks = append(hubSinks, bar)
	}
	hub := progress.NewHub(progress.Config{Logger: m.logger.Named("hub")}, hubSinks...)

	serverCtx, stopServer := context.WithCancel(ctx)
	serverDone := m.startStatusServer(serverCtx, status, manifest)

	evt := progress.Event{RunID: progress.UUIDToBytes(runID)}
	start := m.clock.Now()
	evt.TS, evt.Stage, evt.URL, evt.Note = start, progress.StageRunStart, m.mapper.Seed(), m.mapper.Root()
	hub.Emit(evt)
	m.logger.Info("mirror starting",
		zap.String("run_id", runID.String()),
		zap.String("seed", m.mapper.Seed()),
		zap.String("output", m.mapper.Root()),
		zap.Int("workers", m.cfg.Mirror.Workers),
	)

	runErr := m.crawl(ctx, evt.RunID, hub)

	end := m.clock.Now()
	evt.TS, evt.Dur, evt.Stage, evt.Note = end, end.Sub(start), progress.StageRunDone, ""
	evt.Queued = int(m.frontier.Stats().Accepted)
	if runErr != nil {
		evt.Stage, evt.Note = progress.StageRunError, runErr.Error()
		evt.Canceled = errors.Is(runErr, context.Canceled)
	}
	hub.Emit(evt)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hub.Close(closeCtx); err != nil {
		m.logger.Warn("progress hub did not drain", zap.Error(err))
	}
	if bar != nil {
		_, _ = fmt.Fprintln(m.progressOut)
	}
	stopServer()
	if serverDone != nil {
		if err := <-serverDone; err != nil {
			m.logger.Warn("status server stopped with error", zap.Error(err))
		}
	}
	return status.Snapshot(), runErr
}

func (m *Mirror) crawl(ctx context.Context, runID [16]byte, emitter progress.Emitter) error {
	processor := page.New(m.mapper, m.frontier, m.fetcher, m.store, m.logger.Named("page"))
	deps := worker.Deps{
		Frontier:  m.frontier,
		Fetcher:   m.fetcher,
		Processor: processor,
		Store:     m.store,
		Hasher:    m.hasher,
		Clock:     m.clock,
		Emitter:   emitter,
	}
	cfg := worker.Config{
		Seed:            m.mapper.Seed(),
		PageErrorPolicy: m.cfg.Mirror.Policy(),
		RunID:           runID,
	}
	return m.runWorkers(ctx, deps, cfg)
}

func (m *Mirror) runWorkers(ctx context.Context, deps worker.Deps, cfg worker.Config) error {
	runners := make([]dispatcher.Runner, 0, m.cfg.Mirror.Workers)
	for i := 0; i < m.cfg.Mirror.Workers; i++ {
		runners = append(runners, worker.New(i, deps, cfg, m.logger.Named("worker")))
	}
	return dispatcher.New(runners).Run(ctx)
}

func (m *Mirror) startStatusServer(ctx context.Context, status *sinks.StatusSink, manifest *sinks.ManifestSink) <-chan error {
	if m.cfg.Metrics.Addr == "" {
		return nil
	}
	var pages api.PageSource
	if manifest != nil {
		pages = manifest
	}
	srv := api.NewServer(status, m.frontier, pages, m.logger.Named("api"))
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, m.cfg.Metrics.Addr) }()
	return done
}
