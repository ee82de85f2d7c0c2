package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/pathmap"
	"github.com/JakeFAU/sitemirror/internal/progress"
)

// ManifestFile is written at the root of the mirror. pathmap refuses to map
// site content onto it.
const ManifestFile = pathmap.ManifestFile

// FileWriter persists the manifest.
type FileWriter interface {
	WriteFile(ctx context.Context, path string, data []byte) error
}

// FailedPage records a page whose failure was skipped.
type FailedPage struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Manifest is the JSON document describing one run.
type Manifest struct {
	crawler.Run
	Pages   []crawler.PageRecord `json:"pages"`
	Skipped []string             `json:"skipped,omitempty"`
	Failed  []FailedPage         `json:"failed,omitempty"`
}

// ManifestSink accumulates every page of a run and writes the manifest on
// Close. Nothing is written if the run never started.
type ManifestSink struct {
	writer FileWriter
	root   string
	logger *zap.Logger

	mu       sync.Mutex
	manifest Manifest
	started  bool
}

// NewManifestSink writes ManifestFile under root through writer.
func NewManifestSink(writer FileWriter, root string, logger *zap.Logger) *ManifestSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManifestSink{
		writer:   writer,
		root:     root,
		logger:   logger,
		manifest: Manifest{Pages: []crawler.PageRecord{}},
	}
}

// Path is where the manifest will be written.
func (s *ManifestSink) Path() string {
	return filepath.Join(s.root, ManifestFile)
}

// Consume records pages and run milestones.
func (s *ManifestSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		foldRun(&s.manifest.Run, evt)
		switch evt.Stage {
		case progress.StageRunStart:
			s.started = true
		case progress.StagePageWritten:
			s.manifest.Pages = append(s.manifest.Pages, crawler.PageRecord{
				RunID:       evt.RunUUID().String(),
				URL:         evt.URL,
				Path:        s.relative(evt.Path),
				StatusCode:  evt.StatusCode,
				Bytes:       int(evt.Bytes),
				ContentHash: evt.Hash,
				FetchedAt:   evt.TS,
				DurationMs:  evt.Dur.Milliseconds(),
				Links:       evt.Links,
				Assets:      evt.Assets,
			})
		case progress.StagePageSkipped:
			s.manifest.Skipped = append(s.manifest.Skipped, evt.URL)
		case progress.StagePageFailed:
			s.manifest.Failed = append(s.manifest.Failed, FailedPage{URL: evt.URL, Error: evt.Note})
		}
	}
	return nil
}

// Manifest returns a copy of what has been accumulated so far.
func (s *ManifestSink) Manifest() Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.manifest
	out.Pages = append([]crawler.PageRecord(nil), s.manifest.Pages...)
	out.Skipped = append([]string(nil), s.manifest.Skipped...)
	out.Failed = append([]FailedPage(nil), s.manifest.Failed...)
	return out
}

// Close writes the manifest.
func (s *ManifestSink) Close(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	if s.writer == nil {
		return errors.New("manifest writer is nil")
	}
	data, err := json.MarshalIndent(s.Manifest(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := s.writer.WriteFile(ctx, s.Path(), append(data, '\n')); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	s.logger.Debug("manifest written", zap.String("path", s.Path()))
	return nil
}

func (s *ManifestSink) relative(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
