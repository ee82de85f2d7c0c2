// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// RunStatus represents the lifecycle state of a mirror run.
type RunStatus string

// Run status values recorded in the manifest.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// PageErrorPolicy decides what a page-level failure does to the run.
type PageErrorPolicy string

// Supported page error policies.
const (
	PageErrorAbort PageErrorPolicy = "abort"
	PageErrorSkip  PageErrorPolicy = "skip"
)

// Run is the metadata kept for one invocation of the mirror.
type Run struct {
	ID         string      `json:"id"`
	Seed       string      `json:"seed"`
	OutputRoot string      `json:"output_root"`
	Status     RunStatus   `json:"status"`
	Started    time.Time   `json:"started_at"`
	Finished   *time.Time  `json:"finished_at,omitempty"`
	ErrorText  string      `json:"error_text,omitempty"`
	Counters   RunCounters `json:"counters"`
}

// RunCounters aggregates page and asset outcomes for a run.
type RunCounters struct {
	PagesWritten int        `json:"pages_written"`
	PagesFailed  int        `json:"pages_failed"`
	PagesSkipped int        `json:"pages_skipped"`
	Assets       AssetStats `json:"assets"`
}

// AssetStats counts what happened to the embedded resources of a page.
type AssetStats struct {
	// Localized references now point into the mirror.
	Localized int `json:"localized"`
	// Downloaded assets were fetched during this run.
	Downloaded int `json:"downloaded"`
	// Reused assets already existed on disk.
	Reused int `json:"reused"`
	// Failed downloads were swallowed; the reference stays rewritten.
	Failed int `json:"failed"`
	// External references point outside the mirror scope and are left untouched.
	External int `json:"external"`
	// Inline counts data: URIs, which are never fetched.
	Inline int `json:"inline"`
	// LazyResolved counts lazy images replaced by their noscript fallback.
	LazyResolved int `json:"lazy_resolved"`
}

// Add accumulates o into s.
func (s *AssetStats) Add(o AssetStats) {
	s.Localized += o.Localized
	s.Downloaded += o.Downloaded
	s.Reused += o.Reused
	s.Failed += o.Failed
	s.External += o.External
	s.Inline += o.Inline
	s.LazyResolved += o.LazyResolved
}

// PageRecord is recorded for each page written to the mirror.
type PageRecord struct {
	RunID       string     `json:"run_id"`
	URL         string     `json:"url"`
	Path        string     `json:"path"`
	StatusCode  int        `json:"status_code"`
	Bytes       int        `json:"bytes"`
	ContentHash string     `json:"content_hash"`
	FetchedAt   time.Time  `json:"fetched_at"`
	DurationMs  int64      `json:"duration_ms"`
	Links       int        `json:"links"`
	Assets      AssetStats `json:"assets"`
}

// FetchResponse describes a fetched resource.
type FetchResponse struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
