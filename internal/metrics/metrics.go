// Package metrics exposes Prometheus collectors for the mirror.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/sitemirror/internal/crawler"
)

// Page outcomes used as the status label of mirror_pages_total.
const (
	PageWritten = "written"
	PageFailed  = "failed"
	PageSkipped = "skipped"
)

var (
	mirrorPagesTotal           *prometheus.CounterVec
	mirrorBytesTotal           *prometheus.CounterVec
	mirrorAssetsTotal          *prometheus.CounterVec
	mirrorFetchDuration        *prometheus.HistogramVec
	mirrorActiveWorkers        prometheus.Gauge
	mirrorFrontierPending      prometheus.Gauge
	mirrorFrontierVisited      prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		mirrorPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_pages_total",
				Help: "Total number of dequeued URLs, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		mirrorBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_bytes_total",
				Help: "Total number of bytes written to the mirror, labeled by kind.",
			},
			[]string{"kind"},
		)

		mirrorAssetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_assets_total",
				Help: "Embedded resources seen while rewriting pages, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		mirrorFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirror_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		mirrorActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_active_workers",
				Help: "Number of workers currently processing a page.",
			},
		)

		mirrorFrontierPending = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_frontier_pending",
				Help: "Queue entries waiting in the frontier.",
			},
		)

		mirrorFrontierVisited = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_frontier_visited",
				Help: "URLs handed out by the frontier so far.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records the outcome of one dequeued URL.
func ObservePage(site, status string, bytesWritten int) {
	Init()
	mirrorPagesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
	if bytesWritten > 0 {
		mirrorBytesTotal.WithLabelValues("page").Add(float64(bytesWritten))
	}
}

// ObserveAssets adds the per-page asset counters.
func ObserveAssets(stats crawler.AssetStats) {
	Init()
	add := func(outcome string, n int) {
		if n > 0 {
			mirrorAssetsTotal.WithLabelValues(outcome).Add(float64(n))
		}
	}
	add("downloaded", stats.Downloaded)
	add("reused", stats.Reused)
	add("failed", stats.Failed)
	add("external", stats.External)
	add("inline", stats.Inline)
	add("lazy_resolved", stats.LazyResolved)
}

// ObserveAssetBytes records bytes written for downloaded assets.
func ObserveAssetBytes(n int64) {
	Init()
	if n > 0 {
		mirrorBytesTotal.WithLabelValues("asset").Add(float64(n))
	}
}

// ObserveFetch records the latency of a page or asset fetch.
func ObserveFetch(kind string, duration time.Duration) {
	Init()
	mirrorFetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	mirrorActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	mirrorActiveWorkers.Dec()
}

// SetFrontier publishes the current frontier sizes.
func SetFrontier(pending, visited int) {
	Init()
	mirrorFrontierPending.Set(float64(pending))
	mirrorFrontierVisited.Set(float64(visited))
}
