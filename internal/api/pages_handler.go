package api

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/progress/sinks"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// PageSource exposes the manifest accumulated so far.
type PageSource interface {
	Manifest() sinks.Manifest
}

// PagesHandler serves the list of written pages.
type PagesHandler struct {
	source PageSource
	logger *zap.Logger
}

// NewPagesHandler wires the manifest source and logger.
func NewPagesHandler(source PageSource, logger *zap.Logger) *PagesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PagesHandler{source: source, logger: logger}
}

// ListPages handles GET /status/pages?limit=&offset=. It returns
// {"total": n, "pages": [...], "failed": [...]} on success, 400 for invalid
// paging and 503 when manifests are disabled.
func (h *PagesHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		writeError(w, http.StatusServiceUnavailable, "page manifest unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m := h.source.Manifest()
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(m.Pages),
		"pages":   window(m.Pages, limit, offset),
		"failed":  m.Failed,
		"skipped": len(m.Skipped),
	})
}

func window(pages []crawler.PageRecord, limit, offset int) []crawler.PageRecord {
	if offset >= len(pages) {
		return []crawler.PageRecord{}
	}
	end := min(offset+limit, len(pages))
	return pages[offset:end]
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
