// Package page rewrites one parsed document so it can be browsed from the
// mirror: links are fed to the frontier and made root-relative, embedded
// assets are downloaded next to the page, and lazy-loaded images are replaced
// by their noscript fallback.
package page

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/htmldoc"
	"github.com/JakeFAU/sitemirror/internal/metrics"
	"github.com/JakeFAU/sitemirror/internal/pathmap"
)

// LinkSink receives every in-scope link found on a page.
type LinkSink interface {
	Add(url string) bool
}

// AssetFetcher downloads an asset into a local file.
type AssetFetcher interface {
	FetchToFile(ctx context.Context, url, path string) (int64, error)
}

// AssetStore reports whether an asset is already on disk.
type AssetStore interface {
	Exists(path string) bool
}

type assetTarget struct {
	selector string
	attr     string
}

// Processed in this order.
var assetTargets = []assetTarget{
	{selector: "img[src]", attr: "src"},
	{selector: "script[src]", attr: "src"},
	{selector: "link[href]", attr: "href"},
}

// rel values on <link> that name another document rather than a resource.
var documentRels = map[string]bool{"canonical": true, "alternate": true, "next": true, "prev": true}

// Attributes that would let the browser bypass the rewritten reference.
var responsiveAttrs = []string{"data-srcset", "data-src", "srcset"}

// Result is the rewritten page ready to be written.
type Result struct {
	URL        string
	Path       string
	HTML       string
	Links      int
	Assets     crawler.AssetStats
	AssetBytes int64
}

// Processor is safe for concurrent use; documents are never shared.
type Processor struct {
	mapper   *pathmap.Mapper
	links    LinkSink
	fetcher  AssetFetcher
	store    AssetStore
	logger   *zap.Logger
	inFlight singleflight.Group
}

// New wires a Processor.
func New(mapper *pathmap.Mapper, links LinkSink, fetcher AssetFetcher, store AssetStore, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		mapper:  mapper,
		links:   links,
		fetcher: fetcher,
		store:   store,
		logger:  logger,
	}
}

// Process mutates doc in place and returns the serialized page together with
// the local path it belongs at. Asset failures never fail the page.
func (p *Processor) Process(ctx context.Context, pageURL string, doc *goquery.Document) (Result, error) {
	res := Result{URL: pageURL}
	res.Links = p.rewriteLinks(doc)

	for _, target := range assetTargets {
		attr := target.attr
		doc.Find(target.selector).Each(func(_ int, s *goquery.Selection) {
			if ctx.Err() != nil {
				return
			}
			p.localize(ctx, pageURL, s, attr, &res)
		})
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("process %s: %w", pageURL, err)
	}

	path, err := p.mapper.PagePath(pageURL)
	if err != nil {
		return Result{}, fmt.Errorf("map page %s: %w", pageURL, err)
	}
	out, err := htmldoc.Render(doc)
	if err != nil {
		return Result{}, err
	}
	res.Path = path
	res.HTML = htmldoc.StripNoscript(out)
	return res, nil
}

func (p *Processor) rewriteLinks(doc *goquery.Document) int {
	n := 0
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs := p.mapper.ToAbsolute(href)
		if !pathmap.IsHTTP(abs) {
			return
		}
		p.links.Add(pathmap.StripFragment(abs))
		if !p.mapper.InScope(abs) {
			return
		}
		s.SetAttr("href", p.mapper.ToRelative(abs))
		n++
	})
	return n
}

func (p *Processor) localize(ctx context.Context, pageURL string, s *goquery.Selection, attr string, res *Result) {
	for _, name := range responsiveAttrs {
		s.RemoveAttr(name)
	}
	ref, _ := s.Attr(attr)
	if strings.TrimSpace(ref) == "" {
		return
	}

	abs := p.mapper.ToAbsolute(ref)
	if pathmap.IsDataURI(abs) {
		if goquery.NodeName(s) == "img" && resolveLazyImage(s) {
			res.Assets.LazyResolved++
			return
		}
		res.Assets.Inline++
		return
	}
	if !pathmap.IsHTTP(abs) {
		return
	}
	if !p.mapper.InScope(abs) {
		res.Assets.External++
		return
	}

	s.SetAttr(attr, p.mapper.ToRelative(abs))
	res.Assets.Localized++

	if pointsAtDocument(s) && pathmap.IsPage(abs) {
		p.links.Add(pathmap.StripFragment(abs))
		return
	}

	path, err := p.mapper.ToLocalPath(abs)
	if err != nil {
		res.Assets.Failed++
		p.logger.Warn("asset path rejected",
			zap.String("page", pageURL), zap.String("asset", abs), zap.Error(err))
		return
	}
	if strings.HasSuffix(path, string(filepath.Separator)) {
		res.Assets.Failed++
		p.logger.Warn("asset maps to a directory",
			zap.String("page", pageURL), zap.String("asset", abs))
		return
	}

	downloaded, n, err := p.download(ctx, abs, path)
	switch {
	case err != nil:
		res.Assets.Failed++
		p.logger.Warn("asset download failed",
			zap.String("page", pageURL), zap.String("asset", abs), zap.Error(err))
	case downloaded:
		res.Assets.Downloaded++
		res.AssetBytes += n
		p.logger.Debug("asset downloaded", zap.String("asset", abs), zap.String("path", path), zap.Int64("bytes", n))
	default:
		res.Assets.Reused++
	}
}

// download fetches abs into path unless a file is already there. Concurrent
// requests for the same path share one fetch; only the caller that ran it
// reports a download.
func (p *Processor) download(ctx context.Context, abs, path string) (bool, int64, error) {
	ran := false
	v, err, _ := p.inFlight.Do(path, func() (any, error) {
		ran = true
		if p.store.Exists(path) {
			return int64(-1), nil
		}
		start := time.Now()
		n, err := p.fetcher.FetchToFile(ctx, abs, path)
		metrics.ObserveFetch("asset", time.Since(start))
		if err != nil {
			return nil, err
		}
		return n, nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("download %s: %w", abs, err)
	}
	n, _ := v.(int64)
	if !ran || n < 0 {
		return false, 0, nil
	}
	return true, n, nil
}

// pointsAtDocument reports whether s is a <link> such as rel="canonical"
// whose target is crawled as a page. Stylesheets and icons are always files.
func pointsAtDocument(s *goquery.Selection) bool {
	if goquery.NodeName(s) != "link" {
		return false
	}
	rel, _ := s.Attr("rel")
	document := false
	for _, v := range strings.Fields(strings.ToLower(rel)) {
		if v == "stylesheet" || strings.Contains(v, "icon") {
			return false
		}
		if documentRels[v] {
			document = true
		}
	}
	return document
}

// resolveLazyImage swaps a placeholder image for the <img> inside the
// <noscript> that immediately follows it. Attributes the fallback lacks are
// copied over. It reports whether the placeholder was removed.
func resolveLazyImage(s *goquery.Selection) bool {
	next := s.Next()
	if next.Length() == 0 || goquery.NodeName(next) != "noscript" {
		return false
	}
	fallback := next.Find("img").First()
	if fallback.Length() == 0 {
		return false
	}
	for _, a := range htmldoc.Attrs(s) {
		if _, ok := fallback.Attr(a.Key); !ok {
			fallback.SetAttr(a.Key, a.Val)
		}
	}
	s.Remove()
	return true
}
