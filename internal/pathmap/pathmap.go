// Package pathmap converts between absolute URLs, seed-relative references
// and paths under the local mirror root.
//
// All joins are made against the seed root rather than the referring page's
// directory, and "../" segments are never resolved. A URL ending in "/" maps
// to a directory path; PagePath appends IndexFile to those.
package pathmap

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// IndexFile is the file name used for URLs that denote a directory.
	IndexFile = "index.html"
	// ManifestFile is the run manifest at the top of the mirror root. No URL
	// may map onto it.
	ManifestFile = ".sitemirror.json"
)

var (
	// ErrOutOfScope is returned when a URL does not live under the seed root.
	ErrOutOfScope = errors.New("url outside mirror scope")
	// ErrEscapesRoot is returned when a mapped path would leave the mirror root.
	ErrEscapesRoot = errors.New("path escapes mirror root")
	// ErrReservedPath is returned when a URL maps onto ManifestFile.
	ErrReservedPath = errors.New("path reserved for the run manifest")
)

var (
	schemeRE     = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)
	pageSuffixes = []string{"/", ".html", ".htm", ".php"}
)

// Mapper holds the seed root and the output root for one mirror run.
type Mapper struct {
	seed   string
	scheme string
	root   string
}

// New validates the seed URL and output directory and returns a Mapper.
func New(seedURL, outputRoot string) (*Mapper, error) {
	seed := NormalizeSeed(seedURL)
	u, err := url.Parse(seed)
	if err != nil {
		return nil, fmt.Errorf("parse seed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("seed url %q must use http or https", seedURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("seed url %q has no host", seedURL)
	}
	root := strings.TrimSpace(outputRoot)
	if root == "" {
		return nil, errors.New("output root is required")
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output root: %w", err)
	}
	return &Mapper{
		seed:   seed,
		scheme: u.Scheme,
		root:   root,
	}, nil
}

// NormalizeSeed trims the seed, drops its fragment and query and makes sure
// it ends with "/".
func NormalizeSeed(raw string) string {
	s := StripQuery(StripFragment(strings.TrimSpace(raw)))
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s
}

// Seed returns the normalized seed root.
func (m *Mapper) Seed() string { return m.seed }

// Root returns the absolute output root.
func (m *Mapper) Root() string { return m.root }

// InScope reports whether u has the seed root as a string prefix.
func (m *Mapper) InScope(u string) bool {
	return strings.HasPrefix(u, m.seed)
}

// ToAbsolute resolves a reference found in a page against the seed root.
func (m *Mapper) ToAbsolute(ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case IsHTTP(ref):
		return ref
	case strings.HasPrefix(ref, "//"):
		return m.scheme + ":" + ref
	case schemeRE.MatchString(ref):
		// data:, mailto:, javascript: and friends are already absolute.
		return ref
	}
	ref = StripQuery(ref)
	if strings.HasPrefix(ref, "/") {
		return m.seed + ref[1:]
	}
	return m.seed + ref
}

// ToRelative turns an absolute URL into a root-relative reference that keeps
// its leading "/". Inputs that already start with "/" are returned as is and
// inputs that do not contain the seed root come back query-stripped.
func (m *Mapper) ToRelative(abs string) string {
	if strings.HasPrefix(abs, "/") {
		return abs
	}
	s := StripQuery(abs)
	idx := strings.Index(s, m.seed)
	if idx < 0 {
		return s
	}
	return s[idx+len(m.seed)-1:]
}

// ToLocalPath maps an in-scope URL (or a root-relative reference) to a path
// under the output root and creates its parent directory. A URL ending in "/"
// yields a path ending in the platform separator.
func (m *Mapper) ToLocalPath(u string) (string, error) {
	s := StripFragment(StripQuery(u))
	relative := strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//")
	if !relative && !m.InScope(s) {
		return "", fmt.Errorf("map %q: %w", u, ErrOutOfScope)
	}
	rel := m.ToRelative(s)
	path := strings.TrimRight(m.root, string(filepath.Separator)) + filepath.FromSlash(rel)

	if !m.contains(path) {
		return "", fmt.Errorf("map %q: %w", u, ErrEscapesRoot)
	}
	if path == filepath.Join(m.root, ManifestFile) {
		return "", fmt.Errorf("map %q: %w", u, ErrReservedPath)
	}

	dir := filepath.Dir(path)
	if strings.HasSuffix(path, string(filepath.Separator)) {
		dir = filepath.Clean(path)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return path, nil
}

// PagePath is ToLocalPath with IndexFile appended to directory paths.
func (m *Mapper) PagePath(u string) (string, error) {
	path, err := m.ToLocalPath(u)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(path, string(filepath.Separator)) {
		path += IndexFile
	}
	return path, nil
}

func (m *Mapper) contains(path string) bool {
	clean := filepath.Clean(path)
	if clean == m.root {
		return true
	}
	prefix := m.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(clean, prefix)
}

// StripQuery drops everything from the first "?".
func StripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// StripFragment drops everything from the first "#".
func StripFragment(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

// IsHTTP reports whether ref carries an http or https scheme.
func IsHTTP(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// IsDataURI reports whether ref is an inline data: URI.
func IsDataURI(ref string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ref)), "data:")
}

// IsPage reports whether u names something the mirror fetches and rewrites
// as a document: a directory or an .html, .htm or .php resource.
func IsPage(u string) bool {
	s := strings.ToLower(StripFragment(StripQuery(u)))
	for _, suffix := range pageSuffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
