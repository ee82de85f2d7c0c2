// Package htmldoc parses and serializes HTML documents for rewriting.
package htmldoc

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var noscriptTagRE = regexp.MustCompile(`(?i)</?noscript\b[^>]*>`)

// Parse builds a mutable document. Scripting is disabled so the children of
// <noscript> are parsed as elements rather than raw text.
func Parse(r io.Reader) (*goquery.Document, error) {
	root, err := html.ParseWithOptions(r, html.ParseOptionEnableScripting(false))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// ParseString is Parse over an in-memory document.
func ParseString(s string) (*goquery.Document, error) {
	return Parse(strings.NewReader(s))
}

// Render serializes the whole document, doctype included.
func Render(doc *goquery.Document) (string, error) {
	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return out, nil
}

// StripNoscript removes every opening and closing noscript tag and keeps
// whatever they enclosed.
func StripNoscript(s string) string {
	return noscriptTagRE.ReplaceAllString(s, "")
}

// Attrs returns a copy of the attributes of the first node in sel.
func Attrs(sel *goquery.Selection) []html.Attribute {
	if sel.Length() == 0 {
		return nil
	}
	src := sel.Get(0).Attr
	out := make([]html.Attribute, len(src))
	copy(out, src)
	return out
}
