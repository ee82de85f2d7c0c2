package collyfetcher

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodeBody undoes the content codings colly leaves in place. gzip is
// already handled by colly. On any decode failure the raw body is returned.
func decodeBody(contentEncoding string, body []byte) []byte {
	if len(body) == 0 {
		return body
	}
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "br":
		if out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body))); err == nil {
			return out
		}
	case "deflate":
		if out, err := inflate(body); err == nil {
			return out
		}
	}
	return body
}

// inflate accepts both zlib-wrapped and raw deflate streams; servers send either.
func inflate(body []byte) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
		defer zr.Close() //nolint:errcheck // reader over memory
		if out, err := io.ReadAll(zr); err == nil {
			return out, nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(body))
	defer fr.Close() //nolint:errcheck // reader over memory
	return io.ReadAll(fr)
}
