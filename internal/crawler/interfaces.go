package crawler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/sitemirror/internal/frontier"
)

// Fetcher retrieves pages and assets over HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
	// FetchToFile downloads url and stores the body at path, returning the byte count.
	FetchToFile(ctx context.Context, url, path string) (int64, error)
}

// FileStore writes mirror files under the output root.
type FileStore interface {
	WriteFile(ctx context.Context, path string, data []byte) error
	Exists(path string) bool
}

// Frontier hands out URLs to workers and collects discovered links.
type Frontier interface {
	Add(url string) bool
	Acquire(ctx context.Context) (string, error)
	Release(url string)
	Stats() frontier.Stats
}

// Hasher computes digests of written documents.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}
