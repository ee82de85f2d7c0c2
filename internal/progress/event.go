package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/sitemirror/internal/crawler"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StagePageWritten Stage = "PAGE_WRITTEN"
	StagePageSkipped Stage = "PAGE_SKIPPED"
	StagePageFailed  Stage = "PAGE_FAILED"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for page completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one milestone of a mirror run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// URL is the page URL, or the seed for run-level stages.
	URL string
	// Path is the local file written for the page.
	Path       string
	StatusCode int
	Bytes      int64
	// Hash is the hex SHA-256 of the written page.
	Hash string
	// Links is the number of in-scope links rewritten on the page.
	Links  int
	Assets crawler.AssetStats
	// Queued is the number of URLs the frontier had accepted when the event
	// was emitted.
	Queued int
	// Dur is the page latency, or the wall time for run completions.
	Dur time.Duration
	// Note carries the error text for failures and the output root on start.
	Note string
	// Canceled marks a RUN_ERROR caused by context cancellation.
	Canceled bool
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
		if e.URL == "" {
			return errors.New("run start requires the seed url")
		}
	case StageRunDone, StageRunError:
	case StagePageWritten:
		if e.URL == "" || e.Path == "" {
			return errors.New("page written requires url and path")
		}
	case StagePageSkipped, StagePageFailed:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for page events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
