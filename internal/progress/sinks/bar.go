package sinks

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/sitemirror/internal/progress"
)

// BarSink renders a terminal progress bar whose total grows with the
// frontier as new pages are discovered.
type BarSink struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	done int64
}

// NewBarSink draws to w.
func NewBarSink(w io.Writer, description string) *BarSink {
	bar := progressbar.NewOptions64(1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &BarSink{bar: bar}
}

// Consume advances the bar by one for every dequeued URL.
func (s *BarSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StagePageWritten, progress.StagePageSkipped, progress.StagePageFailed:
			s.done++
			total := max(int64(evt.Queued), s.done, s.bar.GetMax64())
			if total != s.bar.GetMax64() {
				s.bar.ChangeMax64(total)
			}
			if err := s.bar.Add(1); err != nil {
				return err
			}
		case progress.StageRunDone:
			if s.done > 0 {
				s.bar.ChangeMax64(s.done)
			}
			if err := s.bar.Finish(); err != nil {
				return err
			}
		case progress.StageRunError:
			if err := s.bar.Exit(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Done reports how many URLs the bar has counted.
func (s *BarSink) Done() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Close implements the Sink interface; it performs no action.
func (s *BarSink) Close(context.Context) error {
	return nil
}
