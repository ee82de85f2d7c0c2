package sinks

import (
	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/progress"
)

// foldRun applies one event to the run summary.
func foldRun(run *crawler.Run, evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		run.ID = evt.RunUUID().String()
		run.Seed = evt.URL
		run.OutputRoot = evt.Note
		run.Status = crawler.RunStatusRunning
		run.Started = evt.TS
	case progress.StagePageWritten:
		run.Counters.PagesWritten++
		run.Counters.Assets.Add(evt.Assets)
	case progress.StagePageSkipped:
		run.Counters.PagesSkipped++
	case progress.StagePageFailed:
		run.Counters.PagesFailed++
		run.Counters.Assets.Add(evt.Assets)
	case progress.StageRunDone:
		finished := evt.TS
		run.Finished = &finished
		run.Status = crawler.RunStatusSucceeded
	case progress.StageRunError:
		finished := evt.TS
		run.Finished = &finished
		run.ErrorText = evt.Note
		run.Status = crawler.RunStatusFailed
		if evt.Canceled {
			run.Status = crawler.RunStatusCanceled
		}
	}
}
