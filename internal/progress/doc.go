// Package progress carries mirror run milestones from the workers to the
// consumers that care about them: the log, the terminal progress bar, the
// Prometheus collectors and the run manifest. Events are batched on a
// background goroutine and fanned out to pluggable sinks.
package progress
