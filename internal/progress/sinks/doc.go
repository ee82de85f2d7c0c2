// Package sinks implements the consumers of mirror progress: structured logs,
// Prometheus run collectors, a terminal progress bar, a live status snapshot
// and the on-disk run manifest. Each sink satisfies progress.Sink.
package sinks
