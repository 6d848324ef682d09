// Package progress carries download lifecycle events from workers to
// reporting sinks. Workers emit through a non-blocking Hub that batches events
// on a background goroutine and fans them out to sinks such as structured
// logs, Prometheus collectors or a terminal progress bar.
package progress
