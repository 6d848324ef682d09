// Package sinks implements concrete progress consumers: Prometheus
// collectors, structured logging, and a terminal progress bar. Each sink
// satisfies progress.Sink.
package sinks
