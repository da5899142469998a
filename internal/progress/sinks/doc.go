// Package sinks implements concrete progress consumers: structured logging and
// the retrieval audit repository. Each satisfies progress.Sink.
package sinks
