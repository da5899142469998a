// Package progress carries job lifecycle events from the scheduler to
// pluggable sinks. Emit never blocks the scheduler: events are buffered,
// batched on a background goroutine, and fanned out to sinks such as the
// structured log or the Postgres retrieval audit table.
package progress
