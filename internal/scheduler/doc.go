// Package scheduler owns the job lifecycle: admission, per-model FIFO
// execution slots, worker supervision, cancellation, checkpointing and the
// terminal store writes. It is structured into small files by concern:
//
//   - scheduler.go: Scheduler type, Config and defaults, constructor, Close.
//   - handle.go: jobHandle, the in-memory view of a non-terminal job.
//   - submit.go: admission, lane queueing and slot promotion.
//   - worker.go: the per-job worker, checkpoint loop, terminal writes.
//   - cancel.go: cooperative cancellation for queued and running jobs.
//   - query.go: Status/List/Delete/Subscribe/Artifacts read paths.
//   - errors.go: error taxonomy surfaced to the HTTP layer.
//   - metrics.go: prometheus collectors.
//
// Exactly one worker goroutine owns a running job's record until it is
// terminal; every other path only reads, or flips in-memory flags that the
// worker resolves. Jobs on the same model never overlap; jobs on different
// models are independent.
package scheduler
