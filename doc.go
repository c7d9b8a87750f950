// Package bulkexport streams large search results into output sinks while
// sharing a fixed pool of goroutines fairly between requesters.
//
// An export is split into partitions. The Engine queries them one at a time
// on the shared pool: each partition runs as a task that, when done, queues a
// task for the next partition, so one export holds at most one pool goroutine
// and other requesters get a turn in between. Rows go through a batching
// processor (package batch) onto a bounded handoff queue (package handoff)
// drained by one writer goroutine per export.
//
// Constructors
//   - New(ctx, opts ...Option): WithBackend is required, everything else has a default.
//
// Defaults
// Unless overridden, the following defaults apply to a newly created Engine:
//   - PoolSize: 4
//   - FairnessDelay: 5s
//   - QueueCapacity: 1000
//   - OfferTimeout: 1s
//   - CheckInterval: 1000 rows
//   - BatchSize: 1000 rows
//   - Throttle: none
//
// Ending an export
// An export ends when its partitions are exhausted, when the ceiling is
// reached, when it is cancelled (Job.Cancel, Engine.Close) or when the sink
// fails. Reaching the ceiling is a normal end. In every case the sink is
// finalised exactly once and Job.Done is closed afterwards.
package bulkexport
