/*
Package registry implements the completion job registry: the concurrent
bookkeeping that correlates asynchronous completion submissions with their
eventual results via opaque request identifiers.

# State Machine

	queued ──→ in_progress ──→ completed
	   │            │     └──→ failed
	   └────────────┴────────→ cancelled

Transitions only advance. The terminal transition is written exactly once
under a single mutex-guarded writer path; a duplicate completion for the
same request id (the race between advisory cancellation and natural
completion) is discarded with a warning. This is the sole reconciliation
authority for that race.

# Submission and Execution

Submit returns a fresh request id immediately; it never blocks on the
completion itself. Each job runs on its own goroutine, bounded by a
concurrency semaphore, so a completion lasting minutes holds a semaphore
slot but never a lock, and cannot stall dispatch or other clients.
Backpressure is fail-fast: once outstanding jobs reach the configured cap,
Submit returns ErrQueueFull instead of growing the registry unbounded.

# One Outcome, Two Access Patterns

On every terminal transition the registry appends a completion:result event
carrying the originating request id to the event log. Push subscribers and
pollers calling Result therefore read the same recorded state; there is no
second code path that could diverge. Result reports a non-terminal job as
pending rather than an error, so pollers retry safely.

# Timeouts

No server-side timeout is applied by default; pollers bring their own
backoff. Operators needing liveness set Config.JobTimeout, which bounds the
worker's context. A timed-out job records failed, exactly once, like any
other outcome.
*/
package registry
