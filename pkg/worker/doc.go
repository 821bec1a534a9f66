/*
Package worker defines the completion worker boundary and the production
Anthropic-backed implementation.

The registry owns scheduling: it decides when a job runs, on which
goroutine, under which context, and with what concurrency bound. A Worker
only turns params into a result payload (or error) and must return promptly
when its context is cancelled; that is how advisory cancellation and the
operator-configured job timeout reach the underlying call.

WorkerFunc adapts a plain function for tests and for embedders that produce
completions some other way.
*/
package worker
