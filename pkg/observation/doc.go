/*
Package observation implements observer→target subscriptions, historical
event queries, frequency analysis, and timed replay.

# Observer Subscriptions

An observation subscription scopes delivery to events originating from one
target: an observer agent watching a worker agent sees that worker's events
and nothing else. Registrations merge patterns idempotently per
(observer, target) pair, and the same registrations drive history queries
filtered by target.

# History and Analysis

QueryHistory reads the canonical event log, the same log live subscribers
are fed from, filtered by target and patterns. When more events match than
the limit, the most recent are returned, in ascending sequence order, along
with per-name aggregate counts. AnalyzePatterns computes event-name
frequencies over a pattern-filtered window, most frequent first.

# Replay

Replay re-emits matched historical events preserving their relative timing,
compressed or expanded by the requested speed (speed 5.0 replays a
10-second window in roughly 2 seconds). Pacing runs on a dedicated
goroutine with its own timer, so replay never blocks ordinary dispatch.

With as_new_events the replayed copies are appended to the canonical log
with fresh sequence numbers and replay_of / replay_session tags, making
them visible to live subscribers exactly like original events; otherwise
they are pushed only to the requesting client's transport. Sessions are
transient: a finished or cancelled session disappears from status queries.
*/
package observation
