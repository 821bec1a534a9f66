/*
Package eventlog implements Burrow's ordered, append-only event log.

The log is the single source of truth for everything that happened in the
daemon. Every event receives a strictly increasing, gapless sequence number
at append time; appended events are immutable. Live subscribers, history
queries, frequency analysis, and replay all read from this one log, so
push- and poll-based consumers can never disagree.

# Architecture

	┌─────────────────── EVENT LOG ───────────────────────┐
	│                                                      │
	│  Append(event)                                       │
	│      │  assign sequence (lastSeq+1), timestamp       │
	│      │  append to in-memory slice                    │
	│      │  persist to BoltDB (errors logged, counted)   │
	│      ▼                                               │
	│  notify observers (dispatcher, broker, metrics)      │
	│                                                      │
	│  Query(patterns, since, limit)  ascending reads      │
	│  Tail(patterns, limit)          most recent matches  │
	└──────────────────────────────────────────────────────┘

# Ordering Guarantees

  - Sequence numbers are assigned under the append mutex: strictly
    increasing and gapless for the lifetime of the daemon.
  - Observers are notified in append order, after the critical section, so a
    slow observer delays later notifications but never corrupts ordering.
  - Query and Tail return events in ascending sequence order.

# Persistence and Degradation

Persistence failures never fail the appending caller: the event stays in the
in-memory log, the error is logged and counted. After persistFailureBudget
consecutive failures the log fails closed for writes (Append returns
ErrUnavailable) while reads keep serving from memory. One successful
persist resets the failure count.

On startup the log reloads persisted events from the store so sequence
numbering resumes where the previous process stopped.
*/
package eventlog
