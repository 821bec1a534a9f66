/*
Package types defines the core data model shared by all Burrow packages.

The types package contains pure data structures with no behavior beyond
small convenience methods, keeping the dependency graph acyclic: every other
package imports types, types imports nothing but the standard library.

# Core Types

Event:
  - Immutable named record ("namespace:verb") with structured payload
  - Sequence assigned at append time: strictly increasing, gapless
  - Origin identifies the producing client or component

CompletionJob:
  - Tracks one asynchronous model-completion request
  - Status advances forward only: queued → in_progress → terminal
  - Terminal states (completed, failed, cancelled) are written exactly once

Subscription / ObservationSubscription:
  - Live pattern registrations for push delivery
  - Observation variant is scoped to events from a single target

ReplaySession:
  - Transient handle on a timed re-emission of historical events
  - Removed as soon as the replay finishes or is cancelled

# State Machines

CompletionJob status transitions:

	queued ──→ in_progress ──→ completed
	   │            │     └──→ failed
	   └────────────┴────────→ cancelled

No transition ever leaves a terminal state. The registry enforces this under
a single-writer rule; these types only name the states.
*/
package types
