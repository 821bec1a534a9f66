/*
Package broker provides pattern-scoped pub/sub delivery of log events to
connected clients.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────┐
	│                                                       │
	│  eventlog observer ──→ Publish(event)                 │
	│                            │                          │
	│              match patterns against event name        │
	│                            │                          │
	│        enqueue on each matching subscriber's          │
	│        bounded queue; per-subscriber goroutine        │
	│        drains it over the transport                   │
	│                            │                          │
	│   push failure / queue overflow ──→ auto-unsubscribe  │
	└───────────────────────────────────────────────────────┘

# Delivery Semantics

  - Subscription is per subscriber id with a set of colon-glob patterns;
    re-subscribing merges patterns idempotently.
  - Publish is driven by the event log's ordered observer chain and only
    enqueues: transport I/O happens on per-subscriber drain goroutines, so
    a stalled client can never block an append. Each queue is FIFO, so
    every subscriber observes events in non-decreasing sequence order.
  - A failed push means the client is gone: the broker unsubscribes it and
    moves on. Publishers never see transport errors. A subscriber whose
    queue overflows is treated the same way.
  - Unsubscribe (explicit or on disconnect) atomically removes all of a
    subscriber's registrations.
*/
package broker
