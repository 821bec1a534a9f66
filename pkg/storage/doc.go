/*
Package storage provides durable persistence for Burrow's event log and
completion job records using BoltDB.

Events are stored in the "events" bucket keyed by their big-endian encoded
sequence number, so BoltDB's byte-ordered iteration reproduces append order
on reload. Jobs live in the "jobs" bucket keyed by request id and are written
on creation and again on the terminal transition, giving operators a durable
record of outstanding work across restarts.

Persistence is deliberately decoupled from correctness of the live daemon:
the event log treats a failed AppendEvent as a logged, counted error, not a
failure of the append itself. Only a sustained run of persistence failures
moves the log into fail-closed write mode (see pkg/eventlog).

The NullStore implementation discards all writes for in-memory deployments
and tests.
*/
package storage
