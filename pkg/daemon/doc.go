/*
Package daemon is the composition root: it builds storage, the event log,
the dispatcher, the completion registry, the broker, the observation
manager, and the socket server from one configuration tree, and owns
startup and reverse-order shutdown.

Event flow. Every emitted event takes the same path: append to the log
(assigning its sequence number), push to broker subscribers and observers
via the log's ordered observer chain, then plugin dispatch. The dispatch
step runs synchronously in Emit so the emitting client can receive the
first handler's response; the registry's completion:result events take the
identical path, which is what lets plugin handlers react to completions.

Two built-in handlers ship with the daemon: completion:request submits a
job to the registry and answers with the request id, and daemon:* events
are audit-logged.
*/
package daemon
