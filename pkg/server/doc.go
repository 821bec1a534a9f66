/*
Package server is the transport adapter: a unix-domain socket speaking
newline-delimited JSON frames.

# Wire Format

Requests carry an event name, an optional correlation id, and an open
payload map:

	{"id": "42", "event": "completion:async", "data": {"params": {"prompt": "hi"}}}

Responses echo the id and carry either a data object or a structured error
with a stable code string:

	{"id": "42", "data": {"request_id": "..."}}
	{"id": "42", "error": {"code": "queue_full", "message": "queue full"}}

Pushed events have no id; they carry the event name, payload, sequence
number, timestamp, and origin. A per-connection writer mutex keeps frames
atomic, so pushes and responses from concurrent goroutines never interleave
on the wire.

Unknown payload fields pass through untouched. Unrecognized errors map to
the "internal" code with a generic message; details stay in the server log.

# Connection Lifecycle

Each connection is also a push transport: subscribing to the broker or the
observation manager binds delivery to the requesting connection. A failed
write marks the connection dead, and disconnect tears down every
subscription the client registered.
*/
package server
