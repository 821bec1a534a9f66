/*
Package dispatcher implements the plugin hook dispatcher: ordered fan-out of
events to registered (pattern, handler) pairs.

Handlers register at load time and are invoked in registration order for
every event whose name matches their pattern. Two rules give independently
authored handlers predictable semantics:

  - Isolation: a handler's error or panic is caught, logged, and counted; it
    contributes nothing and the remaining handlers still run. Shared state is
    never left in a handler's hands.

  - First responder wins: for request/response-style events, the earliest
    registered handler returning a non-nil Response owns the reply. Later
    handlers still execute for their side effects, but their responses are
    discarded. This is a deliberate ownership policy, making handler order
    part of a plugin's contract.

Handlers must not block inline. Work that waits on anything external belongs
in the completion registry; the handler submits and returns.
*/
package dispatcher
