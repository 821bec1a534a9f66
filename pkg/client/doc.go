// Package client is a Go client for the daemon's unix-socket protocol.
//
// One Client multiplexes request/response calls and pushed subscription
// events over a single connection: calls correlate on request ids, pushes
// arrive on the Events channel. Typed helpers cover the common routes;
// Call speaks any route directly.
package client
