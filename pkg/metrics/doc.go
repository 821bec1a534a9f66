/*
Package metrics provides Prometheus metrics and health checking for Burrow.

Collectors are package-level variables registered in init(), one family per
concern: event log appends and persistence failures, dispatch latency and
handler failures, completion jobs by status, subscriber counts and push
failures, replay outcomes, and per-request server metrics.

# Health Checking

Components register themselves with RegisterComponent and update their state
as it changes. Three HTTP endpoints are exposed by the daemon's metrics
server:

  - /metrics  Prometheus exposition
  - /healthz  Overall health (healthy / degraded / unhealthy)
  - /readyz   Readiness of the critical components (eventlog, registry, server)

"Degraded" is a distinct state from "unhealthy": a degraded component (for
example the event log after exhausting its persistence retry budget) keeps
the process alive and serving reads, but fails readiness so operators and
load balancers can react.
*/
package metrics
