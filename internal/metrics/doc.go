// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Relay peers, channels, joins and routed/dropped envelopes
//   - Connection state changes, reconnect attempts, heartbeat timeouts, health probes
//   - Pending requests, completions by outcome and request latency
//
// Every constructor takes a prometheus.Registerer and returns nil when it is
// nil; all recording methods are safe to call on a nil receiver, so metrics
// stay optional for library users and tests.
package metrics
