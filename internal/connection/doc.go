// Package connection implements the resilient client-side Connection.
//
// A Connection owns at most one websocket at a time and keeps it alive:
//   - Reconnects after unexpected closes with jittered, progressive backoff
//   - Sends heartbeat pings and tears down sockets that stop acknowledging
//   - Optionally probes the relay's /healthz after repeated failures
//   - Publishes inbound frames, errors and state transitions on channels
package connection
