// Package protocol defines the JSON envelopes exchanged between automation
// clients, the relay and document hosts.
//
// Every frame is one Envelope. The relay only inspects Type and Channel;
// "message" and "progress_update" envelopes are forwarded byte-for-byte.
//
// Conventions:
//   - IDs: UUIDv7 strings (time-ordered, random tail)
//   - Command payloads: opaque json.RawMessage, never re-encoded in transit
//   - Terminal responses: a CommandMessage carrying Result or Error
package protocol
