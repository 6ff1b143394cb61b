// Package rpc layers request/response semantics over a relay Connection.
//
// A command is sent as a "message" envelope with a fresh ID and completes
// when a terminal response with the same ID arrives, when its timeout fires,
// or when the Connection drops. The Correlator owns the table of outstanding
// requests and has a single removal point, so each request completes exactly
// once; late or duplicate responses are ignored. Progress notifications are
// fanned out to subscribers and never complete a request.
package rpc
