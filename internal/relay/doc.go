// Package relay implements the channel relay server.
//
// Peers connect over websocket, join a channel by name and exchange
// envelopes with the other members of that channel. The relay does not
// interpret commands: message and progress_update envelopes are forwarded
// byte for byte to every other member of the sender's channel.
//
// Channel membership lives in a Registry, the only shared mutable state in
// the server. Each peer has a bounded outbound queue drained by its own
// write pump; a peer that cannot keep up is disconnected.
package relay
