// Package host is the document-host side of the relay: it joins a channel,
// runs inbound commands through an Executor and answers with progress
// notifications and a terminal response.
package host
