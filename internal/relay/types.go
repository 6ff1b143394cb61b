package relay

import (
	"errors"

	"github.com/rickgao/docrelay/internal/journal"
)

// Errors
var (
	ErrNotJoined    = errors.New("peer has not joined a channel")
	ErrEmptyChannel = errors.New("channel name is required")
)

// Texts sent to peers.
const (
	MsgChannelRequired = "Channel name is required"
	MsgJoinFirst       = "You must join the channel first"
	MsgPeerJoined      = "A new user has joined the channel"
	joinedPrefix       = "Connected to channel: "
)

// JoinedText is the result text of a successful join ack.
func JoinedText(channel string) string {
	return joinedPrefix + channel
}

// Member is a registry participant.
type Member interface {
	ID() string
	// Enqueue queues data for delivery without blocking. It returns false
	// if the member is gone or its queue is full.
	Enqueue(data []byte) bool
}

// ChannelInfo describes one active channel.
type ChannelInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Recorder receives an entry for every routed envelope.
type Recorder interface {
	Record(e journal.Entry)
}
