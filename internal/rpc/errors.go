package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/docrelay/internal/connection"
)

// Errors
var (
	ErrTimeout          = errors.New("request timed out")
	ErrConnectionClosed = errors.New("connection closed")
	ErrTooManyPending   = errors.New("too many pending requests")
	ErrDuplicateID      = errors.New("duplicate request id")
	ErrNoChannel        = errors.New("no channel joined")
)

// CommandError is a failure reported by the host that ran the command. The
// message is the host's error text, unchanged.
type CommandError struct {
	ID      string
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// TimeoutError reports a request that got no terminal response in time.
// errors.Is(err, ErrTimeout) matches it.
type TimeoutError struct {
	ID      string
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q (id %s) timed out after %s", e.Command, e.ID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// RelayError is an error envelope from the relay itself, such as sending
// before joining a channel.
type RelayError struct {
	ID      string
	Message string
}

func (e *RelayError) Error() string {
	return "relay: " + e.Message
}

// IsRetryable reports whether err is a transient failure worth retrying:
// timeouts and connection loss. Command and relay errors are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, connection.ErrNotConnected)
}
