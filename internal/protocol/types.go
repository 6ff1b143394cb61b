package protocol

import (
	"encoding/json"
	"errors"
)

// Envelope types.
const (
	TypeJoin     = "join"
	TypeMessage  = "message"
	TypeProgress = "progress_update"
	TypeSystem   = "system"
	TypeError    = "error"
)

// ProgressMessageType is the inner type tag hosts put on progress payloads.
const ProgressMessageType = "command_progress"

// Errors
var (
	ErrMalformed     = errors.New("malformed envelope")
	ErrMissingType   = errors.New("envelope missing type")
	ErrMissingID     = errors.New("envelope missing id")
	ErrMissingBody   = errors.New("envelope missing message")
	ErrWrongType     = errors.New("unexpected envelope type")
	ErrEmptyChannel  = errors.New("channel name is required")
	ErrEmptyCommand  = errors.New("command name is required")
	ErrNotTerminal   = errors.New("message is not a terminal response")
	ErrInvalidStatus = errors.New("invalid progress status")
)

// Envelope is the outer frame of every message on the wire.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// CommandMessage is the body of a "message" envelope. Requests carry Command
// and Params; terminal responses carry Result or Error under the same ID.
type CommandMessage struct {
	ID      string          `json:"id"`
	Command string          `json:"command,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// IsTerminal reports whether the message resolves a pending request.
func (m *CommandMessage) IsTerminal() bool {
	return len(m.Result) > 0 || m.Error != ""
}

// IsRequest reports whether the message asks the receiver to run a command.
func (m *CommandMessage) IsRequest() bool {
	return m.Command != "" && !m.IsTerminal()
}

// ProgressStatus is the lifecycle stage reported by a progress notification.
type ProgressStatus string

const (
	StatusStarted    ProgressStatus = "started"
	StatusInProgress ProgressStatus = "in_progress"
	StatusCompleted  ProgressStatus = "completed"
	StatusError      ProgressStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s ProgressStatus) Valid() bool {
	switch s {
	case StatusStarted, StatusInProgress, StatusCompleted, StatusError:
		return true
	}
	return false
}

// ProgressData is a single non-terminal status update for a command.
type ProgressData struct {
	CommandID      string          `json:"commandId"`
	CommandType    string          `json:"commandType,omitempty"`
	Status         ProgressStatus  `json:"status"`
	Progress       float64         `json:"progress"` // 0-100
	TotalItems     int             `json:"totalItems,omitempty"`
	ProcessedItems int             `json:"processedItems,omitempty"`
	CurrentChunk   int             `json:"currentChunk,omitempty"`
	TotalChunks    int             `json:"totalChunks,omitempty"`
	ChunkSize      int             `json:"chunkSize,omitempty"`
	Message        string          `json:"message,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"` // Unix milliseconds
}

// ProgressMessage is the body of a "progress_update" envelope.
type ProgressMessage struct {
	Type string       `json:"type,omitempty"`
	Data ProgressData `json:"data"`
}

// JoinResult is the body of the system ack sent to a peer that joined.
type JoinResult struct {
	ID     string `json:"id,omitempty"`
	Result string `json:"result"`
}
