package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Decode parses a raw frame into an Envelope. It only checks the outer shape;
// use Command or Progress to validate the body.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}

// Encode marshals an envelope for the wire.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Command decodes the body of a "message" envelope.
func (e *Envelope) Command() (*CommandMessage, error) {
	if e.Type != TypeMessage {
		return nil, fmt.Errorf("%w: %q", ErrWrongType, e.Type)
	}
	if len(e.Message) == 0 {
		return nil, ErrMissingBody
	}

	var msg CommandMessage
	if err := json.Unmarshal(e.Message, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.ID == "" {
		msg.ID = e.ID
	}
	if msg.ID == "" {
		return nil, ErrMissingID
	}
	return &msg, nil
}

// Progress decodes the body of a "progress_update" envelope. The command ID
// falls back to the envelope ID when the host omits it from the data block.
func (e *Envelope) Progress() (*ProgressData, error) {
	if e.Type != TypeProgress {
		return nil, fmt.Errorf("%w: %q", ErrWrongType, e.Type)
	}
	if len(e.Message) == 0 {
		return nil, ErrMissingBody
	}

	var msg ProgressMessage
	if err := json.Unmarshal(e.Message, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Data.CommandID == "" {
		msg.Data.CommandID = e.ID
	}
	if msg.Data.CommandID == "" {
		return nil, ErrMissingID
	}
	if !msg.Data.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, msg.Data.Status)
	}
	return &msg.Data, nil
}

// SystemText returns the body of a system or error envelope when it is a
// plain string.
func (e *Envelope) SystemText() (string, bool) {
	var s string
	if err := json.Unmarshal(e.Message, &s); err != nil {
		return "", false
	}
	return s, true
}

// JoinAck decodes the {id, result} body the relay sends to a joining peer.
func (e *Envelope) JoinAck() (*JoinResult, bool) {
	if e.Type != TypeSystem || len(e.Message) == 0 || e.Message[0] != '{' {
		return nil, false
	}
	var res JoinResult
	if err := json.Unmarshal(e.Message, &res); err != nil || res.ID == "" {
		return nil, false
	}
	return &res, true
}

// NewJoin builds a join request. id may be empty when the caller does not
// wait for the acknowledgement.
func NewJoin(id, channel string) (*Envelope, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	return &Envelope{ID: id, Type: TypeJoin, Channel: channel}, nil
}

// NewCommand builds a command request. params may be nil.
func NewCommand(id, channel, command string, params any) (*Envelope, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	if command == "" {
		return nil, ErrEmptyCommand
	}

	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(CommandMessage{ID: id, Command: command, Params: raw})
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return &Envelope{ID: id, Type: TypeMessage, Channel: channel, Message: body}, nil
}

// NewResult builds a successful terminal response for id.
func NewResult(id, channel string, result any) (*Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	body, err := json.Marshal(CommandMessage{ID: id, Result: raw})
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return &Envelope{ID: id, Type: TypeMessage, Channel: channel, Message: body}, nil
}

// NewFailure builds a failed terminal response for id.
func NewFailure(id, channel, errMsg string) (*Envelope, error) {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	body, err := json.Marshal(CommandMessage{ID: id, Error: errMsg})
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return &Envelope{ID: id, Type: TypeMessage, Channel: channel, Message: body}, nil
}

// NewProgress builds a progress notification for data.CommandID.
func NewProgress(channel string, data ProgressData) (*Envelope, error) {
	if data.CommandID == "" {
		return nil, ErrMissingID
	}
	if !data.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, data.Status)
	}
	if data.Timestamp == 0 {
		data.Timestamp = time.Now().UnixMilli()
	}
	body, err := json.Marshal(ProgressMessage{Type: ProgressMessageType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode progress: %w", err)
	}
	return &Envelope{ID: data.CommandID, Type: TypeProgress, Channel: channel, Message: body}, nil
}

// NewSystem builds a relay notice. body is either a string or a JoinResult.
func NewSystem(channel string, body any) (*Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode system message: %w", err)
	}
	return &Envelope{Type: TypeSystem, Channel: channel, Message: raw}, nil
}

// NewError builds a relay error reply. id echoes the offending envelope so a
// waiting client can fail fast.
func NewError(id, text string) *Envelope {
	raw, _ := json.Marshal(text)
	return &Envelope{ID: id, Type: TypeError, Message: raw}
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: params are not valid JSON", ErrMalformed)
		}
		return p, nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		return raw, nil
	}
}
