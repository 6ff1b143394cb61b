package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewID()
		parsed, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), parsed.Version())

		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{name: "join", data: `{"type":"join","channel":"c1"}`},
		{name: "not json", data: `{"type":`, wantErr: ErrMalformed},
		{name: "missing type", data: `{"channel":"c1"}`, wantErr: ErrMissingType},
		{name: "array", data: `[1,2]`, wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, TypeJoin, env.Type)
			assert.Equal(t, "c1", env.Channel)
		})
	}
}

func TestCommandRoundTrip(t *testing.T) {
	env, err := NewCommand("abc", "c1", "create_rectangle", map[string]int{"x": 10})
	require.NoError(t, err)

	data, err := Encode(env)
	require.NoError(t, err)

	parsed, err := Decode(data)
	require.NoError(t, err)

	cmd, err := parsed.Command()
	require.NoError(t, err)
	assert.Equal(t, "abc", cmd.ID)
	assert.Equal(t, "create_rectangle", cmd.Command)
	assert.JSONEq(t, `{"x":10}`, string(cmd.Params))
	assert.True(t, cmd.IsRequest())
	assert.False(t, cmd.IsTerminal())
}

func TestNewCommand_Validation(t *testing.T) {
	_, err := NewCommand("id", "", "noop", nil)
	assert.ErrorIs(t, err, ErrEmptyChannel)

	_, err = NewCommand("id", "c1", "", nil)
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, err = NewCommand("id", "c1", "noop", json.RawMessage(`{bad`))
	assert.ErrorIs(t, err, ErrMalformed)

	env, err := NewCommand("id", "c1", "noop", nil)
	require.NoError(t, err)
	cmd, err := env.Command()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(cmd.Params))
}

func TestTerminalResponses(t *testing.T) {
	ok, err := NewResult("r1", "c1", map[string]string{"name": "Frame 1"})
	require.NoError(t, err)
	msg, err := ok.Command()
	require.NoError(t, err)
	assert.True(t, msg.IsTerminal())
	assert.False(t, msg.IsRequest())
	assert.JSONEq(t, `{"name":"Frame 1"}`, string(msg.Result))

	fail, err := NewFailure("r2", "c1", "node not found")
	require.NoError(t, err)
	msg, err = fail.Command()
	require.NoError(t, err)
	assert.True(t, msg.IsTerminal())
	assert.Equal(t, "node not found", msg.Error)
}

func TestCommand_MissingID(t *testing.T) {
	env := &Envelope{Type: TypeMessage, Channel: "c1", Message: json.RawMessage(`{"command":"noop"}`)}
	_, err := env.Command()
	assert.ErrorIs(t, err, ErrMissingID)

	// Falls back to the envelope id.
	env.ID = "outer"
	cmd, err := env.Command()
	require.NoError(t, err)
	assert.Equal(t, "outer", cmd.ID)
}

func TestCommand_WrongType(t *testing.T) {
	env := &Envelope{Type: TypeJoin, Channel: "c1"}
	_, err := env.Command()
	assert.True(t, errors.Is(err, ErrWrongType))
}

func TestProgress(t *testing.T) {
	env, err := NewProgress("c1", ProgressData{
		CommandID:      "cmd-1",
		CommandType:    "set_multiple_text_contents",
		Status:         StatusInProgress,
		Progress:       40,
		TotalItems:     10,
		ProcessedItems: 4,
		Message:        "chunk 2 of 5",
	})
	require.NoError(t, err)
	assert.Equal(t, TypeProgress, env.Type)
	assert.Equal(t, "cmd-1", env.ID)

	data, err := Encode(env)
	require.NoError(t, err)
	parsed, err := Decode(data)
	require.NoError(t, err)

	p, err := parsed.Progress()
	require.NoError(t, err)
	assert.Equal(t, "cmd-1", p.CommandID)
	assert.Equal(t, StatusInProgress, p.Status)
	assert.Equal(t, float64(40), p.Progress)
	assert.Equal(t, 4, p.ProcessedItems)
	assert.NotZero(t, p.Timestamp)
}

func TestProgress_Invalid(t *testing.T) {
	_, err := NewProgress("c1", ProgressData{Status: StatusStarted})
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = NewProgress("c1", ProgressData{CommandID: "x", Status: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	env := &Envelope{Type: TypeProgress, Message: json.RawMessage(`{"data":{"status":"started"}}`)}
	_, err = env.Progress()
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestSystemMessages(t *testing.T) {
	notice, err := NewSystem("c1", "A new user has joined the channel")
	require.NoError(t, err)
	text, ok := notice.SystemText()
	require.True(t, ok)
	assert.Equal(t, "A new user has joined the channel", text)
	_, ok = notice.JoinAck()
	assert.False(t, ok)

	ack, err := NewSystem("c1", JoinResult{ID: "j1", Result: "Connected to channel: c1"})
	require.NoError(t, err)
	res, ok := ack.JoinAck()
	require.True(t, ok)
	assert.Equal(t, "j1", res.ID)

	e := NewError("x", "You must join the channel first")
	text, ok = e.SystemText()
	require.True(t, ok)
	assert.Equal(t, "You must join the channel first", text)
	assert.Equal(t, "x", e.ID)
}
