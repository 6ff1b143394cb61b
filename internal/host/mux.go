package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/docrelay/internal/protocol"
)

// ErrUnknownCommand is returned for commands with no registered handler.
var ErrUnknownCommand = errors.New("unknown command")

// ProgressFunc reports progress for the running command. CommandID and
// Timestamp are filled in by the Endpoint.
type ProgressFunc func(data protocol.ProgressData)

// Executor runs one command. The returned error's text is sent to the caller
// unchanged.
type Executor interface {
	Execute(ctx context.Context, command string, params json.RawMessage, report ProgressFunc) (any, error)
}

// HandlerFunc runs a single command.
type HandlerFunc func(ctx context.Context, params json.RawMessage, report ProgressFunc) (any, error)

// Mux dispatches commands by name.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewMux returns a Mux with the built-in ping command.
func NewMux() *Mux {
	m := &Mux{handlers: make(map[string]HandlerFunc)}
	m.Handle("ping", func(context.Context, json.RawMessage, ProgressFunc) (any, error) {
		return map[string]any{"pong": true, "time": time.Now().UnixMilli()}, nil
	})
	return m
}

// Handle registers h for command, replacing any previous handler.
func (m *Mux) Handle(command string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[command] = h
}

// Commands returns the registered command names, sorted.
func (m *Mux) Commands() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute implements Executor.
func (m *Mux) Execute(ctx context.Context, command string, params json.RawMessage, report ProgressFunc) (any, error) {
	m.mu.RLock()
	h, ok := m.handlers[command]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	return h(ctx, params, report)
}
