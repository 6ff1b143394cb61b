package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/docrelay/internal/protocol"
)

// SleepParams configures the simulated "sleep" command.
type SleepParams struct {
	DurationMS int `json:"durationMs"`
	Steps      int `json:"steps"`
}

// FailParams configures the simulated "fail" command.
type FailParams struct {
	Message string `json:"message"`
}

// NewSimulator returns a Mux with commands for exercising clients without a
// real document host: echo, noop, sleep (with progress) and fail.
func NewSimulator() *Mux {
	m := NewMux()
	m.Handle("echo", simEcho)
	m.Handle("noop", func(context.Context, json.RawMessage, ProgressFunc) (any, error) {
		return map[string]any{}, nil
	})
	m.Handle("sleep", simSleep)
	m.Handle("fail", simFail)
	return m
}

func simEcho(_ context.Context, params json.RawMessage, _ ProgressFunc) (any, error) {
	if len(params) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return params, nil
}

func simSleep(ctx context.Context, params json.RawMessage, report ProgressFunc) (any, error) {
	p := SleepParams{DurationMS: 1000, Steps: 4}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid sleep params: %w", err)
		}
	}
	if p.DurationMS < 0 {
		return nil, errors.New("durationMs must be >= 0")
	}
	if p.Steps < 1 {
		p.Steps = 1
	}

	report(protocol.ProgressData{
		Status:      protocol.StatusStarted,
		TotalChunks: p.Steps,
		Message:     fmt.Sprintf("sleeping %dms", p.DurationMS),
	})

	step := time.Duration(p.DurationMS) * time.Millisecond / time.Duration(p.Steps)
	for i := 1; i <= p.Steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(step):
		}
		status := protocol.StatusInProgress
		if i == p.Steps {
			status = protocol.StatusCompleted
		}
		report(protocol.ProgressData{
			Status:       status,
			Progress:     float64(i) * 100 / float64(p.Steps),
			CurrentChunk: i,
			TotalChunks:  p.Steps,
		})
	}

	return map[string]any{"sleptMs": p.DurationMS, "steps": p.Steps}, nil
}

func simFail(_ context.Context, params json.RawMessage, _ ProgressFunc) (any, error) {
	p := FailParams{Message: "simulated failure"}
	if len(params) > 0 {
		json.Unmarshal(params, &p)
	}
	if p.Message == "" {
		p.Message = "simulated failure"
	}
	return nil, errors.New(p.Message)
}
