package host

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/docrelay/internal/batch"
	"github.com/rickgao/docrelay/internal/config"
	"github.com/rickgao/docrelay/internal/connection"
	"github.com/rickgao/docrelay/internal/protocol"
	"github.com/rickgao/docrelay/internal/relay"
	"github.com/rickgao/docrelay/internal/rpc"
)

func TestMux_Ping(t *testing.T) {
	m := NewMux()
	res, err := m.Execute(context.Background(), "ping", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, res.(map[string]any)["pong"])
	assert.Equal(t, []string{"ping"}, m.Commands())
}

func TestMux_UnknownCommand(t *testing.T) {
	_, err := NewMux().Execute(context.Background(), "teleport", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Contains(t, err.Error(), "teleport")
}

func TestMux_HandleReplaces(t *testing.T) {
	m := NewMux()
	m.Handle("ping", func(context.Context, json.RawMessage, ProgressFunc) (any, error) {
		return "custom", nil
	})
	res, err := m.Execute(context.Background(), "ping", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", res)
}

func TestSimulator_Commands(t *testing.T) {
	m := NewSimulator()
	assert.Equal(t, []string{"echo", "fail", "noop", "ping", "sleep"}, m.Commands())

	res, err := m.Execute(context.Background(), "echo", json.RawMessage(`{"a":1}`), nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"a":1}`), res)

	_, err = m.Execute(context.Background(), "fail", json.RawMessage(`{"message":"no selection"}`), nil)
	assert.EqualError(t, err, "no selection")
}

func TestSimulator_SleepReportsProgress(t *testing.T) {
	var reports []protocol.ProgressData
	report := func(d protocol.ProgressData) { reports = append(reports, d) }

	res, err := NewSimulator().Execute(context.Background(), "sleep", json.RawMessage(`{"durationMs":30,"steps":3}`), report)
	require.NoError(t, err)
	assert.Equal(t, 30, res.(map[string]any)["sleptMs"])

	require.Len(t, reports, 4)
	assert.Equal(t, protocol.StatusStarted, reports[0].Status)
	assert.Equal(t, protocol.StatusCompleted, reports[3].Status)
	assert.Equal(t, 100.0, reports[3].Progress)
}

func TestSimulator_SleepCanceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := NewSimulator().Execute(ctx, "sleep", json.RawMessage(`{"durationMs":5000}`), func(protocol.ProgressData) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// End-to-end: a relay, an Endpoint serving the simulator and an rpc.Client.

func startRelay(t *testing.T) string {
	t.Helper()
	s := relay.NewServer(config.RelayConfig{}, nil)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		hs.Close()
	})
	return "ws" + strings.TrimPrefix(hs.URL, "http") + config.DefaultPath
}

func newConn(url string) *connection.Connection {
	cfg := connection.DefaultConfig(url)
	cfg.InitialDelay = 10 * time.Millisecond
	cfg.MaxDelay = 50 * time.Millisecond
	return connection.New(cfg, nil)
}

func start(t *testing.T, exec Executor, opts ...Option) *rpc.Client {
	t.Helper()
	url := startRelay(t)

	cfg := rpc.DefaultConfig()
	cfg.Channel = "doc"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ep := NewEndpoint(newConn(url), cfg, exec, nil, opts...)
	t.Cleanup(func() { ep.Close() })
	require.NoError(t, ep.Start(ctx))

	client := rpc.NewClient(newConn(url), cfg, nil)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Start(ctx))
	return client
}

func TestEndpoint_Echo(t *testing.T) {
	client := start(t, NewSimulator())

	res, err := client.SendCommand(context.Background(), "", "echo", map[string]string{"text": "hi"}, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(res))
}

func TestEndpoint_ErrorTextVerbatim(t *testing.T) {
	client := start(t, NewSimulator())

	_, err := client.SendCommand(context.Background(), "", "fail", map[string]string{"message": "Node not found: 12:7"}, time.Second)
	var cmdErr *rpc.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "Node not found: 12:7", cmdErr.Message)
}

func TestEndpoint_UnknownCommand(t *testing.T) {
	client := start(t, NewSimulator())

	_, err := client.SendCommand(context.Background(), "", "teleport", nil, time.Second)
	var cmdErr *rpc.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "unknown command: teleport", cmdErr.Message)
}

func TestEndpoint_ProgressForwarded(t *testing.T) {
	client := start(t, NewSimulator())

	call, err := client.Submit(rpc.Request{
		Command:        "sleep",
		Params:         SleepParams{DurationMS: 40, Steps: 2},
		Timeout:        2 * time.Second,
		ProgressBuffer: 8,
	})
	require.NoError(t, err)

	res, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"sleptMs":40,"steps":2}`, string(res))

	var events []rpc.ProgressEvent
	for ev := range call.Progress() {
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, "sleep", events[0].Data.CommandType)
	assert.Equal(t, protocol.StatusCompleted, events[2].Data.Status)
	assert.NotZero(t, events[2].Data.Timestamp)
}

func TestEndpoint_PanicBecomesError(t *testing.T) {
	m := NewMux()
	m.Handle("explode", func(context.Context, json.RawMessage, ProgressFunc) (any, error) {
		panic("kaboom")
	})
	client := start(t, m)

	_, err := client.SendCommand(context.Background(), "", "explode", nil, time.Second)
	var cmdErr *rpc.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Message, "kaboom")
}

func TestEndpoint_ExecTimeout(t *testing.T) {
	client := start(t, NewSimulator(), WithExecTimeout(20*time.Millisecond))

	_, err := client.SendCommand(context.Background(), "", "sleep", SleepParams{DurationMS: 5000}, 2*time.Second)
	var cmdErr *rpc.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, context.DeadlineExceeded.Error(), cmdErr.Message)
}

func TestEndpoint_MaxConcurrent(t *testing.T) {
	var running, peak atomic.Int32
	m := NewMux()
	m.Handle("work", func(context.Context, json.RawMessage, ProgressFunc) (any, error) {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	})
	client := start(t, m, WithMaxConcurrent(1))

	params := []any{1, 2, 3, 4}
	res := client.SendBatch(context.Background(), "", "work", params, 2*time.Second, batch.WithConcurrency(4))

	assert.Equal(t, 4, res.Succeeded, "errors: %v", res.Err())
	assert.Equal(t, int32(1), peak.Load())
	assert.False(t, errors.Is(res.Err(), rpc.ErrTimeout))
}
