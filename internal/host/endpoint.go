package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rickgao/docrelay/internal/connection"
	"github.com/rickgao/docrelay/internal/protocol"
	"github.com/rickgao/docrelay/internal/rpc"
)

// Option customizes an Endpoint.
type Option func(*Endpoint)

// WithExecTimeout bounds each command's run time. Zero means no bound.
func WithExecTimeout(d time.Duration) Option {
	return func(e *Endpoint) { e.execTimeout = d }
}

// WithMaxConcurrent caps how many commands run at once. Commands beyond the
// cap wait for a slot.
func WithMaxConcurrent(n int) Option {
	return func(e *Endpoint) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithClientOptions passes options through to the underlying rpc.Client.
func WithClientOptions(opts ...rpc.ClientOption) Option {
	return func(e *Endpoint) { e.clientOpts = append(e.clientOpts, opts...) }
}

// Endpoint serves commands arriving on a relay channel.
type Endpoint struct {
	exec        Executor
	logger      *slog.Logger
	execTimeout time.Duration
	sem         *semaphore.Weighted
	clientOpts  []rpc.ClientOption
	client      *rpc.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running  atomic.Int64
	executed atomic.Int64
	failed   atomic.Int64
}

// Stats is a snapshot of Endpoint counters.
type Stats struct {
	Running  int64
	Executed int64
	Failed   int64
}

// NewEndpoint builds an Endpoint over conn. cfg.Channel is joined on Start.
func NewEndpoint(conn *connection.Connection, cfg rpc.Config, exec Executor, logger *slog.Logger, opts ...Option) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		exec:   exec,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}

	copts := append([]rpc.ClientOption{rpc.WithCommandHandler(e.accept)}, e.clientOpts...)
	e.client = rpc.NewClient(conn, cfg, logger, copts...)
	return e
}

// Start connects and joins the configured channel.
func (e *Endpoint) Start(ctx context.Context) error {
	return e.client.Start(ctx)
}

// Close cancels running commands, closes the connection and waits for
// command goroutines to exit.
func (e *Endpoint) Close() error {
	e.cancel()
	err := e.client.Close()
	e.wg.Wait()
	return err
}

// Client returns the underlying rpc.Client.
func (e *Endpoint) Client() *rpc.Client {
	return e.client
}

// Stats returns current counters.
func (e *Endpoint) Stats() Stats {
	return Stats{
		Running:  e.running.Load(),
		Executed: e.executed.Load(),
		Failed:   e.failed.Load(),
	}
}

// accept runs on the client's dispatch goroutine.
func (e *Endpoint) accept(channel string, msg *protocol.CommandMessage) {
	if e.ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(channel, msg)
	}()
}

func (e *Endpoint) run(channel string, msg *protocol.CommandMessage) {
	ctx := e.ctx
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer e.sem.Release(1)
	}
	if e.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.execTimeout)
		defer cancel()
	}

	logger := e.logger.With("id", msg.ID, "command", msg.Command, "channel", channel)
	logger.Debug("executing command")

	e.running.Add(1)
	start := time.Now()
	result, err := e.execute(ctx, msg, e.reporter(channel, msg, logger))
	e.running.Add(-1)
	e.executed.Add(1)

	var reply *protocol.Envelope
	if err != nil {
		e.failed.Add(1)
		logger.Info("command failed", "error", err, "duration", time.Since(start))
		reply, err = protocol.NewFailure(msg.ID, channel, err.Error())
	} else {
		logger.Debug("command completed", "duration", time.Since(start))
		reply, err = protocol.NewResult(msg.ID, channel, result)
	}
	if err != nil {
		logger.Error("encode response failed", "error", err)
		reply, _ = protocol.NewFailure(msg.ID, channel, err.Error())
	}

	if err := e.client.SendEnvelope(reply); err != nil {
		logger.Warn("send response failed", "error", err)
	}
}

func (e *Endpoint) execute(ctx context.Context, msg *protocol.CommandMessage, report ProgressFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", msg.Command, r)
		}
	}()
	return e.exec.Execute(ctx, msg.Command, msg.Params, report)
}

func (e *Endpoint) reporter(channel string, msg *protocol.CommandMessage, logger *slog.Logger) ProgressFunc {
	return func(data protocol.ProgressData) {
		data.CommandID = msg.ID
		if data.CommandType == "" {
			data.CommandType = msg.Command
		}
		if data.Status == "" {
			data.Status = protocol.StatusInProgress
		}
		env, err := protocol.NewProgress(channel, data)
		if err != nil {
			logger.Warn("invalid progress report", "error", err)
			return
		}
		if err := e.client.SendEnvelope(env); err != nil {
			logger.Debug("send progress failed", "error", err)
		}
	}
}
