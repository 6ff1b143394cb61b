package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/docrelay/internal/metrics"
)

// outcome is the single completion value of a request.
type outcome struct {
	result json.RawMessage
	err    error
}

// Pending is an outstanding request.
type Pending struct {
	ID      string
	Command string
	SentAt  time.Time
	Timeout time.Duration

	// LastActivity is SentAt until a progress event arrives. Guarded by the
	// correlator's lock.
	LastActivity time.Time

	timer *time.Timer
	done  chan outcome
}

// CorrelatorOption customizes a Correlator.
type CorrelatorOption func(*Correlator)

// WithMaxPending caps outstanding requests; 0 means unlimited.
func WithMaxPending(n int) CorrelatorOption {
	return func(c *Correlator) { c.maxPending = n }
}

// WithProgressExtendsTimeout re-arms a request's timer on every progress
// event for it.
func WithProgressExtendsTimeout(enabled bool) CorrelatorOption {
	return func(c *Correlator) { c.extendOnProgress = enabled }
}

// WithRPCMetrics records correlator metrics.
func WithRPCMetrics(m *metrics.RPCMetrics) CorrelatorOption {
	return func(c *Correlator) { c.metrics = m }
}

// Correlator matches terminal responses to outstanding requests by ID.
//
// Every completion path (response, failure, timeout, connection loss,
// caller cancellation) goes through take, which removes the entry from the
// table. Whoever removes it delivers the outcome; everyone else finds
// nothing and does nothing.
type Correlator struct {
	logger           *slog.Logger
	metrics          *metrics.RPCMetrics
	maxPending       int
	extendOnProgress bool

	mu      sync.Mutex
	pending map[string]*Pending
}

// NewCorrelator creates an empty Correlator.
func NewCorrelator(logger *slog.Logger, opts ...CorrelatorOption) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Correlator{
		logger:  logger,
		pending: make(map[string]*Pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a request and arms its timeout.
func (c *Correlator) Register(id, command string, timeout time.Duration) (*Pending, error) {
	now := time.Now()
	p := &Pending{
		ID:           id,
		Command:      command,
		SentAt:       now,
		Timeout:      timeout,
		LastActivity: now,
		done:         make(chan outcome, 1),
	}

	c.mu.Lock()
	if _, exists := c.pending[id]; exists {
		c.mu.Unlock()
		return nil, ErrDuplicateID
	}
	if c.maxPending > 0 && len(c.pending) >= c.maxPending {
		c.mu.Unlock()
		return nil, ErrTooManyPending
	}
	c.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() { c.expire(id) })
	n := len(c.pending)
	c.mu.Unlock()

	c.metrics.SetPending(n)
	return p, nil
}

// take removes and returns the request for id. It is the only place an
// entry leaves the table.
func (c *Correlator) take(id string) *Pending {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		p.timer.Stop()
	}
	n := len(c.pending)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	c.metrics.SetPending(n)
	return p
}

func (c *Correlator) complete(p *Pending, o outcome, label string) {
	p.done <- o
	c.metrics.Completed(label, time.Since(p.SentAt))
}

// Resolve completes id with a result. It returns false if id is not
// outstanding, e.g. a late or duplicate response.
func (c *Correlator) Resolve(id string, result json.RawMessage) bool {
	p := c.take(id)
	if p == nil {
		c.unmatched(id)
		return false
	}
	c.complete(p, outcome{result: result}, metrics.OutcomeSuccess)
	return true
}

// Fail completes id with the host's error text as a *CommandError.
func (c *Correlator) Fail(id, message string) bool {
	p := c.take(id)
	if p == nil {
		c.unmatched(id)
		return false
	}
	err := &CommandError{ID: id, Command: p.Command, Message: message}
	c.complete(p, outcome{err: err}, metrics.OutcomeCommandError)
	return true
}

// Reject completes id with err.
func (c *Correlator) Reject(id string, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	c.complete(p, outcome{err: err}, outcomeLabel(err))
	return true
}

// RejectAll completes every outstanding request with err and returns how
// many were rejected.
func (c *Correlator) RejectAll(err error) int {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	n := 0
	for _, id := range ids {
		if c.Reject(id, err) {
			n++
		}
	}
	if n > 0 {
		c.logger.Warn("rejected outstanding requests", "count", n, "error", err)
	}
	return n
}

// Touch records activity for id. With progress-extended timeouts enabled
// it re-arms the timer. It reports whether id is outstanding.
func (c *Correlator) Touch(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return false
	}
	p.LastActivity = time.Now()
	if c.extendOnProgress {
		p.timer.Reset(p.Timeout)
	}
	return true
}

// Wait blocks until p completes or ctx ends. On ctx end the request is
// withdrawn unless it completed first.
func (c *Correlator) Wait(ctx context.Context, p *Pending) (json.RawMessage, error) {
	select {
	case o := <-p.done:
		return o.result, o.err
	case <-ctx.Done():
	}

	if c.take(p.ID) != nil {
		c.metrics.Completed(metrics.OutcomeCanceled, time.Since(p.SentAt))
		return nil, ctx.Err()
	}
	o := <-p.done
	return o.result, o.err
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// LastActivity returns when id was last sent or touched.
func (c *Correlator) LastActivity(id string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return time.Time{}, false
	}
	return p.LastActivity, true
}

// Has reports whether id is outstanding.
func (c *Correlator) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

func (c *Correlator) expire(id string) {
	p := c.take(id)
	if p == nil {
		return
	}
	c.logger.Debug("request timed out", "id", id, "command", p.Command, "timeout", p.Timeout)
	err := &TimeoutError{ID: id, Command: p.Command, Timeout: p.Timeout}
	c.complete(p, outcome{err: err}, metrics.OutcomeTimeout)
}

func (c *Correlator) unmatched(id string) {
	c.metrics.Unmatched()
	c.logger.Debug("ignoring response with no pending request", "id", id)
}

func outcomeLabel(err error) string {
	var cmdErr *CommandError
	switch {
	case errors.As(err, &cmdErr):
		return metrics.OutcomeCommandError
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeClosed
	}
}
