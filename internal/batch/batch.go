// Package batch applies one operation to many items and reports a per-item
// outcome for each. A failing item never cancels its siblings.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPanic wraps a recovered panic from an item operation.
var ErrPanic = errors.New("batch item panicked")

// Policy decides whether a batch as a whole succeeded.
type Policy int

const (
	// PolicyAny succeeds when at least one item succeeded.
	PolicyAny Policy = iota
	// PolicyAll succeeds only when every item succeeded.
	PolicyAll
)

func (p Policy) String() string {
	switch p {
	case PolicyAny:
		return "any"
	case PolicyAll:
		return "all"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "any" or "all".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return PolicyAny, nil
	case "all":
		return PolicyAll, nil
	default:
		return PolicyAny, fmt.Errorf("unknown batch policy %q (want any or all)", s)
	}
}

// ItemError is the failure of one item.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Outcome is the result for the item at Index.
type Outcome[In, Out any] struct {
	Index int
	Input In
	Value Out
	Err   error // *ItemError or nil
}

// OK reports whether the item succeeded.
func (o Outcome[In, Out]) OK() bool {
	return o.Err == nil
}

// Result holds outcomes in input order.
type Result[In, Out any] struct {
	Outcomes  []Outcome[In, Out]
	Succeeded int
	Failed    int
	Success   bool
	Policy    Policy
}

// Err joins the item errors, or returns nil when every item succeeded.
func (r Result[In, Out]) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// Values returns the values of successful items in input order.
func (r Result[In, Out]) Values() []Out {
	out := make([]Out, 0, r.Succeeded)
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o.Value)
		}
	}
	return out
}

type options struct {
	concurrency int
	policy      Policy
	onDone      func(done, total int)
}

// Option configures Run.
type Option func(*options)

// WithConcurrency bounds how many items run at once. Values below 1 mean
// sequential execution.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithPolicy sets the aggregate success policy.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithOnItemDone is called after each item finishes. Calls are serialized.
func WithOnItemDone(fn func(done, total int)) Option {
	return func(o *options) { o.onDone = fn }
}

// Run applies op to every item. Items that have not started when ctx ends
// fail with ctx.Err(); items already running see the cancelled ctx.
func Run[In, Out any](ctx context.Context, items []In, op func(context.Context, In) (Out, error), opts ...Option) Result[In, Out] {
	o := options{concurrency: 1, policy: PolicyAny}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}

	res := Result[In, Out]{
		Outcomes: make([]Outcome[In, Out], len(items)),
		Policy:   o.policy,
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		doneCt int
	)
	g.SetLimit(o.concurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			var (
				val Out
				err error
			)
			if err = ctx.Err(); err == nil {
				val, err = safeCall(ctx, op, item)
			}

			out := Outcome[In, Out]{Index: i, Input: item, Value: val}
			if err != nil {
				out.Err = &ItemError{Index: i, Err: err}
			}
			res.Outcomes[i] = out

			if o.onDone != nil {
				mu.Lock()
				doneCt++
				o.onDone(doneCt, len(items))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	for _, out := range res.Outcomes {
		if out.Err == nil {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	switch o.policy {
	case PolicyAll:
		res.Success = res.Failed == 0
	default:
		res.Success = res.Succeeded > 0
	}
	return res
}

func safeCall[In, Out any](ctx context.Context, op func(context.Context, In) (Out, error), item In) (val Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return op(ctx, item)
}
