package orchestration

import (
	"context"
	"sync"
)

type outcome struct {
	result *Result
	err    error
}

// handle is a single-resolution completion handle bound to one run. It
// settles exactly once; any terminal event after settlement is a no-op.
type handle struct {
	ch   chan outcome
	once sync.Once
}

func newHandle() *handle {
	return &handle{ch: make(chan outcome, 1)}
}

func (h *handle) resolve(r *Result) {
	h.once.Do(func() { h.ch <- outcome{result: r} })
}

func (h *handle) reject(err error) {
	h.once.Do(func() { h.ch <- outcome{err: err} })
}

// wait blocks until the handle settles. Cancelling ctx abandons the wait,
// not the run; there is no mid-run cancellation.
func (h *handle) wait(ctx context.Context) (*Result, error) {
	select {
	case o := <-h.ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
