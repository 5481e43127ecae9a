package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
)

type handoffKey struct{}

// handoff carries the outcome of work that kept running after its request was
// cancelled.
type handoff struct {
	taken  atomic.Bool
	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

func newHandoff() *handoff {
	return &handoff{done: make(chan struct{})}
}

func (h *handoff) settle(result any, err error) {
	h.once.Do(func() {
		h.result, h.err = result, err
		close(h.done)
	})
}

// Handoff is called by work that may outlive ctx. The returned func must be called
// once the work has finished, with its result and error. When ctx does not belong to
// a request guarded by Middleware the func does nothing.
func Handoff(ctx context.Context) func(result any, err error) {
	h, ok := ctx.Value(handoffKey{}).(*handoff)
	if !ok {
		return func(any, error) {}
	}
	h.taken.Store(true)
	return h.settle
}
