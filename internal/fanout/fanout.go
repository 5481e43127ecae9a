// Package fanout bridges the change feed to open views: one filtered stream per view,
// handlers called in feed order, automatic resubscription and resync on loss.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"barter-service/internal/changefeed"
	"barter-service/internal/logger"
	"barter-service/internal/observability"
)

const (
	KindConversation = "conversation"
	KindProposals    = "proposals"
)

// Handler receives the events of one view. Event and Resync are never called
// concurrently and Event sees rows in feed order. Resync must rebuild the view from
// the store; it runs after every gap. Degraded fires once resync has failed
// MaxResyncFailures times in a row and Recovered once a later resync succeeds.
type Handler struct {
	Event     func(changefeed.Event)
	Resync    func(ctx context.Context) error
	Degraded  func(err error)
	Recovered func()
}

// Fanout opens subscriptions on a change feed.
type Fanout struct {
	feed              changefeed.Feed
	maxResyncFailures int
	retryDelay        time.Duration
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithMaxResyncFailures sets how many consecutive failed resyncs mark a view degraded.
func WithMaxResyncFailures(n int) Option {
	return func(f *Fanout) {
		if n > 0 {
			f.maxResyncFailures = n
		}
	}
}

// WithRetryDelay sets the pause between failed resubscribe attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(f *Fanout) {
		f.retryDelay = d
	}
}

// New constructs a Fanout over feed.
func New(feed changefeed.Feed, opts ...Option) *Fanout {
	f := &Fanout{
		feed:              feed,
		maxResyncFailures: 3,
		retryDelay:        time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscription is a live view subscription. Release must be called on every exit
// path; it is safe to call more than once.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Release stops delivery and waits until no handler is running.
func (s *Subscription) Release() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Done is closed once the subscription has stopped delivering.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// ConversationFilter matches message rows exchanged between a and b.
func ConversationFilter(a, b int) changefeed.Filter {
	return func(ev changefeed.Event) bool {
		return ev.Message != nil && ev.Message.Involves(a, b)
	}
}

// ItemFilter matches proposal rows on itemID.
func ItemFilter(itemID int) changefeed.Filter {
	return func(ev changefeed.Event) bool {
		return ev.Proposal != nil && ev.Proposal.ItemID == itemID
	}
}

// SubscribeConversation streams message changes between a and b to h.
func (f *Fanout) SubscribeConversation(ctx context.Context, a, b int, h Handler) (*Subscription, error) {
	return f.subscribe(ctx, KindConversation, changefeed.TableMessages, ConversationFilter(a, b), h)
}

// SubscribeItemProposals streams proposal changes on itemID to h.
func (f *Fanout) SubscribeItemProposals(ctx context.Context, itemID int, h Handler) (*Subscription, error) {
	return f.subscribe(ctx, KindProposals, changefeed.TableProposals, ItemFilter(itemID), h)
}

func (f *Fanout) subscribe(ctx context.Context, kind string, table changefeed.Table, filter changefeed.Filter, h Handler) (*Subscription, error) {
	if h.Event == nil {
		return nil, errors.New("fanout: handler has no Event callback")
	}
	ctx, cancel := context.WithCancel(ctx)
	stream, err := f.feed.Subscribe(ctx, table, filter)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", kind, err)
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	w := &watcher{
		fanout: f,
		kind:   kind,
		table:  table,
		filter: filter,
		h:      h,
	}
	go func() {
		defer close(sub.done)
		w.run(ctx, stream)
	}()
	return sub, nil
}

type watcher struct {
	fanout   *Fanout
	kind     string
	table    changefeed.Table
	filter   changefeed.Filter
	h        Handler
	failures int
	degraded bool
}

func (w *watcher) run(ctx context.Context, stream *changefeed.Stream) {
	for {
		lost := w.pump(ctx, stream)
		if ctx.Err() != nil {
			stream.Close()
			return
		}
		if lost {
			stream.Close()
			stream = w.resubscribe(ctx)
			if stream == nil {
				return
			}
			continue
		}
		// gap on a live stream: events after it are still buffered
		if !w.resync(ctx) {
			stream.Close()
			stream = w.resubscribe(ctx)
			if stream == nil {
				return
			}
		}
	}
}

// pump delivers events until the stream is lost (true) or a gap arrives (false).
func (w *watcher) pump(ctx context.Context, stream *changefeed.Stream) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-stream.Events():
			if !ok {
				logger.Debug("fanout %s stream lost, resubscribing", w.kind)
				return true
			}
			if ev.Gap {
				return false
			}
			w.h.Event(ev)
		}
	}
}

// resubscribe opens a new stream and resyncs, retrying until it works, ctx ends or
// the feed is closed. It returns nil when the watcher should stop.
func (w *watcher) resubscribe(ctx context.Context) *changefeed.Stream {
	for {
		stream, err := w.fanout.feed.Subscribe(ctx, w.table, w.filter)
		if errors.Is(err, changefeed.ErrClosed) {
			w.fail(err)
			w.markDegraded(err)
			return nil
		}
		if err == nil {
			if w.resync(ctx) {
				return stream
			}
			stream.Close()
		} else {
			w.fail(err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.fanout.retryDelay):
		}
	}
}

func (w *watcher) resync(ctx context.Context) bool {
	if w.h.Resync == nil {
		return true
	}
	if err := w.h.Resync(ctx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		w.fail(err)
		return false
	}
	observability.IncFanoutResync(w.kind, "ok")
	w.failures = 0
	if w.degraded {
		w.degraded = false
		logger.Info("fanout %s recovered", w.kind)
		if w.h.Recovered != nil {
			w.h.Recovered()
		}
	}
	return true
}

func (w *watcher) fail(err error) {
	observability.IncFanoutResync(w.kind, "failed")
	w.failures++
	logger.Warn("fanout %s resync failed (%d in a row): %v", w.kind, w.failures, err)
	if w.failures >= w.fanout.maxResyncFailures {
		w.markDegraded(err)
	}
}

func (w *watcher) markDegraded(err error) {
	if w.degraded {
		return
	}
	w.degraded = true
	if w.h.Degraded != nil {
		w.h.Degraded(err)
	}
}
