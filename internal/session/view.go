package session

import (
	"context"
	"sync"
	"time"

	"barter-service/internal/fanout"
	"barter-service/internal/logger"
	"barter-service/internal/models"
)

const (
	UpdateSnapshot  = "snapshot"
	UpdateMessage   = "message"
	UpdateProposal  = "proposal"
	UpdateDegraded  = "degraded"
	UpdateRecovered = "recovered"
)

// Update is one change to a view, in the order it was applied.
type Update struct {
	Type      string            `json:"type"`
	Message   *models.Message   `json:"message,omitempty"`
	Proposal  *models.Proposal  `json:"proposal,omitempty"`
	Messages  []models.Message  `json:"messages,omitempty"`
	Proposals []models.Proposal `json:"proposals,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// viewState is the lifecycle shared by every view: a queue of updates, a wakeup
// channel, and exactly-once release of the subscription and poller.
type viewState struct {
	mu       sync.Mutex
	pending  []Update
	degraded bool
	polling  bool

	notify chan struct{}
	cancel context.CancelFunc
	sub    *fanout.Subscription
	poller sync.WaitGroup
	once   sync.Once
}

func newViewState(cancel context.CancelFunc) *viewState {
	return &viewState{
		notify: make(chan struct{}, 1),
		cancel: cancel,
	}
}

// push queues u; callers must hold mu.
func (v *viewState) push(u Update) {
	v.pending = append(v.pending, u)
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

// Notify receives a value whenever updates are waiting in Drain.
func (v *viewState) Notify() <-chan struct{} {
	return v.notify
}

// Drain returns and clears the queued updates.
func (v *viewState) Drain() []Update {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.pending
	v.pending = nil
	return out
}

// Degraded reports whether live updates are currently unreliable.
func (v *viewState) Degraded() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.degraded
}

// Polling reports whether the view fell back to periodic fetches.
func (v *viewState) Polling() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.polling
}

// Release stops the subscription or poller. Safe to call more than once.
func (v *viewState) Release() {
	v.once.Do(func() {
		v.cancel()
		if v.sub != nil {
			v.sub.Release()
		}
		v.poller.Wait()
	})
}

func (v *viewState) setDegraded(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.degraded = true
	v.push(Update{Type: UpdateDegraded, Error: err.Error()})
}

func (v *viewState) setRecovered() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.degraded = false
	v.push(Update{Type: UpdateRecovered})
}

// poll calls refresh every interval until the view is released.
func (v *viewState) poll(ctx context.Context, kind string, interval time.Duration, refresh func(context.Context) error) {
	v.mu.Lock()
	v.polling = true
	v.mu.Unlock()

	v.poller.Add(1)
	go func() {
		defer v.poller.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := refresh(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("%s view poll failed: %v", kind, err)
				}
			}
		}
	}()
}
