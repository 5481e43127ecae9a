package changefeed

import (
	"context"
	"sync"

	"barter-service/internal/logger"
	"barter-service/internal/observability"
)

// Stream delivers the events of one subscription in publish order. The channel is
// closed when the stream is closed, either by the subscriber or by the broker when the
// subscriber falls behind; a closed channel means events may have been lost.
type Stream struct {
	id     uint64
	table  Table
	filter Filter
	events chan Event
	broker *Broker
	stop   func() bool
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close unsubscribes. Safe to call more than once.
func (s *Stream) Close() {
	if s.stop != nil {
		s.stop()
	}
	s.broker.drop(s.id)
}

// Broker fans published events out to matching streams without blocking the publisher.
type Broker struct {
	mu      sync.RWMutex
	streams map[uint64]*Stream
	nextID  uint64
	buffer  int
	closed  bool
}

// NewBroker creates a broker whose streams buffer up to buffer events.
func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker{
		streams: make(map[uint64]*Stream),
		buffer:  buffer,
	}
}

// Subscribe opens a stream for table rows accepted by filter. The stream is closed
// when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, table Table, filter Filter) (*Stream, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.nextID++
	s := &Stream{
		id:     b.nextID,
		table:  table,
		filter: filter,
		events: make(chan Event, b.buffer),
		broker: b,
	}
	b.streams[s.id] = s
	b.mu.Unlock()

	s.stop = context.AfterFunc(ctx, func() { b.drop(s.id) })
	observability.IncFeedEvent("subscribe")
	return s, nil
}

// Publish delivers ev to every matching stream.
func (b *Broker) Publish(ev Event) {
	var lagging []uint64

	b.mu.RLock()
	for id, s := range b.streams {
		if s.table != ev.Table {
			continue
		}
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.events <- ev:
		default:
			lagging = append(lagging, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range lagging {
		logger.Warn("change feed stream %d fell behind, closing", id)
		observability.IncFeedEvent("overflow")
		b.drop(id)
	}
}

// Gap tells every stream that events may have been missed.
func (b *Broker) Gap() {
	var lagging []uint64

	b.mu.RLock()
	for id, s := range b.streams {
		select {
		case s.events <- Event{Table: s.table, Gap: true}:
		default:
			// closing the stream is an equally strong signal
			lagging = append(lagging, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range lagging {
		b.drop(id)
	}
	observability.IncFeedEvent("gap")
}

// Close closes every stream and rejects new subscriptions.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, s := range b.streams {
		delete(b.streams, id)
		close(s.events)
	}
}

// Len returns the number of open streams.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.streams)
}

func (b *Broker) drop(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[id]; ok {
		delete(b.streams, id)
		close(s.events)
	}
}
