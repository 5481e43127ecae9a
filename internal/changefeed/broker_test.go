package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barter-service/internal/models"
)

func messageEvent(id, sender, receiver int) Event {
	return Event{
		Table:   TableMessages,
		Op:      OpInsert,
		Message: &models.Message{ID: id, SenderID: sender, ReceiverID: receiver},
	}
}

func TestBrokerFiltersAndOrders(t *testing.T) {
	b := NewBroker(8)
	stream, err := b.Subscribe(context.Background(), TableMessages, func(ev Event) bool {
		return ev.Message.Involves(1, 2)
	})
	require.NoError(t, err)
	defer stream.Close()

	b.Publish(messageEvent(1, 1, 2))
	b.Publish(messageEvent(2, 3, 2))
	b.Publish(Event{Table: TableProposals, Op: OpInsert, Proposal: &models.Proposal{ID: 9}})
	b.Publish(messageEvent(3, 2, 1))

	assert.Equal(t, 1, (<-stream.Events()).RowID())
	assert.Equal(t, 3, (<-stream.Events()).RowID())
	select {
	case ev := <-stream.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestBrokerClosesLaggingStream(t *testing.T) {
	b := NewBroker(1)
	stream, err := b.Subscribe(context.Background(), TableMessages, nil)
	require.NoError(t, err)

	b.Publish(messageEvent(1, 1, 2))
	b.Publish(messageEvent(2, 1, 2))

	ev, ok := <-stream.Events()
	require.True(t, ok)
	assert.Equal(t, 1, ev.RowID())
	_, ok = <-stream.Events()
	assert.False(t, ok, "overflowing stream must be closed")
	assert.Equal(t, 0, b.Len())
}

func TestBrokerGapReachesEveryStream(t *testing.T) {
	b := NewBroker(4)
	msgs, _ := b.Subscribe(context.Background(), TableMessages, func(Event) bool { return false })
	props, _ := b.Subscribe(context.Background(), TableProposals, nil)

	b.Gap()

	ev := <-msgs.Events()
	assert.True(t, ev.Gap)
	ev = <-props.Events()
	assert.True(t, ev.Gap)
	assert.Equal(t, TableProposals, ev.Table)
}

func TestStreamClosesWithContext(t *testing.T) {
	b := NewBroker(4)
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := b.Subscribe(ctx, TableMessages, nil)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-stream.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream not closed after cancel")
	}
	stream.Close()
}

func TestBrokerClose(t *testing.T) {
	b := NewBroker(4)
	stream, _ := b.Subscribe(context.Background(), TableMessages, nil)
	b.Close()

	_, ok := <-stream.Events()
	assert.False(t, ok)
	_, err := b.Subscribe(context.Background(), TableMessages, nil)
	assert.ErrorIs(t, err, ErrClosed)
}
