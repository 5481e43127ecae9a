package session

import (
	"context"
	"sort"

	"barter-service/internal/changefeed"
	"barter-service/internal/fanout"
	"barter-service/internal/logger"
	"barter-service/internal/models"
)

// ConversationView keeps the conversation between the session user and a peer
// current. Messages addressed to the user are marked read as they arrive.
type ConversationView struct {
	*viewState
	session  *Session
	peerID   int
	messages []models.Message
}

// OpenConversation loads the conversation with peerID and subscribes to changes. If
// the subscription cannot be opened the view polls instead.
func (s *Session) OpenConversation(ctx context.Context, peerID int) (*ConversationView, error) {
	ctx, cancel := context.WithCancel(ctx)
	v := &ConversationView{
		viewState: newViewState(cancel),
		session:   s,
		peerID:    peerID,
	}

	sub, err := s.svc.Feed.SubscribeConversation(ctx, s.userID, peerID, fanout.Handler{
		Event:     v.apply,
		Resync:    v.resync,
		Degraded:  v.setDegraded,
		Recovered: v.setRecovered,
	})
	if err != nil {
		logger.Warn("conversation view %d<->%d: subscribe failed, polling: %v", s.userID, peerID, err)
		v.poll(ctx, fanout.KindConversation, s.svc.PollInterval, v.resync)
	} else {
		v.sub = sub
	}

	if err := v.resync(ctx); err != nil {
		v.Release()
		return nil, err
	}
	return v, nil
}

// PeerID returns the other participant.
func (v *ConversationView) PeerID() int {
	return v.peerID
}

// Messages returns a copy of the current ordered history.
func (v *ConversationView) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// resync replaces the history with a fresh fetch. The lock is held across the fetch
// so live events queue behind it and are applied on top.
func (v *ConversationView) resync(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	msgs, err := v.session.svc.Conversations.Fetch(ctx, v.session.userID, v.peerID)
	if err != nil {
		return err
	}
	v.messages = msgs
	snapshot := make([]models.Message, len(msgs))
	copy(snapshot, msgs)
	v.push(Update{Type: UpdateSnapshot, Messages: snapshot})
	return nil
}

func (v *ConversationView) apply(ev changefeed.Event) {
	if ev.Message == nil {
		return
	}
	msg := *ev.Message

	v.mu.Lock()
	v.upsert(msg)
	v.push(Update{Type: UpdateMessage, Message: &msg})
	v.mu.Unlock()

	if msg.ReceiverID == v.session.userID && msg.Unread() {
		// the resulting update comes back through the feed
		if _, err := v.session.svc.Conversations.MarkRead(context.Background(), v.session.userID, []int{msg.ID}); err != nil {
			logger.Warn("conversation view: mark message %d read failed: %v", msg.ID, err)
		}
	}
}

// upsert inserts, replaces or, for deleted rows, removes msg; callers hold mu.
func (v *ConversationView) upsert(msg models.Message) {
	for i := range v.messages {
		if v.messages[i].ID != msg.ID {
			continue
		}
		if msg.DeletedAt != nil {
			v.messages = append(v.messages[:i], v.messages[i+1:]...)
		} else {
			v.messages[i] = msg
		}
		return
	}
	if msg.DeletedAt != nil {
		return
	}
	v.messages = append(v.messages, msg)
	sort.SliceStable(v.messages, func(i, j int) bool {
		a, b := v.messages[i], v.messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
