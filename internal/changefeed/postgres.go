package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"barter-service/internal/logger"
	"barter-service/internal/models"
	"barter-service/internal/observability"
)

// ProposalLoader reads a proposal row by id.
type ProposalLoader interface {
	GetProposal(ctx context.Context, proposalID int) (models.Proposal, error)
}

// MessageLoader reads a message row by id, including soft-deleted rows.
type MessageLoader interface {
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
}

type notification struct {
	Table Table `json:"table"`
	Op    Op    `json:"op"`
	ID    int   `json:"id"`
}

// PGFeed turns Postgres NOTIFY payloads into change events. Triggers only send the row
// id so payloads stay under the NOTIFY size limit; the row is loaded before dispatch.
type PGFeed struct {
	*Broker
	listener  *pq.Listener
	proposals ProposalLoader
	messages  MessageLoader
}

// NewPGFeed starts listening on channel. Call Run to dispatch notifications.
func NewPGFeed(dsn, channel string, proposals ProposalLoader, messages MessageLoader, buffer int) (*PGFeed, error) {
	f := &PGFeed{
		Broker:    NewBroker(buffer),
		proposals: proposals,
		messages:  messages,
	}
	f.listener = pq.NewListener(dsn, 500*time.Millisecond, 30*time.Second, f.onListenerEvent)
	if err := f.listener.Listen(channel); err != nil {
		f.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return f, nil
}

func (f *PGFeed) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		observability.IncFeedEvent("connected")
	case pq.ListenerEventDisconnected:
		logger.Warn("change feed disconnected: %v", err)
		observability.IncFeedEvent("disconnected")
	case pq.ListenerEventReconnected:
		logger.Info("change feed reconnected, requesting resync")
		observability.IncFeedEvent("reconnected")
		f.Gap()
	case pq.ListenerEventConnectionAttemptFailed:
		logger.Warn("change feed reconnect attempt failed: %v", err)
	}
}

// Run dispatches notifications until ctx is done or the listener is closed.
func (f *PGFeed) Run(ctx context.Context) error {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-f.listener.Notify:
			if !ok {
				return errors.New("change feed listener closed")
			}
			// nil is sent after a reconnect; Gap already covers it.
			if n == nil {
				continue
			}
			f.dispatch(ctx, n.Extra)
		case <-ping.C:
			if err := f.listener.Ping(); err != nil {
				logger.Warn("change feed ping failed: %v", err)
			}
		}
	}
}

// dispatch publishes the change named by payload. A notification that cannot be
// resolved to a row is lost, so subscribers get a gap instead.
func (f *PGFeed) dispatch(ctx context.Context, payload string) {
	ev, err := f.decode(ctx, payload)
	if err != nil {
		logger.Warn("change feed: dropping notification %q: %v", payload, err)
		f.Gap()
		return
	}
	f.Publish(ev)
}

func (f *PGFeed) decode(ctx context.Context, payload string) (Event, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return Event{}, err
	}
	ev := Event{Table: n.Table, Op: n.Op}
	switch n.Table {
	case TableProposals:
		p, err := f.proposals.GetProposal(ctx, n.ID)
		if err != nil {
			return Event{}, err
		}
		ev.Proposal = &p
	case TableMessages:
		m, err := f.messages.GetMessage(ctx, n.ID)
		if err != nil {
			return Event{}, err
		}
		ev.Message = &m
	default:
		return Event{}, fmt.Errorf("unknown table %q", n.Table)
	}
	return ev, nil
}

// Close stops the listener and closes every stream.
func (f *PGFeed) Close() error {
	f.Broker.Close()
	return f.listener.Close()
}
